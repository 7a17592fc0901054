// Copyright (c) Contributors to the Apptainer project, established as
//   Apptainer a Series of LF Projects LLC.
//   For website terms of use, trademark policy, privacy policy and other
//   project policies see https://lfprojects.org/policies
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package component

// UnclaimedName is the synthetic component that paths unclaimed by any
// provider fall into.
const UnclaimedName = "unclaimed"

// providerClaims is one provider's non-empty claim set for a single path.
type providerClaims struct {
	provider Provider
	ids      []ComponentId
}

// Assemble reconciles every registered provider's claims for files into a
// single name -> Component map. Providers are queried in the order given;
// that order is also the tie-breaker when two providers share the same
// DefaultPriority.
//
// buildEpoch supplies the mtime clamp and stability for the unclaimed
// component (spec §4.4: mtime_clamp = build epoch, stability = 0).
func Assemble(files *FileMap, providers []Provider, buildEpoch uint64) map[string]*Component {
	result := make(map[string]*Component)

	for _, p := range files.Paths() {
		info, _ := files.Get(p)

		winner := pickWinner(p, info.Type, providers)
		if winner == nil {
			assignTo(result, UnclaimedName, buildEpoch, 0.0, p, info)
			continue
		}

		for _, id := range winner.ids {
			ci := winner.provider.ComponentInfo(id)
			assignTo(result, ci.Name, ci.MtimeClamp, ci.Stability, p, info)
		}
	}

	return result
}

// pickWinner queries every provider for path and returns the claim set of
// the one with the lowest DefaultPriority, or nil if none claim it.
func pickWinner(path string, fileType FileType, providers []Provider) *providerClaims {
	var best *providerClaims

	for _, p := range providers {
		ids := p.ClaimsForPath(path, fileType)
		if len(ids) == 0 {
			continue
		}
		if best == nil || p.DefaultPriority() < best.provider.DefaultPriority() {
			best = &providerClaims{provider: p, ids: ids}
		}
	}

	return best
}

// assignTo inserts a clone of info, mtime-clamped, into the named
// component's file map, creating the component if this is its first file.
func assignTo(components map[string]*Component, name string, mtimeClamp uint64, stability float64, path string, info FileInfo) {
	comp, ok := components[name]
	if !ok {
		comp = &Component{
			Name:       name,
			MtimeClamp: mtimeClamp,
			Stability:  stability,
			Files:      NewFileMap(),
		}
		components[name] = comp
	}

	clone := info.Clone()
	if clone.Mtime >= 0 && uint64(clone.Mtime) > comp.MtimeClamp {
		clone.Mtime = int64(comp.MtimeClamp)
	}
	comp.Files.Insert(path, clone)
}
