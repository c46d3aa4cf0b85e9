// Package diff implements the per-file three-way diff and initial-sync
// conflict policy of spec.md §4.E: turning (snapshot, local-now,
// remote-now) into a minimal set of Mutations plus the new snapshot
// entry for that logical path.
package diff

import (
	"github.com/ede1998/nextcloud-tag-sync/internal/tagmodel"
)

// Policy is the initial-sync conflict policy, selected by the
// `keep_side_on_conflict` config key (spec.md §6), applied only when
// no snapshot entry exists yet for a logical path.
type Policy int

const (
	// Both unions the two sides.
	Both Policy = iota
	// Left treats local as authoritative.
	Left
	// Right treats remote as authoritative.
	Right
)

// MutationKind is one of the five mutation variants of spec.md §3.
// CreateRemoteTag is not produced here: it is inferred by the
// orchestrator from any AddRemote whose tag is unknown to the
// TagIndex, per spec.md §4.F.
type MutationKind int

const (
	AddLocal MutationKind = iota
	RemoveLocal
	AddRemote
	RemoveRemote
)

func (k MutationKind) String() string {
	switch k {
	case AddLocal:
		return "AddLocal"
	case RemoveLocal:
		return "RemoveLocal"
	case AddRemote:
		return "AddRemote"
	case RemoveRemote:
		return "RemoveRemote"
	default:
		return "Unknown"
	}
}

// Mutation is one tag-level change to apply to one side.
type Mutation struct {
	Kind MutationKind
	Tag  tagmodel.Tag
}

// Input is the per-logical-path state the diff is computed from.
type Input struct {
	// HadSnapshot reports whether a FileRecord already existed for
	// this logical path.
	HadSnapshot bool
	// SnapLocal/SnapRemote are only meaningful when HadSnapshot.
	SnapLocal, SnapRemote tagmodel.TagSet

	LocalExists, RemoteExists bool
	// NowLocal/NowRemote are only meaningful when the corresponding
	// *Exists flag is true.
	NowLocal, NowRemote tagmodel.TagSet
}

// Result is the outcome of Compute: the mutations to apply and the
// new snapshot entry to record.
type Result struct {
	Mutations []Mutation
	// HasLocal/HasRemote mirror Input.LocalExists/RemoteExists: the
	// new snapshot only records tags for sides that exist (spec.md
	// §4.E "Policy when file exists on one side only").
	HasLocal, HasRemote bool
	FinalLocal, FinalRemote tagmodel.TagSet
	// Dropped lists tags that failed validation and were excluded
	// from consideration entirely (spec.md §4.E "Tag-name
	// validation").
	Dropped []tagmodel.Tag
}

// Compute runs the three-way diff (or, when in.HadSnapshot is false,
// the initial-sync conflict policy) for one logical path.
func Compute(in Input, policy Policy) Result {
	res := Result{HasLocal: in.LocalExists, HasRemote: in.RemoteExists}

	if in.LocalExists != in.RemoteExists {
		// File exists on exactly one side: no tag mutations: the
		// snapshot simply records that side's current tags (spec.md
		// §4.E, invariant I3).
		if in.LocalExists {
			res.FinalLocal = in.NowLocal.Clone()
		} else {
			res.FinalRemote = in.NowRemote.Clone()
		}
		return res
	}
	if !in.LocalExists && !in.RemoteExists {
		return res
	}

	res.FinalLocal = tagmodel.TagSet{}
	res.FinalRemote = tagmodel.TagSet{}

	universe := map[tagmodel.Tag]struct{}{}
	for t := range in.NowLocal {
		universe[t] = struct{}{}
	}
	for t := range in.NowRemote {
		universe[t] = struct{}{}
	}
	if in.HadSnapshot {
		for t := range in.SnapLocal {
			universe[t] = struct{}{}
		}
		for t := range in.SnapRemote {
			universe[t] = struct{}{}
		}
	}

	for t := range universe {
		if !t.Valid() {
			res.Dropped = append(res.Dropped, t)
			continue
		}
		l := in.NowLocal.Has(t)
		r := in.NowRemote.Has(t)

		switch {
		case l && r:
			res.FinalLocal[t] = struct{}{}
			res.FinalRemote[t] = struct{}{}
		case !l && !r:
			// present in the snapshot only: simply dropped.
		case l && !r:
			res.applyOneSided(t, in, policy, true)
		case !l && r:
			res.applyOneSided(t, in, policy, false)
		}
	}
	return res
}

// applyOneSided handles a tag present on exactly one live side.
// localSide is true when that side is local.
func (res *Result) applyOneSided(t tagmodel.Tag, in Input, policy Policy, localSide bool) {
	var wasOnThatSideBefore, hadSnapshot bool
	hadSnapshot = in.HadSnapshot
	if localSide {
		wasOnThatSideBefore = hadSnapshot && in.SnapLocal.Has(t)
	} else {
		wasOnThatSideBefore = hadSnapshot && in.SnapRemote.Has(t)
	}

	addBoth := func(kind MutationKind) {
		res.Mutations = append(res.Mutations, Mutation{Kind: kind, Tag: t})
		res.FinalLocal[t] = struct{}{}
		res.FinalRemote[t] = struct{}{}
	}
	removeBoth := func(kind MutationKind) {
		res.Mutations = append(res.Mutations, Mutation{Kind: kind, Tag: t})
		// neither final set gets the tag
	}

	if hadSnapshot {
		if wasOnThatSideBefore {
			// Unchanged on the side that still has it; the other
			// side lost it since the snapshot. Propagate the
			// removal.
			if localSide {
				removeBoth(RemoveLocal)
			} else {
				removeBoth(RemoveRemote)
			}
			return
		}
		// New on the side that has it now. Propagate the addition.
		if localSide {
			addBoth(AddRemote)
		} else {
			addBoth(AddLocal)
		}
		return
	}

	// No snapshot entry: apply the initial-sync conflict policy.
	switch policy {
	case Both:
		if localSide {
			addBoth(AddRemote)
		} else {
			addBoth(AddLocal)
		}
	case Left: // local authoritative
		if localSide {
			addBoth(AddRemote)
		} else {
			removeBoth(RemoveRemote)
		}
	case Right: // remote authoritative
		if localSide {
			removeBoth(RemoveLocal)
		} else {
			addBoth(AddLocal)
		}
	}
}
