package matcher

import (
	"errors"
	"sort"
)

// Outcome is the tag of a Resolution.
type Outcome int

const (
	Unmatched Outcome = iota
	Matched
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unmatched"
	}
}

var ErrAmbiguous = errors.New("ambiguous product match")

// Candidate is a metadata entry with its matchers already flattened over its generic parent.
type Candidate struct {
	ID        int
	GenericID int
	Matchers  Matchers
}

// Family is the id of the generic entry the candidate belongs to.
func (c Candidate) Family() int {
	if c.GenericID != 0 {
		return c.GenericID
	}
	return c.ID
}

// Flatten returns the generic entry followed by its range entries with inherited matchers.
func Flatten(generic Candidate, ranges []Candidate) []Candidate {
	out := make([]Candidate, 0, len(ranges)+1)
	out = append(out, generic)
	for _, child := range ranges {
		out = append(out, Candidate{
			ID:        child.ID,
			GenericID: generic.ID,
			Matchers:  Inherit(generic.Matchers, child.Matchers),
		})
	}
	return out
}

type Resolution struct {
	Outcome Outcome
	// ID is the matched entry; zero unless Outcome is Matched.
	ID int
	// Contenders are the tied most specific candidates of an ambiguous resolution.
	Contenders []int
}

// Err returns ErrAmbiguous for ambiguous resolutions.
func (r Resolution) Err() error {
	if r.Outcome == Ambiguous {
		return ErrAmbiguous
	}
	return nil
}

// Resolve picks the most specific accepting candidate. Ties within a single generic family
// resolve to the generic entry when it accepts the occurrence too; other ties are ambiguous.
// The result does not depend on the order of candidates.
func Resolve(o Occurrence, candidates []Candidate) Resolution {
	accepted := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if Accept(c.Matchers, o) {
			accepted = append(accepted, c)
		}
	}
	if len(accepted) == 0 {
		return Resolution{Outcome: Unmatched}
	}
	sort.Slice(accepted, func(i, j int) bool { return accepted[i].ID < accepted[j].ID })

	best := []Candidate{accepted[0]}
	for _, c := range accepted[1:] {
		switch cmp := Compare(c.Matchers, best[0].Matchers); {
		case cmp > 0:
			best = []Candidate{c}
		case cmp == 0:
			best = append(best, c)
		}
	}
	if len(best) == 1 {
		return Resolution{Outcome: Matched, ID: best[0].ID}
	}

	ambiguous := func() Resolution {
		ids := make([]int, 0, len(best))
		for _, b := range best {
			ids = append(ids, b.ID)
		}
		return Resolution{Outcome: Ambiguous, Contenders: ids}
	}
	family := best[0].Family()
	for _, c := range best[1:] {
		if c.Family() != family {
			return ambiguous()
		}
	}
	// a tie is only settled by the generic entry when it accepts the item itself
	for _, c := range accepted {
		if c.ID == family {
			return Resolution{Outcome: Matched, ID: family}
		}
	}
	return ambiguous()
}
