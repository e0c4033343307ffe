package matching

import (
	"github.com/pkg/errors"
)

// ErrInvalidNests is returned when nests do not partition the types.
var ErrInvalidNests = errors.New("invalid nests")

// Nests partition the types of one side of the market into the nests
// of a nested logit choice.  Members[k] lists the types in nest k and
// Of[t] is the nest of type t.
type Nests struct {
	Members [][]int
	Of      []int
}

// NewNests checks that members partitions the types 0, ..., ntypes-1
// into non-empty nests.
func NewNests(members [][]int, ntypes int) (*Nests, error) {

	of := make([]int, ntypes)
	for t := range of {
		of[t] = -1
	}
	for k, nest := range members {
		if len(nest) == 0 {
			return nil, errors.Wrapf(ErrInvalidNests, "nest %d is empty", k)
		}
		for _, t := range nest {
			if t < 0 || t >= ntypes {
				return nil, errors.Wrapf(ErrInvalidNests, "type %d in nest %d, not in [0, %d)", t, k, ntypes)
			}
			if of[t] != -1 {
				return nil, errors.Wrapf(ErrInvalidNests, "type %d is in nests %d and %d", t, of[t], k)
			}
			of[t] = k
		}
	}
	for t, k := range of {
		if k == -1 {
			return nil, errors.Wrapf(ErrInvalidNests, "type %d is in no nest", t)
		}
	}

	return &Nests{Members: members, Of: of}, nil
}

// Len returns the number of nests.
func (ns *Nests) Len() int {
	return len(ns.Members)
}
