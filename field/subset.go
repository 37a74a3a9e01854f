package field

import (
	"errors"
	"sync/atomic"

	"github.com/soypat/isoskin"
)

// MaxSubsetBones is the capacity of a Subset.
const MaxSubsetBones = 8

// ErrEmptySelection is returned when a bone selection has no entries.
var ErrEmptySelection = errors.New("empty bone selection")

// Subset is a small ordered set of bones. The zero value is an empty subset.
// It is a plain value: copies are independent snapshots.
type Subset struct {
	ids [MaxSubsetBones]BoneID
	n   int
}

// Len returns the amount of bones in the subset.
func (s Subset) Len() int { return s.n }

// IDs returns the bones of the subset, most recently selected first.
func (s Subset) IDs() []BoneID {
	ids := make([]BoneID, s.n)
	copy(ids, s.ids[:s.n])
	return ids
}

// Contains reports whether id is part of the subset.
func (s Subset) Contains(id BoneID) bool {
	for i := 0; i < s.n; i++ {
		if s.ids[i] == id {
			return true
		}
	}
	return false
}

// SelectBones builds a Subset from host facing bone indices. At most
// MaxSubsetBones are kept, preferring the last entries of hostIdx.
// Indices that do not resolve to a valid bone are skipped.
func SelectBones(b Bones, hostIdx []int) (Subset, error) {
	var s Subset
	if len(hostIdx) == 0 {
		return s, ErrEmptySelection
	}
	for i := len(hostIdx) - 1; i >= 0 && s.n < MaxSubsetBones; i-- {
		id := b.BoneID(hostIdx[i])
		if !id.IsValid() {
			isoskin.Logger().Warn("skipping unresolved bone", "host", hostIdx[i])
			continue
		}
		s.ids[s.n] = id
		s.n++
	}
	return s, nil
}

// SubsetBuffer publishes the current bone subset to readers. It is written
// between fitting passes when the user selection changes and read when
// building Bounded evaluators.
type SubsetBuffer struct {
	p atomic.Pointer[Subset]
}

// Set replaces the published subset with the selection in hostIdx.
// On error the previously published subset is kept.
func (sb *SubsetBuffer) Set(b Bones, hostIdx []int) error {
	s, err := SelectBones(b, hostIdx)
	if err != nil {
		return err
	}
	sb.p.Store(&s)
	return nil
}

// Load returns the published subset. It is empty if Set never succeeded.
func (sb *SubsetBuffer) Load() Subset {
	s := sb.p.Load()
	if s == nil {
		return Subset{}
	}
	return *s
}

// Bounded returns an evaluator over the currently published subset.
func (sb *SubsetBuffer) Bounded(b Bones) *Bounded {
	return NewBounded(b, sb.Load())
}
