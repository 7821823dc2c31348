// Package dataset holds the train, validation and test splits a run consumes
// and cuts them into fixed-size batches.
package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrContract is returned when a split's parallel arrays disagree or a
// sample breaks the length or label invariants.
var ErrContract = errors.New("dataset contract violation")

// Label is a one-hot binary label.
type Label [2]float32

// Class returns the index of the hot class.
func (l Label) Class() int {
	if l[1] > l[0] {
		return 1
	}
	return 0
}

// LabelOf returns the one-hot label for class c.
func LabelOf(c int) Label {
	var l Label
	l[c] = 1
	return l
}

// Split is one partition of the data, stored as parallel arrays.
type Split struct {
	IDs     [][]int  `json:"ids"`
	Tags    [][]int  `json:"tags"`
	Lengths []int    `json:"lengths"`
	Labels  []Label  `json:"labels"`
	Actual  []string `json:"actual,omitempty"` // original labels, test split only
}

// Len returns the number of samples.
func (s *Split) Len() int { return len(s.IDs) }

// Validate checks the parallel arrays against each other and every sample
// against maxLen and the one-hot label invariant. With tags set every
// sample must carry a tag per valid position.
func (s *Split) Validate(maxLen int, tags bool) error {
	n := len(s.IDs)
	if n == 0 {
		return errors.Wrap(ErrContract, "empty split")
	}
	if len(s.Lengths) != n || len(s.Labels) != n {
		return errors.Wrapf(ErrContract, "%d id rows, %d lengths, %d labels", n, len(s.Lengths), len(s.Labels))
	}
	if tags && s.Tags == nil {
		return errors.Wrap(ErrContract, "postags enabled but the split has no tags")
	}
	if s.Tags != nil && len(s.Tags) != n {
		return errors.Wrapf(ErrContract, "%d id rows, %d tag rows", n, len(s.Tags))
	}
	if s.Actual != nil && len(s.Actual) != n {
		return errors.Wrapf(ErrContract, "%d id rows, %d original labels", n, len(s.Actual))
	}
	for i := 0; i < n; i++ {
		l := s.Lengths[i]
		if l < 1 || l > maxLen {
			return errors.Wrapf(ErrContract, "sample %d: length %d outside [1, %d]", i, l, maxLen)
		}
		if len(s.IDs[i]) > maxLen || len(s.IDs[i]) < l {
			return errors.Wrapf(ErrContract, "sample %d: %d ids for length %d, max %d", i, len(s.IDs[i]), l, maxLen)
		}
		if s.Tags != nil && len(s.Tags[i]) > maxLen {
			return errors.Wrapf(ErrContract, "sample %d: %d tags, max %d", i, len(s.Tags[i]), maxLen)
		}
		if tags && len(s.Tags[i]) < l {
			return errors.Wrapf(ErrContract, "sample %d: %d tags for length %d", i, len(s.Tags[i]), l)
		}
		lb := s.Labels[i]
		if !(lb[0] == 1 && lb[1] == 0) && !(lb[0] == 0 && lb[1] == 1) {
			return errors.Wrapf(ErrContract, "sample %d: label %v is not one-hot", i, lb)
		}
	}
	return nil
}

// Bundle is everything a run loads from the dataset collaborator.
type Bundle struct {
	Train, Valid, Test *Split
	// Embedding is (vocab, dim); row 0 is padding.
	Embedding *tensor.Dense
	Vocab     map[string]int
	TagVocab  int
}

// Validate checks all three splits and the vocabulary against the table.
// tags is the postags setting of the run.
func (b *Bundle) Validate(maxLen int, tags bool) error {
	for name, s := range map[string]*Split{"train": b.Train, "valid": b.Valid, "test": b.Test} {
		if s == nil {
			return errors.Wrapf(ErrContract, "missing %s split", name)
		}
		if err := s.Validate(maxLen, tags); err != nil {
			return errors.Wrapf(err, "%s split", name)
		}
	}
	if b.Embedding == nil || b.Embedding.Dims() != 2 {
		return errors.Wrap(ErrContract, "embedding table must be 2D")
	}
	for tok, idx := range b.Vocab {
		if idx < 0 || idx >= b.Embedding.Shape()[0] {
			return errors.Wrapf(ErrContract, "token %q has index %d outside the table", tok, idx)
		}
	}
	return nil
}

// Tokens maps the first length ids back to vocabulary tokens. Unknown ids
// become "<unk>".
func (b *Bundle) Tokens(ids []int, length int) []string {
	inverse := make(map[int]string, len(b.Vocab))
	for tok, idx := range b.Vocab {
		inverse[idx] = tok
	}
	out := make([]string, length)
	for i := 0; i < length && i < len(ids); i++ {
		tok, ok := inverse[ids[i]]
		if !ok {
			tok = "<unk>"
		}
		out[i] = tok
	}
	return out
}

// Batch is a fixed-size slice of a split. Graphs have a static batch
// dimension, so the last batch of a split is filled by cycling samples from
// the start; only the first Real rows are genuine.
type Batch struct {
	IDs     [][]int
	Tags    [][]int
	Lengths []int
	Labels  []Label
	Real    int
}

// Batches cuts a split into batches of size rows. With shuffle the order is
// a permutation drawn from seed.
func Batches(s *Split, size int, shuffle bool, seed int64) ([]Batch, error) {
	if size <= 0 {
		return nil, errors.Errorf("batch size %d", size)
	}
	n := s.Len()
	if n == 0 {
		return nil, errors.Wrap(ErrContract, "empty split")
	}
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if shuffle {
		order = rand.New(rand.NewSource(seed)).Perm(n)
	}

	var out []Batch
	for start := 0; start < n; start += size {
		genuine := size
		if start+size > n {
			genuine = n - start
		}
		b := Batch{Real: genuine}
		for r := 0; r < size; r++ {
			i := order[(start+r)%n]
			b.IDs = append(b.IDs, s.IDs[i])
			b.Lengths = append(b.Lengths, s.Lengths[i])
			b.Labels = append(b.Labels, s.Labels[i])
			if s.Tags != nil {
				b.Tags = append(b.Tags, s.Tags[i])
			} else {
				b.Tags = append(b.Tags, nil)
			}
		}
		out = append(out, b)
	}
	return out, nil
}
