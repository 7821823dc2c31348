package encoder

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Lookup gathers embedding rows for a batch of token ids on the host,
// returning a (batch, maxLen, dim) tensor. The table never enters a graph.
func Lookup(table *tensor.Dense, ids [][]int, maxLen int) (*tensor.Dense, error) {
	if table.Dims() != 2 {
		return nil, errors.Errorf("embedding table must be 2D, got %v", table.Shape())
	}
	vocab, dim := table.Shape()[0], table.Shape()[1]
	rows, ok := table.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("embedding table must be float32, got %v", table.Dtype())
	}

	out := make([]float32, len(ids)*maxLen*dim)
	for i, seq := range ids {
		if len(seq) > maxLen {
			return nil, errors.Errorf("sample %d has %d ids, max %d", i, len(seq), maxLen)
		}
		for t, id := range seq {
			if id < 0 || id >= vocab {
				return nil, errors.Errorf("sample %d: token id %d outside vocabulary of %d", i, id, vocab)
			}
			off := (i*maxLen + t) * dim
			copy(out[off:off+dim], rows[id*dim:(id+1)*dim])
		}
	}
	return tensor.New(tensor.WithShape(len(ids), maxLen, dim), tensor.WithBacking(out)), nil
}

// OneHot encodes ids as a (batch*maxLen, depth) matrix, one row per
// position. Positions past the end of a sequence are all-zero rows.
func OneHot(ids [][]int, maxLen, depth int) (*tensor.Dense, error) {
	out := make([]float32, len(ids)*maxLen*depth)
	for i, seq := range ids {
		if len(seq) > maxLen {
			return nil, errors.Errorf("sample %d has %d ids, max %d", i, len(seq), maxLen)
		}
		for t, id := range seq {
			if id < 0 || id >= depth {
				return nil, errors.Errorf("sample %d: id %d outside depth %d", i, id, depth)
			}
			out[(i*maxLen+t)*depth+id] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(ids)*maxLen, depth), tensor.WithBacking(out)), nil
}

// LengthMask returns a (batch, maxLen) matrix that is 1 for t < length.
func LengthMask(lengths []int, maxLen int) (*tensor.Dense, error) {
	out := make([]float32, len(lengths)*maxLen)
	for i, l := range lengths {
		if l < 0 || l > maxLen {
			return nil, errors.Errorf("sample %d: length %d outside [0, %d]", i, l, maxLen)
		}
		for t := 0; t < l; t++ {
			out[i*maxLen+t] = 1
		}
	}
	return tensor.New(tensor.WithShape(len(lengths), maxLen), tensor.WithBacking(out)), nil
}
