// Package attention derives attention matrices from encoder hidden states
// and reduces them to fixed-size vectors.
package attention

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MaskValue is added to the scores of padded pairs when masking is on.
const MaskValue = -1e9

// Matrices holds the pairwise scores and their two softmax normalisations,
// each (batch, T, T).
type Matrices struct {
	Pairwise *gorgonia.Node
	// Col is normalised along axis 1: every column sums to 1.
	Col *gorgonia.Node
	// Row is normalised along axis 2: every row sums to 1.
	Row *gorgonia.Node
}

// Pairwise returns the batched product of the hidden states with their own
// transpose: (B, T, H) x (B, H, T) -> (B, T, T).
func Pairwise(h *gorgonia.Node) (*gorgonia.Node, error) {
	if h.Dims() != 3 {
		return nil, errors.Errorf("pairwise matching expects (batch, time, hidden), got %v", h.Shape())
	}
	ht, err := gorgonia.Transpose(h, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.BatchedMatMul(h, ht)
}

// Attend computes the pairwise matrix of h and both attention matrices.
// mask may be nil; otherwise it is a (B, T, T) additive mask over the
// normalised axis, applied to the scores for the row softmax and to their
// transpose for the column softmax.
func Attend(h, mask *gorgonia.Node) (*Matrices, error) {
	scores, err := Pairwise(h)
	if err != nil {
		return nil, err
	}
	m := &Matrices{Pairwise: scores}

	rowScores, err := addMask(scores, mask)
	if err != nil {
		return nil, err
	}
	if m.Row, err = softmaxLast(rowScores); err != nil {
		return nil, errors.Wrap(err, "row attention")
	}

	st, err := gorgonia.Transpose(scores, 0, 2, 1)
	if err != nil {
		return nil, err
	}
	if st, err = addMask(st, mask); err != nil {
		return nil, err
	}
	colT, err := softmaxLast(st)
	if err != nil {
		return nil, errors.Wrap(err, "column attention")
	}
	if m.Col, err = gorgonia.Transpose(colT, 0, 2, 1); err != nil {
		return nil, err
	}
	return m, nil
}

func addMask(scores, mask *gorgonia.Node) (*gorgonia.Node, error) {
	if mask == nil {
		return scores, nil
	}
	masked, err := gorgonia.Add(scores, mask)
	if err != nil {
		return nil, errors.Wrap(err, "attention mask")
	}
	return masked, nil
}

// softmaxLast normalises a (B, S, S) tensor along its last axis. Batched
// softmax is done by flattening to (B*S, S) and reshaping back.
func softmaxLast(x *gorgonia.Node) (*gorgonia.Node, error) {
	s := x.Shape()
	b, rows, cols := s[0], s[1], s[2]
	flat, err := gorgonia.Reshape(x, tensor.Shape{b * rows, cols})
	if err != nil {
		return nil, err
	}
	probs, err := gorgonia.SoftMax(flat)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(probs, tensor.Shape{b, rows, cols})
}

// PairMask returns the (batch, T, T) additive mask for the given lengths:
// entry (i, j) is MaskValue when j is past the end of the sequence and 0
// otherwise. Lengths must be at least 1 so no softmax row is fully masked.
func PairMask(lengths []int, T int) (*tensor.Dense, error) {
	data := make([]float32, len(lengths)*T*T)
	for b, l := range lengths {
		if l < 1 || l > T {
			return nil, errors.Errorf("sample %d: length %d outside [1, %d]", b, l, T)
		}
		for i := 0; i < T; i++ {
			for j := 0; j < T; j++ {
				if j >= l {
					data[(b*T+i)*T+j] = MaskValue
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(len(lengths), T, T), tensor.WithBacking(data)), nil
}
