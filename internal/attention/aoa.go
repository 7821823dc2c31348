package attention

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// OverAttention reduces the two attention matrices to one weight per
// position. The row attention is averaged over its query axis into an
// importance vector, then every row of the column attention is dotted with
// it: aoa[j] = sum_k col[j,k] * mean_i(row[i,k]). The result is (B, T).
func OverAttention(col, row *gorgonia.Node) (*gorgonia.Node, error) {
	if !col.Shape().Eq(row.Shape()) || col.Dims() != 3 {
		return nil, errors.Errorf("attention over attention expects two equal (B, T, T) inputs, got %v and %v", col.Shape(), row.Shape())
	}
	b, T := col.Shape()[0], col.Shape()[1]

	importance, err := gorgonia.Mean(row, 1)
	if err != nil {
		return nil, err
	}
	if importance, err = gorgonia.Reshape(importance, tensor.Shape{b, T, 1}); err != nil {
		return nil, err
	}
	aoa, err := gorgonia.BatchedMatMul(col, importance)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(aoa, tensor.Shape{b, T})
}

// WeightedSum returns sum_t w[t] * h[t] for weights (B, T) and states
// (B, T, H), giving (B, H).
func WeightedSum(weights, h *gorgonia.Node) (*gorgonia.Node, error) {
	b, T, width := h.Shape()[0], h.Shape()[1], h.Shape()[2]
	if !weights.Shape().Eq(tensor.Shape{b, T}) {
		return nil, errors.Errorf("weights %v do not match states %v", weights.Shape(), h.Shape())
	}
	w, err := gorgonia.Reshape(weights, tensor.Shape{b, 1, T})
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.BatchedMatMul(w, h)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(sum, tensor.Shape{b, width})
}
