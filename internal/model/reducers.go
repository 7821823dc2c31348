package model

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/attention"
	"pairattn/internal/config"
	"pairattn/internal/encoder"
	"pairattn/internal/nn"
)

// Inputs is what a reducer can draw on: the encoder section of the graph,
// both attention matrices and the attention-over-attention weights. The cnn
// variant gets only the embedding section of Enc.
type Inputs struct {
	Enc  *encoder.Encoded
	Attn *attention.Matrices
	AoA  *gorgonia.Node // (B, T)
}

// Reducer turns attention matrices into (B, classes) logits. There is one
// implementation per model variant.
type Reducer interface {
	Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error)
}

var reducers = map[string]func(hp config.HParams) Reducer{
	config.ModelMean:        func(hp config.HParams) Reducer { return meanPool{hp} },
	config.ModelPairwise:    func(hp config.HParams) Reducer { return flatConcat{hp} },
	config.ModelAttnAttn:    func(hp config.HParams) Reducer { return attnAttn{hp} },
	config.ModelAttnAttnSum: func(hp config.HParams) Reducer { return attnAttnSum{hp} },
	config.ModelConvAttn:    func(hp config.HParams) Reducer { return convAttn{hp} },
	config.ModelConvAttn1D:  func(hp config.HParams) Reducer { return convAttn1D{hp} },
	config.ModelCNN:         func(hp config.HParams) Reducer { return wordCNN{hp} },
}

// NewReducer returns the reducer for hp.Model.
func NewReducer(hp config.HParams) (Reducer, error) {
	f, ok := reducers[hp.Model]
	if !ok {
		return nil, errors.Wrapf(config.ErrInvalidModel, "%q", hp.Model)
	}
	return f(hp), nil
}

func head(hp config.HParams, scope string, first bool, layers int) nn.ClassificationHead {
	return nn.ClassificationHead{
		Scope:    scope,
		First:    first,
		Units:    hp.FCUnits,
		Layers:   layers,
		KeepProb: hp.KeepProb,
		Classes:  hp.NumClass,
	}
}

// meanPool averages the encoder states over each sample's true length. It
// ignores the attention matrices.
type meanPool struct{ hp config.HParams }

func (r meanPool) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	mean, err := maskedMean(in.Enc.Outputs, in.Enc.Mask)
	if err != nil {
		return nil, err
	}
	if mean, err = b.Dropout(mean, r.hp.KeepProb); err != nil {
		return nil, err
	}
	return head(r.hp, "head", false, 0).Forward(b, mean, in.Enc.Width)
}

// maskedMean sums (B, T, D) states over time and divides by the number of
// ones in each (B, T) mask row. States past a length must already be zero.
func maskedMean(states, mask *gorgonia.Node) (*gorgonia.Node, error) {
	sum, err := gorgonia.Sum(states, 1)
	if err != nil {
		return nil, err
	}
	lengths, err := gorgonia.Sum(mask, 1)
	if err != nil {
		return nil, err
	}
	if lengths, err = gorgonia.Reshape(lengths, tensor.Shape{lengths.Shape()[0], 1}); err != nil {
		return nil, err
	}
	return gorgonia.BroadcastHadamardDiv(sum, lengths, nil, []byte{1})
}

// flatConcat flattens and concatenates both attention matrices and maps
// them straight to logits.
type flatConcat struct{ hp config.HParams }

func (r flatConcat) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	s := in.Attn.Col.Shape()
	flat := tensor.Shape{s[0], s[1] * s[2]}
	col, err := gorgonia.Reshape(in.Attn.Col, flat)
	if err != nil {
		return nil, err
	}
	row, err := gorgonia.Reshape(in.Attn.Row, flat)
	if err != nil {
		return nil, err
	}
	concat, err := gorgonia.Concat(1, col, row)
	if err != nil {
		return nil, err
	}
	return head(r.hp, "head", false, 0).Forward(b, concat, 2*s[1]*s[2])
}

// attnAttn feeds the attention-over-attention weights to the head.
type attnAttn struct{ hp config.HParams }

func (r attnAttn) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	return head(r.hp, "head", r.hp.FirstFC, r.hp.HLayers).Forward(b, in.AoA, in.AoA.Shape()[1])
}

// attnAttnSum pools the encoder states (or the parallel branch when there
// is one) with the attention-over-attention weights.
type attnAttnSum struct{ hp config.HParams }

func (r attnAttnSum) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	states, width := in.Enc.Outputs, in.Enc.Width
	if in.Enc.Parallel != nil {
		states, width = in.Enc.Parallel, in.Enc.ParallelWidth
	}
	pooled, err := attention.WeightedSum(in.AoA, states)
	if err != nil {
		return nil, err
	}
	return head(r.hp, "head_sum", r.hp.FirstFC, r.hp.HLayers).Forward(b, pooled, width)
}

// convAttn convolves and max-pools both attention matrices.
type convAttn struct{ hp config.HParams }

func (r convAttn) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	spec := attention.ConvSpec{
		Kernel:    [2]int{r.hp.FiltHeight, r.hp.FiltWidth},
		Strides:   r.hp.ConvStrides,
		Padding:   r.hp.Padding,
		Channels:  r.hp.OutChannels,
		BatchNorm: r.hp.BatchNorm,
	}
	var pools []*gorgonia.Node
	for _, m := range []struct {
		scope string
		attn  *gorgonia.Node
	}{{"col_conv", in.Attn.Col}, {"row_conv", in.Attn.Row}} {
		spec.Scope = m.scope
		pooled, err := attention.ConvPool(b, m.attn, spec)
		if err != nil {
			return nil, err
		}
		if pooled, err = b.Dropout(pooled, r.hp.KeepProb); err != nil {
			return nil, err
		}
		pools = append(pools, pooled)
	}
	concat, err := gorgonia.Concat(1, pools...)
	if err != nil {
		return nil, err
	}
	return head(r.hp, "head", false, r.hp.HLayers).Forward(b, concat, 2*r.hp.OutChannels)
}

// convAttn1D runs a column kernel over the column attention and a row
// kernel over the row attention.
type convAttn1D struct{ hp config.HParams }

func (r convAttn1D) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	col, err := attention.ColumnConv(b, in.Attn.Col, "col_conv", r.hp.BatchNorm)
	if err != nil {
		return nil, err
	}
	if col, err = b.Dropout(col, r.hp.KeepProb); err != nil {
		return nil, err
	}
	row, err := attention.RowConv(b, in.Attn.Row, "row_conv", r.hp.BatchNorm)
	if err != nil {
		return nil, err
	}
	if row, err = b.Dropout(row, r.hp.KeepProb); err != nil {
		return nil, err
	}
	concat, err := gorgonia.Concat(1, col, row)
	if err != nil {
		return nil, err
	}
	return head(r.hp, "head", false, r.hp.HLayers).Forward(b, concat, 2*in.Attn.Col.Shape()[1])
}

// wordCNN convolves the embedded words with one filter bank per height, each
// filter spanning the whole embedding width, and max-pools every channel
// over time. It reads neither a recurrent encoder nor the attention.
type wordCNN struct{ hp config.HParams }

func (r wordCNN) Logits(b *nn.Builder, in *Inputs) (*gorgonia.Node, error) {
	s := in.Enc.Embedded.Shape()
	mask, err := gorgonia.Reshape(in.Enc.Mask, tensor.Shape{s[0], s[1], 1})
	if err != nil {
		return nil, err
	}
	words, err := gorgonia.BroadcastHadamardProd(in.Enc.Embedded, mask, nil, []byte{2})
	if err != nil {
		return nil, errors.Wrap(err, "masking padded words")
	}
	var pools []*gorgonia.Node
	for _, k := range r.hp.CNNFilterSizes {
		spec := attention.ConvSpec{
			Scope:    fmt.Sprintf("cnn/conv_maxpool_%d", k),
			Kernel:   [2]int{k, in.Enc.EmbeddedWidth},
			Strides:  [2]int{1, 1},
			Padding:  config.PaddingValid,
			Channels: r.hp.CNNFilters,
		}
		pooled, err := attention.ConvPool(b, words, spec)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pooled)
	}
	features := pools[0]
	if len(pools) > 1 {
		if features, err = gorgonia.Concat(1, pools...); err != nil {
			return nil, err
		}
	}
	if features, err = b.Dropout(features, r.hp.KeepProb); err != nil {
		return nil, err
	}
	return head(r.hp, "head", false, r.hp.HLayers).Forward(b, features, len(pools)*r.hp.CNNFilters)
}
