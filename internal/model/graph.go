// Package model assembles the encoder, attention engine, reducer and head
// into one graph per mode and runs them as a classifier.
package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/attention"
	"pairattn/internal/config"
	"pairattn/internal/dataset"
	"pairattn/internal/encoder"
	"pairattn/internal/nn"
)

// Graph is the full model in one mode for fixed-size batches.
type Graph struct {
	*nn.Builder

	Enc *encoder.Encoded
	// Attn and AoA are nil for the cnn variant.
	Attn *attention.Matrices
	// AoA is the attention-over-attention weight per position, (B, T).
	AoA    *gorgonia.Node
	Logits *gorgonia.Node
	Probs  *gorgonia.Node
	Loss   *gorgonia.Node

	batch      int
	labels     *gorgonia.Node
	rowWeights *gorgonia.Node // 1 for genuine rows, 0 for padding
	pairMask   *gorgonia.Node

	// copies taken on every run
	lossVal, probsVal, aoaVal gorgonia.Value
}

// Build adds the whole model to a fresh graph in mode, with parameters
// drawn from store.
func Build(hp config.HParams, enc *encoder.Encoder, store *nn.ParamStore, mode nn.Mode, batch int) (*Graph, error) {
	reducer, err := NewReducer(hp)
	if err != nil {
		return nil, err
	}
	g := &Graph{Builder: nn.NewBuilder(mode, store), batch: batch}

	if hp.Model == config.ModelCNN {
		if g.Enc, err = enc.BuildEmbedding(g.Builder, batch); err != nil {
			return nil, errors.Wrap(err, "embedding")
		}
	} else if err = g.attend(hp, enc, batch); err != nil {
		return nil, err
	}
	in := &Inputs{Enc: g.Enc, Attn: g.Attn, AoA: g.AoA}
	if g.Logits, err = reducer.Logits(g.Builder, in); err != nil {
		return nil, errors.Wrapf(err, "%s reducer", hp.Model)
	}
	if g.Probs, err = gorgonia.SoftMax(g.Logits); err != nil {
		return nil, err
	}
	g.labels = g.Input("labels", batch, hp.NumClass)
	g.rowWeights = g.Input("row_weights", batch)
	if g.Loss, err = g.CrossEntropy(g.Probs, g.labels, g.rowWeights); err != nil {
		return nil, errors.Wrap(err, "loss")
	}
	gorgonia.Read(g.Loss, &g.lossVal)
	gorgonia.Read(g.Probs, &g.probsVal)
	if g.AoA != nil {
		gorgonia.Read(g.AoA, &g.aoaVal)
	}
	return g, nil
}

// attend adds the recurrent encoder, both attention matrices and the
// attention over attention.
func (g *Graph) attend(hp config.HParams, enc *encoder.Encoder, batch int) error {
	var err error
	if g.Enc, err = enc.Build(g.Builder, batch); err != nil {
		return errors.Wrap(err, "encoder")
	}
	if hp.MaskPadding {
		g.pairMask = g.Input("pair_mask", batch, hp.MaxSeqLen, hp.MaxSeqLen)
	}
	if g.Attn, err = attention.Attend(g.Enc.Outputs, g.pairMask); err != nil {
		return errors.Wrap(err, "attention")
	}
	if g.AoA, err = attention.OverAttention(g.Attn.Col, g.Attn.Row); err != nil {
		return errors.Wrap(err, "attention over attention")
	}
	return nil
}

// Feed binds a batch to every placeholder of the graph.
func (g *Graph) Feed(b dataset.Batch) error {
	if err := g.Enc.Feed(b.IDs, b.Tags, b.Lengths); err != nil {
		return err
	}
	if g.pairMask != nil {
		mask, err := attention.PairMask(b.Lengths, g.pairMask.Shape()[1])
		if err != nil {
			return err
		}
		if err := gorgonia.Let(g.pairMask, mask); err != nil {
			return err
		}
	}
	classes := g.labels.Shape()[1]
	data := make([]float32, 0, g.batch*classes)
	for _, l := range b.Labels {
		data = append(data, l[:]...)
	}
	if len(data) != g.batch*classes {
		return errors.Errorf("batch of %d labels, graph expects %d", len(b.Labels), g.batch)
	}
	if err := gorgonia.Let(g.labels, tensor.New(tensor.WithShape(g.batch, classes), tensor.WithBacking(data))); err != nil {
		return err
	}
	if b.Real < 1 || b.Real > g.batch {
		return errors.Errorf("batch has %d genuine rows, graph expects 1 to %d", b.Real, g.batch)
	}
	weights := make([]float32, g.batch)
	for i := 0; i < b.Real; i++ {
		weights[i] = 1
	}
	return gorgonia.Let(g.rowWeights, tensor.New(tensor.WithShape(g.batch), tensor.WithBacking(weights)))
}
