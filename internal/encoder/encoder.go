// Package encoder turns padded token id sequences into per-timestep hidden
// states. It embeds tokens (optionally with one-hot POS tags), unrolls a
// recurrent cell over the sequence with length-aware masking, and
// optionally gates the outputs per word.
package encoder

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/config"
	"pairattn/internal/nn"
)

const embeddingParam = "embedding/matrix"

// Encoder describes how sequences are encoded. One Encoder can build any
// number of graphs; each Build returns the placeholders of that graph.
type Encoder struct {
	hp       config.HParams
	table    *tensor.Dense
	tagVocab int
}

// New checks the configuration against the embedding table.
func New(hp config.HParams, table *tensor.Dense, tagVocab int) (*Encoder, error) {
	if !config.IsCellType(hp.CellType) {
		return nil, errors.Wrapf(config.ErrInvalidCellType, "%q", hp.CellType)
	}
	if table == nil || table.Dims() != 2 {
		return nil, errors.New("encoder needs a 2D embedding table")
	}
	if _, ok := table.Data().([]float32); !ok {
		return nil, errors.Errorf("embedding table must be float32, got %v", table.Dtype())
	}
	if hp.PosTags && tagVocab <= 0 {
		return nil, errors.Errorf("postags enabled with tag vocabulary size %d", tagVocab)
	}
	return &Encoder{hp: hp, table: table, tagVocab: tagVocab}, nil
}

// Vocab returns the number of rows in the embedding table.
func (e *Encoder) Vocab() int { return e.table.Shape()[0] }

// InputDim is the width of one embedded timestep, tags included.
func (e *Encoder) InputDim() int {
	d := e.table.Shape()[1]
	if e.hp.PosTags {
		d += e.tagVocab
	}
	return d
}

// Encoded is the encoder section of one graph.
type Encoded struct {
	// Outputs is (batch, maxLen, Width); rows past a sample's length are zero.
	Outputs *gorgonia.Node
	Width   int
	// Final holds the last valid state per sample. Bidirectional states are
	// concatenated component-wise.
	Final State
	// Parallel is the output of the extra unidirectional branch, or nil.
	Parallel      *gorgonia.Node
	ParallelWidth int
	// Mask is the (batch, maxLen) length mask.
	Mask *gorgonia.Node
	// Embedded is the (batch, maxLen, EmbeddedWidth) recurrent input: word
	// vectors followed by the tag one-hot when tags are on.
	Embedded      *gorgonia.Node
	EmbeddedWidth int

	enc    *Encoder
	batch  int
	frozen *gorgonia.Node // (batch, maxLen, dim) when the table is frozen
	onehot *gorgonia.Node // (batch*maxLen, vocab) when the table is trainable
	tags   *gorgonia.Node
}

// BuildEmbedding adds the embedding lookup, the tag one-hot and the length
// mask to b. Outputs and Final stay nil.
func (e *Encoder) BuildEmbedding(b *nn.Builder, batch int) (*Encoded, error) {
	hp := e.hp
	T := hp.MaxSeqLen
	vocab, dim := e.table.Shape()[0], e.table.Shape()[1]
	out := &Encoded{enc: e, batch: batch}

	var emb *gorgonia.Node
	if hp.EmbTrainable {
		matrix, err := b.Param(embeddingParam, tensor.Shape{vocab, dim}, fromTable(e.table))
		if err != nil {
			return nil, err
		}
		out.onehot = b.Input("token_onehot", batch*T, vocab)
		flat, err := gorgonia.Mul(out.onehot, matrix)
		if err != nil {
			return nil, errors.Wrap(err, "embedding lookup")
		}
		if emb, err = gorgonia.Reshape(flat, tensor.Shape{batch, T, dim}); err != nil {
			return nil, err
		}
	} else {
		out.frozen = b.Input("embedded", batch, T, dim)
		emb = out.frozen
	}
	if hp.PosTags {
		out.tags = b.Input("tags", batch, T, e.tagVocab)
		var err error
		if emb, err = gorgonia.Concat(2, emb, out.tags); err != nil {
			return nil, errors.Wrap(err, "tag concat")
		}
	}
	out.Mask = b.Input("mask", batch, T)
	out.Embedded = emb
	out.EmbeddedWidth = e.InputDim()
	return out, nil
}

// Build adds the whole encoder to b for fixed-size batches.
func (e *Encoder) Build(b *nn.Builder, batch int) (*Encoded, error) {
	hp := e.hp
	T := hp.MaxSeqLen
	out, err := e.BuildEmbedding(b, batch)
	if err != nil {
		return nil, err
	}
	emb, in := out.Embedded, out.EmbeddedWidth
	steps, masks, err := timesteps(emb, out.Mask, batch, T, in)
	if err != nil {
		return nil, err
	}

	fw, err := NewCell(hp.CellType, "encoder/fw", in, hp.CellUnits)
	if err != nil {
		return nil, err
	}
	outputs, final, err := unroll(b, fw, steps, masks, false, hp.RNNInKeepProb)
	if err != nil {
		return nil, errors.Wrap(err, "forward encoder")
	}
	if hp.BiRNN {
		bw, err := NewCell(hp.CellType, "encoder/bw", in, hp.CellUnits)
		if err != nil {
			return nil, err
		}
		bwOutputs, bwFinal, err := unroll(b, bw, steps, masks, true, hp.RNNInKeepProb)
		if err != nil {
			return nil, errors.Wrap(err, "backward encoder")
		}
		if outputs, err = gorgonia.Concat(2, outputs, bwOutputs); err != nil {
			return nil, err
		}
		for i := range final {
			if final[i], err = gorgonia.Concat(1, final[i], bwFinal[i]); err != nil {
				return nil, err
			}
		}
	}
	out.Width = hp.EncoderUnits()
	if outputs, err = b.Dropout(outputs, hp.KeepProb); err != nil {
		return nil, err
	}
	out.Final = final

	if hp.Parallel {
		cell, err := NewCell(hp.CellType, "encoder/parallel", in, hp.CellUnits)
		if err != nil {
			return nil, err
		}
		if out.Parallel, _, err = unroll(b, cell, steps, masks, false, hp.RNNInKeepProb); err != nil {
			return nil, errors.Wrap(err, "parallel encoder")
		}
		out.ParallelWidth = hp.CellUnits
	}

	if hp.WordGate {
		if outputs, err = wordGate(b, emb, outputs, batch, T, in, out.Width, hp.KeepProb); err != nil {
			return nil, errors.Wrap(err, "word gate")
		}
	}
	out.Outputs = outputs
	return out, nil
}

// Feed binds one batch to the graph's placeholders.
func (o *Encoded) Feed(ids, tags [][]int, lengths []int) error {
	hp := o.enc.hp
	if len(ids) != o.batch || len(lengths) != o.batch {
		return errors.Errorf("batch of %d ids and %d lengths, graph expects %d", len(ids), len(lengths), o.batch)
	}
	if o.onehot != nil {
		v, err := OneHot(ids, hp.MaxSeqLen, o.enc.Vocab())
		if err != nil {
			return err
		}
		if err := gorgonia.Let(o.onehot, v); err != nil {
			return err
		}
	} else {
		v, err := Lookup(o.enc.table, ids, hp.MaxSeqLen)
		if err != nil {
			return err
		}
		if err := gorgonia.Let(o.frozen, v); err != nil {
			return err
		}
	}
	if o.tags != nil {
		if len(tags) != o.batch {
			return errors.Errorf("batch of %d tag sequences, graph expects %d", len(tags), o.batch)
		}
		for i, row := range tags {
			if len(row) < lengths[i] {
				return errors.Errorf("sample %d has %d tags for length %d", i, len(row), lengths[i])
			}
		}
		v, err := OneHot(tags, hp.MaxSeqLen, o.enc.tagVocab)
		if err != nil {
			return errors.Wrap(err, "tags")
		}
		if err := v.Reshape(o.batch, hp.MaxSeqLen, o.enc.tagVocab); err != nil {
			return err
		}
		if err := gorgonia.Let(o.tags, v); err != nil {
			return err
		}
	}
	mask, err := LengthMask(lengths, hp.MaxSeqLen)
	if err != nil {
		return err
	}
	return gorgonia.Let(o.Mask, mask)
}

func fromTable(t *tensor.Dense) gorgonia.InitWFn {
	return func(dt tensor.Dtype, s ...int) interface{} {
		src := t.Data().([]float32)
		out := make([]float32, len(src))
		copy(out, src)
		return out
	}
}

// timesteps splits (batch, T, in) into T inputs of (batch, in) and the mask
// into T columns of (batch, 1).
func timesteps(emb, mask *gorgonia.Node, batch, T, in int) ([]*gorgonia.Node, []*gorgonia.Node, error) {
	steps := make([]*gorgonia.Node, T)
	masks := make([]*gorgonia.Node, T)
	for t := 0; t < T; t++ {
		x, err := gorgonia.Slice(emb, nil, gorgonia.S(t))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "timestep %d", t)
		}
		if steps[t], err = gorgonia.Reshape(x, tensor.Shape{batch, in}); err != nil {
			return nil, nil, err
		}
		m, err := gorgonia.Slice(mask, nil, gorgonia.S(t))
		if err != nil {
			return nil, nil, err
		}
		if masks[t], err = gorgonia.Reshape(m, tensor.Shape{batch, 1}); err != nil {
			return nil, nil, err
		}
	}
	return steps, masks, nil
}

// unroll runs cell over the timesteps. At each step the state only moves
// where the mask is 1 and the output is zeroed where it is 0, so the final
// state is the state at each sample's last valid position. reverse walks
// from T-1 down to 0.
func unroll(b *nn.Builder, cell Cell, steps, masks []*gorgonia.Node, reverse bool, inKeep float64) (*gorgonia.Node, State, error) {
	T := len(steps)
	batch := steps[0].Shape()[0]
	units := cell.Units()
	state := cell.Zero(b, batch)
	outputs := make([]*gorgonia.Node, T)

	for i := 0; i < T; i++ {
		t := i
		if reverse {
			t = T - 1 - i
		}
		x, err := b.Dropout(steps[t], inKeep)
		if err != nil {
			return nil, nil, err
		}
		h, next, err := cell.Step(b, x, state)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "timestep %d", t)
		}
		for k := range state {
			diff, err := gorgonia.Sub(next[k], state[k])
			if err != nil {
				return nil, nil, err
			}
			gated, err := gorgonia.BroadcastHadamardProd(diff, masks[t], nil, []byte{1})
			if err != nil {
				return nil, nil, err
			}
			if state[k], err = gorgonia.Add(state[k], gated); err != nil {
				return nil, nil, err
			}
		}
		o, err := gorgonia.BroadcastHadamardProd(h, masks[t], nil, []byte{1})
		if err != nil {
			return nil, nil, err
		}
		if outputs[t], err = gorgonia.Reshape(o, tensor.Shape{batch, 1, units}); err != nil {
			return nil, nil, err
		}
	}

	if T == 1 {
		return outputs[0], state, nil
	}
	stacked, err := gorgonia.Concat(1, outputs...)
	if err != nil {
		return nil, nil, err
	}
	return stacked, state, nil
}

// wordGate multiplies the encoder outputs by sigmoid(emb·Wg + bg).
func wordGate(b *nn.Builder, emb, outputs *gorgonia.Node, batch, T, in, width int, keep float64) (*gorgonia.Node, error) {
	flat, err := gorgonia.Reshape(emb, tensor.Shape{batch * T, in})
	if err != nil {
		return nil, err
	}
	gate, err := b.Dense(flat, in, width, "word_gate", gorgonia.Sigmoid)
	if err != nil {
		return nil, err
	}
	if gate, err = b.Dropout(gate, keep); err != nil {
		return nil, err
	}
	if gate, err = gorgonia.Reshape(gate, tensor.Shape{batch, T, width}); err != nil {
		return nil, err
	}
	return gorgonia.HadamardProd(gate, outputs)
}
