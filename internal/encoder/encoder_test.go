package encoder

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/config"
	"pairattn/internal/nn"
)

func table() *tensor.Dense {
	// row 0 is padding
	return tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		0, 0,
		1, 0,
		0, 1,
		1, 1,
	}))
}

func smallParams(cell string) config.HParams {
	hp := config.Defaults()
	hp.MaxSeqLen = 3
	hp.CellType = cell
	hp.CellUnits = 4
	hp.KeepProb = 1
	hp.RNNInKeepProb = 1
	return hp
}

func TestLookup(t *testing.T) {
	got, err := Lookup(table(), [][]int{{1, 2}, {3, 0}}, 3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, 3, 2}, got.Shape())
	assert.Equal(t, []float32{1, 0, 0, 1, 0, 0, 1, 1, 0, 0, 0, 0}, got.Data())

	_, err = Lookup(table(), [][]int{{4}}, 3)
	assert.Error(t, err)
	_, err = Lookup(table(), [][]int{{1, 1, 1, 1}}, 3)
	assert.Error(t, err)
}

func TestOneHotAndMask(t *testing.T) {
	oh, err := OneHot([][]int{{2}, {0, 1}}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 3}, oh.Shape())
	assert.Equal(t, []float32{0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 1, 0}, oh.Data())

	mask, err := LengthMask([]int{1, 3, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 1, 1, 1, 0, 0, 0}, mask.Data())

	_, err = LengthMask([]int{4}, 3)
	assert.Error(t, err)
}

func TestCellRegistryMatchesConfig(t *testing.T) {
	assert.Len(t, cellRegistry, len(config.CellTypes))
	for _, name := range config.CellTypes {
		c, err := NewCell(name, "x", 2, 3)
		require.NoError(t, err, name)
		assert.Equal(t, 3, c.Units())
	}
}

func TestNewCellRejectsUnknownName(t *testing.T) {
	_, err := NewCell("ConvLSTMCell", "x", 2, 2)
	require.Error(t, err)
	assert.Equal(t, config.ErrInvalidCellType, errors.Cause(err))
	assert.Contains(t, err.Error(), "ConvLSTMCell")

	hp := smallParams("NASCell")
	_, err = New(hp, table(), 0)
	assert.Equal(t, config.ErrInvalidCellType, errors.Cause(err))
}

func encode(t *testing.T, hp config.HParams, ids [][]int, lengths []int) (*Encoded, *nn.Builder) {
	enc, err := New(hp, table(), 2)
	require.NoError(t, err)
	b := nn.NewBuilder(nn.Eval, nn.NewParamStore())
	out, err := enc.Build(b, len(ids))
	require.NoError(t, err)
	require.NoError(t, out.Feed(ids, [][]int{{1, 0, 0}, {0, 1, 1}}, lengths))

	m := gorgonia.NewTapeMachine(b.G)
	defer m.Close()
	require.NoError(t, m.RunAll())
	return out, b
}

func TestLengthAwareBidirectional(t *testing.T) {
	for _, cell := range config.CellTypes {
		t.Run(cell, func(t *testing.T) {
			hp := smallParams(cell)
			hp.BiRNN = true
			out, _ := encode(t, hp, [][]int{{1, 0, 0}, {1, 2, 3}}, []int{1, 3})

			require.Equal(t, 8, out.Width)
			assert.Equal(t, tensor.Shape{2, 3, 8}, out.Outputs.Shape())
			data := out.Outputs.Value().Data().([]float32)
			at := func(b, t int) []float32 { return data[(b*3+t)*8 : (b*3+t+1)*8] }

			for tt := 1; tt < 3; tt++ {
				assert.Equal(t, make([]float32, 8), at(0, tt), "padded step %d must be zero", tt)
			}
			assert.NotEqual(t, make([]float32, 8), at(0, 0))
			assert.NotEqual(t, make([]float32, 8), at(1, 2))

			// both directions of a one-token sample end on its only step
			h := out.Final[len(out.Final)-1].Value().Data().([]float32)
			assert.Equal(t, at(0, 0), h[:8])
		})
	}
}

func TestPaddingDoesNotLeak(t *testing.T) {
	for _, cell := range config.CellTypes {
		t.Run(cell, func(t *testing.T) {
			hp := smallParams(cell)
			hp.BiRNN = true
			hp.PosTags = true
			enc, err := New(hp, table(), 2)
			require.NoError(t, err)
			b := nn.NewBuilder(nn.Eval, nn.NewParamStore())
			out, err := enc.Build(b, 2)
			require.NoError(t, err)
			m := gorgonia.NewTapeMachine(b.G)
			defer m.Close()

			lengths := []int{2, 1}
			run := func(ids, tags [][]int) ([]float32, [][]float32) {
				defer m.Reset()
				require.NoError(t, out.Feed(ids, tags, lengths))
				require.NoError(t, m.RunAll())
				outputs := append([]float32{}, out.Outputs.Value().Data().([]float32)...)
				var final [][]float32
				for _, s := range out.Final {
					final = append(final, append([]float32{}, s.Value().Data().([]float32)...))
				}
				return outputs, final
			}

			// only positions past each length differ
			outA, finalA := run([][]int{{1, 2, 0}, {3, 0, 0}}, [][]int{{1, 0, 0}, {0, 0, 0}})
			outB, finalB := run([][]int{{1, 2, 3}, {3, 1, 2}}, [][]int{{1, 0, 1}, {0, 1, 1}})
			assert.Equal(t, outA, outB)
			assert.Equal(t, finalA, finalB)
			assert.NotEqual(t, make([]float32, len(outA)), outA)
		})
	}
}

func TestFeedRejectsMissingTags(t *testing.T) {
	hp := smallParams("GRUCell")
	hp.PosTags = true
	enc, err := New(hp, table(), 2)
	require.NoError(t, err)
	out, err := enc.Build(nn.NewBuilder(nn.Eval, nn.NewParamStore()), 2)
	require.NoError(t, err)

	ids := [][]int{{1, 2}, {3}}
	lengths := []int{2, 1}
	require.NoError(t, out.Feed(ids, [][]int{{1, 0}, {1}}, lengths))
	assert.Error(t, out.Feed(ids, [][]int{{1, 0}, nil}, lengths), "nil tag row")
	assert.Error(t, out.Feed(ids, [][]int{{1}, {1}}, lengths), "fewer tags than the length")
	assert.Error(t, out.Feed(ids, nil, lengths))
}

func TestEmbeddingOnly(t *testing.T) {
	hp := smallParams("LSTMCell")
	hp.PosTags = true
	enc, err := New(hp, table(), 2)
	require.NoError(t, err)
	store := nn.NewParamStore()
	out, err := enc.BuildEmbedding(nn.NewBuilder(nn.Eval, store), 2)
	require.NoError(t, err)

	assert.Nil(t, out.Outputs)
	assert.Equal(t, 4, out.EmbeddedWidth)
	assert.Equal(t, tensor.Shape{2, 3, 4}, out.Embedded.Shape())
	_, ok := store.Get("encoder/fw/lstm/input/kernel")
	assert.False(t, ok, "no recurrent parameters")
}

func TestTagsWordGateAndParallel(t *testing.T) {
	hp := smallParams("GRUCell")
	hp.PosTags = true
	hp.WordGate = true
	hp.Parallel = true
	out, b := encode(t, hp, [][]int{{1, 0, 0}, {1, 2, 3}}, []int{1, 3})

	assert.Equal(t, tensor.Shape{2, 3, 4}, out.Outputs.Shape())
	require.NotNil(t, out.Parallel)
	assert.Equal(t, tensor.Shape{2, 3, 4}, out.Parallel.Shape())
	_, ok := b.Params.Get("word_gate/weights")
	assert.True(t, ok)
	w, ok := b.Params.Get("encoder/fw/gru/reset/kernel")
	require.True(t, ok)
	// two embedding dims plus two tags
	assert.Equal(t, tensor.Shape{4, 4}, w.Value.Shape())
}

func TestTrainableEmbedding(t *testing.T) {
	hp := smallParams("BasicRNNCell")
	hp.EmbTrainable = true
	enc, err := New(hp, table(), 0)
	require.NoError(t, err)

	store := nn.NewParamStore()
	b := nn.NewBuilder(nn.Train, store)
	_, err = enc.Build(b, 2)
	require.NoError(t, err)

	p, ok := store.Get(embeddingParam)
	require.True(t, ok)
	assert.True(t, p.Trainable)
	assert.Equal(t, table().Data(), p.Value.Data())
	assert.Contains(t, b.ParamNodes(), embeddingParam)
}

func TestFeedRejectsWrongBatch(t *testing.T) {
	enc, err := New(smallParams("LSTMCell"), table(), 0)
	require.NoError(t, err)
	out, err := enc.Build(nn.NewBuilder(nn.Eval, nn.NewParamStore()), 2)
	require.NoError(t, err)
	assert.Error(t, out.Feed([][]int{{1}}, nil, []int{1}))
}
