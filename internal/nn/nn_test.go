package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func dense(shape tensor.Shape, data ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

func run(t *testing.T, b *Builder) {
	m := gorgonia.NewTapeMachine(b.G)
	defer m.Close()
	require.NoError(t, m.RunAll())
}

func TestDenseKnownWeights(t *testing.T) {
	store := NewParamStore()
	// W = [[1,0,1],[0,1,1]], b = [0.5, 0, -1]
	require.NoError(t, store.Restore(map[string]*tensor.Dense{
		"fc/weights": dense(tensor.Shape{2, 3}, 1, 0, 1, 0, 1, 1),
		"fc/biases":  dense(tensor.Shape{1, 3}, 0.5, 0, -1),
	}))

	b := NewBuilder(Eval, store)
	x := b.Input("x", 2, 2)
	out, err := b.Dense(x, 2, 3, "fc", nil)
	require.NoError(t, err)
	require.NoError(t, gorgonia.Let(x, dense(tensor.Shape{2, 2}, 1, 2, 3, 4)))
	run(t, b)

	assert.Equal(t, []float32{1.5, 2, 2, 3.5, 4, 6}, out.Value().Data().([]float32))
	assert.Empty(t, b.Learnables(), "eval graphs have no learnables")
}

func TestDenseRejectsWrongWidth(t *testing.T) {
	b := NewBuilder(Train, NewParamStore())
	x := b.Input("x", 4, 3)
	_, err := b.Dense(x, 2, 3, "fc", nil)
	assert.Error(t, err)
}

func TestParamSharedAcrossGraphs(t *testing.T) {
	store := NewParamStore()
	train := NewBuilder(Train, store)
	w1, err := train.Param("w", tensor.Shape{3, 3}, gorgonia.GlorotU(1.0))
	require.NoError(t, err)
	eval := NewBuilder(Eval, store)
	w2, err := eval.Param("w", tensor.Shape{3, 3}, gorgonia.Zeroes())
	require.NoError(t, err)

	assert.Equal(t, w1.Value().Data(), w2.Value().Data())
	assert.Len(t, train.Learnables(), 1)
	assert.Equal(t, []string{"w"}, store.order)

	_, err = eval.Params.GetOrInit("w", tensor.Shape{2, 3}, gorgonia.Zeroes(), true)
	assert.Error(t, err, "shape mismatch")
}

func TestSnapshotRestore(t *testing.T) {
	store := NewParamStore()
	p, err := store.GetOrInit("a", tensor.Shape{1, 2}, gorgonia.Zeroes(), true)
	require.NoError(t, err)

	snap := store.Snapshot()
	p.Value.Data().([]float32)[0] = 7
	assert.Equal(t, float32(0), snap["a"].Data().([]float32)[0], "snapshot is a copy")

	require.NoError(t, store.Restore(snap))
	assert.Equal(t, float32(0), p.Value.Data().([]float32)[0])

	bad := map[string]*tensor.Dense{"a": dense(tensor.Shape{2, 1}, 1, 2)}
	assert.Error(t, store.Restore(bad))
}

func TestCrossEntropy(t *testing.T) {
	b := NewBuilder(Eval, NewParamStore())
	probs := b.Input("probs", 2, 2)
	labels := b.Input("labels", 2, 2)
	loss, err := b.CrossEntropy(probs, labels, nil)
	require.NoError(t, err)

	require.NoError(t, gorgonia.Let(probs, dense(tensor.Shape{2, 2}, 0.9, 0.1, 0.2, 0.8)))
	require.NoError(t, gorgonia.Let(labels, dense(tensor.Shape{2, 2}, 1, 0, 0, 1)))
	run(t, b)

	want := -(math.Log(0.9+probEpsilon) + math.Log(0.8+probEpsilon)) / 2
	assert.InDelta(t, want, loss.Value().Data().(float32), 1e-5)
}

func TestCrossEntropyWeightedRows(t *testing.T) {
	b := NewBuilder(Eval, NewParamStore())
	probs := b.Input("probs", 3, 2)
	labels := b.Input("labels", 3, 2)
	weights := b.Input("weights", 3)
	loss, err := b.CrossEntropy(probs, labels, weights)
	require.NoError(t, err)
	var v gorgonia.Value
	gorgonia.Read(loss, &v)

	require.NoError(t, gorgonia.Let(probs, dense(tensor.Shape{3, 2}, 0.9, 0.1, 0.2, 0.8, 0.5, 0.5)))
	require.NoError(t, gorgonia.Let(labels, dense(tensor.Shape{3, 2}, 1, 0, 0, 1, 1, 0)))
	// the third row is padding
	require.NoError(t, gorgonia.Let(weights, dense(tensor.Shape{3}, 1, 1, 0)))
	run(t, b)

	want := -(math.Log(0.9+probEpsilon) + math.Log(0.8+probEpsilon)) / 2
	require.NotNil(t, v)
	assert.InDelta(t, want, v.Data().(float32), 1e-5)
}

func TestDropoutOnlyInTrain(t *testing.T) {
	eval := NewBuilder(Eval, NewParamStore())
	x := eval.Input("x", 2, 2)
	y, err := eval.Dropout(x, 0.5)
	require.NoError(t, err)
	assert.True(t, x == y)

	train := NewBuilder(Train, NewParamStore())
	x = train.Input("x", 2, 2)
	y, err = train.Dropout(x, 1.0)
	require.NoError(t, err)
	assert.True(t, x == y, "keep probability 1 is the identity")
	y, err = train.Dropout(x, 0.5)
	require.NoError(t, err)
	assert.False(t, x == y)
}

func TestHeadShapes(t *testing.T) {
	b := NewBuilder(Train, NewParamStore())
	x := b.Input("x", 4, 6)
	head := ClassificationHead{Scope: "head", First: true, Units: 5, Layers: 2, KeepProb: 1, Classes: 2}
	logits, err := head.Forward(b, x, 6)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{4, 2}, logits.Shape())
	// first projection, two hidden layers and the output layer
	assert.Len(t, b.Learnables(), 8)
}

func TestBatchNormRunningStats(t *testing.T) {
	store := NewParamStore()
	train := NewBuilder(Train, store)
	x := train.Input("x", 2, 1, 1, 2)
	out, err := train.BatchNorm(x, "bn")
	require.NoError(t, err)
	require.Len(t, train.StatUpdates(), 2)

	require.NoError(t, gorgonia.Let(x, dense(tensor.Shape{2, 1, 1, 2}, 1, 3, 5, 7)))
	run(t, train)
	got := out.Value().Data().([]float32)
	// mean 4, variance 5
	assert.InDelta(t, -3/math.Sqrt(5+bnEpsilon), got[0], 1e-4)
	assert.InDelta(t, 3/math.Sqrt(5+bnEpsilon), got[3], 1e-4)

	for _, u := range train.StatUpdates() {
		require.NoError(t, u.Apply())
	}
	mean, ok := store.Get("bn/moving_mean")
	require.True(t, ok)
	assert.InDelta(t, 0.01*4, mean.Value.Data().([]float32)[0], 1e-5)
	variance, ok := store.Get("bn/moving_variance")
	require.True(t, ok)
	assert.InDelta(t, 0.99+0.01*5, variance.Value.Data().([]float32)[0], 1e-5)

	eval := NewBuilder(Eval, store)
	xe := eval.Input("x", 1, 1, 1, 1)
	oute, err := eval.BatchNorm(xe, "bn")
	require.NoError(t, err)
	require.NoError(t, gorgonia.Let(xe, dense(tensor.Shape{1, 1, 1, 1}, 0.04)))
	run(t, eval)
	assert.InDelta(t, 0, oute.Value().Data().([]float32)[0], 1e-5)
}
