package metrics

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairattn/internal/config"
)

func TestAccuracyAndF1(t *testing.T) {
	pred := []int{1, 1, 0, 0, 1, 0}
	truth := []int{1, 0, 0, 1, 1, 0}

	acc, err := Accuracy(pred, truth)
	require.NoError(t, err)
	assert.InDelta(t, 4.0/6, acc, 1e-9)

	// tp=2 fp=1 fn=1
	f1, err := F1(pred, truth)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3, f1, 1e-9)

	f1, err = F1([]int{0, 0}, []int{0, 0})
	require.NoError(t, err)
	assert.Zero(t, f1)

	_, err = Accuracy([]int{1}, []int{1, 0})
	assert.Error(t, err)
	_, err = Accuracy(nil, nil)
	assert.Error(t, err)
}

func TestAUC(t *testing.T) {
	perfect, err := AUC([]float64{0.9, 0.8, 0.3, 0.1}, []int{1, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1, perfect, 1e-9)

	inverted, err := AUC([]float64{0.1, 0.2, 0.8, 0.9}, []int{1, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, inverted, 1e-9)

	// one of four positive/negative pairs is misordered
	mixed, err := AUC([]float64{0.9, 0.4, 0.5, 0.1}, []int{1, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, mixed, 1e-9)

	_, err = AUC([]float64{0.2, 0.4}, []int{1, 1})
	assert.Error(t, err)
}

func TestAUCLeavesInputUnsorted(t *testing.T) {
	probs := []float64{0.9, 0.1, 0.5}
	_, err := AUC(probs, []int{1, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1, 0.5}, probs)
}

func TestScore(t *testing.T) {
	p := Predictions{Pred: []int{1, 0}, True: []int{1, 0}, Probs: []float64{0.7, 0.2}}
	for _, name := range config.Scores {
		s, err := Score(name, p)
		require.NoError(t, err, name)
		assert.InDelta(t, 1, s, 1e-9, name)
	}
	_, err := Score("mcc", p)
	assert.Equal(t, config.ErrInvalidScore, errors.Cause(err))
}
