package checkpoint

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func open(t *testing.T) *LevelDB {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoad(t *testing.T) {
	s := open(t)
	params := map[string]*tensor.Dense{
		"head/class_log/weights":     tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float32{1, -2, 3.5, 0})),
		"encoder/fw/lstm/input/bias": tensor.New(tensor.WithShape(1, 3), tensor.WithBacking([]float32{0.25, 0, 9})),
	}
	rec := Record{ValScore: 0.82, TestScore: 0.79, Epoch: 5, GlobalStep: 1200, Best: true}
	require.NoError(t, s.Save("run1", params, rec))

	got, gotRec, err := s.Load("run1")
	require.NoError(t, err)
	assert.Equal(t, rec, gotRec)
	require.Len(t, got, 2)
	for name, want := range params {
		assert.Equal(t, want.Shape(), got[name].Shape(), name)
		assert.Equal(t, want.Data(), got[name].Data(), name)
	}

	best, err := s.Best("run1")
	require.NoError(t, err)
	assert.Equal(t, rec, best)
}

func TestRunsAreIsolated(t *testing.T) {
	s := open(t)
	p := map[string]*tensor.Dense{"w": tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{1}))}
	require.NoError(t, s.Save("a", p, Record{Epoch: 1, Best: true}))
	require.NoError(t, s.Save("ab", p, Record{Epoch: 2}))

	got, rec, err := s.Load("a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, rec.Epoch)

	_, err = s.Best("ab")
	assert.Equal(t, ErrNotFound, errors.Cause(err), "unflagged saves do not touch the best record")
}

func TestLoadMissingRun(t *testing.T) {
	_, _, err := open(t).Load("nope")
	require.Error(t, err)
	assert.Equal(t, ErrNotFound, errors.Cause(err))
}
