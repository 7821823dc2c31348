package viz

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.png")
	c := AttentionChart{
		Tokens:  []string{"he", "stopped", "smoking"},
		Weights: []float64{0.1, 0.7, 0.2, 0},
		Pred:    1,
		True:    1,
	}
	require.NoError(t, c.Render(path))

	raw, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))
}

func TestRenderRejectsMissingWeights(t *testing.T) {
	c := AttentionChart{Tokens: []string{"a", "b"}, Weights: []float64{1}}
	assert.Error(t, c.Render(filepath.Join(t.TempDir(), "x.png")))
	assert.Error(t, AttentionChart{}.Render(filepath.Join(t.TempDir(), "y.png")))
}
