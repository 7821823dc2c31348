package results

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result")
	require.NoError(t, Append(path, Line{Run: "a", ValAcc: 1, ValF1: 1, TestAcc: 0.9, TestF1: 0.88, TestAUC: 0.95}))
	require.NoError(t, Append(path, Line{Run: "b", ValAcc: 0.5}))

	raw, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	fields := strings.Split(lines[0], ",")
	require.Len(t, fields, 6)
	assert.Equal(t, "a", fields[0])
	for _, f := range fields[1:] {
		_, err := strconv.ParseFloat(f, 64)
		assert.NoError(t, err, f)
	}
	assert.True(t, strings.HasPrefix(lines[1], "b,"))
}

func TestWritePredictions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run_res.csv")
	rows := []Prediction{{Pred: 1, True: 1, Label: "pos", Positive: 0.8}, {Pred: 1, True: 0, Label: "neg", Positive: 0.6}}
	require.NoError(t, WritePredictions(path, rows))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var got []Prediction
	require.NoError(t, gocsv.UnmarshalFile(f, &got))
	assert.Equal(t, rows, got)
}
