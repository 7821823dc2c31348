package train

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"pairattn/internal/checkpoint"
	"pairattn/internal/config"
	"pairattn/internal/dataset"
	"pairattn/internal/model"
	"pairattn/internal/nn"
)

// fakeNet predicts every label wrong before epoch goodFrom and right from
// then on.
type fakeNet struct {
	stepsPerEpoch int
	goodFrom      int
	step          int
	restored      map[string]*tensor.Dense
}

func (f *fakeNet) TrainStep(b dataset.Batch) (float32, error) {
	f.step++
	return 0.5, nil
}

func (f *fakeNet) Predict(b dataset.Batch) (*model.Output, error) {
	epoch := (f.step - 1) / f.stepsPerEpoch
	out := &model.Output{}
	for i := 0; i < b.Real; i++ {
		c := b.Labels[i].Class()
		pred := 1 - c
		if epoch >= f.goodFrom {
			pred = c
		}
		out.Pred = append(out.Pred, pred)
		out.True = append(out.True, c)
		out.Positive = append(out.Positive, float64(pred))
		out.Weights = append(out.Weights, []float64{1})
	}
	return out, nil
}

func (f *fakeNet) GlobalStep() int        { return f.step }
func (f *fakeNet) SetGlobalStep(step int) { f.step = step }

func (f *fakeNet) Snapshot() map[string]*tensor.Dense {
	return map[string]*tensor.Dense{"w": tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{float32(f.step)}))}
}

func (f *fakeNet) Restore(values map[string]*tensor.Dense) error {
	f.restored = values
	return nil
}

type memStore struct {
	saves  int
	params map[string]map[string]*tensor.Dense
	recs   map[string]checkpoint.Record
}

func newMemStore() *memStore {
	return &memStore{params: map[string]map[string]*tensor.Dense{}, recs: map[string]checkpoint.Record{}}
}

func (m *memStore) Save(run string, params map[string]*tensor.Dense, rec checkpoint.Record) error {
	m.saves++
	m.params[run] = params
	m.recs[run] = rec
	return nil
}

func (m *memStore) Load(run string) (map[string]*tensor.Dense, checkpoint.Record, error) {
	rec, ok := m.recs[run]
	if !ok {
		return nil, checkpoint.Record{}, checkpoint.ErrNotFound
	}
	return m.params[run], rec, nil
}

func (m *memStore) Close() error { return nil }

func fakeParams() config.HParams {
	hp := config.Defaults()
	hp.MaxSeqLen = 1
	hp.BatchSize = 5
	hp.EvalEvery = 2
	hp.MaxEpochs = 50
	hp.EarlyStop = 3
	hp.CkptName = "fake"
	return hp
}

func fakeData(t *testing.T) *dataset.Bundle {
	data, err := dataset.Synthetic{Samples: 10, MaxLen: 1, Seed: 3}.Load()
	require.NoError(t, err)
	return data
}

func TestEarlyStop(t *testing.T) {
	hp := fakeParams()
	net := &fakeNet{stepsPerEpoch: 2, goodFrom: 2}
	store := newMemStore()

	rec, err := New(hp, net, fakeData(t), store, zap.NewNop()).Train()
	require.NoError(t, err)

	// best at epoch 2, patience 3: the last epoch run is 6
	assert.Equal(t, 7*net.stepsPerEpoch, net.step)
	assert.Equal(t, 2, rec.Epoch)
	assert.Equal(t, 1.0, rec.ValScore)
	assert.Equal(t, 1.0, rec.TestScore)
	assert.True(t, rec.Best)
	assert.Equal(t, 1, store.saves)
}

func TestNoImprovementDoesNotSave(t *testing.T) {
	hp := fakeParams()
	hp.EarlyStop = 0
	net := &fakeNet{stepsPerEpoch: 2, goodFrom: 100}
	store := newMemStore()

	rec, err := New(hp, net, fakeData(t), store, zap.NewNop()).Train()
	require.NoError(t, err)
	assert.Equal(t, 0, store.saves)
	assert.Equal(t, checkpoint.Record{}, rec)
	assert.Equal(t, 2*net.stepsPerEpoch, net.step)
}

func TestResume(t *testing.T) {
	hp := fakeParams()
	hp.MaxEpochs = 1
	store := newMemStore()
	saved := checkpoint.Record{ValScore: 0.82, TestScore: 0.79, Epoch: 5, GlobalStep: 12, Best: true}
	w := tensor.New(tensor.WithShape(1), tensor.WithBacking([]float32{3}))
	require.NoError(t, store.Save(hp.CkptName, map[string]*tensor.Dense{"w": w}, saved))

	net := &fakeNet{stepsPerEpoch: 2, goodFrom: 100}
	tr := New(hp, net, fakeData(t), store, zap.NewNop())
	require.NoError(t, tr.Resume())
	assert.Equal(t, saved, tr.State())
	assert.Equal(t, 12, net.GlobalStep())
	assert.Equal(t, w, net.restored["w"])

	// a worse validation score leaves the record alone
	rec, err := tr.Train()
	require.NoError(t, err)
	assert.Equal(t, 0.82, rec.ValScore)
	assert.Equal(t, 0.79, rec.TestScore)
	assert.Equal(t, 5, rec.Epoch)
	assert.Equal(t, 14, net.GlobalStep())
}

func TestResumeMissingRun(t *testing.T) {
	tr := New(fakeParams(), &fakeNet{stepsPerEpoch: 1}, fakeData(t), newMemStore(), zap.NewNop())
	assert.Error(t, tr.Resume())
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	hp := config.Defaults()
	hp.Model = "attn_attn_sum"
	hp.MaxSeqLen = 1
	hp.BatchSize = 10
	hp.EvalEvery = 2
	hp.MaxEpochs = 40
	hp.EarlyStop = 40
	hp.KeepProb = 1
	hp.CellUnits = 4
	hp.BiRNN = false
	hp.FirstFC = false
	hp.Optimizer = "adam"
	hp.LearnRate = 0.05
	hp.CkptName = "e2e"
	hp.Results = filepath.Join(dir, "result")
	hp.VizDir = filepath.Join(dir, "viz")
	hp.VizSamples = 2

	data, err := dataset.Synthetic{Samples: 20, MaxLen: 1, Seed: 1}.Load()
	require.NoError(t, err)
	require.NoError(t, data.Validate(hp.MaxSeqLen, hp.PosTags))

	net, err := model.NewClassifier(hp, data.Embedding, data.TagVocab, nn.NewParamStore())
	require.NoError(t, err)
	store, err := checkpoint.Open(filepath.Join(dir, "ckpt"))
	require.NoError(t, err)
	defer store.Close()

	tr := New(hp, net, data, store, zap.NewNop())
	rec, err := tr.Train()
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec.ValScore)

	best, err := store.Best(hp.CkptName)
	require.NoError(t, err)
	assert.Equal(t, rec, best)

	params, _, err := store.Load(hp.CkptName)
	require.NoError(t, err)
	require.NoError(t, net.Restore(params))
	line, err := tr.Report()
	require.NoError(t, err)
	assert.Equal(t, 1.0, line.ValAcc)

	raw, err := ioutil.ReadFile(hp.Results)
	require.NoError(t, err)
	fields := strings.Split(strings.TrimSpace(string(raw)), ",")
	require.Len(t, fields, 6)
	assert.Equal(t, "e2e", fields[0])
	for _, f := range fields[1:] {
		_, err := strconv.ParseFloat(f, 64)
		assert.NoError(t, err, f)
	}

	_, err = os.Stat(filepath.Join(dir, "e2e_res.csv"))
	assert.NoError(t, err)
	charts, err := ioutil.ReadDir(hp.VizDir)
	require.NoError(t, err)
	assert.NotEmpty(t, charts)
}
