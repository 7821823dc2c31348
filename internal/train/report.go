package train

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pairattn/internal/metrics"
	"pairattn/internal/results"
	"pairattn/internal/viz"
)

// Report scores the current parameters on validation and test, appends the
// run's line to the results file, writes the per-sample test predictions
// next to it and renders attention charts for random test samples.
func (t *Trainer) Report() (results.Line, error) {
	line := results.Line{Run: t.hp.CkptName}

	val, err := t.predict(t.data.Valid)
	if err != nil {
		return line, errors.Wrap(err, "validation")
	}
	if line.ValAcc, err = metrics.Accuracy(val.Pred, val.True); err != nil {
		return line, err
	}
	if line.ValF1, err = metrics.F1(val.Pred, val.True); err != nil {
		return line, err
	}

	test, err := t.predict(t.data.Test)
	if err != nil {
		return line, errors.Wrap(err, "test")
	}
	if line.TestAcc, err = metrics.Accuracy(test.Pred, test.True); err != nil {
		return line, err
	}
	if line.TestF1, err = metrics.F1(test.Pred, test.True); err != nil {
		return line, err
	}
	if line.TestAUC, err = metrics.AUC(test.Probs, test.True); err != nil {
		return line, err
	}

	if err := results.Append(t.hp.Results, line); err != nil {
		return line, err
	}
	t.logger.Info("results",
		zap.String("run", line.Run),
		zap.Float64("val_acc", line.ValAcc),
		zap.Float64("val_f1", line.ValF1),
		zap.Float64("test_acc", line.TestAcc),
		zap.Float64("test_f1", line.TestF1),
		zap.Float64("test_auc", line.TestAUC))

	rows := make([]results.Prediction, len(test.Pred))
	for i := range rows {
		rows[i] = results.Prediction{Pred: test.Pred[i], True: test.True[i], Positive: test.Probs[i]}
		if i < len(t.data.Test.Actual) {
			rows[i].Label = t.data.Test.Actual[i]
		}
	}
	path := filepath.Join(filepath.Dir(t.hp.Results), t.hp.CkptName+"_res.csv")
	if err := results.WritePredictions(path, rows); err != nil {
		return line, err
	}

	if err := t.charts(test); err != nil {
		return line, err
	}
	return line, nil
}

func (t *Trainer) charts(test *scored) error {
	n := len(test.Pred)
	if t.hp.VizSamples <= 0 || t.hp.VizDir == "" || n == 0 || len(test.Weights) < n {
		return nil
	}
	if err := os.MkdirAll(t.hp.VizDir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "creating %s", t.hp.VizDir)
	}
	r := rand.New(rand.NewSource(t.hp.Seed))
	for i := 0; i < t.hp.VizSamples && i < n; i++ {
		idx := r.Intn(n)
		length := t.data.Test.Lengths[idx]
		c := viz.AttentionChart{
			Tokens:  t.data.Tokens(t.data.Test.IDs[idx], length),
			Weights: test.Weights[idx][:length],
			Pred:    test.Pred[idx],
			True:    test.True[idx],
		}
		path := filepath.Join(t.hp.VizDir, fmt.Sprintf("%s_%d.png", t.hp.CkptName, idx))
		if err := c.Render(path); err != nil {
			return err
		}
	}
	return nil
}
