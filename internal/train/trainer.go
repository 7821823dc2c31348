// Package train drives a classifier through epochs of training with
// periodic validation, best-checkpoint tracking and early stopping, and
// produces the evaluation reports of a finished run.
package train

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"pairattn/internal/checkpoint"
	"pairattn/internal/config"
	"pairattn/internal/dataset"
	"pairattn/internal/metrics"
	"pairattn/internal/model"
)

// Network is the part of a classifier the loop drives.
type Network interface {
	TrainStep(b dataset.Batch) (float32, error)
	Predict(b dataset.Batch) (*model.Output, error)
	GlobalStep() int
	SetGlobalStep(step int)
	Snapshot() map[string]*tensor.Dense
	Restore(values map[string]*tensor.Dense) error
}

// Trainer owns the training record of one run.
type Trainer struct {
	hp     config.HParams
	net    Network
	data   *dataset.Bundle
	store  checkpoint.Store
	logger *zap.Logger

	state     checkpoint.Record
	bestEpoch int
}

// New returns a trainer starting from an empty record.
func New(hp config.HParams, net Network, data *dataset.Bundle, store checkpoint.Store, logger *zap.Logger) *Trainer {
	return &Trainer{hp: hp, net: net, data: data, store: store, logger: logger}
}

// State returns the current training record.
func (t *Trainer) State() checkpoint.Record { return t.state }

// Resume restores parameters, global step and record from the run's
// checkpoint. The resumed epoch counts as the best epoch.
func (t *Trainer) Resume() error {
	params, rec, err := t.store.Load(t.hp.CkptName)
	if err != nil {
		return errors.Wrapf(err, "resuming %s", t.hp.CkptName)
	}
	if err := t.net.Restore(params); err != nil {
		return errors.Wrapf(err, "restoring %s", t.hp.CkptName)
	}
	t.net.SetGlobalStep(rec.GlobalStep)
	t.state = rec
	t.bestEpoch = rec.Epoch
	t.logger.Info("resumed",
		zap.String("run", t.hp.CkptName),
		zap.Float64("val", rec.ValScore),
		zap.Float64("test", rec.TestScore),
		zap.Int("epoch", rec.Epoch),
		zap.Int("step", rec.GlobalStep))
	return nil
}

// Train runs up to max_epochs epochs from the record's epoch and returns
// the final record. It stops early once the best epoch is more than
// early_stop epochs behind.
func (t *Trainer) Train() (checkpoint.Record, error) {
	start := t.state.Epoch
	t.bestEpoch = start
	for epoch := start; epoch < start+t.hp.MaxEpochs; epoch++ {
		batches, err := dataset.Batches(t.data.Train, t.hp.BatchSize, true, int64(epoch))
		if err != nil {
			return t.state, err
		}
		var total float64
		err = forEach(len(batches), fmt.Sprintf("epoch %d", epoch+1), t.hp.Progress, func(i int) error {
			loss, err := t.net.TrainStep(batches[i])
			if err != nil {
				return errors.Wrapf(err, "epoch %d batch %d", epoch+1, i)
			}
			total += float64(loss)
			if t.net.GlobalStep()%t.hp.EvalEvery == 0 {
				return t.evaluate(epoch)
			}
			return nil
		})
		if err != nil {
			return t.state, err
		}
		t.logger.Info("epoch done",
			zap.Int("epoch", epoch+1),
			zap.Float64("loss", total/float64(len(batches))),
			zap.Int("step", t.net.GlobalStep()))

		if epoch-t.bestEpoch > t.hp.EarlyStop {
			t.logger.Info("early stop", zap.Int("epoch", epoch+1), zap.Int("best_epoch", t.bestEpoch+1))
			break
		}
	}
	t.logger.Info("training done",
		zap.Int("best_epoch", t.bestEpoch+1),
		zap.Float64("val", t.state.ValScore),
		zap.Float64("test", t.state.TestScore))
	return t.state, nil
}

func (t *Trainer) evaluate(epoch int) error {
	val, err := t.score(t.data.Valid)
	if err != nil {
		return errors.Wrap(err, "validation")
	}
	if val > t.state.ValScore {
		test, err := t.score(t.data.Test)
		if err != nil {
			return errors.Wrap(err, "test")
		}
		t.state = checkpoint.Record{
			ValScore:   val,
			TestScore:  test,
			Epoch:      epoch,
			GlobalStep: t.net.GlobalStep(),
			Best:       true,
		}
		t.bestEpoch = epoch
		if err := t.store.Save(t.hp.CkptName, t.net.Snapshot(), t.state); err != nil {
			return errors.Wrapf(err, "saving %s", t.hp.CkptName)
		}
		t.logger.Info("new best", zap.Float64("test", test), zap.Int("step", t.state.GlobalStep))
	}
	t.logger.Info("evaluation",
		zap.String("score", t.hp.Score),
		zap.Float64("val", val),
		zap.Float64("best", t.state.ValScore),
		zap.Int("step", t.net.GlobalStep()))
	return nil
}

func (t *Trainer) score(s *dataset.Split) (float64, error) {
	p, err := t.predict(s)
	if err != nil {
		return 0, err
	}
	return metrics.Score(t.hp.Score, p.Predictions)
}

type scored struct {
	metrics.Predictions
	Weights [][]float64
}

// predict runs a whole split through the eval graph in unshuffled
// fixed-size batches. Rows come back in split order.
func (t *Trainer) predict(s *dataset.Split) (*scored, error) {
	batches, err := dataset.Batches(s, t.hp.BatchSize, false, 0)
	if err != nil {
		return nil, err
	}
	out := &scored{}
	for _, b := range batches {
		o, err := t.net.Predict(b)
		if err != nil {
			return nil, err
		}
		out.Pred = append(out.Pred, o.Pred...)
		out.True = append(out.True, o.True...)
		out.Probs = append(out.Probs, o.Positive...)
		out.Weights = append(out.Weights, o.Weights...)
	}
	return out, nil
}
