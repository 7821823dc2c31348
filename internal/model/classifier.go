package model

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/config"
	"pairattn/internal/dataset"
	"pairattn/internal/encoder"
	"pairattn/internal/nn"
	"pairattn/internal/optim"
)

// Output holds the scored genuine rows of one batch.
type Output struct {
	Pred     []int
	True     []int
	Positive []float64   // P(class 1)
	Weights  [][]float64 // attention over attention per position; nil for cnn
}

// Classifier runs a train graph and an eval graph over one parameter
// store. The train graph is built on the first TrainStep, so a classifier
// that only evaluates never allocates gradients.
type Classifier struct {
	hp    config.HParams
	enc   *encoder.Encoder
	store *nn.ParamStore
	opt   *optim.Optimizer

	train   *Graph
	trainVM gorgonia.VM
	eval    *Graph
	evalVM  gorgonia.VM
}

// NewClassifier validates hp and builds the eval graph. table is the
// embedding matrix and tagVocab the size of the tag one-hot.
func NewClassifier(hp config.HParams, table *tensor.Dense, tagVocab int, store *nn.ParamStore) (*Classifier, error) {
	if err := hp.Validate(); err != nil {
		return nil, err
	}
	enc, err := encoder.New(hp, table, tagVocab)
	if err != nil {
		return nil, err
	}
	opt, err := optim.New(hp.Optimizer, hp.LearnRate)
	if err != nil {
		return nil, err
	}
	c := &Classifier{hp: hp, enc: enc, store: store, opt: opt}
	if c.eval, err = Build(hp, enc, store, nn.Eval, hp.BatchSize); err != nil {
		return nil, errors.Wrap(err, "building eval graph")
	}
	c.evalVM = gorgonia.NewTapeMachine(c.eval.G)
	return c, nil
}

func (c *Classifier) ensureTrain() error {
	if c.train != nil {
		return nil
	}
	g, err := Build(c.hp, c.enc, c.store, nn.Train, c.hp.BatchSize)
	if err != nil {
		return errors.Wrap(err, "building train graph")
	}
	if _, err := gorgonia.Grad(g.Loss, g.Learnables()...); err != nil {
		return errors.Wrap(err, "gradients")
	}
	c.train = g
	c.trainVM = gorgonia.NewTapeMachine(g.G, gorgonia.BindDualValues(g.Learnables()...))
	return nil
}

// TrainStep runs one forward and backward pass on b, applies the optimizer
// and folds batch-norm statistics. It returns the batch loss.
func (c *Classifier) TrainStep(b dataset.Batch) (float32, error) {
	if err := c.ensureTrain(); err != nil {
		return 0, err
	}
	defer c.trainVM.Reset()
	if err := c.train.Feed(b); err != nil {
		return 0, err
	}
	if err := c.trainVM.RunAll(); err != nil {
		return 0, errors.Wrap(err, "train step")
	}
	if err := c.opt.Step(c.train.Learnables()); err != nil {
		return 0, err
	}
	for _, u := range c.train.StatUpdates() {
		if err := u.Apply(); err != nil {
			return 0, err
		}
	}
	if err := c.pullTrain(); err != nil {
		return 0, err
	}
	if c.train.lossVal == nil {
		return 0, errors.New("loss was not computed")
	}
	loss, ok := c.train.lossVal.Data().(float32)
	if !ok {
		return 0, errors.Errorf("loss has type %T", c.train.lossVal.Data())
	}
	return loss, nil
}

// Predict scores b with the eval graph.
func (c *Classifier) Predict(b dataset.Batch) (*Output, error) {
	if err := c.pushEval(); err != nil {
		return nil, err
	}
	defer c.evalVM.Reset()
	if err := c.eval.Feed(b); err != nil {
		return nil, err
	}
	if err := c.evalVM.RunAll(); err != nil {
		return nil, errors.Wrap(err, "eval step")
	}
	probs, err := float32s("probabilities", c.eval.probsVal)
	if err != nil {
		return nil, err
	}
	var aoa []float32
	if c.eval.AoA != nil {
		if aoa, err = float32s("attention weights", c.eval.aoaVal); err != nil {
			return nil, err
		}
	}

	classes, T := c.hp.NumClass, c.hp.MaxSeqLen
	out := &Output{}
	for i := 0; i < b.Real; i++ {
		p := probs[i*classes : (i+1)*classes]
		pred := 0
		for k := range p {
			if p[k] > p[pred] {
				pred = k
			}
		}
		out.Pred = append(out.Pred, pred)
		out.True = append(out.True, b.Labels[i].Class())
		out.Positive = append(out.Positive, float64(p[1]))
		if aoa == nil {
			continue
		}
		w := make([]float64, T)
		for t := range w {
			w[t] = float64(aoa[i*T+t])
		}
		out.Weights = append(out.Weights, w)
	}
	return out, nil
}

// GlobalStep returns the number of optimizer updates applied.
func (c *Classifier) GlobalStep() int { return c.opt.GlobalStep() }

// SetGlobalStep continues the update count of a restored run.
func (c *Classifier) SetGlobalStep(step int) { c.opt.SetGlobalStep(step) }

// Snapshot returns copies of every parameter, trainable or not.
func (c *Classifier) Snapshot() map[string]*tensor.Dense {
	return c.store.Snapshot()
}

// Restore overwrites the parameters with values and starts the optimizer
// over at the same global step. Checkpoints do not carry solver moments, so
// a restored classifier continues exactly like one resumed from disk.
func (c *Classifier) Restore(values map[string]*tensor.Dense) error {
	if err := c.store.Restore(values); err != nil {
		return err
	}
	opt, err := optim.New(c.hp.Optimizer, c.hp.LearnRate)
	if err != nil {
		return err
	}
	opt.SetGlobalStep(c.opt.GlobalStep())
	c.opt = opt
	if c.train == nil {
		return nil
	}
	for name, n := range c.train.ParamNodes() {
		p, _ := c.store.Get(name)
		if err := copyInto(n.Value(), p.Value); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return nil
}

// pullTrain copies parameter values out of the train machine when it holds
// its own tensors.
func (c *Classifier) pullTrain() error {
	for name, n := range c.train.ParamNodes() {
		p, _ := c.store.Get(name)
		if n.Value() == gorgonia.Value(p.Value) {
			continue
		}
		if t, ok := n.Value().(*tensor.Dense); ok {
			if err := copyInto(p.Value, t); err != nil {
				return errors.Wrap(err, name)
			}
		}
	}
	return nil
}

// pushEval rebinds the eval graph's parameter nodes to the store.
func (c *Classifier) pushEval() error {
	for name, n := range c.eval.ParamNodes() {
		p, _ := c.store.Get(name)
		if n.Value() == gorgonia.Value(p.Value) {
			continue
		}
		if err := gorgonia.Let(n, p.Value); err != nil {
			return errors.Wrap(err, name)
		}
	}
	return nil
}

func copyInto(dst gorgonia.Value, src *tensor.Dense) error {
	d, ok := dst.(*tensor.Dense)
	if !ok {
		return errors.Errorf("parameter value has type %T", dst)
	}
	if d == src {
		return nil
	}
	if !d.Shape().Eq(src.Shape()) {
		return errors.Errorf("shape %v, want %v", src.Shape(), d.Shape())
	}
	copy(d.Data().([]float32), src.Data().([]float32))
	return nil
}

func float32s(what string, v gorgonia.Value) ([]float32, error) {
	if v == nil {
		return nil, errors.Errorf("%s were not computed", what)
	}
	data, ok := v.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("%s have type %T", what, v.Data())
	}
	return data, nil
}
