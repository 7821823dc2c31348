package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const (
	bnMomentum = 0.99
	bnEpsilon  = 1e-3
)

// StatUpdate folds a batch statistic computed by a Train graph into the
// running statistic an Eval graph normalises with.
type StatUpdate struct {
	Running  *Param
	Momentum float32

	batch gorgonia.Value // filled by a read node on every run
}

// Apply updates the running value in place from the last computed batch
// value: running = momentum*running + (1-momentum)*batch.
func (u *StatUpdate) Apply() error {
	v := u.batch
	if v == nil {
		return errors.Errorf("%s: batch statistic not computed", u.Running.Name)
	}
	batch, ok := v.Data().([]float32)
	if !ok {
		return errors.Errorf("%s: unexpected statistic type %T", u.Running.Name, v.Data())
	}
	running := u.Running.Value.Data().([]float32)
	if len(batch) != len(running) {
		return errors.Errorf("%s: statistic has %d values, want %d", u.Running.Name, len(batch), len(running))
	}
	for i := range running {
		running[i] = u.Momentum*running[i] + (1-u.Momentum)*batch[i]
	}
	return nil
}

// BatchNorm normalises a (B, C, H, W) tensor per channel, then scales and
// shifts it by learned gamma and beta.
func (b *Builder) BatchNorm(x *gorgonia.Node, scope string) (*gorgonia.Node, error) {
	if x.Dims() != 4 {
		return nil, errors.Errorf("%s: batch norm expects NCHW input, got %v", scope, x.Shape())
	}
	s := x.Shape()
	n, c, h, w := s[0], s[1], s[2], s[3]

	xt, err := gorgonia.Transpose(x, 1, 0, 2, 3)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(xt, tensor.Shape{c, n * h * w})
	if err != nil {
		return nil, err
	}

	gamma, err := b.Param(scope+"/gamma", tensor.Shape{c, 1}, gorgonia.Ones())
	if err != nil {
		return nil, err
	}
	beta, err := b.Param(scope+"/beta", tensor.Shape{c, 1}, gorgonia.Zeroes())
	if err != nil {
		return nil, err
	}

	var mean, variance, centered *gorgonia.Node
	if b.Mode == Train {
		if mean, err = gorgonia.Mean(flat, 1); err != nil {
			return nil, err
		}
		if mean, err = gorgonia.Reshape(mean, tensor.Shape{c, 1}); err != nil {
			return nil, err
		}
		if centered, err = gorgonia.BroadcastSub(flat, mean, nil, []byte{1}); err != nil {
			return nil, err
		}
		sq, err := gorgonia.Square(centered)
		if err != nil {
			return nil, err
		}
		if variance, err = gorgonia.Mean(sq, 1); err != nil {
			return nil, err
		}
		if variance, err = gorgonia.Reshape(variance, tensor.Shape{c, 1}); err != nil {
			return nil, err
		}
		if err := b.trackRunning(scope+"/moving_mean", mean, gorgonia.Zeroes(), c); err != nil {
			return nil, err
		}
		if err := b.trackRunning(scope+"/moving_variance", variance, gorgonia.Ones(), c); err != nil {
			return nil, err
		}
	} else {
		if mean, err = b.State(scope+"/moving_mean", tensor.Shape{c, 1}, gorgonia.Zeroes()); err != nil {
			return nil, err
		}
		if variance, err = b.State(scope+"/moving_variance", tensor.Shape{c, 1}, gorgonia.Ones()); err != nil {
			return nil, err
		}
		if centered, err = gorgonia.BroadcastSub(flat, mean, nil, []byte{1}); err != nil {
			return nil, err
		}
	}

	shifted, err := gorgonia.Add(variance, b.Scalar(bnEpsilon))
	if err != nil {
		return nil, err
	}
	std, err := gorgonia.Sqrt(shifted)
	if err != nil {
		return nil, err
	}
	norm, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{1})
	if err != nil {
		return nil, err
	}
	if norm, err = gorgonia.BroadcastHadamardProd(norm, gamma, nil, []byte{1}); err != nil {
		return nil, err
	}
	if norm, err = gorgonia.BroadcastAdd(norm, beta, nil, []byte{1}); err != nil {
		return nil, err
	}
	if norm, err = gorgonia.Reshape(norm, tensor.Shape{c, n, h, w}); err != nil {
		return nil, err
	}
	return gorgonia.Transpose(norm, 1, 0, 2, 3)
}

func (b *Builder) trackRunning(name string, batch *gorgonia.Node, init gorgonia.InitWFn, c int) error {
	p, err := b.Params.GetOrInit(name, tensor.Shape{c, 1}, init, false)
	if err != nil {
		return err
	}
	u := &StatUpdate{Running: p, Momentum: bnMomentum}
	gorgonia.Read(batch, &u.batch)
	b.stats = append(b.stats, u)
	return nil
}
