// Package optim builds gradient-based optimizers by name and applies
// clipped updates.
package optim

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"

	"pairattn/internal/config"
)

// ClipValue bounds every gradient element to [-ClipValue, ClipValue].
const ClipValue = 1.0

// registry is keyed by optimizer kind; long names resolve through config.
var registry = map[string]func(lr float64) gorgonia.Solver{
	config.OptSGD:      sgd,
	config.OptAdam:     adam,
	config.OptRMSProp:  rmsprop,
	config.OptAdagrad:  adagrad,
	config.OptMomentum: momentum,
}

func sgd(lr float64) gorgonia.Solver {
	return gorgonia.NewVanillaSolver(gorgonia.WithLearnRate(lr))
}

func adam(lr float64) gorgonia.Solver {
	return gorgonia.NewAdamSolver(gorgonia.WithLearnRate(lr))
}

func rmsprop(lr float64) gorgonia.Solver {
	return gorgonia.NewRMSPropSolver(gorgonia.WithLearnRate(lr))
}

func adagrad(lr float64) gorgonia.Solver {
	return gorgonia.NewAdaGradSolver(gorgonia.WithLearnRate(lr))
}

func momentum(lr float64) gorgonia.Solver {
	return gorgonia.NewMomentum(gorgonia.WithLearnRate(lr))
}

// Optimizer applies clipped gradients and counts updates.
type Optimizer struct {
	Name   string
	solver gorgonia.Solver
	step   int
}

// New returns the named optimizer.
func New(name string, lr float64) (*Optimizer, error) {
	kind, ok := config.OptimizerKind(name)
	if !ok {
		return nil, errors.Wrapf(config.ErrInvalidOptimizer, "%q", name)
	}
	f, ok := registry[kind]
	if !ok {
		return nil, errors.Wrapf(config.ErrInvalidOptimizer, "no solver for %q", kind)
	}
	if lr <= 0 {
		return nil, errors.Wrapf(config.ErrInvalidValue, "learning rate %v", lr)
	}
	return &Optimizer{Name: name, solver: f(lr)}, nil
}

// Step clips the gradients of nodes, applies one update and increments the
// global step.
func (o *Optimizer) Step(nodes []*gorgonia.Node) error {
	grads := gorgonia.NodesToValueGrads(nodes)
	if err := Clip(grads, ClipValue); err != nil {
		return err
	}
	if err := o.solver.Step(grads); err != nil {
		return errors.Wrapf(err, "%s step %d", o.Name, o.step+1)
	}
	o.step++
	return nil
}

// GlobalStep returns the number of updates applied.
func (o *Optimizer) GlobalStep() int { return o.step }

// SetGlobalStep continues counting from a restored checkpoint.
func (o *Optimizer) SetGlobalStep(step int) { o.step = step }

// Clip bounds every gradient element to [-limit, limit] in place.
// Parameters that have no gradient are left untouched.
func Clip(grads []gorgonia.ValueGrad, limit float32) error {
	for _, vg := range grads {
		g, err := vg.Grad()
		if err != nil || g == nil {
			continue
		}
		switch data := g.Data().(type) {
		case []float32:
			for i, v := range data {
				if v > limit {
					data[i] = limit
				} else if v < -limit {
					data[i] = -limit
				}
			}
		default:
			return errors.Errorf("unsupported gradient type %T", data)
		}
	}
	return nil
}
