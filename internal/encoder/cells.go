package encoder

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/config"
	"pairattn/internal/nn"
)

// State is the recurrent state carried between timesteps: (c, h) for LSTM
// cells and (h) for the others. Every component is (batch, units).
type State []*gorgonia.Node

// Cell is a single recurrent step.
type Cell interface {
	Units() int
	// Zero returns the initial state for a batch.
	Zero(b *nn.Builder, batch int) State
	// Step consumes a (batch, in) input and returns the (batch, units)
	// output together with the next state.
	Step(b *nn.Builder, x *gorgonia.Node, s State) (*gorgonia.Node, State, error)
}

type cellFactory func(scope string, in, units int) Cell

var cellRegistry = map[string]cellFactory{
	config.CellLSTM:     newLSTM,
	config.CellGRU:      newGRU,
	config.CellBasicRNN: newBasicRNN,
}

// NewCell returns the named cell, reading its weights under scope.
func NewCell(name, scope string, in, units int) (Cell, error) {
	f, ok := cellRegistry[name]
	if !ok {
		return nil, errors.Wrapf(config.ErrInvalidCellType, "%q", name)
	}
	return f(scope, in, units), nil
}

type cellBase struct {
	scope     string
	in, units int
}

func (c cellBase) Units() int { return c.units }

// affine returns x·Wx + h·Wh + b for one gate.
func (c cellBase) affine(b *nn.Builder, x, h *gorgonia.Node, gate string, biasInit gorgonia.InitWFn) (*gorgonia.Node, error) {
	scope := c.scope + "/" + gate
	wx, err := b.Param(scope+"/kernel", tensor.Shape{c.in, c.units}, gorgonia.GlorotU(1.0))
	if err != nil {
		return nil, err
	}
	wh, err := b.Param(scope+"/recurrent_kernel", tensor.Shape{c.units, c.units}, gorgonia.GlorotU(1.0))
	if err != nil {
		return nil, err
	}
	bias, err := b.Param(scope+"/bias", tensor.Shape{1, c.units}, biasInit)
	if err != nil {
		return nil, err
	}
	xw, err := gorgonia.Mul(x, wx)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: input projection", scope)
	}
	hw, err := gorgonia.Mul(h, wh)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: recurrent projection", scope)
	}
	z, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(z, bias, nil, []byte{0})
}

type lstm struct {
	cellBase
	forgetBias float32
}

func newLSTM(scope string, in, units int) Cell {
	return &lstm{cellBase: cellBase{scope: scope + "/lstm", in: in, units: units}, forgetBias: 1.0}
}

func (c *lstm) Zero(b *nn.Builder, batch int) State {
	return State{b.Zeros(batch, c.units), b.Zeros(batch, c.units)}
}

func (c *lstm) Step(b *nn.Builder, x *gorgonia.Node, s State) (*gorgonia.Node, State, error) {
	cPrev, hPrev := s[0], s[1]

	zi, err := c.affine(b, x, hPrev, "input", gorgonia.Zeroes())
	if err != nil {
		return nil, nil, err
	}
	zf, err := c.affine(b, x, hPrev, "forget", gorgonia.Zeroes())
	if err != nil {
		return nil, nil, err
	}
	zo, err := c.affine(b, x, hPrev, "output", gorgonia.Zeroes())
	if err != nil {
		return nil, nil, err
	}
	zg, err := c.affine(b, x, hPrev, "cell", gorgonia.Zeroes())
	if err != nil {
		return nil, nil, err
	}

	i, err := gorgonia.Sigmoid(zi)
	if err != nil {
		return nil, nil, err
	}
	if zf, err = gorgonia.Add(zf, b.Scalar(c.forgetBias)); err != nil {
		return nil, nil, err
	}
	f, err := gorgonia.Sigmoid(zf)
	if err != nil {
		return nil, nil, err
	}
	o, err := gorgonia.Sigmoid(zo)
	if err != nil {
		return nil, nil, err
	}
	g, err := gorgonia.Tanh(zg)
	if err != nil {
		return nil, nil, err
	}

	keep, err := gorgonia.HadamardProd(f, cPrev)
	if err != nil {
		return nil, nil, err
	}
	write, err := gorgonia.HadamardProd(i, g)
	if err != nil {
		return nil, nil, err
	}
	cNext, err := gorgonia.Add(keep, write)
	if err != nil {
		return nil, nil, err
	}
	tc, err := gorgonia.Tanh(cNext)
	if err != nil {
		return nil, nil, err
	}
	hNext, err := gorgonia.HadamardProd(o, tc)
	if err != nil {
		return nil, nil, err
	}
	return hNext, State{cNext, hNext}, nil
}

type gru struct{ cellBase }

func newGRU(scope string, in, units int) Cell {
	return &gru{cellBase{scope: scope + "/gru", in: in, units: units}}
}

func (c *gru) Zero(b *nn.Builder, batch int) State {
	return State{b.Zeros(batch, c.units)}
}

func (c *gru) Step(b *nn.Builder, x *gorgonia.Node, s State) (*gorgonia.Node, State, error) {
	h := s[0]
	zr, err := c.affine(b, x, h, "reset", gorgonia.Ones())
	if err != nil {
		return nil, nil, err
	}
	zu, err := c.affine(b, x, h, "update", gorgonia.Ones())
	if err != nil {
		return nil, nil, err
	}
	r, err := gorgonia.Sigmoid(zr)
	if err != nil {
		return nil, nil, err
	}
	u, err := gorgonia.Sigmoid(zu)
	if err != nil {
		return nil, nil, err
	}
	rh, err := gorgonia.HadamardProd(r, h)
	if err != nil {
		return nil, nil, err
	}
	zn, err := c.affine(b, x, rh, "candidate", gorgonia.Zeroes())
	if err != nil {
		return nil, nil, err
	}
	n, err := gorgonia.Tanh(zn)
	if err != nil {
		return nil, nil, err
	}

	// h' = u*h + (1-u)*n = n + u*(h-n)
	diff, err := gorgonia.Sub(h, n)
	if err != nil {
		return nil, nil, err
	}
	ud, err := gorgonia.HadamardProd(u, diff)
	if err != nil {
		return nil, nil, err
	}
	hNext, err := gorgonia.Add(n, ud)
	if err != nil {
		return nil, nil, err
	}
	return hNext, State{hNext}, nil
}

type basicRNN struct{ cellBase }

func newBasicRNN(scope string, in, units int) Cell {
	return &basicRNN{cellBase{scope: scope + "/basic_rnn", in: in, units: units}}
}

func (c *basicRNN) Zero(b *nn.Builder, batch int) State {
	return State{b.Zeros(batch, c.units)}
}

func (c *basicRNN) Step(b *nn.Builder, x *gorgonia.Node, s State) (*gorgonia.Node, State, error) {
	z, err := c.affine(b, x, s[0], "hidden", gorgonia.Zeroes())
	if err != nil {
		return nil, nil, err
	}
	h, err := gorgonia.Tanh(z)
	if err != nil {
		return nil, nil, err
	}
	return h, State{h}, nil
}
