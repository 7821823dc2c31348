// Package nn contains the graph-building blocks shared by the encoder,
// attention engine and model variants: parameters, dense layers, dropout,
// batch norm, the classification head and the loss.
package nn

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Activation is applied after a dense layer. gorgonia.Rectify,
// gorgonia.Sigmoid and gorgonia.Tanh all satisfy it.
type Activation func(*gorgonia.Node) (*gorgonia.Node, error)

// Builder adds nodes to one expression graph in one Mode, drawing parameter
// values from a ParamStore.
type Builder struct {
	G      *gorgonia.ExprGraph
	Mode   Mode
	Params *ParamStore

	learnables []*gorgonia.Node
	nodes      map[string]*gorgonia.Node
	stats      []*StatUpdate
	consts     int
}

// NewBuilder returns a builder over a fresh graph.
func NewBuilder(mode Mode, params *ParamStore) *Builder {
	return &Builder{
		G:      gorgonia.NewGraph(),
		Mode:   mode,
		Params: params,
		nodes:  make(map[string]*gorgonia.Node),
	}
}

// Param returns the node for a trainable parameter, creating the parameter
// with init on first use. Asking twice for a name returns the same node.
func (b *Builder) Param(name string, shape tensor.Shape, init gorgonia.InitWFn) (*gorgonia.Node, error) {
	return b.param(name, shape, init, true)
}

// State returns the node for a non-trainable parameter.
func (b *Builder) State(name string, shape tensor.Shape, init gorgonia.InitWFn) (*gorgonia.Node, error) {
	return b.param(name, shape, init, false)
}

func (b *Builder) param(name string, shape tensor.Shape, init gorgonia.InitWFn, trainable bool) (*gorgonia.Node, error) {
	if n, ok := b.nodes[name]; ok {
		return n, nil
	}
	p, err := b.Params.GetOrInit(name, shape, init, trainable)
	if err != nil {
		return nil, err
	}
	n := gorgonia.NewTensor(b.G, tensor.Float32, shape.Dims(),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(name),
		gorgonia.WithValue(p.Value))
	b.nodes[name] = n
	if trainable && b.Mode == Train {
		b.learnables = append(b.learnables, n)
	}
	return n, nil
}

// Input returns a float32 placeholder whose value is set with gorgonia.Let
// before every run.
func (b *Builder) Input(name string, shape ...int) *gorgonia.Node {
	return gorgonia.NewTensor(b.G, tensor.Float32, len(shape),
		gorgonia.WithShape(shape...),
		gorgonia.WithName(name))
}

// Scalar returns a float32 constant node.
func (b *Builder) Scalar(v float32) *gorgonia.Node {
	b.consts++
	return gorgonia.NodeFromAny(b.G, v, gorgonia.WithName(fmt.Sprintf("const_%d", b.consts)))
}

// Zeros returns a constant zero tensor of the given shape.
func (b *Builder) Zeros(shape ...int) *gorgonia.Node {
	b.consts++
	t := tensor.New(tensor.WithShape(shape...), tensor.Of(tensor.Float32))
	return gorgonia.NodeFromAny(b.G, t, gorgonia.WithName(fmt.Sprintf("zeros_%d", b.consts)))
}

// Dropout drops activations with probability 1-keep in Train graphs and is
// the identity otherwise.
func (b *Builder) Dropout(x *gorgonia.Node, keep float64) (*gorgonia.Node, error) {
	if b.Mode != Train || keep >= 1 {
		return x, nil
	}
	return gorgonia.Dropout(x, 1-keep)
}

// Dense applies x·W + b, with W (in×out) Glorot initialised and b (1×out)
// zero initialised, followed by act when it is not nil. x must be 2D.
func (b *Builder) Dense(x *gorgonia.Node, in, out int, scope string, act Activation) (*gorgonia.Node, error) {
	if x.Dims() != 2 || x.Shape()[1] != in {
		return nil, errors.Errorf("%s: dense input shape %v, want (N, %d)", scope, x.Shape(), in)
	}
	w, err := b.Param(scope+"/weights", tensor.Shape{in, out}, gorgonia.GlorotU(1.0))
	if err != nil {
		return nil, err
	}
	bias, err := b.Param(scope+"/biases", tensor.Shape{1, out}, gorgonia.Zeroes())
	if err != nil {
		return nil, err
	}
	h, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: matmul", scope)
	}
	h, err = gorgonia.BroadcastAdd(h, bias, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: bias", scope)
	}
	if act == nil {
		return h, nil
	}
	return act(h)
}

// Learnables returns trainable parameter nodes in creation order. It is
// empty for Eval graphs.
func (b *Builder) Learnables() []*gorgonia.Node { return b.learnables }

// ParamNodes returns every parameter node keyed by parameter name.
func (b *Builder) ParamNodes() map[string]*gorgonia.Node { return b.nodes }

// StatUpdates returns the running-statistic updates to apply after each
// Train run.
func (b *Builder) StatUpdates() []*StatUpdate { return b.stats }
