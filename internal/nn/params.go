package nn

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is a named float32 tensor owned by a ParamStore.
type Param struct {
	Name string
	// Value is shared by every graph built from the store, so an optimizer
	// update in the train graph is seen by the eval graph.
	Value *tensor.Dense
	// Trainable is false for state such as batch-norm running statistics.
	Trainable bool
}

// ParamStore owns every parameter of a model. Parameters are created lazily
// the first time a graph asks for them, or ahead of time by Restore.
type ParamStore struct {
	order  []string
	params map[string]*Param
}

// NewParamStore returns an empty store.
func NewParamStore() *ParamStore {
	return &ParamStore{params: make(map[string]*Param)}
}

// Get returns the named parameter.
func (s *ParamStore) Get(name string) (*Param, bool) {
	p, ok := s.params[name]
	return p, ok
}

// GetOrInit returns the named parameter, creating it with init if it does
// not exist. An existing parameter must have the requested shape.
func (s *ParamStore) GetOrInit(name string, shape tensor.Shape, init gorgonia.InitWFn, trainable bool) (*Param, error) {
	if p, ok := s.params[name]; ok {
		if !p.Value.Shape().Eq(shape) {
			return nil, errors.Errorf("parameter %s has shape %v, graph expects %v", name, p.Value.Shape(), shape)
		}
		p.Trainable = trainable
		return p, nil
	}

	backing := init(tensor.Float32, shape...)
	t := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))
	p := &Param{Name: name, Value: t, Trainable: trainable}
	s.add(p)
	return p, nil
}

// Snapshot returns deep copies of every parameter keyed by name.
func (s *ParamStore) Snapshot() map[string]*tensor.Dense {
	out := make(map[string]*tensor.Dense, len(s.order))
	for _, name := range s.order {
		out[name] = s.params[name].Value.Clone().(*tensor.Dense)
	}
	return out
}

// Restore copies values into the store. Names the store already knows must
// keep their shape; unknown names are added and adopted by the first graph
// that asks for them.
func (s *ParamStore) Restore(values map[string]*tensor.Dense) error {
	for name, v := range values {
		if p, ok := s.params[name]; ok {
			if !p.Value.Shape().Eq(v.Shape()) {
				return errors.Errorf("restoring %s: shape %v does not match %v", name, v.Shape(), p.Value.Shape())
			}
			copy(p.Value.Data().([]float32), v.Data().([]float32))
			continue
		}
		s.add(&Param{Name: name, Value: v.Clone().(*tensor.Dense), Trainable: true})
	}
	return nil
}

func (s *ParamStore) add(p *Param) {
	s.order = append(s.order, p.Name)
	s.params[p.Name] = p
}
