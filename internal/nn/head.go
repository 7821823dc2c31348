package nn

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// ClassificationHead maps a fixed-size representation to class logits:
// an optional first projection, Layers hidden dense+ReLU+dropout layers, and
// a final dense layer without activation.
type ClassificationHead struct {
	Scope    string
	First    bool // project to Units before the hidden layers
	Units    int
	Layers   int
	KeepProb float64
	Classes  int
}

// Forward returns (N, Classes) logits for a (N, in) input.
func (h ClassificationHead) Forward(b *Builder, x *gorgonia.Node, in int) (*gorgonia.Node, error) {
	var err error
	if h.First {
		if x, err = b.Dense(x, in, h.Units, h.Scope+"/h", gorgonia.Rectify); err != nil {
			return nil, err
		}
		if x, err = b.Dropout(x, h.KeepProb); err != nil {
			return nil, err
		}
		in = h.Units
	}
	for i := 0; i < h.Layers; i++ {
		scope := fmt.Sprintf("%s/dense%d", h.Scope, i)
		if x, err = b.Dense(x, in, h.Units, scope, gorgonia.Rectify); err != nil {
			return nil, err
		}
		if x, err = b.Dropout(x, h.KeepProb); err != nil {
			return nil, err
		}
		in = h.Units
	}
	return b.Dense(x, in, h.Classes, h.Scope+"/class_log", nil)
}
