// Package viz renders per-token attention weights as bar charts.
package viz

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	chart "github.com/wcharczuk/go-chart"
)

// AttentionChart is one sample's attention over its tokens.
type AttentionChart struct {
	Tokens  []string
	Weights []float64
	Pred    int
	True    int
}

// Render writes the chart as a PNG to path.
func (c AttentionChart) Render(path string) error {
	if len(c.Tokens) == 0 {
		return errors.New("no tokens to chart")
	}
	if len(c.Weights) < len(c.Tokens) {
		return errors.Errorf("%d weights for %d tokens", len(c.Weights), len(c.Tokens))
	}

	top := 1.0
	bars := make([]chart.Value, len(c.Tokens))
	for i, tok := range c.Tokens {
		bars[i] = chart.Value{Value: c.Weights[i], Label: tok}
		if c.Weights[i] > top {
			top = c.Weights[i]
		}
	}

	graph := chart.BarChart{
		Title:      fmt.Sprintf("pred: %d, true: %d", c.Pred, c.True),
		TitleStyle: chart.StyleShow(),
		Height:     512,
		Width:      56*len(bars) + 200,
		BarWidth:   40,
		BarSpacing: 16,
		XAxis:      chart.StyleShow(),
		YAxis: chart.YAxis{
			Style: chart.StyleShow(),
			Range: &chart.ContinuousRange{Min: 0, Max: top},
		},
		Bars: bars,
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := graph.Render(chart.PNG, f); err != nil {
		f.Close()
		return errors.Wrapf(err, "rendering %s", path)
	}
	return f.Close()
}
