// Package metrics scores binary predictions.
package metrics

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"pairattn/internal/config"
)

// Accuracy is the fraction of predictions equal to the true class.
func Accuracy(pred, truth []int) (float64, error) {
	if err := sameLen(len(pred), len(truth)); err != nil {
		return 0, err
	}
	var correct int
	for i := range pred {
		if pred[i] == truth[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(pred)), nil
}

// F1 is the binary F1 score with class 1 as the positive class. It is 0
// when there are no true or predicted positives.
func F1(pred, truth []int) (float64, error) {
	if err := sameLen(len(pred), len(truth)); err != nil {
		return 0, err
	}
	var tp, fp, fn float64
	for i := range pred {
		switch {
		case pred[i] == 1 && truth[i] == 1:
			tp++
		case pred[i] == 1:
			fp++
		case truth[i] == 1:
			fn++
		}
	}
	if tp == 0 {
		return 0, nil
	}
	precision := tp / (tp + fp)
	recall := tp / (tp + fn)
	return 2 * precision * recall / (precision + recall), nil
}

// AUC is the area under the ROC curve of the positive-class probabilities.
// Both classes must be present.
func AUC(probPositive []float64, truth []int) (float64, error) {
	if err := sameLen(len(probPositive), len(truth)); err != nil {
		return 0, err
	}
	y := make([]float64, len(probPositive))
	copy(y, probPositive)
	classes := make([]bool, len(truth))
	var pos int
	for i, c := range truth {
		classes[i] = c == 1
		if classes[i] {
			pos++
		}
	}
	if pos == 0 || pos == len(truth) {
		return 0, errors.New("AUC needs both classes present")
	}

	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr), nil
}

// Predictions holds the scored output of an evaluation pass.
type Predictions struct {
	Pred  []int
	True  []int
	Probs []float64 // probability of class 1
}

// Score computes the named metric.
func Score(name string, p Predictions) (float64, error) {
	switch name {
	case config.ScoreAcc:
		return Accuracy(p.Pred, p.True)
	case config.ScoreF1:
		return F1(p.Pred, p.True)
	case config.ScoreAUC:
		return AUC(p.Probs, p.True)
	default:
		return 0, errors.Wrapf(config.ErrInvalidScore, "%q", name)
	}
}

func sameLen(a, b int) error {
	if a != b {
		return errors.Errorf("%d predictions for %d labels", a, b)
	}
	if a == 0 {
		return errors.New("no predictions to score")
	}
	return nil
}
