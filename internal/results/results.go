// Package results writes the per-run results file and per-sample
// predictions as CSV.
package results

import (
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// Line is one row of the append-only results file.
type Line struct {
	Run     string  `csv:"run"`
	ValAcc  float64 `csv:"val_acc"`
	ValF1   float64 `csv:"val_f1"`
	TestAcc float64 `csv:"test_acc"`
	TestF1  float64 `csv:"test_f1"`
	TestAUC float64 `csv:"test_auc"`
}

// Append adds line to the results file at path without a header, creating
// the file if needed.
func Append(path string, line Line) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrapf(err, "opening results %s", path)
	}
	lines := []Line{line}
	if err := gocsv.MarshalWithoutHeaders(&lines, f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing results %s", path)
	}
	return f.Close()
}

// Prediction is one scored test sample.
type Prediction struct {
	Pred     int     `csv:"pred"`
	True     int     `csv:"true"`
	Label    string  `csv:"label"`
	Positive float64 `csv:"prob_positive"`
}

// WritePredictions writes rows with a header to path, replacing it.
func WritePredictions(path string, rows []Prediction) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	if err := gocsv.Marshal(&rows, f); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}
