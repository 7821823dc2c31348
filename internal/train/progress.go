package train

import (
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
)

// forEach calls fn for every i in [0, n) and stops at the first error.
// With show, a progress bar labelled desc is drawn.
func forEach(n int, desc string, show bool, fn func(i int) error) error {
	if !show {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var fnErr error
	err := tqdm.With(iterators.Interval(0, n), desc, func(v interface{}) (brk bool) {
		if fnErr = fn(v.(int)); fnErr != nil {
			return true
		}
		return
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}
