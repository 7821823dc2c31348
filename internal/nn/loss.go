package nn

import "gorgonia.org/gorgonia"

const probEpsilon = 1e-7

// CrossEntropy returns the batch mean of -Σ y·log(p+ε) for one-hot labels y
// and class probabilities p, both (N, C). With one-hot labels this is the
// sparse cross entropy against argmax(y).
//
// weights, when not nil, is an (N) vector and the mean is weighted by it:
// rows with weight 0 do not contribute.
func (b *Builder) CrossEntropy(probs, labels, weights *gorgonia.Node) (*gorgonia.Node, error) {
	pSafe, err := gorgonia.Add(probs, b.Scalar(probEpsilon))
	if err != nil {
		return nil, err
	}
	logP, err := gorgonia.Log(pSafe)
	if err != nil {
		return nil, err
	}
	mul, err := gorgonia.HadamardProd(labels, logP)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(mul, 1)
	if err != nil {
		return nil, err
	}
	if weights == nil {
		mean, err := gorgonia.Mean(sum)
		if err != nil {
			return nil, err
		}
		return gorgonia.Neg(mean)
	}
	weighted, err := gorgonia.HadamardProd(sum, weights)
	if err != nil {
		return nil, err
	}
	total, err := gorgonia.Sum(weighted)
	if err != nil {
		return nil, err
	}
	count, err := gorgonia.Sum(weights)
	if err != nil {
		return nil, err
	}
	mean, err := gorgonia.Div(total, count)
	if err != nil {
		return nil, err
	}
	return gorgonia.Neg(mean)
}
