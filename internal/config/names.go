package config

import "github.com/pkg/errors"

// Configuration errors. Each is wrapped with the offending name.
var (
	ErrInvalidOptimizer = errors.New("invalid optimizer")
	ErrInvalidCellType  = errors.New("invalid cell type")
	ErrInvalidModel     = errors.New("invalid model")
	ErrInvalidScore     = errors.New("invalid score")
	ErrInvalidValue     = errors.New("invalid hyperparameter")
)

// Optimizer kinds. Each has one solver in the optim package.
const (
	OptSGD      = "sgd"
	OptAdam     = "adam"
	OptRMSProp  = "rmsprop"
	OptAdagrad  = "adagrad"
	OptMomentum = "momentum"
)

// OptimizerKinds lists every optimizer kind.
var OptimizerKinds = []string{OptSGD, OptAdam, OptRMSProp, OptAdagrad, OptMomentum}

// long optimizer names used by older run configurations
var optimizerAliases = map[string]string{
	"GradientDescentOptimizer": OptSGD,
	"AdamOptimizer":            OptAdam,
	"RMSPropOptimizer":         OptRMSProp,
	"AdagradOptimizer":         OptAdagrad,
	"MomentumOptimizer":        OptMomentum,
}

// Optimizers lists every accepted optimizer name, kinds and long forms.
var Optimizers = func() []string {
	out := append([]string{}, OptimizerKinds...)
	for _, kind := range OptimizerKinds {
		for long, k := range optimizerAliases {
			if k == kind {
				out = append(out, long)
			}
		}
	}
	return out
}()

// OptimizerKind resolves a short or long optimizer name to its kind.
func OptimizerKind(name string) (string, bool) {
	if contains(OptimizerKinds, name) {
		return name, true
	}
	kind, ok := optimizerAliases[name]
	return kind, ok
}

// Recurrent cell names.
const (
	CellLSTM     = "LSTMCell"
	CellGRU      = "GRUCell"
	CellBasicRNN = "BasicRNNCell"
)

// CellTypes lists every recurrent cell.
var CellTypes = []string{CellLSTM, CellGRU, CellBasicRNN}

// Model variant names, one per reduction strategy.
const (
	ModelMean        = "mean"
	ModelPairwise    = "pairwise"
	ModelAttnAttn    = "attn_attn"
	ModelAttnAttnSum = "attn_attn_sum"
	ModelConvAttn    = "conv_attn"
	ModelConvAttn1D  = "conv_attn_1d"
	// ModelCNN convolves the embedded words directly; it has no recurrent
	// encoder and no attention.
	ModelCNN = "cnn"
)

// Models lists every model variant.
var Models = []string{ModelMean, ModelPairwise, ModelAttnAttn, ModelAttnAttnSum, ModelConvAttn, ModelConvAttn1D, ModelCNN}

// Scores accepted for model selection.
const (
	ScoreAcc = "acc"
	ScoreF1  = "f1"
	ScoreAUC = "auc"
)

// Scores lists every score.
var Scores = []string{ScoreAcc, ScoreF1, ScoreAUC}

// IsOptimizer reports whether name is a registered optimizer.
func IsOptimizer(name string) bool {
	_, ok := OptimizerKind(name)
	return ok
}

// IsCellType reports whether name is a registered cell type.
func IsCellType(name string) bool { return contains(CellTypes, name) }

// IsModel reports whether name is a registered model variant.
func IsModel(name string) bool { return contains(Models, name) }

// IsScore reports whether name is a registered score.
func IsScore(name string) bool { return contains(Scores, name) }

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
