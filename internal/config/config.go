// Package config holds the hyperparameters shared by every component of a run.
package config

import (
	"io/ioutil"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Mode selects what a run does.
type Mode string

const (
	// ModeTrain trains a model, evaluating and checkpointing periodically.
	ModeTrain Mode = "train"
	// ModeEval scores a restored model and writes results.
	ModeEval Mode = "eval"
)

// Padding schemes accepted by the convolution variants.
const (
	PaddingValid = "VALID"
	PaddingSame  = "SAME"
)

// HParams holds the hyperparameters of a run. A value is passed to every
// component constructor; nothing reads it from package state.
type HParams struct {
	MaxSeqLen int `yaml:"max_seq_len"`
	BatchSize int `yaml:"batch_size"`
	MaxEpochs int `yaml:"max_epochs"`
	EarlyStop int `yaml:"early_stop"`
	EvalEvery int `yaml:"eval_every"`

	KeepProb      float64 `yaml:"keep_prob"`
	RNNInKeepProb float64 `yaml:"rnn_in_keep_prob"`
	LearnRate     float64 `yaml:"l_rate"`
	Optimizer     string  `yaml:"optimizer"`

	CellType     string `yaml:"cell_type"`
	CellUnits    int    `yaml:"cell_units"`
	BiRNN        bool   `yaml:"birnn"`
	Parallel     bool   `yaml:"parallel"`
	PosTags      bool   `yaml:"postags"`
	EmbTrainable bool   `yaml:"emb_trainable"`
	WordGate     bool   `yaml:"word_gate"`
	MaskPadding  bool   `yaml:"mask_padding"`

	Model    string `yaml:"model"`
	FCUnits  int    `yaml:"fc_units"`
	HLayers  int    `yaml:"h_layers"`
	FirstFC  bool   `yaml:"first_fc"`
	NumClass int    `yaml:"num_classes"`

	FiltHeight  int    `yaml:"filt_height"`
	FiltWidth   int    `yaml:"filt_width"`
	ConvStrides [2]int `yaml:"conv_strides"`
	Padding     string `yaml:"padding"`
	OutChannels int    `yaml:"out_channels"`
	BatchNorm   bool   `yaml:"batch_norm"`

	// cnn variant: one VALID convolution per filter height over the
	// embedded words, each with CNNFilters channels
	CNNFilterSizes []int `yaml:"cnn_filter_sizes"`
	CNNFilters     int   `yaml:"cnn_filters"`

	Score      string `yaml:"score"`
	CkptName   string `yaml:"ckpt_name"`
	LoadSaved  bool   `yaml:"load_saved"`
	Mode       Mode   `yaml:"mode"`
	Seed       int64  `yaml:"seed"`
	Data       string `yaml:"data"`
	CkptDir    string `yaml:"ckpt_dir"`
	Results    string `yaml:"results"`
	VizDir     string `yaml:"viz_dir"`
	VizSamples int    `yaml:"viz_samples"`
	Progress   bool   `yaml:"progress"`
}

// Defaults returns the hyperparameters used when neither a file nor a flag
// sets a value.
func Defaults() HParams {
	return HParams{
		MaxSeqLen:      60,
		BatchSize:      32,
		MaxEpochs:      50,
		EarlyStop:      5,
		EvalEvery:      100,
		KeepProb:       0.5,
		RNNInKeepProb:  1.0,
		LearnRate:      0.001,
		Optimizer:      "AdamOptimizer",
		CellType:       CellLSTM,
		CellUnits:      128,
		BiRNN:          true,
		Model:          ModelAttnAttn,
		FCUnits:        64,
		HLayers:        0,
		FirstFC:        true,
		NumClass:       2,
		FiltHeight:     2,
		FiltWidth:      2,
		ConvStrides:    [2]int{2, 2},
		Padding:        PaddingValid,
		OutChannels:    32,
		CNNFilterSizes: []int{3, 4, 5},
		CNNFilters:     128,
		Score:          ScoreAcc,
		CkptName:       "default",
		Mode:           ModeTrain,
		Seed:           1,
		CkptDir:        "./checkpoints",
		Results:        "result",
		VizDir:         "viz",
		VizSamples:     50,
	}
}

// Load reads YAML hyperparameters from path on top of Defaults and
// validates the result.
func Load(path string) (HParams, error) {
	hp := Defaults()
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return HParams{}, errors.Wrapf(err, "error reading hyperparameters from '%s'", path)
	}
	if err := yaml.UnmarshalStrict(buf, &hp); err != nil {
		return HParams{}, errors.Wrapf(err, "error decoding hyperparameters from '%s'", path)
	}
	if err := hp.Validate(); err != nil {
		return HParams{}, err
	}
	return hp, nil
}

// EncoderUnits is the width of one timestep of encoder output.
func (hp HParams) EncoderUnits() int {
	if hp.BiRNN {
		return 2 * hp.CellUnits
	}
	return hp.CellUnits
}

// Validate checks every enumerated name and size. It runs before any graph
// is built so that configuration errors never reach the parameters.
func (hp HParams) Validate() error {
	if !IsOptimizer(hp.Optimizer) {
		return errors.Wrapf(ErrInvalidOptimizer, "%q", hp.Optimizer)
	}
	if !IsCellType(hp.CellType) {
		return errors.Wrapf(ErrInvalidCellType, "%q", hp.CellType)
	}
	if !IsModel(hp.Model) {
		return errors.Wrapf(ErrInvalidModel, "%q", hp.Model)
	}
	if !IsScore(hp.Score) {
		return errors.Wrapf(ErrInvalidScore, "%q", hp.Score)
	}
	if hp.Mode != ModeTrain && hp.Mode != ModeEval {
		return errors.Wrapf(ErrInvalidValue, "mode %q", hp.Mode)
	}
	if hp.Padding != PaddingValid && hp.Padding != PaddingSame {
		return errors.Wrapf(ErrInvalidValue, "padding %q", hp.Padding)
	}
	if hp.Parallel && hp.Model != ModelAttnAttnSum {
		return errors.Wrapf(ErrInvalidValue, "parallel encoder is only read by attn_attn_sum, not %q", hp.Model)
	}
	if hp.Model == ModelCNN {
		if err := hp.validateCNN(); err != nil {
			return err
		}
	}
	if hp.NumClass != 2 {
		return errors.Wrapf(ErrInvalidValue, "num_classes %d, only binary classification is supported", hp.NumClass)
	}

	positive := []struct {
		name string
		v    int
	}{
		{"max_seq_len", hp.MaxSeqLen},
		{"batch_size", hp.BatchSize},
		{"max_epochs", hp.MaxEpochs},
		{"eval_every", hp.EvalEvery},
		{"cell_units", hp.CellUnits},
		{"fc_units", hp.FCUnits},
		{"filt_height", hp.FiltHeight},
		{"filt_width", hp.FiltWidth},
		{"conv_strides[0]", hp.ConvStrides[0]},
		{"conv_strides[1]", hp.ConvStrides[1]},
		{"out_channels", hp.OutChannels},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return errors.Wrapf(ErrInvalidValue, "%s must be positive, got %d", p.name, p.v)
		}
	}
	if hp.EarlyStop < 0 || hp.HLayers < 0 {
		return errors.Wrapf(ErrInvalidValue, "early_stop and h_layers must not be negative")
	}
	for name, p := range map[string]float64{"keep_prob": hp.KeepProb, "rnn_in_keep_prob": hp.RNNInKeepProb} {
		if p <= 0 || p > 1 {
			return errors.Wrapf(ErrInvalidValue, "%s must be in (0, 1], got %v", name, p)
		}
	}
	if hp.LearnRate <= 0 {
		return errors.Wrapf(ErrInvalidValue, "l_rate must be positive, got %v", hp.LearnRate)
	}
	if hp.CkptName == "" {
		return errors.Wrapf(ErrInvalidValue, "ckpt_name is empty")
	}
	return nil
}

// validateCNN checks the settings the cnn variant reads. It has no recurrent
// encoder, so the word gate would never reach the loss.
func (hp HParams) validateCNN() error {
	if hp.WordGate {
		return errors.Wrap(ErrInvalidValue, "word_gate needs a recurrent encoder, cnn has none")
	}
	if hp.CNNFilters <= 0 {
		return errors.Wrapf(ErrInvalidValue, "cnn_filters must be positive, got %d", hp.CNNFilters)
	}
	if len(hp.CNNFilterSizes) == 0 {
		return errors.Wrap(ErrInvalidValue, "cnn_filter_sizes is empty")
	}
	for _, k := range hp.CNNFilterSizes {
		if k <= 0 || k > hp.MaxSeqLen {
			return errors.Wrapf(ErrInvalidValue, "cnn filter size %d outside [1, %d]", k, hp.MaxSeqLen)
		}
	}
	return nil
}
