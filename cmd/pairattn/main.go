package main

import (
	"context"

	"github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pairattn/internal/checkpoint"
	"pairattn/internal/config"
	"pairattn/internal/dataset"
	"pairattn/internal/model"
	"pairattn/internal/nn"
	"pairattn/internal/train"
)

type args struct {
	Config    string `arg:"positional" help:"YAML hyperparameter file"`
	Mode      string `help:"train or eval, overrides the file"`
	Run       string `help:"run and checkpoint name, overrides the file"`
	Data      string `help:"JSON dataset bundle, overrides the file"`
	LoadSaved bool   `arg:"--load-saved" help:"resume from the run's checkpoint"`
	Model     string `help:"model variant, overrides the file"`
	Progress  bool   `help:"draw a progress bar per epoch"`

	Table     string `help:"table source for bundles without embeddings: hash or pretrained"`
	HashDim   int    `arg:"--hash-dim" help:"width of hashed embeddings"`
	ModelsDir string `arg:"--models-dir" help:"directory holding pretrained encoders"`
	Encoder   string `help:"pretrained encoder name"`
	Synthetic int    `help:"samples per split of the synthetic task used when no data is given"`
}

func (args) Description() string {
	return "trains and evaluates pairwise attention-over-attention text classifiers"
}

func main() {
	a := args{
		Table:     "hash",
		HashDim:   50,
		ModelsDir: "models",
		Encoder:   dataset.DefaultEncoderModel,
		Synthetic: 200,
	}
	arg.MustParse(&a)

	logger := newLogger()
	defer logger.Sync()

	hp, err := hparams(a)
	if err != nil {
		logger.Fatal("configuration", zap.Error(err))
	}
	if err := run(hp, a, logger); err != nil {
		logger.Fatal("run failed", zap.String("run", hp.CkptName), zap.Error(err))
	}
}

func hparams(a args) (config.HParams, error) {
	hp := config.Defaults()
	if a.Config != "" {
		var err error
		if hp, err = config.Load(a.Config); err != nil {
			return hp, err
		}
	}
	if a.Mode != "" {
		hp.Mode = config.Mode(a.Mode)
	}
	if a.Run != "" {
		hp.CkptName = a.Run
	}
	if a.Data != "" {
		hp.Data = a.Data
	}
	if a.Model != "" {
		hp.Model = a.Model
	}
	hp.LoadSaved = hp.LoadSaved || a.LoadSaved
	hp.Progress = hp.Progress || a.Progress
	return hp, hp.Validate()
}

func loader(hp config.HParams, a args) (dataset.Loader, error) {
	if hp.Data == "" {
		return dataset.Synthetic{Samples: a.Synthetic, MaxLen: hp.MaxSeqLen, Seed: hp.Seed}, nil
	}
	switch a.Table {
	case "hash":
		return dataset.JSONLoader{Path: hp.Data, Source: dataset.HashTable{Dim: a.HashDim}}, nil
	case "pretrained":
		src, err := dataset.NewPretrainedTable(context.Background(), a.ModelsDir, a.Encoder)
		if err != nil {
			return nil, err
		}
		return dataset.JSONLoader{Path: hp.Data, Source: src}, nil
	default:
		return nil, errors.Errorf("unknown table source %q", a.Table)
	}
}

func run(hp config.HParams, a args, logger *zap.Logger) error {
	ld, err := loader(hp, a)
	if err != nil {
		return err
	}
	data, err := ld.Load()
	if err != nil {
		return err
	}
	if err := data.Validate(hp.MaxSeqLen, hp.PosTags); err != nil {
		return err
	}
	logger.Info("data loaded",
		zap.Int("train", data.Train.Len()),
		zap.Int("valid", data.Valid.Len()),
		zap.Int("test", data.Test.Len()),
		zap.Int("vocab", data.Embedding.Shape()[0]))

	net, err := model.NewClassifier(hp, data.Embedding, data.TagVocab, nn.NewParamStore())
	if err != nil {
		return err
	}
	store, err := checkpoint.Open(hp.CkptDir)
	if err != nil {
		return err
	}
	defer store.Close()

	tr := train.New(hp, net, data, store, logger.With(zap.String("run", hp.CkptName), zap.String("model", hp.Model)))
	switch hp.Mode {
	case config.ModeTrain:
		if hp.LoadSaved {
			if err := tr.Resume(); err != nil {
				return err
			}
		}
		_, err = tr.Train()
		return err
	default:
		if err := tr.Resume(); err != nil {
			return err
		}
		_, err = tr.Report()
		return err
	}
}
