package dataset

import (
	"encoding/json"
	"io/ioutil"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Loader supplies a Bundle.
type Loader interface {
	Load() (*Bundle, error)
}

type bundleFile struct {
	Embedding [][]float32    `json:"embedding"`
	Vocab     map[string]int `json:"vocab"`
	TagVocab  int            `json:"tag_vocab_size"`
	Train     *Split         `json:"train"`
	Valid     *Split         `json:"valid"`
	Test      *Split         `json:"test"`
}

// JSONLoader reads a bundle from a JSON file. When the file has no
// embedding matrix the table is built from the vocabulary by Source.
type JSONLoader struct {
	Path   string
	Source TableSource
}

// Load implements Loader.
func (l JSONLoader) Load() (*Bundle, error) {
	raw, err := ioutil.ReadFile(l.Path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading dataset %s", l.Path)
	}
	var f bundleFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "decoding dataset %s", l.Path)
	}

	b := &Bundle{Train: f.Train, Valid: f.Valid, Test: f.Test, Vocab: f.Vocab, TagVocab: f.TagVocab}
	switch {
	case len(f.Embedding) > 0:
		if b.Embedding, err = matrix(f.Embedding); err != nil {
			return nil, errors.Wrapf(err, "dataset %s", l.Path)
		}
	case l.Source != nil:
		if b.Embedding, err = l.Source.Table(TokenList(f.Vocab)); err != nil {
			return nil, errors.Wrapf(err, "building embedding table for %s", l.Path)
		}
	default:
		return nil, errors.Wrapf(ErrContract, "dataset %s has no embedding matrix and no table source", l.Path)
	}
	return b, nil
}

func matrix(rows [][]float32) (*tensor.Dense, error) {
	dim := len(rows[0])
	data := make([]float32, 0, len(rows)*dim)
	for i, r := range rows {
		if len(r) != dim {
			return nil, errors.Wrapf(ErrContract, "embedding row %d has %d values, want %d", i, len(r), dim)
		}
		data = append(data, r...)
	}
	return tensor.New(tensor.WithShape(len(rows), dim), tensor.WithBacking(data)), nil
}

// Synthetic generates a balanced toy task: every sample holds exactly one
// trigger token ("yes" for class 1, "no" for class 0) among "the" fillers.
// The embedding is one-dimensional: -1 for "no", +1 for "yes", 0 for the
// filler and padding.
type Synthetic struct {
	Samples int // per split
	MaxLen  int
	Seed    int64
}

// Synthetic vocabulary.
const (
	PadID = iota
	NoID
	YesID
	FillerID
)

// Load implements Loader.
func (s Synthetic) Load() (*Bundle, error) {
	if s.Samples < 2 || s.MaxLen < 1 {
		return nil, errors.Errorf("synthetic data needs at least 2 samples and max length 1, got %d and %d", s.Samples, s.MaxLen)
	}
	b := &Bundle{
		Embedding: tensor.New(tensor.WithShape(4, 1), tensor.WithBacking([]float32{0, -1, 1, 0})),
		Vocab:     map[string]int{"<pad>": PadID, "no": NoID, "yes": YesID, "the": FillerID},
		TagVocab:  2,
	}
	b.Train = s.split(s.Seed)
	b.Valid = s.split(s.Seed + 1)
	b.Test = s.split(s.Seed + 2)
	return b, nil
}

func (s Synthetic) split(seed int64) *Split {
	r := rand.New(rand.NewSource(seed))
	out := &Split{}
	for i := 0; i < s.Samples; i++ {
		class := i % 2
		length := 1 + r.Intn(s.MaxLen)
		trigger := r.Intn(length)
		ids := make([]int, length)
		tags := make([]int, length)
		for t := range ids {
			ids[t] = FillerID
		}
		ids[trigger] = NoID
		if class == 1 {
			ids[trigger] = YesID
		}
		tags[trigger] = 1

		out.IDs = append(out.IDs, ids)
		out.Tags = append(out.Tags, tags)
		out.Lengths = append(out.Lengths, length)
		out.Labels = append(out.Labels, LabelOf(class))
		out.Actual = append(out.Actual, []string{"negative", "positive"}[class])
	}
	return out
}
