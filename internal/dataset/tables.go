package dataset

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math/rand"

	"github.com/nlpodyssey/cybertron/pkg/tasks"
	"github.com/nlpodyssey/cybertron/pkg/tasks/textencoding"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// TableSource builds an embedding table for a vocabulary. tokens[i] is the
// token with index i; index 0 is padding and always gets a zero row.
type TableSource interface {
	Table(tokens []string) (*tensor.Dense, error)
}

// HashTable derives a deterministic vector for every token by seeding a
// generator with the md5 of the token, so the same token always gets the
// same row across runs and machines.
type HashTable struct {
	Dim int
}

// Table implements TableSource.
func (h HashTable) Table(tokens []string) (*tensor.Dense, error) {
	if h.Dim <= 0 {
		return nil, errors.Errorf("hash table dimension %d", h.Dim)
	}
	data := make([]float32, len(tokens)*h.Dim)
	for i, tok := range tokens {
		if i == 0 {
			continue
		}
		sum := md5.Sum([]byte(tok))
		r := rand.New(rand.NewSource(int64(binary.BigEndian.Uint64(sum[:8]))))
		for d := 0; d < h.Dim; d++ {
			data[i*h.Dim+d] = r.Float32()*2 - 1
		}
	}
	return tensor.New(tensor.WithShape(len(tokens), h.Dim), tensor.WithBacking(data)), nil
}

// DefaultEncoderModel is the sentence encoder used when none is named.
const DefaultEncoderModel = "sentence-transformers/all-MiniLM-L6-v2"

// clsPooling selects the [CLS] state as the pooled vector.
const clsPooling = 0

// EncodeFunc returns the embedding of one piece of text.
type EncodeFunc func(ctx context.Context, text string) ([]float64, error)

// PretrainedTable encodes every vocabulary token with a pretrained text
// encoder and uses the pooled vectors as table rows.
type PretrainedTable struct {
	Ctx    context.Context
	Encode EncodeFunc
}

// NewPretrainedTable loads a cybertron text encoder, downloading it into
// modelsDir on first use.
func NewPretrainedTable(ctx context.Context, modelsDir, model string) (*PretrainedTable, error) {
	if model == "" {
		model = DefaultEncoderModel
	}
	m, err := tasks.Load[textencoding.Interface](&tasks.Config{
		ModelsDir: modelsDir,
		ModelName: model,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading text encoder %s", model)
	}
	encode := func(ctx context.Context, text string) ([]float64, error) {
		res, err := m.Encode(ctx, text, clsPooling)
		if err != nil {
			return nil, err
		}
		return res.Vector.Data().F64(), nil
	}
	return &PretrainedTable{Ctx: ctx, Encode: encode}, nil
}

// Table implements TableSource.
func (p *PretrainedTable) Table(tokens []string) (*tensor.Dense, error) {
	ctx := p.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var data []float32
	dim := 0
	for i, tok := range tokens {
		if i == 0 {
			continue
		}
		vec, err := p.Encode(ctx, tok)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding token %q", tok)
		}
		if dim == 0 {
			dim = len(vec)
			data = make([]float32, len(tokens)*dim)
		}
		if len(vec) != dim {
			return nil, errors.Errorf("token %q encoded to %d values, want %d", tok, len(vec), dim)
		}
		for d, v := range vec {
			data[i*dim+d] = float32(v)
		}
	}
	if dim == 0 {
		return nil, errors.New("vocabulary has no tokens besides padding")
	}
	return tensor.New(tensor.WithShape(len(tokens), dim), tensor.WithBacking(data)), nil
}

// TokenList orders a vocabulary by index. Gaps become empty tokens.
func TokenList(vocab map[string]int) []string {
	n := 0
	for _, idx := range vocab {
		if idx+1 > n {
			n = idx + 1
		}
	}
	out := make([]string, n)
	for tok, idx := range vocab {
		if idx >= 0 {
			out[idx] = tok
		}
	}
	return out
}
