package attention

import (
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"pairattn/internal/config"
	"pairattn/internal/nn"
)

// ConvSpec configures one convolution over an attention matrix, or any other
// (B, H, W) input, treated as a single-channel image.
type ConvSpec struct {
	Scope     string
	Kernel    [2]int // height, width
	Strides   [2]int
	Padding   string // config.PaddingValid or config.PaddingSame
	Channels  int
	BatchNorm bool
}

// Conv convolves a (B, T, T) attention matrix and returns the activated
// (B, C, H', W') feature maps: conv + bias, optional batch norm, ReLU.
func Conv(b *nn.Builder, attn *gorgonia.Node, spec ConvSpec) (*gorgonia.Node, error) {
	s := attn.Shape()
	if len(s) != 3 {
		return nil, errors.Errorf("%s: expected a (batch, H, W) input, got %v", spec.Scope, s)
	}
	kh, kw := spec.Kernel[0], spec.Kernel[1]
	if kh > s[1] || kw > s[2] {
		return nil, errors.Errorf("%s: kernel %dx%d larger than %dx%d input", spec.Scope, kh, kw, s[1], s[2])
	}
	img, err := gorgonia.Reshape(attn, tensor.Shape{s[0], 1, s[1], s[2]})
	if err != nil {
		return nil, err
	}

	filter, err := b.Param(spec.Scope+"/c_w", tensor.Shape{spec.Channels, 1, kh, kw}, gorgonia.GlorotU(1.0))
	if err != nil {
		return nil, err
	}
	bias, err := b.Param(spec.Scope+"/c_b", tensor.Shape{1, spec.Channels, 1, 1}, gorgonia.Zeroes())
	if err != nil {
		return nil, err
	}

	pad := []int{0, 0}
	if spec.Padding == config.PaddingSame {
		pad = []int{(kh - 1) / 2, (kw - 1) / 2}
	}
	conv, err := gorgonia.Conv2d(img, filter, tensor.Shape{kh, kw}, pad, spec.Strides[:], []int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: conv", spec.Scope)
	}
	if conv, err = gorgonia.BroadcastAdd(conv, bias, nil, []byte{0, 2, 3}); err != nil {
		return nil, errors.Wrapf(err, "%s: bias", spec.Scope)
	}
	if spec.BatchNorm {
		if conv, err = b.BatchNorm(conv, spec.Scope+"/batch_norm"); err != nil {
			return nil, err
		}
	}
	return gorgonia.Rectify(conv)
}

// ConvPool convolves the attention matrix and max-pools each channel over
// the whole feature map, returning (B, C).
func ConvPool(b *nn.Builder, attn *gorgonia.Node, spec ConvSpec) (*gorgonia.Node, error) {
	conv, err := Conv(b, attn, spec)
	if err != nil {
		return nil, err
	}
	cs := conv.Shape()
	h, w := cs[2], cs[3]
	pooled, err := gorgonia.MaxPool2D(conv, tensor.Shape{h, w}, []int{0, 0}, []int{h, w})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: pool", spec.Scope)
	}
	return gorgonia.Reshape(pooled, tensor.Shape{cs[0], cs[1]})
}

// ColumnConv applies a single-channel T x 1 kernel down every column of
// the attention matrix, returning one activation per column (B, T).
func ColumnConv(b *nn.Builder, attn *gorgonia.Node, scope string, batchNorm bool) (*gorgonia.Node, error) {
	T := attn.Shape()[1]
	return conv1D(b, attn, ConvSpec{Scope: scope, Kernel: [2]int{T, 1}, Strides: [2]int{1, 1}, Padding: config.PaddingValid, Channels: 1, BatchNorm: batchNorm})
}

// RowConv applies a single-channel 1 x T kernel along every row, returning
// one activation per row (B, T).
func RowConv(b *nn.Builder, attn *gorgonia.Node, scope string, batchNorm bool) (*gorgonia.Node, error) {
	T := attn.Shape()[2]
	return conv1D(b, attn, ConvSpec{Scope: scope, Kernel: [2]int{1, T}, Strides: [2]int{1, 1}, Padding: config.PaddingValid, Channels: 1, BatchNorm: batchNorm})
}

func conv1D(b *nn.Builder, attn *gorgonia.Node, spec ConvSpec) (*gorgonia.Node, error) {
	conv, err := Conv(b, attn, spec)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(conv, tensor.Shape{attn.Shape()[0], attn.Shape()[1]})
}
