// Package imageloader reads image files into normalized float32 arrays and
// batches them for feature extraction and training.
package imageloader

import (
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/tphakala/patchwork-go/internal/errors"
)

// Type is the image container format, numbered as in the feature pipeline.
type Type int

const (
	PNG Type = iota
	JPEG
	GIF
	TIFF
)

func (t Type) String() string {
	switch t {
	case JPEG:
		return "jpeg"
	case GIF:
		return "gif"
	case TIFF:
		return "tiff"
	default:
		return "png"
	}
}

// DetectType guesses the format from the path. Matching is a case-insensitive
// substring test; anything unrecognized is read as PNG.
func DetectType(path string) Type {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, ".jpg"), strings.Contains(p, "jpeg"):
		return JPEG
	case strings.Contains(p, ".gif"):
		return GIF
	case strings.Contains(p, ".tif"):
		return TIFF
	}
	return PNG
}

// Options controls how an image is turned into an array.
type Options struct {
	Height        int     `yaml:"height" mapstructure:"height"`
	Width         int     `yaml:"width" mapstructure:"width"`
	Channels      int     `yaml:"channels" mapstructure:"channels"`
	Norm          float32 `yaml:"norm" mapstructure:"norm"`
	SingleChannel bool    `yaml:"single_channel" mapstructure:"single_channel"` // stack a one-channel image Channels times
}

// DefaultOptions returns 256x256 RGB scaled to [0,1].
func DefaultOptions() Options {
	return Options{Height: 256, Width: 256, Channels: 3, Norm: 255}
}

func (o Options) validate() error {
	if o.Height <= 0 || o.Width <= 0 || o.Channels <= 0 || o.Norm <= 0 {
		return errors.Newf("imageloader: invalid options %dx%dx%d norm %v", o.Height, o.Width, o.Channels, o.Norm).
			Component("imageloader").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Image is a row-major [Height, Width, Channels] float32 array.
type Image struct {
	Height   int
	Width    int
	Channels int
	Pix      []float32
}

// NewImage allocates a zeroed image.
func NewImage(h, w, c int) Image {
	return Image{Height: h, Width: w, Channels: c, Pix: make([]float32, h*w*c)}
}

func (im Image) offset(y, x, c int) int {
	return (y*im.Width+x)*im.Channels + c
}

// At returns the value at row y, column x, channel c.
func (im Image) At(y, x, c int) float32 { return im.Pix[im.offset(y, x, c)] }

// Set stores v at row y, column x, channel c.
func (im Image) Set(y, x, c int, v float32) { im.Pix[im.offset(y, x, c)] = v }

// Shape returns [Height, Width, Channels].
func (im Image) Shape() []int { return []int{im.Height, im.Width, im.Channels} }

// Clone returns a deep copy.
func (im Image) Clone() Image {
	out := im
	out.Pix = append([]float32(nil), im.Pix...)
	return out
}

// LoadImage reads, decodes, resizes and normalizes the image at path.
func LoadImage(path string, opts Options) (Image, error) {
	if err := opts.validate(); err != nil {
		return Image{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return Image{}, errors.FileError(err, path)
	}
	defer f.Close()

	im, err := Decode(f, DetectType(path), opts)
	if err != nil {
		return Image{}, errors.New(err).
			Component("imageloader").
			Category(errors.CategoryImageDecode).
			FileContext(path).
			Build()
	}
	return im, nil
}

// Decode decodes r as format t and converts it according to opts.
func Decode(r io.Reader, t Type, opts Options) (Image, error) {
	if err := opts.validate(); err != nil {
		return Image{}, err
	}

	var (
		src image.Image
		err error
	)
	switch t {
	case JPEG:
		src, err = jpeg.Decode(r)
	case GIF:
		src, err = gif.Decode(r)
	case TIFF:
		src, err = tiff.Decode(r)
	default:
		src, err = png.Decode(r)
	}
	if err != nil {
		return Image{}, errors.New(err).
			Component("imageloader").
			Category(errors.CategoryImageDecode).
			Context("format", t.String()).
			Build()
	}
	return Convert(src, opts)
}

// Convert resizes src bilinearly to the configured size and extracts its channels.
func Convert(src image.Image, opts Options) (Image, error) {
	if err := opts.validate(); err != nil {
		return Image{}, err
	}

	dst := image.NewNRGBA64(image.Rect(0, 0, opts.Width, opts.Height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	native := nativeChannels(src)
	have := native
	if opts.SingleChannel {
		have = native * opts.Channels
	}
	if have < opts.Channels {
		return Image{}, errors.Newf("imageloader: image has %d channels, want %d", native, opts.Channels).
			Component("imageloader").
			Category(errors.CategoryImageDecode).
			Build()
	}

	out := NewImage(opts.Height, opts.Width, opts.Channels)
	px := make([]float32, 4)
	for y := range opts.Height {
		for x := range opts.Width {
			c := dst.NRGBA64At(x, y)
			px[0], px[1], px[2], px[3] = float32(c.R)/257, float32(c.G)/257, float32(c.B)/257, float32(c.A)/257
			for ch := range opts.Channels {
				out.Set(y, x, ch, px[ch%native]/opts.Norm)
			}
		}
	}
	return out, nil
}

// nativeChannels is the channel depth a decoder would report: 1 for gray,
// 4 when an alpha channel carries information, 3 otherwise.
func nativeChannels(img image.Image) int {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && !o.Opaque() {
		return 4
	}
	return 3
}
