package imageloader

import (
	"math/rand/v2"
)

var (
	sobelY = [3][3]float32{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
	sobelX = [3][3]float32{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
)

// reflect maps an out-of-range index back into [0, n) without repeating the edge.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	switch {
	case i < 0:
		return -i
	case i >= n:
		return 2*n - 2 - i
	}
	return i
}

// Sobelize replaces an image by its edges. Channel 0 holds the vertical
// gradient, channel 1 the horizontal one, each averaged over the input
// channels and mapped through 0.5*v+0.5; channel 2 is zero.
func Sobelize(im Image) Image {
	out := NewImage(im.Height, im.Width, 3)
	inv := 1 / float32(im.Channels)
	for y := range im.Height {
		for x := range im.Width {
			var dy, dx float32
			for c := range im.Channels {
				for ky := range 3 {
					yy := reflect(y+ky-1, im.Height)
					for kx := range 3 {
						v := im.At(yy, reflect(x+kx-1, im.Width), c)
						dy += sobelY[ky][kx] * v
						dx += sobelX[ky][kx] * v
					}
				}
			}
			out.Set(y, x, 0, 0.5*dy*inv+0.5)
			out.Set(y, x, 1, 0.5*dx*inv+0.5)
		}
	}
	return out
}

// Augmentation parameters. Zero values disable the corresponding transform.
type Augmentation struct {
	FlipLeftRight bool    `yaml:"flip_left_right" mapstructure:"flip_left_right"`
	FlipUpDown    bool    `yaml:"flip_up_down" mapstructure:"flip_up_down"`
	Brightness    float64 `yaml:"brightness" mapstructure:"brightness"` // max absolute delta
	ContrastLower float64 `yaml:"contrast_lower" mapstructure:"contrast_lower"`
	ContrastUpper float64 `yaml:"contrast_upper" mapstructure:"contrast_upper"`
}

// DefaultAugmentation flips both ways and jitters brightness and contrast.
func DefaultAugmentation() Augmentation {
	return Augmentation{
		FlipLeftRight: true,
		FlipUpDown:    true,
		Brightness:    0.2,
		ContrastLower: 0.4,
		ContrastUpper: 1.4,
	}
}

// Augment returns a randomly transformed copy of im. Values are clipped to [0,1].
func Augment(im Image, aug Augmentation, rng *rand.Rand) Image {
	out := im.Clone()
	if aug.FlipLeftRight && rng.IntN(2) == 1 {
		flipLeftRight(out)
	}
	if aug.FlipUpDown && rng.IntN(2) == 1 {
		flipUpDown(out)
	}
	if aug.Brightness > 0 {
		delta := float32((2*rng.Float64() - 1) * aug.Brightness)
		for i := range out.Pix {
			out.Pix[i] += delta
		}
	}
	if aug.ContrastUpper > aug.ContrastLower {
		factor := float32(aug.ContrastLower + rng.Float64()*(aug.ContrastUpper-aug.ContrastLower))
		adjustContrast(out, factor)
	}
	for i, v := range out.Pix {
		out.Pix[i] = min(max(v, 0), 1)
	}
	return out
}

func flipLeftRight(im Image) {
	for y := range im.Height {
		for x := range im.Width / 2 {
			for c := range im.Channels {
				a, b := im.offset(y, x, c), im.offset(y, im.Width-1-x, c)
				im.Pix[a], im.Pix[b] = im.Pix[b], im.Pix[a]
			}
		}
	}
}

func flipUpDown(im Image) {
	row := im.Width * im.Channels
	for y := range im.Height / 2 {
		top := im.Pix[y*row : (y+1)*row]
		bottom := im.Pix[(im.Height-1-y)*row : (im.Height-y)*row]
		for i := range top {
			top[i], bottom[i] = bottom[i], top[i]
		}
	}
}

// adjustContrast scales every channel about its own mean.
func adjustContrast(im Image, factor float32) {
	n := float32(im.Height * im.Width)
	if n == 0 {
		return
	}
	for c := range im.Channels {
		var mean float32
		for i := c; i < len(im.Pix); i += im.Channels {
			mean += im.Pix[i]
		}
		mean /= n
		for i := c; i < len(im.Pix); i += im.Channels {
			im.Pix[i] = (im.Pix[i]-mean)*factor + mean
		}
	}
}
