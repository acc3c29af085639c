package media

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"media-gallery/internal/database"
	"media-gallery/internal/mediatypes"
)

const (
	// hueSampleWidth is the width images are downsampled to before sampling.
	hueSampleWidth = 64

	minSaturation = 0.2
	minValue      = 0.15

	// A secondary hue must carry at least this share of the primary's weight.
	secondaryShare = 0.25
)

// HueOracle computes the two dominant quantized hues of an image.
type HueOracle struct {
	resolve Resolver
}

// NewHueOracle creates a hue oracle.
func NewHueOracle(resolve Resolver) *HueOracle {
	return &HueOracle{resolve: resolve}
}

// Extract decodes item's file and returns its dominant hues. Non-images have
// no hue.
func (o *HueOracle) Extract(ctx context.Context, item database.MediaItem) (database.HuePayload, error) {
	none := database.HuePayload{Primary: database.NoHue, Secondary: database.NoHue}
	if err := ctx.Err(); err != nil {
		return none, err
	}
	if !mediatypes.IsImageMime(item.MimeType) {
		return none, nil
	}

	img, err := imaging.Open(o.resolve(item.Path), imaging.AutoOrientation(true))
	if err != nil {
		return none, fmt.Errorf("open image: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return none, err
	}

	return DominantHues(img), nil
}

// DominantHues returns the two heaviest hue buckets of img. Pixels that are
// too dark or too grey are ignored; if nothing remains both codes are NoHue.
func DominantHues(img image.Image) database.HuePayload {
	if img.Bounds().Dx() > hueSampleWidth {
		img = imaging.Resize(img, hueSampleWidth, 0, imaging.Box)
	}

	var weights [database.HueBuckets]float64
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			h, s, v := rgbToHSV(float64(r)/0xffff, float64(g)/0xffff, float64(bl)/0xffff)
			if s < minSaturation || v < minValue {
				continue
			}
			weights[HueBucket(h)] += s * v
		}
	}

	primary, secondary := database.NoHue, database.NoHue
	for i, w := range weights {
		if w == 0 {
			continue
		}
		switch {
		case primary == database.NoHue || w > weights[primary]:
			secondary = primary
			primary = i
		case secondary == database.NoHue || w > weights[secondary]:
			secondary = i
		}
	}
	if secondary != database.NoHue && weights[secondary] < weights[primary]*secondaryShare {
		secondary = database.NoHue
	}

	return database.HuePayload{Primary: primary, Secondary: secondary}
}

// HueBucket quantizes a hue in degrees into 0..HueBuckets-1. Bucket 0 is
// centred on red.
func HueBucket(h float64) int {
	width := 360.0 / database.HueBuckets
	h = math.Mod(h+width/2, 360)
	if h < 0 {
		h += 360
	}
	return int(h/width) % database.HueBuckets
}

func rgbToHSV(r, g, b float64) (h, s, v float64) {
	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	v = maxC
	delta := maxC - minC
	if maxC == 0 || delta == 0 {
		return 0, 0, v
	}
	s = delta / maxC

	switch maxC {
	case r:
		h = 60 * math.Mod((g-b)/delta, 6)
	case g:
		h = 60 * ((b-r)/delta + 2)
	default:
		h = 60 * ((r-g)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}
