// Package badges draws badge stripes onto poster images: keep the
// original dimensions and overlay one colored stripe per detected badge.
// Composer here is a minimal image/image-draw stand-in sufficient to
// exercise the pipeline end to end, not a production compositor with
// real font rendering.
package badges

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/aphrodite-project/aphrodite/internal/models"
)

type Request struct {
	BadgeType models.BadgeType
	Label     string // short text fallback, e.g. "TRUEHD 7.1", "4K HDR"
	Position  Position
}

type Position int

const (
	PositionTopLeft Position = iota
	PositionTopRight
	PositionBottomLeft
	PositionBottomRight
)

type Result struct {
	Image          []byte
	Width          int
	Height         int
	IntermediateID string
}

type Composer interface {
	Compose(original []byte, reqs []Request) (Result, []models.BadgeResult, error)
}

const badgeStripeHeight = 40

// StripeComposer draws one full-width colored stripe per requested
// badge, stacked down from the top edge in request order,
// image-first-with-text-fallback reduced to a flat color block per
// badge kind since real artwork loading is the external rendering
// engine's responsibility. Request.Position and Request.Label are not
// used.
type StripeComposer struct{}

func NewStripeComposer() *StripeComposer { return &StripeComposer{} }

func badgeColor(t models.BadgeType) color.RGBA {
	switch t {
	case models.BadgeAudio:
		return color.RGBA{R: 0x2b, G: 0x6c, B: 0xb0, A: 0xff}
	case models.BadgeResolution:
		return color.RGBA{R: 0xb0, G: 0x3a, B: 0x2b, A: 0xff}
	case models.BadgeReview:
		return color.RGBA{R: 0xc9, G: 0xa2, B: 0x27, A: 0xff}
	case models.BadgeAwards:
		return color.RGBA{R: 0x4a, G: 0x8f, B: 0x3c, A: 0xff}
	default:
		return color.RGBA{A: 0xff}
	}
}

func (c *StripeComposer) Compose(original []byte, reqs []Request) (Result, []models.BadgeResult, error) {
	src, _, err := image.Decode(bytes.NewReader(original))
	if err != nil {
		return Result{}, nil, fmt.Errorf("decode original poster: %w", err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	results := make([]models.BadgeResult, 0, len(reqs))
	for i, r := range reqs {
		stripeTop := i * badgeStripeHeight
		if stripeTop+badgeStripeHeight > h {
			results = append(results, models.BadgeResult{BadgeType: r.BadgeType, Success: false, Error: "poster too small for stripe"})
			continue
		}
		rect := image.Rect(0, stripeTop, w, stripeTop+badgeStripeHeight)
		draw.Draw(dst, rect, &image.Uniform{C: badgeColor(r.BadgeType)}, image.Point{}, draw.Src)
		results = append(results, models.BadgeResult{BadgeType: r.BadgeType, Success: true})
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 92}); err != nil {
		return Result{}, nil, fmt.Errorf("encode composed poster: %w", err)
	}

	return Result{Image: buf.Bytes(), Width: w, Height: h}, results, nil
}
