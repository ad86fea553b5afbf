package badges

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/aphrodite-project/aphrodite/internal/models"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to build test jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestStripeComposer_DrawsOneStripePerBadge(t *testing.T) {
	c := NewStripeComposer()
	original := testJPEG(t, 300, 450)

	reqs := []Request{
		{BadgeType: models.BadgeAudio, Label: "TRUEHD 7.1"},
		{BadgeType: models.BadgeResolution, Label: "4K HDR"},
	}

	result, perBadge, err := c.Compose(original, reqs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Width != 300 || result.Height != 450 {
		t.Fatalf("expected dimensions preserved, got %dx%d", result.Width, result.Height)
	}
	if len(perBadge) != 2 {
		t.Fatalf("expected 2 badge results, got %d", len(perBadge))
	}
	for _, r := range perBadge {
		if !r.Success {
			t.Fatalf("expected badge %s to succeed, got error %q", r.BadgeType, r.Error)
		}
	}

	decoded, _, err := image.Decode(bytes.NewReader(result.Image))
	if err != nil {
		t.Fatalf("composed output did not decode as an image: %v", err)
	}
	if decoded.Bounds().Dx() != 300 || decoded.Bounds().Dy() != 450 {
		t.Fatalf("decoded dimensions mismatch")
	}
}

func TestStripeComposer_FailsBadgeWhenPosterTooSmall(t *testing.T) {
	c := NewStripeComposer()
	original := testJPEG(t, 50, 30) // too short for even one stripe

	_, perBadge, err := c.Compose(original, []Request{{BadgeType: models.BadgeAwards}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(perBadge) != 1 || perBadge[0].Success {
		t.Fatalf("expected a failed badge result for an undersized poster, got %+v", perBadge)
	}
}
