package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// Word is one recognized token with its pixel bounding box. Confidence
// is normalized to 0..1.
type Word struct {
	Text       string
	Confidence float64
	Box        image.Rectangle
}

// PageOCR is the recognition output for a single page image.
type PageOCR struct {
	Text       string
	Words      []Word
	Confidence float64
}

// OCR recognizes text in page images.
type OCR interface {
	Recognize(ctx context.Context, img image.Image) (*PageOCR, error)
}

// TesseractOCR implements OCR with a local Tesseract install via gosseract.
type TesseractOCR struct {
	languages []string
}

// NewTesseractOCR creates an OCR engine. With no languages given,
// Tesseract's default (eng) applies.
func NewTesseractOCR(languages ...string) *TesseractOCR {
	return &TesseractOCR{languages: languages}
}

// Recognize runs Tesseract over one page image, returning full text plus
// word boxes with per-word confidence. The page confidence is the mean
// word confidence, 0 when nothing was recognized.
func (t *TesseractOCR) Recognize(ctx context.Context, img image.Image) (*PageOCR, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if len(t.languages) > 0 {
		if err := client.SetLanguage(t.languages...); err != nil {
			return nil, fmt.Errorf("failed to set OCR languages: %w", err)
		}
	}

	encoded, err := encodePNG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode page for OCR: %w", err)
	}
	if err := client.SetImageFromBytes(encoded); err != nil {
		return nil, fmt.Errorf("failed to set OCR image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to read OCR word boxes: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	var confSum float64
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		// gosseract reports confidence on a 0..100 scale
		conf := b.Confidence / 100
		words = append(words, Word{Text: word, Confidence: conf, Box: b.Box})
		confSum += conf
	}

	page := &PageOCR{Text: strings.TrimSpace(text), Words: words}
	if len(words) > 0 {
		page.Confidence = confSum / float64(len(words))
	}

	return page, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
