package extract

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// Document is one input file prepared for extraction.
type Document struct {
	Path string
	Name string
	Kind Kind
}

// LoadedText is the outcome of a text-loading strategy.
type LoadedText struct {
	Text       string
	TextByPage []string
	Pages      int
	Words      [][]Word        // OCR word boxes per page, when OCR ran
	Tables     []DetectedTable // candidates from structured parsing
	UsedVision bool
}

// TextLoader is one pluggable text extraction strategy. The orchestrator
// selects a loader per document and falls back between them; loaders
// themselves know nothing about the selection policy.
type TextLoader interface {
	Name() string
	Load(ctx context.Context, doc Document, pages []image.Image) (*LoadedText, error)
}

// StructuredLoader parses machine-readable documents (PDF embedded text,
// HTML) without touching pixels.
type StructuredLoader struct{}

func (s *StructuredLoader) Name() string { return MethodStructured }

func (s *StructuredLoader) Load(ctx context.Context, doc Document, _ []image.Image) (*LoadedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch doc.Kind {
	case KindPDF:
		structured, err := ExtractStructured(doc.Path)
		if err != nil {
			return nil, err
		}

		lt := &LoadedText{Pages: len(structured)}
		parts := make([]string, 0, len(structured))
		for i, page := range structured {
			parts = append(parts, page.Text)

			pageNum := i + 1
			for _, t := range TablesFromRows(page.Rows) {
				t.Page = &pageNum
				lt.Tables = append(lt.Tables, t)
			}
		}
		lt.Text = strings.TrimSpace(strings.Join(parts, "\n\n"))
		return lt, nil

	case KindHTML:
		htmlDoc, err := ExtractHTML(doc.Path)
		if err != nil {
			return nil, err
		}
		return &LoadedText{
			Text:   htmlDoc.Text,
			Pages:  1,
			Tables: htmlDoc.Tables,
		}, nil
	}

	return nil, fmt.Errorf("structured parsing not supported for %s input", doc.Kind)
}

// OCRLoader recognizes text in rasterized pages.
type OCRLoader struct {
	Engine OCR
}

func (o *OCRLoader) Name() string { return MethodOCR }

func (o *OCRLoader) Load(ctx context.Context, doc Document, pages []image.Image) (*LoadedText, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no page images to recognize")
	}

	lt := &LoadedText{Pages: len(pages)}
	parts := make([]string, 0, len(pages))

	for i, img := range pages {
		res, err := o.Engine.Recognize(ctx, img)
		if err != nil {
			return nil, err
		}

		if doc.Kind == KindPDF {
			parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, res.Text))
		} else {
			parts = append(parts, res.Text)
		}
		lt.TextByPage = append(lt.TextByPage, res.Text)
		lt.Words = append(lt.Words, res.Words)
	}

	lt.Text = strings.TrimSpace(strings.Join(parts, "\n\n"))
	return lt, nil
}

// VisionModel is the contract the vision loader expects from a
// multimodal model backend.
type VisionModel interface {
	Generate(ctx context.Context, prompt string, images [][]byte) (string, error)
}

// VisionPrompt is sent with every page image.
const VisionPrompt = "Extract all text, tables, and structured information from this document. Format as markdown."

// VisionLoader sends page images to a multimodal model and collects its
// markdown answer. It re-rasterizes PDFs at its own (lower) DPI to keep
// request payloads small.
type VisionLoader struct {
	Model    VisionModel
	Raster   Rasterizer
	DPI      int
	MaxPages int
	Quality  int
}

func (v *VisionLoader) Name() string { return MethodVision }

func (v *VisionLoader) Load(ctx context.Context, doc Document, pages []image.Image) (*LoadedText, error) {
	if v.Model == nil {
		return nil, fmt.Errorf("vision model not configured")
	}

	payloads, err := v.payloads(ctx, doc, pages)
	if err != nil {
		return nil, err
	}

	parts := make([]string, 0, len(payloads))
	for i, img := range payloads {
		answer, err := v.Model.Generate(ctx, VisionPrompt, [][]byte{img})
		if err != nil {
			return nil, err
		}
		parts = append(parts, fmt.Sprintf("--- Page %d ---\n%s", i+1, answer))
	}

	return &LoadedText{
		Text:       strings.TrimSpace(strings.Join(parts, "\n\n")),
		Pages:      len(payloads),
		UsedVision: true,
	}, nil
}

func (v *VisionLoader) payloads(ctx context.Context, doc Document, pages []image.Image) ([][]byte, error) {
	switch doc.Kind {
	case KindPDF:
		images, err := v.Raster.Render(ctx, doc.Path, v.DPI, v.MaxPages)
		if err != nil {
			return nil, err
		}
		payloads := make([][]byte, 0, len(images))
		for _, img := range images {
			b, err := EncodeJPEG(img, v.Quality)
			if err != nil {
				return nil, err
			}
			payloads = append(payloads, b)
		}
		return payloads, nil

	case KindImage:
		var img image.Image
		if len(pages) > 0 {
			img = pages[0]
		} else {
			decoded, err := DecodeImage(doc.Path)
			if err != nil {
				return nil, err
			}
			img = decoded
		}
		b, err := EncodeJPEG(img, v.Quality)
		if err != nil {
			return nil, err
		}
		return [][]byte{b}, nil
	}

	return nil, fmt.Errorf("vision not supported for %s input", doc.Kind)
}
