package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/metrics"
)

type report struct {
	percent int
	step    string
}

type recordingSink struct {
	mu      sync.Mutex
	reports []report
}

func (r *recordingSink) Report(percent int, step string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{percent, step})
}

type stubOCR struct {
	mu    sync.Mutex
	texts []string
	words [][]extract.Word
	calls int
	err   error
}

func (s *stubOCR) Recognize(_ context.Context, _ image.Image) (*extract.PageOCR, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++

	var text string
	if i < len(s.texts) {
		text = s.texts[i]
	}
	var words []extract.Word
	if i < len(s.words) {
		words = s.words[i]
	}
	return &extract.PageOCR{Text: text, Words: words, Confidence: 0.9}, nil
}

type stubRaster struct {
	mu    sync.Mutex
	pages []image.Image
	calls int
	err   error
}

func (s *stubRaster) Render(_ context.Context, _ string, _, _ int) ([]image.Image, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.pages, nil
}

type stubStructured struct {
	lt  *extract.LoadedText
	err error
}

func (s *stubStructured) Name() string { return extract.MethodStructured }

func (s *stubStructured) Load(context.Context, extract.Document, []image.Image) (*extract.LoadedText, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.lt, nil
}

type stubVision struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (s *stubVision) Generate(_ context.Context, prompt string, _ [][]byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return fmt.Sprintf("Vision transcription of page %d with plenty of detail to pass the sparse text check easily.", len(s.prompts)), nil
}

type stubArchive struct {
	mu      sync.Mutex
	jobs    []jobs.Job
	results map[string]*extract.ExtractionResult
}

func (s *stubArchive) SaveJob(job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *stubArchive) SaveResult(jobID string, result *extract.ExtractionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.results == nil {
		s.results = make(map[string]*extract.ExtractionResult)
	}
	s.results[jobID] = result
	return nil
}

func testProcessor(t *testing.T, engine extract.OCR, raster extract.Rasterizer, model extract.VisionModel) *Processor {
	t.Helper()
	p := &Processor{
		processing: config.ProcessingConfig{
			MaxPages:           20,
			RasterDPI:          200,
			TextLimit:          30000,
			SignatureThreshold: 0.6,
		},
		outputDir:  t.TempDir(),
		raster:     raster,
		structured: &extract.StructuredLoader{},
		ocr:        &extract.OCRLoader{Engine: engine},
		logger:     zaptest.NewLogger(t),
		metrics:    metrics.New(),
	}
	if model != nil {
		p.vision = &extract.VisionLoader{Model: model, Raster: raster, DPI: 150, MaxPages: 5, Quality: 85}
	}
	return p
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func writePNG(t *testing.T, name string, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return writeFile(t, name, buf.Bytes())
}

func whitePage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return img
}

// signaturePage carries one sparse horizontal stroke pattern in the
// bottom region that the detector classifies as needs_review.
func signaturePage() image.Image {
	img := whitePage(200, 500)
	for y := 0; y < 41; y++ {
		img.Set(40, 350+y, color.Black)
		if y%10 == 0 {
			for x := 0; x < 120; x++ {
				img.Set(40+x, 350+y, color.Black)
			}
		}
	}
	return img
}

const invoiceHTML = `<html><body>
<h1>Invoice INV-2024-001</h1>
<p>This invoice covers the consulting services delivered during July and August of the current year.</p>
<p>Customer Name: Acme Industrial Corporation</p>
<p>Total Amount: 1250.00</p>
<table><tr><th>Item</th><th>Qty</th></tr><tr><td>Widget</td><td>2</td></tr></table>
</body></html>`

var fullProgress = []report{
	{10, "Loading document"},
	{40, "Loading document"},
	{40, "Extracting tables"},
	{65, "Extracting tables"},
	{65, "Detecting signatures"},
	{80, "Detecting signatures"},
	{80, "Extracting key-values"},
	{90, "Extracting key-values"},
	{90, "Finalizing"},
	{100, "Finalizing"},
}

func TestProcessHTMLDocument(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	path := writeFile(t, "invoice.html", []byte(invoiceHTML))
	sink := &recordingSink{}

	result, err := p.Process(context.Background(), path, "invoice.html", extract.DefaultOptions(), sink)
	require.NoError(t, err)

	assert.Equal(t, fullProgress, sink.reports)

	assert.Equal(t, "invoice.html", result.DocumentSource)
	require.NotNil(t, result.DocumentType)
	assert.Equal(t, "invoice", *result.DocumentType)
	assert.Equal(t, 1, result.Pages)
	assert.Nil(t, result.TextByPage)
	assert.Contains(t, result.Text, "Invoice INV-2024-001")

	require.Len(t, result.Tables, 1)
	assert.Equal(t, "table_1", result.Tables[0].ID)
	assert.Equal(t, []string{"Item", "Qty"}, result.Tables[0].Headers)

	require.Len(t, result.KeyValues, 2)
	assert.Equal(t, "Customer Name", result.KeyValues[0].Key)
	assert.Equal(t, "Acme Industrial Corporation", result.KeyValues[0].Value)
	assert.Equal(t, "Total Amount", result.KeyValues[1].Key)

	assert.Empty(t, result.Signatures)
	assert.Empty(t, result.Warnings)

	// Mean of two 0.8 key-values and one 0.9 table.
	assert.InDelta(t, 0.833, result.OverallConfidence, 1e-9)
	assert.False(t, result.HumanReviewRequired)
	assert.Empty(t, result.HumanReviewItems)

	assert.NotEmpty(t, result.ProcessedAt)
	assert.GreaterOrEqual(t, result.ProcessingTimeSeconds, 0.0)
}

func TestProcessSkipsDisabledStages(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	path := writeFile(t, "invoice.html", []byte(invoiceHTML))
	sink := &recordingSink{}

	result, err := p.Process(context.Background(), path, "", extract.Options{Method: extract.MethodAuto}, sink)
	require.NoError(t, err)

	assert.Equal(t, []report{
		{10, "Loading document"},
		{40, "Loading document"},
		{90, "Finalizing"},
		{100, "Finalizing"},
	}, sink.reports)

	assert.Empty(t, result.Tables)
	assert.Empty(t, result.Signatures)
	assert.Empty(t, result.KeyValues)
	assert.InDelta(t, 0.7, result.OverallConfidence, 1e-9)
	assert.False(t, result.HumanReviewRequired)
}

func TestProcessImageOCR(t *testing.T) {
	ocrText := "Invoice Number: INV-2024-0042\nThis scanned receipt was captured with a mobile phone camera and uploaded for automated processing."
	engine := &stubOCR{texts: []string{ocrText}, words: [][]extract.Word{{}}}
	p := testProcessor(t, engine, &stubRaster{}, nil)
	path := writePNG(t, "scan.png", whitePage(10, 10))

	result, err := p.Process(context.Background(), path, "scan.png", extract.DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, ocrText, result.Text)
	assert.Nil(t, result.TextByPage)
	assert.Equal(t, 1, result.Pages)
	require.NotNil(t, result.DocumentType)
	assert.Equal(t, "invoice", *result.DocumentType)

	require.Len(t, result.KeyValues, 1)
	assert.Equal(t, "Invoice Number", result.KeyValues[0].Key)
	assert.Equal(t, "INV-2024-0042", result.KeyValues[0].Value)

	assert.InDelta(t, 0.8, result.OverallConfidence, 1e-9)
	assert.False(t, result.HumanReviewRequired)

	// The load stage's recognition is reused by the tables stage.
	assert.Equal(t, 1, engine.calls)
}

func TestProcessPDFFallsBackToOCR(t *testing.T) {
	pageOne := "Quarterly Report: operations overview for the first page with enough recognized words to count as usable text."
	pageTwo := "Second page continues the discussion of operational details."
	engine := &stubOCR{texts: []string{pageOne, pageTwo}, words: [][]extract.Word{{}, {}}}
	raster := &stubRaster{pages: []image.Image{whitePage(50, 50), whitePage(50, 50)}}
	p := testProcessor(t, engine, raster, nil)

	// Content that sniffs as PDF but cannot be parsed as one.
	path := writeFile(t, "scan.pdf", []byte("%PDF-1.4\nnot really a pdf"))

	result, err := p.Process(context.Background(), path, "scan.pdf", extract.DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Equal(t, "--- Page 1 ---\n"+pageOne+"\n\n--- Page 2 ---\n"+pageTwo, result.Text)
	assert.Equal(t, []string{pageOne, pageTwo}, result.TextByPage)
	assert.Equal(t, 2, result.Pages)
	assert.Empty(t, result.Warnings)

	// One render feeds OCR, tables, and signatures alike.
	assert.Equal(t, 1, raster.calls)
	assert.Equal(t, 2, engine.calls)
}

func TestProcessPDFFallsBackToVision(t *testing.T) {
	engine := &stubOCR{err: fmt.Errorf("tesseract is not installed")}
	raster := &stubRaster{pages: []image.Image{whitePage(50, 50), whitePage(50, 50)}}
	model := &stubVision{}
	p := testProcessor(t, engine, raster, model)

	path := writeFile(t, "scan.pdf", []byte("%PDF-1.4\nnot really a pdf"))

	result, err := p.Process(context.Background(), path, "scan.pdf", extract.DefaultOptions(), nil)
	require.NoError(t, err)

	require.Len(t, model.prompts, 2)
	assert.Equal(t, extract.VisionPrompt, model.prompts[0])
	assert.Contains(t, result.Text, "--- Page 1 ---\nVision transcription of page 1")
	assert.Contains(t, result.Text, "--- Page 2 ---\nVision transcription of page 2")
	assert.Nil(t, result.TextByPage)

	// The tables stage needed word boxes, OCR still fails, so the stage
	// degrades with a warning while the document itself succeeds.
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "Table extraction failed")

	require.Len(t, result.HumanReviewItems, 1)
	item := result.HumanReviewItems[0]
	assert.Equal(t, "text", item.Type)
	assert.Equal(t, "full_text", item.ID)
	assert.InDelta(t, 0.5, item.Confidence, 1e-9)
	assert.Equal(t, "Vision model output has no measured confidence", item.Reason)
	assert.True(t, result.HumanReviewRequired)
}

func TestProcessStageFailuresDegrade(t *testing.T) {
	longText := "The quarterly operations summary describes ongoing work across several departments and remains informational."
	p := testProcessor(t, &stubOCR{}, &stubRaster{err: fmt.Errorf("pdftoppm not found")}, nil)
	p.structured = &stubStructured{lt: &extract.LoadedText{Text: longText, Pages: 3}}
	path := writeFile(t, "doc.pdf", []byte("%PDF-1.4\nstub"))
	sink := &recordingSink{}

	result, err := p.Process(context.Background(), path, "doc.pdf", extract.DefaultOptions(), sink)
	require.NoError(t, err)

	// Failed stages report no end; the next stage advances progress.
	assert.Equal(t, []report{
		{10, "Loading document"},
		{40, "Loading document"},
		{40, "Extracting tables"},
		{65, "Detecting signatures"},
		{80, "Extracting key-values"},
		{90, "Extracting key-values"},
		{90, "Finalizing"},
		{100, "Finalizing"},
	}, sink.reports)

	require.Len(t, result.Warnings, 2)
	assert.Contains(t, result.Warnings[0], "Table extraction failed: pdftoppm not found")
	assert.Contains(t, result.Warnings[1], "Signature detection failed: pdftoppm not found")

	assert.NotNil(t, result.Tables)
	assert.Empty(t, result.Tables)
	assert.NotNil(t, result.Signatures)
	assert.Empty(t, result.Signatures)
	assert.Equal(t, 3, result.Pages)
}

func TestProcessSignaturesAcrossPages(t *testing.T) {
	longText := "The quarterly operations summary describes ongoing work across several departments and remains informational."
	raster := &stubRaster{pages: []image.Image{signaturePage(), signaturePage()}}
	p := testProcessor(t, &stubOCR{}, raster, nil)
	p.structured = &stubStructured{lt: &extract.LoadedText{Text: longText, Pages: 1}}
	path := writeFile(t, "contract-scan.pdf", []byte("%PDF-1.4\nstub"))

	opts := extract.Options{Method: extract.MethodAuto, ExtractSignatures: true}
	result, err := p.Process(context.Background(), path, "contract-scan.pdf", opts, nil)
	require.NoError(t, err)

	require.Len(t, result.Signatures, 2)
	first, second := result.Signatures[0], result.Signatures[1]

	assert.Equal(t, "sig_1", first.ID)
	require.NotNil(t, first.Page)
	assert.Equal(t, 1, *first.Page)
	assert.Equal(t, "sig_2", second.ID)
	require.NotNil(t, second.Page)
	assert.Equal(t, 2, *second.Page)

	assert.Equal(t, extract.SignatureNeedsReview, first.Status)
	assert.InDelta(t, 0.559, first.Confidence, 1e-9)
	assert.InDelta(t, 0.2, first.Location.Left, 1e-9)
	assert.InDelta(t, 0.7, first.Location.Top, 1e-9)
	assert.InDelta(t, 0.6, first.Location.Width, 1e-9)
	assert.InDelta(t, 0.082, first.Location.Height, 1e-9)

	// Rasterization found more pages than the structured parse reported.
	assert.Equal(t, 2, result.Pages)

	require.Len(t, result.HumanReviewItems, 3)
	assert.Equal(t, "signature", result.HumanReviewItems[0].Type)
	assert.Equal(t, "sig_1", result.HumanReviewItems[0].ID)
	assert.Equal(t, "Confidence 56% below 60% threshold", result.HumanReviewItems[0].Reason)
	assert.Equal(t, "sig_2", result.HumanReviewItems[1].ID)
	assert.Equal(t, "document", result.HumanReviewItems[2].Type)
	assert.Equal(t, "overall", result.HumanReviewItems[2].ID)
	assert.Equal(t, "Overall confidence 56% below 70% threshold", result.HumanReviewItems[2].Reason)

	assert.InDelta(t, 0.559, result.OverallConfidence, 1e-9)
	assert.True(t, result.HumanReviewRequired)
}

func TestProcessTruncatesText(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	p.processing.TextLimit = 120
	path := writeFile(t, "invoice.html", []byte(invoiceHTML))

	result, err := p.Process(context.Background(), path, "invoice.html", extract.DefaultOptions(), nil)
	require.NoError(t, err)

	assert.Len(t, result.Text, 120)
	// Key-values come from the untruncated text.
	require.Len(t, result.KeyValues, 2)
	assert.Equal(t, "Total Amount", result.KeyValues[1].Key)
}

func TestProcessExplicitMethodDoesNotFallBack(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	path := writePNG(t, "scan.png", whitePage(10, 10))

	opts := extract.DefaultOptions()
	opts.Method = extract.MethodStructured
	_, err := p.Process(context.Background(), path, "scan.png", opts, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load document text")
}

func TestProcessVisionMethodRequiresModel(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	path := writePNG(t, "scan.png", whitePage(10, 10))

	opts := extract.DefaultOptions()
	opts.Method = extract.MethodVision
	_, err := p.Process(context.Background(), path, "scan.png", opts, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrVisionUnavailable)
}

func TestProcessRejectsUnknownMethod(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	path := writeFile(t, "invoice.html", []byte(invoiceHTML))

	opts := extract.DefaultOptions()
	opts.Method = "docling"
	_, err := p.Process(context.Background(), path, "invoice.html", opts, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedMethod)
}

func TestProcessRejectsUnknownKind(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	path := writeFile(t, "notes.txt", []byte("plain text, not a document"))

	_, err := p.Process(context.Background(), path, "notes.txt", extract.DefaultOptions(), nil)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedType)
}

func TestProcessMissingFile(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)

	_, err := p.Process(context.Background(), "/nonexistent/doc.pdf", "doc.pdf", extract.DefaultOptions(), nil)
	assert.ErrorIs(t, err, apperrors.ErrFileUnreadable)
}

func TestSaveResult(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	result := extract.NewResult("invoice.pdf")
	result.Text = "hello"

	path, err := p.SaveResult(result)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(filepath.Base(path), "invoice_"))
	assert.True(t, strings.HasSuffix(path, ".json"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"document_source": "invoice.pdf"`)
}

func TestRunCompletesJob(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	manager := jobs.NewManager(zaptest.NewLogger(t))
	archive := &stubArchive{}

	upload := filepath.Join(t.TempDir(), "upload_invoice.html")
	require.NoError(t, os.WriteFile(upload, []byte(invoiceHTML), 0644))

	job := manager.Create("invoice.html", int64(len(invoiceHTML)))
	run := p.Run(manager, archive)
	run(context.Background(), jobs.Task{
		JobID:    job.ID,
		Path:     upload,
		Filename: "invoice.html",
		Options:  extract.DefaultOptions(),
		Cleanup:  true,
	})

	got, err := manager.GetStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)

	result, err := manager.GetResult(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "invoice.html", result.DocumentSource)

	// The upload temp file is removed and the artifact written.
	_, statErr := os.Stat(upload)
	assert.True(t, os.IsNotExist(statErr))
	artifacts, _ := filepath.Glob(filepath.Join(p.outputDir, "invoice_*.json"))
	assert.Len(t, artifacts, 1)

	// Both the result and the terminal job row are archived.
	assert.Same(t, result, archive.results[job.ID])
	require.Len(t, archive.jobs, 1)
	assert.Equal(t, jobs.StatusCompleted, archive.jobs[0].Status)
}

func TestRunFailsJob(t *testing.T) {
	p := testProcessor(t, &stubOCR{}, &stubRaster{}, nil)
	manager := jobs.NewManager(zaptest.NewLogger(t))
	archive := &stubArchive{}

	upload := filepath.Join(t.TempDir(), "upload_notes.txt")
	require.NoError(t, os.WriteFile(upload, []byte("plain text"), 0644))

	job := manager.Create("notes.txt", 10)
	run := p.Run(manager, archive)
	run(context.Background(), jobs.Task{
		JobID:    job.ID,
		Path:     upload,
		Filename: "notes.txt",
		Options:  extract.DefaultOptions(),
		Cleanup:  true,
	})

	got, err := manager.GetStatus(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "unsupported file type")

	_, statErr := os.Stat(upload)
	assert.True(t, os.IsNotExist(statErr))

	assert.Empty(t, archive.results)
	require.Len(t, archive.jobs, 1)
	assert.Equal(t, jobs.StatusFailed, archive.jobs[0].Status)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "hello", truncateText("hello", 10))
	assert.Equal(t, "hel", truncateText("hello", 3))
	assert.Equal(t, "hello", truncateText("hello", 0))
	// Never split a multi-byte rune.
	assert.Equal(t, "a", truncateText("aé", 2))
}

func TestNearEmpty(t *testing.T) {
	assert.True(t, nearEmpty(""))
	assert.True(t, nearEmpty(strings.Repeat(" ", 200)))
	assert.True(t, nearEmpty(strings.Repeat("x", 99)))
	assert.False(t, nearEmpty(strings.Repeat("x", 100)))
}
