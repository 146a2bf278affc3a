package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/mohantyajitesh/docuextract-pro/internal/config"
	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/metrics"
	"github.com/mohantyajitesh/docuextract-pro/internal/security"
)

const (
	// minUsableTextLen is the cutoff below which a loader's text is
	// considered too sparse and the next method in the auto chain runs.
	minUsableTextLen = 100

	visionJPEGQuality        = 85
	neutralConfidence        = 0.7
	reviewConfidenceFloor    = 0.7
	visionSentinelConfidence = 0.5
)

// Processor runs the extraction stages for one document at a time. It
// is safe for concurrent use; all per-document state lives in the call.
type Processor struct {
	processing config.ProcessingConfig
	outputDir  string

	raster     extract.Rasterizer
	structured extract.TextLoader
	ocr        *extract.OCRLoader
	vision     *extract.VisionLoader

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProcessor wires the extraction methods from config. A nil model
// disables the vision fallback.
func NewProcessor(cfg *config.Config, model extract.VisionModel, logger *zap.Logger, m *metrics.Metrics) *Processor {
	p := &Processor{
		processing: cfg.Processing,
		outputDir:  cfg.Storage.OutputDir,
		raster:     extract.NewPopplerRasterizer(),
		structured: &extract.StructuredLoader{},
		ocr:        &extract.OCRLoader{Engine: extract.NewTesseractOCR(cfg.Processing.OCRLanguages...)},
		logger:     logger,
		metrics:    m,
	}
	if model != nil {
		p.vision = &extract.VisionLoader{
			Model:    model,
			Raster:   p.raster,
			DPI:      cfg.Vision.RasterDPI,
			MaxPages: cfg.Vision.MaxPages,
			Quality:  visionJPEGQuality,
		}
	}
	return p
}

// runState caches rasterized pages across stages so tables and
// signatures reuse the load stage's work instead of re-rendering.
type runState struct {
	pages []image.Image
	err   error
	done  bool
}

func (p *Processor) ensurePages(ctx context.Context, doc extract.Document, st *runState) ([]image.Image, error) {
	if st.done {
		return st.pages, st.err
	}
	st.done = true

	switch doc.Kind {
	case extract.KindPDF:
		st.pages, st.err = p.raster.Render(ctx, doc.Path, p.processing.RasterDPI, p.processing.MaxPages)
	case extract.KindImage:
		img, err := extract.DecodeImage(doc.Path)
		if err != nil {
			st.err = err
		} else {
			st.pages = []image.Image{img}
		}
	}
	// HTML has no pixel pages.
	return st.pages, st.err
}

// Process runs the full pipeline on one document and assembles the
// result. Stage failures degrade to empty output with a warning; only
// a text-loading failure is fatal.
func (p *Processor) Process(ctx context.Context, path, sourceName string, opts extract.Options, sink ProgressSink) (*extract.ExtractionResult, error) {
	start := time.Now()
	if sink == nil {
		sink = NopSink
	}
	if sourceName == "" {
		sourceName = filepath.Base(path)
	}
	if opts.Method == "" {
		opts.Method = extract.MethodAuto
	}
	if !extract.ValidMethod(opts.Method) {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnsupportedMethod, opts.Method)
	}

	kind, err := extract.SniffKind(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrFileUnreadable, err)
	}
	if kind == extract.KindUnknown {
		return nil, apperrors.ErrUnsupportedType
	}

	doc := extract.Document{Path: path, Name: sourceName, Kind: kind}
	st := &runState{}

	var lt *extract.LoadedText
	err = p.stage(sink, spanLoad, "load", func() error {
		var loadErr error
		lt, loadErr = p.loadText(ctx, doc, opts, st)
		return loadErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load document text: %w", err)
	}

	result := extract.NewResult(sourceName)
	result.Text = truncateText(lt.Text, p.processing.TextLimit)
	if doc.Kind == extract.KindPDF {
		result.TextByPage = lt.TextByPage
	}
	result.Pages = lt.Pages

	var tableConfs []float64
	if opts.ExtractTables {
		stageErr := p.stage(sink, spanTables, "tables", func() error {
			tables, tErr := p.collectTables(ctx, doc, lt, st)
			if tErr != nil {
				return tErr
			}
			for i, t := range tables {
				t.TableData.ID = fmt.Sprintf("table_%d", i+1)
				result.Tables = append(result.Tables, t.TableData)
				tableConfs = append(tableConfs, t.Confidence)
			}
			return nil
		})
		if stageErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Table extraction failed: %v", stageErr))
		}
	}

	if opts.ExtractSignatures {
		stageErr := p.stage(sink, spanSignatures, "signatures", func() error {
			sigs, sErr := p.collectSignatures(ctx, doc, st)
			if sErr != nil {
				return sErr
			}
			result.Signatures = append(result.Signatures, sigs...)
			return nil
		})
		if stageErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("Signature detection failed: %v", stageErr))
		}
	}

	if opts.ExtractKeyValues {
		p.stage(sink, spanKeyValues, "key_values", func() error {
			result.KeyValues = extract.ExtractKeyValues(lt.Text)
			return nil
		})
	}

	sink.Report(spanFinalize.start, spanFinalize.label)
	// Rasterization during later stages can reveal pages a structured
	// parse did not report.
	if n := len(st.pages); n > result.Pages {
		result.Pages = n
	}
	if result.Pages < 1 {
		result.Pages = 1
	}
	p.finalize(result, lt, tableConfs)
	result.DocumentType = extract.DetectDocumentType(lt.Text)
	result.ProcessedAt = time.Now().UTC().Format(time.RFC3339)
	result.ProcessingTimeSeconds = round2(time.Since(start).Seconds())
	sink.Report(spanFinalize.end, spanFinalize.label)

	return result, nil
}

// stage frames one pipeline stage: entry progress report, timing,
// metrics. The end report happens only on success; a failed stage
// leaves progress at its start until the next stage advances it.
func (p *Processor) stage(sink ProgressSink, span stageSpan, name string, fn func() error) error {
	sink.Report(span.start, span.label)
	started := time.Now()
	err := fn()
	p.metrics.RecordStage(name, time.Since(started), err)
	if err != nil {
		p.logger.Warn("stage failed", zap.String("stage", name), zap.Error(err))
		return err
	}
	sink.Report(span.end, span.label)
	return nil
}

func (p *Processor) loadText(ctx context.Context, doc extract.Document, opts extract.Options, st *runState) (*extract.LoadedText, error) {
	switch opts.Method {
	case extract.MethodStructured:
		return p.structured.Load(ctx, doc, nil)
	case extract.MethodOCR:
		return p.loadOCR(ctx, doc, st)
	case extract.MethodVision:
		return p.loadVision(ctx, doc, st)
	}
	return p.loadAuto(ctx, doc, st)
}

// loadAuto walks the one-directional fallback chain: images go straight
// to OCR, machine-readable documents try structured parsing first, and
// the vision model is the last resort when it is configured. A sparse
// but successful result is kept when every fallback also fails.
func (p *Processor) loadAuto(ctx context.Context, doc extract.Document, st *runState) (*extract.LoadedText, error) {
	switch doc.Kind {
	case extract.KindHTML:
		return p.structured.Load(ctx, doc, nil)

	case extract.KindImage:
		lt, err := p.loadOCR(ctx, doc, st)
		if err == nil && !nearEmpty(lt.Text) {
			return lt, nil
		}
		if vlt := p.tryVision(ctx, doc, st, err); vlt != nil {
			return vlt, nil
		}
		if err != nil {
			return nil, err
		}
		return lt, nil

	default:
		slt, serr := p.structured.Load(ctx, doc, nil)
		if serr == nil && !nearEmpty(slt.Text) {
			return slt, nil
		}
		if serr != nil {
			p.logger.Warn("structured text extraction failed, falling back to OCR",
				zap.String("document", doc.Name), zap.Error(serr))
		} else {
			p.logger.Info("structured text sparse, falling back to OCR",
				zap.String("document", doc.Name))
		}

		olt, oerr := p.loadOCR(ctx, doc, st)
		if oerr == nil && !nearEmpty(olt.Text) {
			return olt, nil
		}
		if vlt := p.tryVision(ctx, doc, st, oerr); vlt != nil {
			return vlt, nil
		}

		// No fallback produced usable text; keep whatever loaded at all.
		if oerr == nil {
			return olt, nil
		}
		if serr == nil {
			return slt, nil
		}
		return nil, oerr
	}
}

func (p *Processor) tryVision(ctx context.Context, doc extract.Document, st *runState, cause error) *extract.LoadedText {
	if p.vision == nil {
		return nil
	}
	p.logger.Info("falling back to vision model",
		zap.String("document", doc.Name), zap.NamedError("cause", cause))
	lt, err := p.vision.Load(ctx, doc, st.pages)
	if err != nil {
		p.logger.Warn("vision fallback failed", zap.String("document", doc.Name), zap.Error(err))
		return nil
	}
	return lt
}

func (p *Processor) loadOCR(ctx context.Context, doc extract.Document, st *runState) (*extract.LoadedText, error) {
	pages, err := p.ensurePages(ctx, doc, st)
	if err != nil {
		return nil, err
	}
	return p.ocr.Load(ctx, doc, pages)
}

func (p *Processor) loadVision(ctx context.Context, doc extract.Document, st *runState) (*extract.LoadedText, error) {
	if p.vision == nil {
		return nil, apperrors.ErrVisionUnavailable
	}
	return p.vision.Load(ctx, doc, st.pages)
}

// collectTables prefers table candidates the text loader already found
// (structured rows, HTML <table>); otherwise it clusters OCR word boxes
// on the rasterized pages, recognizing them lazily when OCR was not the
// text method.
func (p *Processor) collectTables(ctx context.Context, doc extract.Document, lt *extract.LoadedText, st *runState) ([]extract.DetectedTable, error) {
	if len(lt.Tables) > 0 {
		return lt.Tables, nil
	}
	if doc.Kind == extract.KindHTML {
		return nil, nil
	}

	pages, err := p.ensurePages(ctx, doc, st)
	if err != nil {
		return nil, err
	}

	var tables []extract.DetectedTable
	for i, img := range pages {
		words, wErr := p.pageWords(ctx, lt, i, img)
		if wErr != nil {
			return nil, wErr
		}
		pageNum := i + 1
		for _, t := range extract.TablesFromWords(words) {
			t.Page = &pageNum
			tables = append(tables, t)
		}
	}
	return tables, nil
}

func (p *Processor) pageWords(ctx context.Context, lt *extract.LoadedText, i int, img image.Image) ([]extract.Word, error) {
	if i < len(lt.Words) {
		return lt.Words[i], nil
	}
	res, err := p.ocr.Engine.Recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	return res.Words, nil
}

// collectSignatures scans each rasterized page. Detector ids restart at
// sig_1 on every page, so they are renumbered across the document.
func (p *Processor) collectSignatures(ctx context.Context, doc extract.Document, st *runState) ([]extract.SignatureResult, error) {
	if doc.Kind == extract.KindHTML {
		return nil, nil
	}

	pages, err := p.ensurePages(ctx, doc, st)
	if err != nil {
		return nil, err
	}

	var signatures []extract.SignatureResult
	for i, img := range pages {
		pageNum := i + 1
		for _, sig := range extract.DetectSignatures(img, p.processing.SignatureThreshold) {
			sig.Page = &pageNum
			signatures = append(signatures, sig)
		}
	}
	for i := range signatures {
		signatures[i].ID = fmt.Sprintf("sig_%d", i+1)
	}
	return signatures, nil
}

// finalize computes the overall confidence and the review items. Every
// review trigger produces one item, so the review flag is simply
// "any items exist".
func (p *Processor) finalize(result *extract.ExtractionResult, lt *extract.LoadedText, tableConfs []float64) {
	confidences := make([]float64, 0, len(result.KeyValues)+len(tableConfs)+len(result.Signatures))
	for _, kv := range result.KeyValues {
		confidences = append(confidences, kv.Confidence)
	}
	confidences = append(confidences, tableConfs...)
	for _, sig := range result.Signatures {
		confidences = append(confidences, sig.Confidence)
	}

	overall := neutralConfidence
	if len(confidences) > 0 {
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		overall = sum / float64(len(confidences))
	}
	result.OverallConfidence = round3(overall)

	for _, sig := range result.Signatures {
		if sig.Status == extract.SignatureNeedsReview {
			result.HumanReviewItems = append(result.HumanReviewItems, extract.HumanReviewItem{
				Type:       "signature",
				ID:         sig.ID,
				Confidence: sig.Confidence,
				Reason:     extract.SignatureReviewReason(sig.Confidence, p.processing.SignatureThreshold),
				Page:       sig.Page,
			})
		}
	}
	if result.OverallConfidence < reviewConfidenceFloor {
		result.HumanReviewItems = append(result.HumanReviewItems, extract.HumanReviewItem{
			Type:       "document",
			ID:         "overall",
			Confidence: result.OverallConfidence,
			Reason: fmt.Sprintf("Overall confidence %.0f%% below %.0f%% threshold",
				result.OverallConfidence*100, reviewConfidenceFloor*100),
		})
	}
	if lt.UsedVision {
		result.HumanReviewItems = append(result.HumanReviewItems, extract.HumanReviewItem{
			Type:       "text",
			ID:         "full_text",
			Confidence: visionSentinelConfidence,
			Reason:     "Vision model output has no measured confidence",
		})
	}

	result.HumanReviewRequired = len(result.HumanReviewItems) > 0
}

// SaveResult writes the result JSON artifact to the output directory
// and returns its path. The source name is client-supplied and gets
// sanitized before it becomes part of the filename.
func (p *Processor) SaveResult(result *extract.ExtractionResult) (string, error) {
	base := security.SanitizeFilename(result.DocumentSource)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	name := fmt.Sprintf("%s_%s.json", stem, time.Now().Format("20060102_150405"))
	path := filepath.Join(p.outputDir, name)

	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Archiver persists finished jobs and their results across restarts.
type Archiver interface {
	SaveJob(job jobs.Job) error
	SaveResult(jobID string, result *extract.ExtractionResult) error
}

// Run binds the processor to the job table and the optional archive,
// producing the worker function the queue dispatches.
func (p *Processor) Run(manager *jobs.Manager, archive Archiver) jobs.ProcessFunc {
	return func(ctx context.Context, task jobs.Task) {
		start := time.Now()
		p.metrics.StartJob()
		manager.Start(task.JobID)
		manager.ReportProgress(task.JobID, 5, "Initializing")

		sink := SinkFunc(func(percent int, step string) {
			manager.ReportProgress(task.JobID, percent, step)
		})

		result, err := p.guarded(ctx, task, sink)

		if task.Cleanup {
			if rmErr := os.Remove(task.Path); rmErr != nil && !os.IsNotExist(rmErr) {
				p.logger.Warn("failed to remove upload", zap.String("path", task.Path), zap.Error(rmErr))
			}
		}

		if err != nil {
			p.logger.Error("document processing failed",
				zap.String("job_id", task.JobID),
				zap.String("filename", task.Filename),
				zap.Error(err),
			)
			manager.Fail(task.JobID, err.Error())
			p.metrics.FinishJob(string(jobs.StatusFailed), time.Since(start))
		} else {
			manager.Complete(task.JobID, result)
			p.metrics.FinishJob(string(jobs.StatusCompleted), time.Since(start))
			p.logger.Info("document processed",
				zap.String("job_id", task.JobID),
				zap.String("filename", task.Filename),
				zap.Float64("confidence", result.OverallConfidence),
				zap.Bool("review", result.HumanReviewRequired),
			)
			if path, saveErr := p.SaveResult(result); saveErr != nil {
				p.logger.Warn("failed to save result artifact", zap.String("job_id", task.JobID), zap.Error(saveErr))
			} else {
				p.logger.Debug("result artifact saved", zap.String("path", path))
			}
		}

		if archive == nil {
			return
		}
		if err == nil && result != nil {
			if aErr := archive.SaveResult(task.JobID, result); aErr != nil {
				p.logger.Warn("failed to archive result", zap.String("job_id", task.JobID), zap.Error(aErr))
			}
		}
		if job, jErr := manager.GetStatus(task.JobID); jErr == nil {
			if aErr := archive.SaveJob(job); aErr != nil {
				p.logger.Warn("failed to record job history", zap.String("job_id", task.JobID), zap.Error(aErr))
			}
		}
	}
}

// guarded turns panics inside the pipeline into job failures so one bad
// document cannot take a worker down.
func (p *Processor) guarded(ctx context.Context, task jobs.Task, sink ProgressSink) (result *extract.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return p.Process(ctx, task.Path, task.Filename, task.Options, sink)
}

func nearEmpty(text string) bool {
	return len(strings.TrimSpace(text)) < minUsableTextLen
}

// truncateText cuts at the byte limit without splitting a rune.
func truncateText(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
