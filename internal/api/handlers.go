package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/mohantyajitesh/docuextract-pro/internal/errors"
	"github.com/mohantyajitesh/docuextract-pro/internal/extract"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/vision"
)

func (s *Server) handleRoot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    ServiceName,
		"version": ServiceVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	var h vision.Health
	if s.vision != nil {
		h = s.vision.Health(c.Context())
	}

	status := "degraded"
	if h.Connected {
		status = "healthy"
	}

	return c.JSON(HealthResponse{
		Status:               status,
		Version:              ServiceVersion,
		OllamaConnected:      h.Connected,
		TextModelAvailable:   h.TextModelAvailable,
		VisionModelAvailable: h.VisionModelAvailable,
	})
}

func (s *Server) handleProcess(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "no file provided"})
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !s.config.AllowedExtension(ext) {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("Unsupported file type: %s. Allowed: %s",
				ext, strings.Join(s.config.Processing.AllowedExtensions, ", ")),
		})
	}

	if file.Size > s.config.Processing.MaxUploadSize {
		return c.Status(413).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large: %d bytes exceeds limit of %d bytes",
				file.Size, s.config.Processing.MaxUploadSize),
		})
	}

	method := c.Query("method", extract.MethodAuto)
	if !extract.ValidMethod(method) {
		return c.Status(400).JSON(fiber.Map{
			"error": fmt.Sprintf("Unknown extraction method: %s. Allowed: %s",
				method, strings.Join(extract.Methods(), ", ")),
		})
	}

	opts := extract.Options{
		Method:            method,
		ExtractTables:     c.QueryBool("extract_tables", true),
		ExtractSignatures: c.QueryBool("extract_signatures", true),
		ExtractKeyValues:  c.QueryBool("extract_key_values", true),
	}

	job := s.manager.Create(file.Filename, file.Size)
	path := filepath.Join(s.config.Storage.UploadDir, job.ID+ext)

	if err := c.SaveFile(file, path); err != nil {
		s.manager.Delete(job.ID)
		s.logger.Error("Failed to save upload", zap.String("filename", file.Filename), zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to save uploaded file"})
	}

	task := jobs.Task{
		JobID:    job.ID,
		Path:     path,
		Filename: file.Filename,
		Options:  opts,
		Cleanup:  true,
	}
	if err := s.queue.Enqueue(task); err != nil {
		s.manager.Delete(job.ID)
		os.Remove(path)
		s.metrics.RecordRejected()
		return c.Status(503).JSON(fiber.Map{"error": "Processing queue is full, try again later"})
	}

	return c.Status(202).JSON(ProcessResponse{
		JobID:   job.ID,
		Status:  string(jobs.StatusPending),
		Message: fmt.Sprintf("Document '%s' queued for processing", file.Filename),
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	job, err := s.manager.GetStatus(c.Params("job_id"))
	if err != nil {
		return c.Status(404).JSON(fiber.Map{"error": "Job not found"})
	}

	return c.JSON(StatusResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
	})
}

func (s *Server) handleResult(c *fiber.Ctx) error {
	id := c.Params("job_id")

	result, err := s.manager.GetResult(id)
	switch {
	case err == nil:
		return c.JSON(result)
	case errors.Is(err, apperrors.ErrResultNotReady):
		job, _ := s.manager.GetStatus(id)
		return c.Status(202).JSON(fiber.Map{
			"message":  "Job still processing",
			"job_id":   id,
			"status":   job.Status,
			"progress": job.Progress,
		})
	case errors.Is(err, apperrors.ErrJobFailed):
		job, _ := s.manager.GetStatus(id)
		return c.Status(500).JSON(fiber.Map{"error": fmt.Sprintf("Job failed: %s", job.Error)})
	}

	// Jobs from previous runs only live in the archive.
	if archived, archiveErr := s.store.LoadResult(id); archiveErr == nil {
		return c.JSON(archived)
	}
	return c.Status(404).JSON(fiber.Map{"error": "Job not found"})
}

func (s *Server) handleListJobs(c *fiber.Ctx) error {
	limit := clampLimit(c.QueryInt("limit", 50))

	list := s.manager.List(limit)
	summaries := make([]JobSummary, 0, len(list))
	for _, j := range list {
		summaries = append(summaries, summaryFromJob(j))
	}
	return c.JSON(summaries)
}

func (s *Server) handleJobHistory(c *fiber.Ctx) error {
	limit := clampLimit(c.QueryInt("limit", 50))

	records, err := s.store.History(limit)
	if err != nil {
		s.logger.Error("Failed to load job history", zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to load job history"})
	}
	return c.JSON(records)
}

func (s *Server) handleDeleteJob(c *fiber.Ctx) error {
	id := c.Params("job_id")

	s.manager.Delete(id)
	if err := s.store.DeleteJob(id); err != nil {
		s.logger.Warn("Failed to delete archived job", zap.String("job_id", id), zap.Error(err))
	}

	return c.JSON(fiber.Map{"message": "Job deleted"})
}

func (s *Server) handleExport(c *fiber.Ctx) error {
	id := c.Params("job_id")

	var req ExportRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	result, err := s.manager.GetResult(id)
	if err != nil {
		if errors.Is(err, apperrors.ErrResultNotReady) || errors.Is(err, apperrors.ErrJobFailed) {
			return c.Status(409).JSON(fiber.Map{"error": "Job is not completed"})
		}
		archived, archiveErr := s.store.LoadResult(id)
		if archiveErr != nil {
			return c.Status(404).JSON(fiber.Map{"error": "Result not found"})
		}
		result = archived
	}

	path, err := s.exporter.Export(result, req.options())
	if err != nil {
		if errors.Is(err, apperrors.ErrUnsupportedFormat) {
			return c.Status(400).JSON(fiber.Map{
				"error": fmt.Sprintf("Unsupported export format: %s. Allowed: json, csv, xlsx, markdown", req.Format),
			})
		}
		s.logger.Error("Export failed", zap.String("job_id", id), zap.Error(err))
		return c.Status(500).JSON(fiber.Map{"error": "failed to export result"})
	}

	return c.Download(path)
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 50
	}
	if limit > 100 {
		return 100
	}
	return limit
}
