package api

import (
	"time"

	"github.com/mohantyajitesh/docuextract-pro/internal/export"
	"github.com/mohantyajitesh/docuextract-pro/internal/jobs"
	"github.com/mohantyajitesh/docuextract-pro/internal/metrics"
	"github.com/mohantyajitesh/docuextract-pro/internal/store"
	"github.com/mohantyajitesh/docuextract-pro/internal/vision"
)

// Service identity reported by the root and health endpoints.
const (
	ServiceName    = "DocuExtract Pro"
	ServiceVersion = "1.0.0"
)

// Deps carries the shared components the server exposes over HTTP.
type Deps struct {
	Manager  *jobs.Manager
	Queue    *jobs.Queue
	Store    *store.Store
	Exporter *export.Exporter
	Vision   *vision.Client // nil when the vision runtime is disabled
	Metrics  *metrics.Metrics
}

// ProcessResponse acknowledges an accepted upload.
type ProcessResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponse reports the progress of one job.
type StatusResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CurrentStep string `json:"current_step,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HealthResponse reports API health and model availability.
type HealthResponse struct {
	Status               string `json:"status"`
	Version              string `json:"version"`
	OllamaConnected      bool   `json:"ollama_connected"`
	TextModelAvailable   bool   `json:"text_model_available"`
	VisionModelAvailable bool   `json:"vision_model_available"`
}

// JobSummary is the short job form returned by the listing endpoint.
type JobSummary struct {
	JobID       string      `json:"job_id"`
	Filename    string      `json:"filename"`
	Status      jobs.Status `json:"status"`
	Progress    int         `json:"progress"`
	CreatedAt   time.Time   `json:"created_at"`
	CompletedAt *time.Time  `json:"completed_at"`
}

func summaryFromJob(j jobs.Job) JobSummary {
	return JobSummary{
		JobID:       j.ID,
		Filename:    j.Filename,
		Status:      j.Status,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// ExportRequest selects the export format and sections. Include flags
// default to true when absent from the body.
type ExportRequest struct {
	Format            string `json:"format"`
	IncludeText       *bool  `json:"include_text"`
	IncludeTables     *bool  `json:"include_tables"`
	IncludeKeyValues  *bool  `json:"include_key_values"`
	IncludeSignatures *bool  `json:"include_signatures"`
}

func (r ExportRequest) options() export.Options {
	opts := export.DefaultOptions()
	if r.Format != "" {
		opts.Format = r.Format
	}
	if r.IncludeText != nil {
		opts.IncludeText = *r.IncludeText
	}
	if r.IncludeTables != nil {
		opts.IncludeTables = *r.IncludeTables
	}
	if r.IncludeKeyValues != nil {
		opts.IncludeKeyValues = *r.IncludeKeyValues
	}
	if r.IncludeSignatures != nil {
		opts.IncludeSignatures = *r.IncludeSignatures
	}
	return opts
}
