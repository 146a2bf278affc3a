// Package pipeline orchestrates the extraction stages for one document
// and assembles the final result.
package pipeline

// ProgressSink receives progress updates during one document run.
type ProgressSink interface {
	Report(percent int, step string)
}

// SinkFunc adapts a plain function to ProgressSink.
type SinkFunc func(percent int, step string)

func (f SinkFunc) Report(percent int, step string) { f(percent, step) }

// NopSink discards all progress reports.
var NopSink ProgressSink = SinkFunc(func(int, string) {})

// stageSpan is a fixed progress window. The windows do not move when
// stages are skipped; the next stage's entry report jumps progress to
// its own start.
type stageSpan struct {
	start int
	end   int
	label string
}

var (
	spanLoad       = stageSpan{10, 40, "Loading document"}
	spanTables     = stageSpan{40, 65, "Extracting tables"}
	spanSignatures = stageSpan{65, 80, "Detecting signatures"}
	spanKeyValues  = stageSpan{80, 90, "Extracting key-values"}
	spanFinalize   = stageSpan{90, 100, "Finalizing"}
)
