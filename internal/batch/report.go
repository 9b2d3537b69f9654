package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"watchdog/internal/orchestrate"
)

// ErrorRecord is one line of the batch error report.
type ErrorRecord struct {
	URL           string    `json:"url"`
	Section       string    `json:"section"`
	ErrorCategory string    `json:"error_category"`
	ErrorMessage  string    `json:"error_message"`
	Extracted     bool      `json:"extracted"`
	Classified    bool      `json:"classified"`
	Relevant      bool      `json:"relevant"`
	Stored        bool      `json:"stored"`
	Timestamp     time.Time `json:"timestamp"`
}

func errorRecord(result *orchestrate.OrchestrationResult) ErrorRecord {
	return ErrorRecord{
		URL:           result.URL,
		Section:       result.Section,
		ErrorCategory: Categorize(result),
		ErrorMessage:  result.Error,
		Extracted:     result.Extracted,
		Classified:    result.Classified,
		Relevant:      result.Relevant,
		Stored:        result.Stored,
		Timestamp:     time.Now().UTC(),
	}
}

type reportMetadata struct {
	InputFile     string    `json:"input_file"`
	Concurrency   int       `json:"concurrency"`
	MinConfidence float64   `json:"min_confidence"`
	SkipExisting  bool      `json:"skip_existing"`
	DryRun        bool      `json:"dry_run"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

type reportPerformance struct {
	ElapsedSeconds    float64 `json:"elapsed_seconds"`
	ArticlesPerSecond float64 `json:"articles_per_second"`
}

type reportOutcomes struct {
	SuccessRate   float64 `json:"success_rate"`
	RelevanceRate float64 `json:"relevance_rate"`
	StorageRate   float64 `json:"storage_rate"`
}

type summaryReport struct {
	Metadata         reportMetadata    `json:"metadata"`
	Summary          Snapshot          `json:"summary"`
	ErrorsByCategory map[string]int64  `json:"errors_by_category"`
	Performance      reportPerformance `json:"performance"`
	Outcomes         reportOutcomes    `json:"outcomes"`
}

func buildReport(opts Options, snap Snapshot, finishedAt time.Time) summaryReport {
	elapsed := finishedAt.Sub(snap.StartTime).Seconds()
	report := summaryReport{
		Metadata: reportMetadata{
			InputFile:     opts.InputPath,
			Concurrency:   opts.Concurrency,
			MinConfidence: opts.MinConfidence,
			SkipExisting:  opts.SkipExisting,
			DryRun:        opts.DryRun,
			StartedAt:     snap.StartTime,
			FinishedAt:    finishedAt,
		},
		Summary: snap,
		ErrorsByCategory: map[string]int64{
			CategoryExtraction:     snap.ExtractionErrors,
			CategoryClassification: snap.ClassificationErrors,
			CategoryStorage:        snap.StorageErrors,
			CategoryOther:          snap.OtherErrors,
		},
		Performance: reportPerformance{ElapsedSeconds: elapsed},
	}
	if elapsed > 0 {
		report.Performance.ArticlesPerSecond = float64(snap.Processed) / elapsed
	}
	if snap.Processed > 0 {
		processed := float64(snap.Processed)
		report.Outcomes.SuccessRate = float64(snap.Processed-snap.TotalErrors()) / processed
		report.Outcomes.RelevanceRate = float64(snap.Relevant) / processed
		report.Outcomes.StorageRate = float64(snap.Stored) / processed
	}
	return report
}

// writeReports writes batch_<ts>.json and batch_<ts>_errors.jsonl into
// the output directory and returns their paths. Both files are always
// written; a clean run leaves the errors file empty.
func writeReports(opts Options, snap Snapshot, errors []ErrorRecord, finishedAt time.Time) (string, string, error) {
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create output directory: %w", err)
	}
	stamp := finishedAt.Format("20060102_150405")

	summaryPath := filepath.Join(opts.OutputDir, fmt.Sprintf("batch_%s.json", stamp))
	payload, err := json.MarshalIndent(buildReport(opts, snap, finishedAt), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(summaryPath, payload, 0o644); err != nil {
		return "", "", fmt.Errorf("failed to write summary: %w", err)
	}

	errorsPath := filepath.Join(opts.OutputDir, fmt.Sprintf("batch_%s_errors.jsonl", stamp))
	f, err := os.Create(errorsPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to create error report: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, record := range errors {
		if err := enc.Encode(record); err != nil {
			return "", "", fmt.Errorf("failed to write error report: %w", err)
		}
	}
	return summaryPath, errorsPath, nil
}
