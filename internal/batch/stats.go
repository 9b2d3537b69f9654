// Package batch drives the per-URL pipeline over a JSONL file of
// discovered articles under a bounded worker pool, with live
// statistics and JSON/JSONL reporting.
package batch

import (
	"sync"
	"time"

	"watchdog/internal/orchestrate"
)

// Error categories derived from an orchestration result.
const (
	CategoryNone           = "none"
	CategoryExtraction     = "extraction"
	CategoryClassification = "classification"
	CategoryStorage        = "storage"
	CategoryOther          = "other"
)

// Categorize maps an orchestration result to its error category.
func Categorize(result *orchestrate.OrchestrationResult) string {
	if !result.Failed() {
		return CategoryNone
	}
	if result.ErrorStage == orchestrate.StageUnexpected {
		return CategoryOther
	}
	if !result.Extracted {
		return CategoryExtraction
	}
	if !result.Classified {
		return CategoryClassification
	}
	if result.Relevant && !result.Stored {
		return CategoryStorage
	}
	return CategoryOther
}

// Snapshot is a copy of the counters at one instant.
type Snapshot struct {
	Total                int64     `json:"total"`
	Processed            int64     `json:"processed"`
	Extracted            int64     `json:"extracted"`
	Classified           int64     `json:"classified"`
	Relevant             int64     `json:"relevant"`
	Stored               int64     `json:"stored"`
	Duplicates           int64     `json:"duplicates"`
	SkippedExisting      int64     `json:"skipped_existing"`
	ExtractionErrors     int64     `json:"extraction_errors"`
	ClassificationErrors int64     `json:"classification_errors"`
	StorageErrors        int64     `json:"storage_errors"`
	OtherErrors          int64     `json:"other_errors"`
	StartTime            time.Time `json:"start_time"`
}

// TotalErrors sums the four error categories.
func (s Snapshot) TotalErrors() int64 {
	return s.ExtractionErrors + s.ClassificationErrors + s.StorageErrors + s.OtherErrors
}

// Statistics is the shared batch counter set. One mutex guards every
// update; snapshots copy the counters under the same lock.
type Statistics struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewStatistics creates the counters for a batch of the given size.
func NewStatistics(total int) *Statistics {
	return &Statistics{snap: Snapshot{Total: int64(total), StartTime: time.Now()}}
}

// Record folds one finished task into the counters.
func (s *Statistics) Record(result *orchestrate.OrchestrationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Processed++
	if result.Extracted {
		s.snap.Extracted++
	}
	if result.Classified {
		s.snap.Classified++
	}
	if result.Relevant {
		s.snap.Relevant++
	}
	if result.Stored {
		s.snap.Stored++
	}
	if result.Duplicate {
		s.snap.Duplicates++
	}

	switch Categorize(result) {
	case CategoryExtraction:
		s.snap.ExtractionErrors++
	case CategoryClassification:
		s.snap.ClassificationErrors++
	case CategoryStorage:
		s.snap.StorageErrors++
	case CategoryOther:
		s.snap.OtherErrors++
	}
}

// AddSkipped counts leads removed by the existing-URL pre-filter.
// Total tracks the leads actually entering the pool, so skipped leads
// are deducted from it.
func (s *Statistics) AddSkipped(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SkippedExisting += int64(n)
	s.snap.Total -= int64(n)
}

// Snapshot copies the counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}
