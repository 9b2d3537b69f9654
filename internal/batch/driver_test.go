package batch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"watchdog/internal/core"
	"watchdog/internal/orchestrate"
	"watchdog/internal/persistence"
)

type fakeProcessor struct {
	mu          sync.Mutex
	results     map[string]*orchestrate.OrchestrationResult
	panicURLs   map[string]bool
	opened      bool
	closed      bool
	inFlight    int64
	maxInFlight int64
}

func (f *fakeProcessor) Open() error  { f.opened = true; return nil }
func (f *fakeProcessor) Close() error { f.closed = true; return nil }

func (f *fakeProcessor) ProcessArticle(ctx context.Context, session persistence.Session, url, section string, newsSourceID int64, minConfidence float64) *orchestrate.OrchestrationResult {
	current := atomic.AddInt64(&f.inFlight, 1)
	defer atomic.AddInt64(&f.inFlight, -1)
	for {
		max := atomic.LoadInt64(&f.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt64(&f.maxInFlight, max, current) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	if f.panicURLs[url] {
		panic("worker exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if result, ok := f.results[url]; ok {
		return result
	}
	return &orchestrate.OrchestrationResult{URL: url, Section: section, Extracted: true, Classified: true}
}

type fakeSessions struct {
	acquired int64
	released int64
	err      error
}

func (f *fakeSessions) Acquire(ctx context.Context) (persistence.Session, func(), error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	atomic.AddInt64(&f.acquired, 1)
	return nil, func() { atomic.AddInt64(&f.released, 1) }, nil
}

type fakeFilter struct {
	existing map[string]struct{}
	err      error
	urls     []string
}

func (f *fakeFilter) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	f.urls = urls
	return f.existing, f.err
}

func writeInput(t *testing.T, articles []core.DiscoveredArticle) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.jsonl")
	if err := core.WriteDiscoveredArticlesFile(path, articles); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func leads(urls ...string) []core.DiscoveredArticle {
	articles := make([]core.DiscoveredArticle, len(urls))
	for i, url := range urls {
		articles[i] = core.DiscoveredArticle{
			URL:          url,
			NewsSourceID: 1,
			Section:      "news",
			DiscoveredAt: time.Now().UTC(),
		}
	}
	return articles
}

func testOptions(input, outputDir string) Options {
	return Options{
		InputPath:     input,
		Concurrency:   3,
		MinConfidence: 0.7,
		OutputDir:     outputDir,
	}
}

func TestDriverRun(t *testing.T) {
	stored := int64(5)
	processor := &fakeProcessor{results: map[string]*orchestrate.OrchestrationResult{
		"https://example.test/stored": {
			URL: "https://example.test/stored", Section: "news",
			Extracted: true, Classified: true, Relevant: true, Stored: true,
			ArticleID: &stored, ClassificationCount: 1,
		},
		"https://example.test/duplicate": {
			URL: "https://example.test/duplicate", Section: "news",
			Extracted: true, Classified: true, Relevant: true, Duplicate: true,
		},
		"https://example.test/irrelevant": {
			URL: "https://example.test/irrelevant", Section: "news",
			Extracted: true, Classified: true,
		},
		"https://example.test/broken": {
			URL: "https://example.test/broken", Section: "news",
			Error: "Failed to extract article: boom", ErrorStage: orchestrate.StageExtraction,
		},
	}}
	sessions := &fakeSessions{}
	outputDir := t.TempDir()
	input := writeInput(t, leads(
		"https://example.test/stored",
		"https://example.test/duplicate",
		"https://example.test/irrelevant",
		"https://example.test/broken",
	))

	driver, err := NewDriver(processor, sessions, nil, testOptions(input, outputDir))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := result.Snapshot
	if snap.Total != 4 || snap.Processed != 4 {
		t.Errorf("unexpected totals: %+v", snap)
	}
	if snap.Stored != 1 || snap.Duplicates != 1 || snap.ExtractionErrors != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	// Every processed lead lands in exactly one outcome bucket.
	notRelevant := snap.Processed - snap.Relevant - snap.TotalErrors()
	relevantNotStored := snap.Relevant - snap.Stored - snap.Duplicates
	if snap.Stored+snap.Duplicates+relevantNotStored+notRelevant+snap.TotalErrors() != snap.Processed {
		t.Errorf("outcome buckets do not sum to processed: %+v", snap)
	}

	if !processor.opened || !processor.closed {
		t.Error("processor scope should be opened and closed")
	}
	if sessions.acquired != 4 || sessions.released != 4 {
		t.Errorf("every session must be released: acquired=%d released=%d", sessions.acquired, sessions.released)
	}

	// Summary artifact.
	payload, err := os.ReadFile(result.SummaryPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report summaryReport
	if err := json.Unmarshal(payload, &report); err != nil {
		t.Fatalf("summary is not valid JSON: %v", err)
	}
	if report.Summary.Processed != 4 || report.ErrorsByCategory[CategoryExtraction] != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if report.Outcomes.SuccessRate != 0.75 {
		t.Errorf("expected success rate 0.75, got %v", report.Outcomes.SuccessRate)
	}

	// Error artifact: one line, the broken URL only.
	errPayload, err := os.ReadFile(result.ErrorsPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(errPayload)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 error record, got %d", len(lines))
	}
	var record ErrorRecord
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("error record is not valid JSON: %v", err)
	}
	if record.URL != "https://example.test/broken" || record.ErrorCategory != CategoryExtraction {
		t.Errorf("unexpected error record: %+v", record)
	}
}

func TestDriverSkipExisting(t *testing.T) {
	processor := &fakeProcessor{}
	filter := &fakeFilter{existing: map[string]struct{}{"https://example.test/old": {}}}
	opts := testOptions(writeInput(t, leads("https://example.test/old", "https://example.test/new")), t.TempDir())
	opts.SkipExisting = true

	driver, err := NewDriver(processor, &fakeSessions{}, filter, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(filter.urls) != 2 {
		t.Errorf("filter should see every input URL in one batch: %v", filter.urls)
	}
	snap := result.Snapshot
	if snap.SkippedExisting != 1 || snap.Processed != 1 || snap.Total != 1 {
		t.Errorf("unexpected stats: %+v", snap)
	}

	// A clean run still produces both artifacts; the errors file is empty.
	if result.ErrorsPath == "" {
		t.Fatal("errors path must always be set")
	}
	errPayload, err := os.ReadFile(result.ErrorsPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(errPayload) != 0 {
		t.Errorf("expected empty errors file, got %q", errPayload)
	}
}

func TestDriverSkipExistingQueryFailureAborts(t *testing.T) {
	opts := testOptions(writeInput(t, leads("https://example.test/a")), t.TempDir())
	opts.SkipExisting = true
	driver, err := NewDriver(&fakeProcessor{}, &fakeSessions{}, &fakeFilter{err: errors.New("db down")}, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := driver.Run(context.Background()); err == nil {
		t.Fatal("pre-filter failure should abort the batch")
	}
}

func TestDriverPanicIsFailSoft(t *testing.T) {
	processor := &fakeProcessor{panicURLs: map[string]bool{"https://example.test/panic": true}}
	driver, err := NewDriver(processor, &fakeSessions{},
		nil, testOptions(writeInput(t, leads("https://example.test/panic", "https://example.test/fine")), t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("a panicking task must not abort the batch: %v", err)
	}

	snap := result.Snapshot
	if snap.Processed != 2 {
		t.Errorf("both leads should be processed, got %d", snap.Processed)
	}
	if snap.OtherErrors != 1 {
		t.Errorf("panic should be categorized as other: %+v", snap)
	}
}

func TestDriverSessionFailureIsFailSoft(t *testing.T) {
	driver, err := NewDriver(&fakeProcessor{}, &fakeSessions{err: errors.New("pool exhausted")},
		nil, testOptions(writeInput(t, leads("https://example.test/a")), t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	result, err := driver.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Snapshot.OtherErrors != 1 {
		t.Errorf("session failure should be an other-category error: %+v", result.Snapshot)
	}
}

func TestDriverConcurrencyBound(t *testing.T) {
	processor := &fakeProcessor{}
	opts := testOptions(writeInput(t, leads(
		"https://example.test/1", "https://example.test/2", "https://example.test/3",
		"https://example.test/4", "https://example.test/5", "https://example.test/6",
	)), t.TempDir())
	opts.Concurrency = 2

	driver, err := NewDriver(processor, &fakeSessions{}, nil, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := driver.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processor.maxInFlight > 2 {
		t.Errorf("semaphore bound exceeded: %d tasks in flight", processor.maxInFlight)
	}
}

func TestDriverBadInputLineAborts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.jsonl")
	content := `{"url":"https://example.test/a","news_source_id":1,"section":"news","discovered_at":"2025-12-01T12:00:00Z"}` + "\nnot json\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	driver, err := NewDriver(&fakeProcessor{}, &fakeSessions{}, nil, testOptions(path, t.TempDir()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = driver.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected hard failure naming line 2, got %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"valid", func(o *Options) {}, false},
		{"missing input", func(o *Options) { o.InputPath = "" }, true},
		{"concurrency zero", func(o *Options) { o.Concurrency = 0 }, true},
		{"concurrency eleven", func(o *Options) { o.Concurrency = 11 }, true},
		{"confidence too high", func(o *Options) { o.MinConfidence = 1.1 }, true},
		{"confidence negative", func(o *Options) { o.MinConfidence = -0.1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions("input.jsonl", ".")
			tt.mutate(&opts)
			err := opts.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name   string
		result orchestrate.OrchestrationResult
		want   string
	}{
		{"no error", orchestrate.OrchestrationResult{Extracted: true, Classified: true}, CategoryNone},
		{"extraction", orchestrate.OrchestrationResult{Error: "x", ErrorStage: orchestrate.StageExtraction}, CategoryExtraction},
		{"classification", orchestrate.OrchestrationResult{Extracted: true, Error: "x", ErrorStage: orchestrate.StageClassification}, CategoryClassification},
		{"storage", orchestrate.OrchestrationResult{Extracted: true, Classified: true, Relevant: true, Error: "x", ErrorStage: orchestrate.StageStorage}, CategoryStorage},
		{"conversion is other", orchestrate.OrchestrationResult{Extracted: true, Classified: true, Error: "x", ErrorStage: orchestrate.StageConversion}, CategoryOther},
		{"unexpected is other", orchestrate.OrchestrationResult{Error: "x", ErrorStage: orchestrate.StageUnexpected}, CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(&tt.result); got != tt.want {
				t.Errorf("Categorize() = %q, want %q", got, tt.want)
			}
		})
	}
}
