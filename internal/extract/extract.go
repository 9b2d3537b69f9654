// Package extract turns raw article HTML into structured content.
// Extractors are dispatched on the URL host; each publication gets its
// own extractor with an ordered list of parsing strategies.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"watchdog/internal/core"
	"watchdog/internal/fetch"
)

// ErrUnsupportedDomain is returned when no extractor is registered for a
// URL's host.
var ErrUnsupportedDomain = errors.New("unsupported domain")

// ErrParse is returned when a page yields neither a title nor a body of
// at least core.MinFullTextLength characters.
var ErrParse = errors.New("parse error")

// Extractor parses one publication's article HTML.
type Extractor interface {
	Extract(html, pageURL string) (*core.ExtractedArticleContent, error)
}

// Registry dispatches URLs to per-publication extractors by host.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// DefaultRegistry returns a registry with the supported publications.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("jamaica-gleaner.com", NewGleanerExtractor())
	return r
}

// Register maps a host (without "www.") to an extractor.
func (r *Registry) Register(host string, extractor Extractor) {
	r.extractors[normalizeHost(host)] = extractor
}

// For returns the extractor responsible for a URL, or ErrUnsupportedDomain.
func (r *Registry) For(pageURL string) (Extractor, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid url %q", core.ErrInvalidInput, pageURL)
	}
	host := normalizeHost(parsed.Hostname())
	extractor, ok := r.extractors[host]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDomain, host)
	}
	return extractor, nil
}

func normalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// Service fetches a URL and runs the registered extractor on the body.
// Open/Close delegate to the fetch client's pooled lifecycle so the
// orchestrator can scope HTTP pooling around a batch.
type Service struct {
	client   *fetch.Client
	registry *Registry
}

// NewService creates an extraction service over the given fetch client.
func NewService(client *fetch.Client, registry *Registry) *Service {
	return &Service{client: client, registry: registry}
}

// Open starts the pooled HTTP lifecycle.
func (s *Service) Open() error {
	s.client.Open()
	return nil
}

// Close tears the pooled HTTP lifecycle down.
func (s *Service) Close() error {
	s.client.Close()
	return nil
}

// Extract fetches the URL and parses it with the publication's extractor.
func (s *Service) Extract(ctx context.Context, pageURL string) (*core.ExtractedArticleContent, error) {
	extractor, err := s.registry.For(pageURL)
	if err != nil {
		return nil, err
	}
	result, err := s.client.Fetch(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	return extractor.Extract(result.Body, pageURL)
}
