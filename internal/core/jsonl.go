package core

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadDiscoveredArticles decodes one DiscoveredArticle per line. Blank
// lines are skipped; any JSON or schema error aborts with the offending
// line number. Unknown fields are ignored.
func ReadDiscoveredArticles(r io.Reader) ([]DiscoveredArticle, error) {
	var articles []DiscoveredArticle
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var article DiscoveredArticle
		if err := json.Unmarshal([]byte(line), &article); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNumber, err)
		}
		if err := article.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber, err)
		}
		articles = append(articles, article)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading input: %w", err)
	}
	return articles, nil
}

// ReadDiscoveredArticlesFile reads a JSONL file of discovered articles.
func ReadDiscoveredArticlesFile(path string) ([]DiscoveredArticle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	articles, err := ReadDiscoveredArticles(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return articles, nil
}

// WriteDiscoveredArticles encodes one article per line.
func WriteDiscoveredArticles(w io.Writer, articles []DiscoveredArticle) error {
	enc := json.NewEncoder(w)
	for i := range articles {
		if err := enc.Encode(&articles[i]); err != nil {
			return fmt.Errorf("failed to encode article %s: %w", articles[i].URL, err)
		}
	}
	return nil
}

// WriteDiscoveredArticlesFile writes a JSONL file of discovered articles.
func WriteDiscoveredArticlesFile(path string, articles []DiscoveredArticle) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	if err := WriteDiscoveredArticles(file, articles); err != nil {
		return err
	}
	return file.Close()
}
