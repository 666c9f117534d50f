// Package reader turns article body HTML supplied by the fetch boundary into
// a plain-text summary. It never performs network requests.
package reader

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	readability "codeberg.org/readeck/go-readability/v2"
)

const DefaultSummaryChars = 600

// ExtractText runs readability over bodyHTML and returns its readable text.
// pageURL is the article's absolute URL.
func ExtractText(bodyHTML, pageURL string) (string, error) {
	if strings.TrimSpace(bodyHTML) == "" {
		return "", fmt.Errorf("body HTML is empty")
	}

	base, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if base.Host == "" {
		return "", fmt.Errorf("page url must be absolute")
	}

	article, err := readability.FromReader(strings.NewReader(bodyHTML), base)
	if err != nil {
		return "", fmt.Errorf("readability parse: %w", err)
	}

	var rendered bytes.Buffer
	if err := article.RenderText(&rendered); err != nil {
		return "", fmt.Errorf("render readability text: %w", err)
	}

	text := CleanText(rendered.String())
	if text == "" {
		text = CleanText(article.Excerpt())
	}
	if text == "" {
		return "", fmt.Errorf("reader extracted empty content")
	}
	return text, nil
}

// Summarize extracts readable text and clips it to maxChars runes.
func Summarize(bodyHTML, pageURL string, maxChars int) (string, error) {
	text, err := ExtractText(bodyHTML, pageURL)
	if err != nil {
		return "", err
	}
	if maxChars <= 0 {
		maxChars = DefaultSummaryChars
	}
	summary, _ := TruncateText(text, maxChars)
	return summary, nil
}

// CleanText normalizes line endings and collapses extra in-line whitespace.
func CleanText(raw string) string {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	lines := strings.Split(normalized, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		clean := strings.Join(strings.Fields(line), " ")
		if clean == "" {
			continue
		}
		paragraphs = append(paragraphs, clean)
	}

	return strings.Join(paragraphs, "\n\n")
}

// TruncateText clips text to maxChars runes and appends a single ellipsis rune when truncated.
func TruncateText(raw string, maxChars int) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	if maxChars <= 0 {
		return trimmed, false
	}

	runes := []rune(trimmed)
	if len(runes) <= maxChars {
		return trimmed, false
	}
	if maxChars == 1 {
		return "…", true
	}

	clipped := strings.TrimSpace(string(runes[:maxChars-1]))
	if clipped == "" {
		return "…", true
	}
	return clipped + "…", true
}
