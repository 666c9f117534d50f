package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed article.schema.json
var articleSchemaJSON string

// ArticlePayload is the fetch-boundary representation of one article.
type ArticlePayload struct {
	PayloadVersion string         `json:"payload_version"`
	ID             string         `json:"id"`
	URL            string         `json:"url"`
	Domain         *string        `json:"domain,omitempty"`
	Title          string         `json:"title"`
	Summary        *string        `json:"summary,omitempty"`
	BodyHTML       *string        `json:"body_html,omitempty"`
	PublishedAt    string         `json:"published_at"`
	Language       *string        `json:"language,omitempty"`
	Tickers        []string       `json:"tickers,omitempty"`
	SourceMetadata map[string]any `json:"source_metadata,omitempty"`
}

// PublishedTime returns published_at parsed as RFC3339 in UTC.
func (p *ArticlePayload) PublishedTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(p.PublishedAt))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateArticlePayload(payload json.RawMessage) (*ArticlePayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item ArticlePayload
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}

	return &item, nil
}

// ValidateArticleBatch accepts either a single payload object or an array of
// payloads. Each element is validated on its own.
func ValidateArticleBatch(raw json.RawMessage) ([]*ArticlePayload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	if trimmed[0] != '[' {
		item, err := ValidateArticlePayload(trimmed)
		if err != nil {
			return nil, err
		}
		return []*ArticlePayload{item}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("decode payload array: %w", err)
	}
	items := make([]*ArticlePayload, 0, len(elements))
	for i, element := range elements {
		item, err := ValidateArticlePayload(element)
		if err != nil {
			return nil, fmt.Errorf("payload[%d]: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("article.schema.json", strings.NewReader(articleSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("article.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(item *ArticlePayload) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(item.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.TrimSpace(item.Title) == "" {
		return fmt.Errorf("title must not be empty")
	}
	if err := validateURL("url", item.URL); err != nil {
		return err
	}
	if item.Domain != nil && strings.TrimSpace(*item.Domain) == "" {
		return fmt.Errorf("domain must not be blank when present")
	}
	if _, err := item.PublishedTime(); err != nil {
		return fmt.Errorf("published_at must be RFC3339: %w", err)
	}

	for i, ticker := range item.Tickers {
		if strings.TrimSpace(ticker) == "" {
			return fmt.Errorf("tickers[%d] must not be empty", i)
		}
	}

	return nil
}

func validateURL(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", fieldName)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}
	return nil
}
