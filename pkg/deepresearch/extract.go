package deepresearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/deepresearch-go/orchestrator/pkg/research/tools"
)

// ExtractResponse is the structural result of an extract call, per spec.md
// §4.3: failures surface as a value, never an exception.
type ExtractResponse struct {
	Success bool
	Texts   []string
	Error   string
}

// ExtractClient calls the external extract provider on a single URL with an
// extraction prompt. The caller (Research Loop) attaches the requesting URL
// as each Finding's Source regardless of what the service returns.
type ExtractClient interface {
	Extract(ctx context.Context, targetURL, prompt string) ExtractResponse
}

// FirecrawlExtractClient calls the Firecrawl extract endpoint, with a
// PDF-specific fallback: URLs ending in .pdf go through the legacy engine's
// Mistral-OCR scraper (pkg/research/tools.ScrapePDF) instead, since Firecrawl
// extract is not a reliable PDF reader and the teacher already carries a
// working OCR path for exactly this case.
type FirecrawlExtractClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewFirecrawlExtractClient builds a client against the production
// Firecrawl extract endpoint.
func NewFirecrawlExtractClient(apiKey string) *FirecrawlExtractClient {
	return &FirecrawlExtractClient{
		APIKey:     apiKey,
		BaseURL:    "https://api.firecrawl.dev/v1/extract",
		HTTPClient: &http.Client{},
	}
}

type firecrawlExtractRequest struct {
	URLs   []string `json:"urls"`
	Prompt string   `json:"prompt"`
}

// firecrawlExtractResponse models the extract endpoint's "one or many"
// response shape described in spec.md §4.3: Data may be a single object or
// an array. json.RawMessage defers the decision to normalizeExtractData.
type firecrawlExtractResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func normalizeExtractData(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	// Try array-of-records first.
	var many []map[string]interface{}
	if err := json.Unmarshal(raw, &many); err == nil {
		texts := make([]string, 0, len(many))
		for _, item := range many {
			texts = append(texts, extractTextField(item))
		}
		return texts, nil
	}

	// Fall back to a single record.
	var one map[string]interface{}
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("extract data is neither an object nor an array: %w", err)
	}
	return []string{extractTextField(one)}, nil
}

func extractTextField(record map[string]interface{}) string {
	for _, key := range []string{"text", "content", "markdown", "summary"} {
		if v, ok := record[key].(string); ok && v != "" {
			return v
		}
	}
	// Last resort: serialize the whole record so no data is silently dropped.
	b, _ := json.Marshal(record)
	return string(b)
}

func (c *FirecrawlExtractClient) Extract(ctx context.Context, targetURL, prompt string) ExtractResponse {
	if strings.HasSuffix(strings.ToLower(targetURL), ".pdf") {
		return c.extractPDF(targetURL)
	}
	return c.extractFirecrawl(ctx, targetURL, prompt)
}

func (c *FirecrawlExtractClient) extractPDF(targetURL string) ExtractResponse {
	text, err := tools.ScrapePDF(targetURL)
	if err != nil {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("pdf OCR failed for %s: %v", targetURL, err)}
	}
	return ExtractResponse{Success: true, Texts: []string{text}}
}

func (c *FirecrawlExtractClient) extractFirecrawl(ctx context.Context, targetURL, prompt string) ExtractResponse {
	body, err := json.Marshal(firecrawlExtractRequest{URLs: []string{targetURL}, Prompt: prompt})
	if err != nil {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("failed to marshal extract request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("failed to create extract request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return ExtractResponse{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("failed to read extract response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("extract API returned status %s: %s", resp.Status, string(raw))}
	}

	var parsed firecrawlExtractResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ExtractResponse{Success: false, Error: fmt.Sprintf("failed to parse extract response: %v", err)}
	}

	if !parsed.Success {
		return ExtractResponse{Success: false, Error: parsed.Error}
	}

	texts, err := normalizeExtractData(parsed.Data)
	if err != nil {
		return ExtractResponse{Success: false, Error: err.Error()}
	}

	return ExtractResponse{Success: true, Texts: texts}
}
