package deepresearch

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SearchResultItem is one descriptor returned by a search provider.
type SearchResultItem struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SearchResponse is the structural (never-exceptional) result of a search
// call, per spec.md §4.2: a non-success response is surfaced as a value, not
// an error.
type SearchResponse struct {
	Success bool
	Results []SearchResultItem
	Error   string
}

// SearchProvider calls an external search backend for a single query. It
// imposes no retry of its own — the Research Loop owns retry policy via
// failedAttempts (spec.md §4.2).
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string) (SearchResponse, error)
}

// SearchManager routes a query to the provider best suited for it, grounded
// on the pluggable Provider/Manager shape used elsewhere in the research
// ecosystem for pluggable search backends: a primary provider plus
// topic-triggered alternates.
type SearchManager struct {
	primary  SearchProvider
	academic SearchProvider
}

// NewSearchManager builds a manager with a default (Firecrawl) provider and
// an optional academic-leaning alternate (arXiv). academic may be nil.
func NewSearchManager(primary, academic SearchProvider) *SearchManager {
	return &SearchManager{primary: primary, academic: academic}
}

var academicHints = []string{"paper", "arxiv", "study", "preprint", "dataset"}

// looksAcademic is a fixed heuristic, not a classifier: it exists to route a
// narrow, predictable slice of topics to arXiv without adding a ranking or
// dedup layer to the orchestrator (spec.md Non-goals).
func looksAcademic(topic string) bool {
	lower := strings.ToLower(topic)
	for _, hint := range academicHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Search picks a provider for the query and calls it. The academic provider
// is used only when configured and the topic matches the heuristic; it
// never replaces the primary provider's behavior for general topics.
func (m *SearchManager) Search(ctx context.Context, query string) (SearchResponse, error) {
	if m.academic != nil && looksAcademic(query) {
		return m.academic.Search(ctx, query)
	}
	return m.primary.Search(ctx, query)
}

// --- Firecrawl-backed provider -------------------------------------------------

// FirecrawlSearchProvider calls the Firecrawl search API over plain
// net/http, the same raw-HTTP pattern the teacher uses for every outbound
// call (no HTTP client library appears anywhere in the pack).
type FirecrawlSearchProvider struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewFirecrawlSearchProvider builds a provider with the production
// Firecrawl endpoint and a default client.
func NewFirecrawlSearchProvider(apiKey string) *FirecrawlSearchProvider {
	return &FirecrawlSearchProvider{
		APIKey:     apiKey,
		BaseURL:    "https://api.firecrawl.dev/v1/search",
		HTTPClient: &http.Client{},
	}
}

func (p *FirecrawlSearchProvider) Name() string { return "firecrawl" }

type firecrawlSearchRequest struct {
	Query string `json:"query"`
}

type firecrawlSearchResult struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type firecrawlSearchResponse struct {
	Success bool                    `json:"success"`
	Data    []firecrawlSearchResult `json:"data"`
	Error   string                  `json:"error"`
}

func (p *FirecrawlSearchProvider) Search(ctx context.Context, query string) (SearchResponse, error) {
	body, err := json.Marshal(firecrawlSearchRequest{Query: query})
	if err != nil {
		return SearchResponse{}, fmt.Errorf("failed to marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL, bytes.NewReader(body))
	if err != nil {
		return SearchResponse{}, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return SearchResponse{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResponse{Success: false, Error: fmt.Sprintf("failed to read search response: %v", err)}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return SearchResponse{Success: false, Error: fmt.Sprintf("search API returned status %s: %s", resp.Status, string(raw))}, nil
	}

	var parsed firecrawlSearchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return SearchResponse{Success: false, Error: fmt.Sprintf("failed to parse search response: %v", err)}, nil
	}

	if !parsed.Success {
		return SearchResponse{Success: false, Error: parsed.Error}, nil
	}

	results := make([]SearchResultItem, len(parsed.Data))
	for i, r := range parsed.Data {
		results[i] = SearchResultItem{URL: r.URL, Title: r.Title, Description: r.Description}
	}

	return SearchResponse{Success: true, Results: results}, nil
}

// --- arXiv provider -------------------------------------------------------------

// ArxivSearchProvider adapts the legacy engine's arXiv tool
// (pkg/research/tools.SearchArxiv) into a SearchProvider, so academic topics
// can be routed to arXiv instead of Firecrawl.
type ArxivSearchProvider struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxResults int
}

// NewArxivSearchProvider builds a provider against the public arXiv API.
func NewArxivSearchProvider() *ArxivSearchProvider {
	return &ArxivSearchProvider{
		BaseURL:    "https://export.arxiv.org/api/query",
		HTTPClient: &http.Client{},
		MaxResults: 5,
	}
}

func (p *ArxivSearchProvider) Name() string { return "arxiv" }

type arxivLink struct {
	Href string `xml:"href,attr"`
	Type string `xml:"type,attr"`
}

type arxivEntry struct {
	Title   string      `xml:"title"`
	Summary string      `xml:"summary"`
	Link    []arxivLink `xml:"link"`
}

type arxivFeed struct {
	XMLName xml.Name     `xml:"feed"`
	Entry   []arxivEntry `xml:"entry"`
}

func (p *ArxivSearchProvider) Search(ctx context.Context, query string) (SearchResponse, error) {
	maxResults := p.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}

	params := url.Values{}
	params.Add("search_query", query)
	params.Add("max_results", strconv.Itoa(maxResults))
	params.Add("start", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("failed to create arxiv request: %w", err)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return SearchResponse{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return SearchResponse{Success: false, Error: fmt.Sprintf("failed to read arxiv response: %v", err)}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return SearchResponse{Success: false, Error: fmt.Sprintf("arxiv API returned status %s", resp.Status)}, nil
	}

	var feed arxivFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return SearchResponse{Success: false, Error: fmt.Sprintf("failed to parse arxiv feed: %v", err)}, nil
	}

	var results []SearchResultItem
	for _, entry := range feed.Entry {
		pdfLink := ""
		for _, link := range entry.Link {
			if link.Type == "application/pdf" {
				pdfLink = link.Href
				break
			}
		}
		if pdfLink == "" {
			continue
		}
		results = append(results, SearchResultItem{
			URL:         pdfLink,
			Title:       strings.TrimSpace(entry.Title),
			Description: strings.TrimSpace(entry.Summary),
		})
	}

	return SearchResponse{Success: true, Results: results}, nil
}
