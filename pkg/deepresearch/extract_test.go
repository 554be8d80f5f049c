package deepresearch

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizeExtractData(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    []string
		wantErr bool
	}{
		{
			name: "array of records picks known text field",
			raw:  `[{"text":"a"},{"markdown":"b"},{"content":"c"}]`,
			want: []string{"a", "b", "c"},
		},
		{
			name: "single record",
			raw:  `{"summary":"only one"}`,
			want: []string{"only one"},
		},
		{
			name: "null data",
			raw:  `null`,
			want: nil,
		},
		{
			name:    "neither object nor array",
			raw:     `"just a string"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeExtractData(json.RawMessage(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractTextField_FallsBackToWholeRecord(t *testing.T) {
	record := map[string]interface{}{"unrecognized": "value"}
	got := extractTextField(record)

	var back map[string]interface{}
	if err := json.Unmarshal([]byte(got), &back); err != nil {
		t.Fatalf("fallback output is not valid JSON: %v", err)
	}
	if back["unrecognized"] != "value" {
		t.Fatalf("fallback dropped data: %v", back)
	}
}

func TestFirecrawlExtractClient_DefaultBaseURLAndPDFSuffix(t *testing.T) {
	c := NewFirecrawlExtractClient("test-key")
	if c.BaseURL != "https://api.firecrawl.dev/v1/extract" {
		t.Fatalf("unexpected default base URL: %s", c.BaseURL)
	}
	// extractPDF itself makes a real OCR call, so Extract is not called here;
	// the test re-states the case-insensitive suffix expression Extract
	// routes on and checks it against an upper-case extension.
	upperCasePDF := "https://example.com/paper.PDF"
	if !strings.HasSuffix(strings.ToLower(upperCasePDF), ".pdf") {
		t.Fatalf("expected case-insensitive .pdf suffix match for %s", upperCasePDF)
	}
}
