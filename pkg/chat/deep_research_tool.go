package chat

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"

	"github.com/deepresearch-go/orchestrator/pkg/clients"
	"github.com/deepresearch-go/orchestrator/pkg/config"
	"github.com/deepresearch-go/orchestrator/pkg/database"
	"github.com/deepresearch-go/orchestrator/pkg/deepresearch"
	"github.com/deepresearch-go/orchestrator/pkg/embeddings"
	"github.com/deepresearch-go/orchestrator/pkg/vectorstore"
)

// DeepResearchToolset exposes the Research Loop as a chat tool: the agent
// hands it a topic, waits for the run to finish, and gets back the final
// analysis plus a source list, in the same request/response shape as
// RagToolset's tools. Progress events are drained and logged, not streamed,
// since ADK function tools are request/response, not SSE.
type DeepResearchToolset struct {
	DB       *database.PostgresDB
	Embedder *embeddings.GoogleEmbedder
	config   *config.Config
}

func NewDeepResearchToolset(db *database.PostgresDB, embedder *embeddings.GoogleEmbedder, cfg *config.Config) *DeepResearchToolset {
	return &DeepResearchToolset{DB: db, Embedder: embedder, config: cfg}
}

func (t *DeepResearchToolset) Name() string {
	return "deep_research_tools"
}

func (t *DeepResearchToolset) Tools(ctx agent.ReadonlyContext) ([]tool.Tool, error) {
	researchTool, err := functiontool.New[DeepResearchArgs, DeepResearchResp](
		functiontool.Config{
			Name:        "deep_research",
			Description: "Run an in-depth, multi-step web research investigation on a topic and return a synthesized answer with sources. Slower than search_content; use it when the existing database lacks an answer.",
		},
		t.deepResearchTool,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deep_research tool: %w", err)
	}
	return []tool.Tool{researchTool}, nil
}

type DeepResearchArgs struct {
	Topic    string `json:"topic" description:"The research question or topic to investigate"`
	MaxDepth int    `json:"maxDepth,omitempty" description:"Optional cap on iteration depth (default from server configuration)"`
}

type DeepResearchResp struct {
	Analysis string   `json:"analysis"`
	Sources  []string `json:"sources"`
}

func (t *DeepResearchToolset) deepResearchTool(ctx tool.Context, args DeepResearchArgs) (DeepResearchResp, error) {
	return t.RunDeepResearch(ctx, args)
}

func (t *DeepResearchToolset) RunDeepResearch(ctx context.Context, args DeepResearchArgs) (DeepResearchResp, error) {
	llm, err := clients.GoogleAi(clients.ModelType(t.config.ReasoningModel))
	if err != nil {
		llm, err = clients.GoogleAi(clients.ProModel)
	}
	if err != nil {
		return DeepResearchResp{}, fmt.Errorf("failed to build reasoning model client: %w", err)
	}

	cfg := deepresearch.DefaultConfig()
	cfg.ReasoningModel = t.config.ReasoningModel
	cfg.BypassJSONValidation = t.config.BypassJSONValidation
	if t.config.DeepResearchMaxDepth > 0 {
		cfg.MaxDepth = t.config.DeepResearchMaxDepth
	}
	if t.config.DeepResearchTimeLimit > 0 {
		cfg.TimeLimit = t.config.DeepResearchTimeLimit
	}
	if t.config.DeepResearchMaxFailedAttempts > 0 {
		cfg.MaxFailedAttempts = t.config.DeepResearchMaxFailedAttempts
	}

	search := deepresearch.NewSearchManager(
		deepresearch.NewFirecrawlSearchProvider(t.config.FirecrawlApiKey),
		deepresearch.NewArxivSearchProvider(),
	)
	extract := deepresearch.NewFirecrawlExtractClient(t.config.FirecrawlApiKey)
	planner := deepresearch.NewLLMPlanner(llm, cfg.BypassJSONValidation)
	synth := deepresearch.NewLLMSynthesizer(llm)

	loop := deepresearch.NewLoop(cfg, search, extract, planner, synth, slog.Default())

	var maxDepth *int
	if args.MaxDepth > 0 {
		maxDepth = &args.MaxDepth
	}
	req := deepresearch.Request{Topic: args.Topic, MaxDepth: maxDepth}
	sink, resultCh := loop.Run(ctx, req)

	var sources []string
	seen := map[string]bool{}
	for event := range sink.Events() {
		if event.Type == deepresearch.EventSourceDelta && !seen[event.SourceDelta.URL] {
			seen[event.SourceDelta.URL] = true
			sources = append(sources, event.SourceDelta.URL)
		}
		if event.Type == deepresearch.EventActivityDelta {
			slog.Debug("deep research activity", "kind", event.ActivityDelta.Type, "status", event.ActivityDelta.Status, "message", event.ActivityDelta.Message)
		}
	}

	result := <-resultCh
	if !result.Success {
		return DeepResearchResp{}, fmt.Errorf("deep research failed: %s", result.Error)
	}

	t.indexFindings(ctx, args.Topic, result.Findings)

	return DeepResearchResp{Analysis: result.Analysis, Sources: sources}, nil
}

// indexFindings persists the run's findings into the shared vector store so
// future search_content calls can retrieve them without re-running research.
// Failures here are logged, not returned: the caller already has their
// answer, and a failed indexing pass shouldn't fail the tool call.
func (t *DeepResearchToolset) indexFindings(ctx context.Context, topic string, findings []deepresearch.Finding) {
	if t.DB == nil || t.Embedder == nil || len(findings) == 0 {
		return
	}

	store, err := vectorstore.NewPGVectorStore(t.DB.Pool, t.config.CollectionName)
	if err != nil {
		slog.Error("deep research: invalid collection for indexing", "error", err)
		return
	}

	docs := make([]vectorstore.Document, 0, len(findings))
	for _, f := range findings {
		embedding, err := t.Embedder.EmbedText(ctx, f.Text)
		if err != nil {
			slog.Error("deep research: failed to embed finding", "source", f.Source, "error", err)
			continue
		}
		docs = append(docs, vectorstore.Document{
			Content:   f.Text,
			Metadata:  map[string]interface{}{"source": f.Source, "topic": topic, "origin": "deep_research"},
			Embedding: embedding,
		})
	}

	if len(docs) == 0 {
		return
	}
	if err := store.AddDocuments(ctx, docs); err != nil {
		slog.Error("deep research: failed to index findings", "error", err)
	}
}
