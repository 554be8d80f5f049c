package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deepresearch-go/orchestrator/pkg/clients"
	"github.com/deepresearch-go/orchestrator/pkg/config"
	"github.com/deepresearch-go/orchestrator/pkg/deepresearch"
)

// deepResearchArgs/deepResearchResult mirror pkg/chat's function-tool shape,
// but exposed over stdio as an MCP tool so a non-ADK MCP client (an editor,
// another agent runtime) can drive the orchestrator directly.
type deepResearchArgs struct {
	Topic    string `json:"topic" jsonschema:"the research question or topic to investigate"`
	MaxDepth int    `json:"maxDepth,omitempty" jsonschema:"optional cap on iteration depth"`
}

type deepResearchResult struct {
	Analysis string   `json:"analysis"`
	Sources  []string `json:"sources"`
}

func main() {
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	if err := godotenv.Load(); err != nil {
		// no .env file is fine, env vars may already be set
	}
	cfg := config.Load()

	server := mcp.NewServer(&mcp.Implementation{Name: "deep-research", Version: "0.1.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "deep_research",
		Description: "Run an in-depth, multi-step web research investigation on a topic and return a synthesized answer with sources.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args deepResearchArgs) (*mcp.CallToolResult, deepResearchResult, error) {
		out, err := runDeepResearch(ctx, cfg, args)
		if err != nil {
			return nil, deepResearchResult{}, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: out.Analysis}},
		}, out, nil
	})

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		slog.Error("mcp server exited", "error", err)
		os.Exit(1)
	}
}

// runDeepResearch wires the same production collaborators as the chat tool
// and the CLI's deep-research subcommand: one Loop invocation, drained to
// completion, since MCP tool calls are request/response like ADK's.
func runDeepResearch(ctx context.Context, cfg *config.Config, args deepResearchArgs) (deepResearchResult, error) {
	llm, err := clients.GoogleAi(clients.ModelType(cfg.ReasoningModel))
	if err != nil {
		llm, err = clients.GoogleAi(clients.ProModel)
	}
	if err != nil {
		return deepResearchResult{}, fmt.Errorf("failed to build reasoning model client: %w", err)
	}

	drCfg := deepresearch.DefaultConfig()
	drCfg.ReasoningModel = cfg.ReasoningModel
	drCfg.BypassJSONValidation = cfg.BypassJSONValidation
	if cfg.DeepResearchMaxDepth > 0 {
		drCfg.MaxDepth = cfg.DeepResearchMaxDepth
	}
	if cfg.DeepResearchTimeLimit > 0 {
		drCfg.TimeLimit = cfg.DeepResearchTimeLimit
	}
	if cfg.DeepResearchMaxFailedAttempts > 0 {
		drCfg.MaxFailedAttempts = cfg.DeepResearchMaxFailedAttempts
	}

	search := deepresearch.NewSearchManager(
		deepresearch.NewFirecrawlSearchProvider(cfg.FirecrawlApiKey),
		deepresearch.NewArxivSearchProvider(),
	)
	extract := deepresearch.NewFirecrawlExtractClient(cfg.FirecrawlApiKey)
	planner := deepresearch.NewLLMPlanner(llm, drCfg.BypassJSONValidation)
	synth := deepresearch.NewLLMSynthesizer(llm)

	loop := deepresearch.NewLoop(drCfg, search, extract, planner, synth, slog.Default())

	runCtx := ctx
	var cancel context.CancelFunc
	if cfg.DeepResearchHardDeadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, cfg.DeepResearchHardDeadline)
		defer cancel()
	}

	var maxDepth *int
	if args.MaxDepth > 0 {
		maxDepth = &args.MaxDepth
	}
	sink, resultCh := loop.Run(runCtx, deepresearch.Request{Topic: args.Topic, MaxDepth: maxDepth})

	var sources []string
	seen := map[string]bool{}
	for event := range sink.Events() {
		if event.Type == deepresearch.EventSourceDelta && !seen[event.SourceDelta.URL] {
			seen[event.SourceDelta.URL] = true
			sources = append(sources, event.SourceDelta.URL)
		}
	}

	result := <-resultCh
	if !result.Success {
		return deepResearchResult{}, fmt.Errorf("deep research failed: %s", result.Error)
	}
	return deepResearchResult{Analysis: result.Analysis, Sources: sources}, nil
}
