package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"

	"github.com/deepresearch-go/orchestrator/pkg/config"
	"github.com/deepresearch-go/orchestrator/pkg/database"
	"github.com/deepresearch-go/orchestrator/pkg/deepresearch"
)

// DeepResearchService runs the Research Loop as a background job and
// persists only its terminal Result, mirroring Service's job model but
// without the intermediate state snapshots research_jobs carries — the
// orchestrator's own Event Sink is the record of what happened mid-run, via
// deep_research_logs.
type DeepResearchService struct {
	DB     *database.PostgresDB
	Config *config.Config
	LLM    llms.Model
}

func NewDeepResearchService(db *database.PostgresDB, cfg *config.Config, llm llms.Model) *DeepResearchService {
	return &DeepResearchService{DB: db, Config: cfg, LLM: llm}
}

type DeepResearchJob struct {
	ID        uuid.UUID         `json:"id"`
	Topic     string            `json:"topic"`
	Status    string            `json:"status"`
	MaxDepth  int               `json:"max_depth"`
	Analysis  *string           `json:"analysis,omitempty"`
	Findings  []deepresearch.Finding `json:"findings,omitempty"`
	Error     *string           `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type CreateDeepResearchJobRequest struct {
	Topic    string `json:"topic"`
	MaxDepth int    `json:"maxDepth"`
}

func (s *DeepResearchService) newLoop() *deepresearch.Loop {
	cfg := deepresearch.DefaultConfig()
	cfg.ReasoningModel = s.Config.ReasoningModel
	cfg.BypassJSONValidation = s.Config.BypassJSONValidation
	if s.Config.DeepResearchMaxDepth > 0 {
		cfg.MaxDepth = s.Config.DeepResearchMaxDepth
	}
	if s.Config.DeepResearchTimeLimit > 0 {
		cfg.TimeLimit = s.Config.DeepResearchTimeLimit
	}
	if s.Config.DeepResearchMaxFailedAttempts > 0 {
		cfg.MaxFailedAttempts = s.Config.DeepResearchMaxFailedAttempts
	}

	search := deepresearch.NewSearchManager(
		deepresearch.NewFirecrawlSearchProvider(s.Config.FirecrawlApiKey),
		deepresearch.NewArxivSearchProvider(),
	)
	extract := deepresearch.NewFirecrawlExtractClient(s.Config.FirecrawlApiKey)
	planner := deepresearch.NewLLMPlanner(s.LLM, cfg.BypassJSONValidation)
	synth := deepresearch.NewLLMSynthesizer(s.LLM)

	return deepresearch.NewLoop(cfg, search, extract, planner, synth, slog.Default())
}

func (s *DeepResearchService) CreateJob(ctx context.Context, req CreateDeepResearchJobRequest) (*DeepResearchJob, error) {
	maxDepth := req.MaxDepth
	if maxDepth <= 0 {
		maxDepth = s.Config.DeepResearchMaxDepth
		if maxDepth <= 0 {
			maxDepth = deepresearch.DefaultConfig().MaxDepth
		}
	}

	jobID := uuid.New()
	query := `
		INSERT INTO deep_research_jobs (id, topic, status, max_depth)
		VALUES ($1, $2, 'pending', $3)
		RETURNING id, topic, status, max_depth, created_at, updated_at
	`
	job := &DeepResearchJob{}
	err := s.DB.Pool.QueryRow(ctx, query, jobID, req.Topic, maxDepth).Scan(
		&job.ID, &job.Topic, &job.Status, &job.MaxDepth, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deep research job: %w", err)
	}

	go s.runWorker(job.ID, req.Topic, maxDepth)

	return job, nil
}

func (s *DeepResearchService) runWorker(jobID uuid.UUID, topic string, maxDepth int) {
	ctx := context.Background()
	if s.Config.DeepResearchHardDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.DeepResearchHardDeadline)
		defer cancel()
	}

	dbLogger := slog.New(NewDeepResearchLogHandler(s.DB, jobID))

	_, _ = s.DB.Pool.Exec(context.Background(), "UPDATE deep_research_jobs SET status = 'running', updated_at = NOW() WHERE id = $1", jobID)

	loop := s.newLoop()
	sink, resultCh := loop.Run(ctx, deepresearch.Request{Topic: topic, MaxDepth: &maxDepth})

	for event := range sink.Events() {
		if event.Type == deepresearch.EventActivityDelta {
			level := slog.LevelInfo
			if event.ActivityDelta.Status == deepresearch.StatusError {
				level = slog.LevelError
			}
			dbLogger.Log(context.Background(), level, event.ActivityDelta.Message,
				"kind", event.ActivityDelta.Type, "depth", event.ActivityDelta.Depth)
		}
	}
	if sink.Elided() {
		dbLogger.Warn("some progress events were dropped; the log is not a complete transcript")
	}

	result := <-resultCh
	if !result.Success {
		dbLogger.Error("deep research failed", "error", result.Error)
		_, _ = s.DB.Pool.Exec(context.Background(),
			"UPDATE deep_research_jobs SET status = 'failed', error = $2, updated_at = NOW() WHERE id = $1",
			jobID, result.Error)
		return
	}

	findingsJSON, err := json.Marshal(result.Findings)
	if err != nil {
		dbLogger.Error("failed to marshal findings", "error", err)
		findingsJSON = []byte("[]")
	}

	_, err = s.DB.Pool.Exec(context.Background(),
		"UPDATE deep_research_jobs SET status = 'completed', analysis = $2, findings = $3, updated_at = NOW() WHERE id = $1",
		jobID, result.Analysis, findingsJSON)
	if err != nil {
		dbLogger.Error("failed to save deep research result", "error", err)
	}
}

func (s *DeepResearchService) GetJob(ctx context.Context, id uuid.UUID) (*DeepResearchJob, error) {
	query := `
		SELECT id, topic, status, max_depth, analysis, findings, error, created_at, updated_at
		FROM deep_research_jobs
		WHERE id = $1
	`
	job := &DeepResearchJob{}
	var findingsJSON []byte
	err := s.DB.Pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.Topic, &job.Status, &job.MaxDepth, &job.Analysis, &findingsJSON, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get deep research job: %w", err)
	}
	if len(findingsJSON) > 0 {
		_ = json.Unmarshal(findingsJSON, &job.Findings)
	}
	return job, nil
}

func (s *DeepResearchService) ListJobs(ctx context.Context) ([]DeepResearchJob, error) {
	query := `
		SELECT id, topic, status, max_depth, analysis, error, created_at, updated_at
		FROM deep_research_jobs
		ORDER BY created_at DESC
		LIMIT 50
	`
	rows, err := s.DB.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deep research jobs: %w", err)
	}
	defer rows.Close()

	var jobs []DeepResearchJob
	for rows.Next() {
		var job DeepResearchJob
		if err := rows.Scan(&job.ID, &job.Topic, &job.Status, &job.MaxDepth, &job.Analysis, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *DeepResearchService) GetJobLogs(ctx context.Context, jobID uuid.UUID) ([]LogEntry, error) {
	query := `
		SELECT id, timestamp, level, message, metadata
		FROM deep_research_logs
		WHERE job_id = $1
		ORDER BY id ASC
	`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deep research logs: %w", err)
	}
	defer rows.Close()

	var logs []LogEntry
	for rows.Next() {
		var l LogEntry
		if err := rows.Scan(&l.ID, &l.Timestamp, &l.Level, &l.Message, &l.Metadata); err != nil {
			continue
		}
		logs = append(logs, l)
	}
	return logs, nil
}

// StreamJob runs a Research Loop invocation synchronously with the caller,
// returning its Sink for direct SSE relay instead of going through job
// persistence. Used by the streaming endpoint; CreateJob/runWorker is used
// by the polling endpoints.
func (s *DeepResearchService) StreamJob(ctx context.Context, req deepresearch.Request) (*deepresearch.Sink, <-chan deepresearch.Result) {
	loop := s.newLoop()
	return loop.Run(ctx, req)
}
