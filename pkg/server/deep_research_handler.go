package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/deepresearch-go/orchestrator/pkg/deepresearch"
)

// DeepResearchHandler exposes the deep research orchestrator over HTTP: a
// polling job API matching Handler's legacy /api/research routes, plus a
// streaming endpoint that relays the Event Sink directly as SSE using the
// exact write/flush pattern Handler.sendMessage uses for chat.
type DeepResearchHandler struct {
	Service *DeepResearchService
}

func NewDeepResearchHandler(s *DeepResearchService) *DeepResearchHandler {
	return &DeepResearchHandler{Service: s}
}

func (h *DeepResearchHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/deep-research", h.createJob)
	api.GET("/deep-research", h.listJobs)
	api.GET("/deep-research/:id", h.getJob)
	api.GET("/deep-research/:id/logs", h.getJobLogs)
	api.GET("/deep-research/stream", h.streamJob)
}

func (h *DeepResearchHandler) createJob(c *gin.Context) {
	var req CreateDeepResearchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}

	job, err := h.Service.CreateJob(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, job)
}

func (h *DeepResearchHandler) listJobs(c *gin.Context) {
	jobs, err := h.Service.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []DeepResearchJob{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *DeepResearchHandler) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *DeepResearchHandler) getJobLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}

	logs, err := h.Service.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

// streamJob runs a Research Loop invocation live for this request and
// streams every event as it's emitted; the run is not persisted as a job.
func (h *DeepResearchHandler) streamJob(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic query parameter is required"})
		return
	}

	req := deepresearch.Request{Topic: topic}

	sink, resultCh := h.Service.StreamJob(c.Request.Context(), req)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Transfer-Encoding", "chunked")

	for event := range sink.Events() {
		data, err := json.Marshal(event.Wire())
		if err != nil {
			continue
		}
		_, _ = c.Writer.Write([]byte("data: "))
		_, _ = c.Writer.Write(data)
		_, _ = c.Writer.Write([]byte("\n\n"))
		c.Writer.Flush()
	}

	// Drain the terminal Result so the loop's goroutine always completes,
	// even though its payload already went out as the finish event.
	<-resultCh
}
