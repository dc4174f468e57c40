package web

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/analytics"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
)

// RunSummary is the list-view shape: the run record without per-candidate
// detail.
type RunSummary struct {
	ID            string  `json:"id"`
	SeedPrompt    string  `json:"seed_prompt"`
	Status        string  `json:"status"`
	CurrentStage  string  `json:"current_stage,omitempty"`
	Stages        int     `json:"stages"`
	StagesDone    int     `json:"stages_done"`
	FinalArtifact string  `json:"final_artifact,omitempty"`
	FinalScore    float64 `json:"final_score,omitempty"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

// RunDetail is the detail-view shape: run record plus every persisted
// stage result.
type RunDetail struct {
	Run    *pipeline.Run          `json:"run"`
	Stages []pipeline.StageResult `json:"stages"`
}

// GET /api/runs?status=running
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	runs, err := s.store.List(r.URL.Query().Get("status"))
	if err != nil {
		s.serverError(w, "list runs", err)
		return
	}

	summaries := make([]RunSummary, 0, len(runs))
	for i := range runs {
		summaries = append(summaries, summarize(&runs[i]))
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GET /api/runs/{id}
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	run, err := s.store.Get(runID)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	results, err := s.store.StageResults(runID)
	if err != nil {
		s.serverError(w, "load stage results", err)
		return
	}
	writeJSON(w, http.StatusOK, RunDetail{Run: run, Stages: results})
}

// GET /api/runs/{id}/stages/{stage}
func (s *Server) handleStageDetail(w http.ResponseWriter, r *http.Request, runID, stage string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	result, err := s.store.GetStageResult(runID, stage)
	if err != nil {
		if os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		s.serverError(w, "load stage result", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /api/runs/{id}/events
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.Get(runID); err != nil {
		http.NotFound(w, r)
		return
	}
	events, err := analytics.QueryRunDetail(s.db, runID)
	if err != nil {
		s.serverError(w, "query run events", err)
		return
	}
	if events == nil {
		events = []analytics.RunEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// GET /api/analytics?since=2026-01-01
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	since := r.URL.Query().Get("since")

	durations, err := analytics.QueryStageDurations(s.db, since)
	if err != nil {
		s.serverError(w, "query stage durations", err)
		return
	}
	rates, err := analytics.QueryGenerationRates(s.db, since)
	if err != nil {
		s.serverError(w, "query generation rates", err)
		return
	}
	scores, err := analytics.QueryScoreStats(s.db, since)
	if err != nil {
		s.serverError(w, "query score stats", err)
		return
	}
	throughput, err := analytics.QueryThroughput(s.db, since)
	if err != nil {
		s.serverError(w, "query throughput", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stage_durations":  durations,
		"generation_rates": rates,
		"score_stats":      scores,
		"throughput":       throughput,
	})
}

func summarize(run *pipeline.Run) RunSummary {
	return RunSummary{
		ID:            run.ID,
		SeedPrompt:    run.SeedPrompt,
		Status:        run.Status,
		CurrentStage:  run.CurrentStage,
		Stages:        len(run.StageOrder),
		StagesDone:    len(run.StageHistory),
		FinalArtifact: run.FinalArtifact,
		FinalScore:    run.FinalScore,
		CreatedAt:     run.CreatedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) serverError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("Request failed", "op", op, "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
