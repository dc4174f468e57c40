// Package analytics computes aggregate statistics over the event log:
// stage durations, generation success rates, score distributions, and
// weekly throughput.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// StageDuration holds duration stats for a stage.
type StageDuration struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_minutes"`
	P50   float64 `json:"p50_minutes"`
	P95   float64 `json:"p95_minutes"`
}

// timestamp formats to try when parsing timestamps from the database
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.000",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}

// QueryStageDurations returns average and percentile wall-clock durations per
// stage. Each stage_finished event is paired with the most recent prior
// stage_started event for the same run and stage.
func QueryStageDurations(database DB, since string) ([]StageDuration, error) {
	query := `
		SELECT pe1.run_id, pe1.stage, pe1.timestamp as end_ts,
			(SELECT MAX(pe2.timestamp) FROM pipeline_events pe2
			 WHERE pe2.run_id = pe1.run_id
			 AND pe2.stage = pe1.stage
			 AND pe2.event = 'stage_started'
			 AND pe2.id < pe1.id) as start_ts
		FROM pipeline_events pe1
		WHERE pe1.event = 'stage_finished'
		AND pe1.stage != ''`

	args := []interface{}{}
	if since != "" {
		query += ` AND pe1.timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query stage durations: %w", err)
	}
	defer rows.Close()

	stageDurations := make(map[string][]float64)
	for rows.Next() {
		var runID, stage, endTS string
		var startTS sql.NullString
		if err := rows.Scan(&runID, &stage, &endTS, &startTS); err != nil {
			return nil, fmt.Errorf("scan stage duration: %w", err)
		}
		if !startTS.Valid {
			continue
		}
		start, err := parseTimestamp(startTS.String)
		if err != nil {
			continue
		}
		end, err := parseTimestamp(endTS)
		if err != nil {
			continue
		}
		minutes := end.Sub(start).Minutes()
		if minutes > 0 {
			stageDurations[stage] = append(stageDurations[stage], minutes)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []StageDuration
	for stage, durations := range stageDurations {
		sort.Float64s(durations)
		results = append(results, StageDuration{
			Stage: stage,
			Count: len(durations),
			Avg:   avg(durations),
			P50:   percentile(durations, 50),
			P95:   percentile(durations, 95),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// GenerationRate holds generation attempt stats per stage.
type GenerationRate struct {
	Stage     string  `json:"stage"`
	Attempts  int     `json:"attempts"`
	Succeeded float64 `json:"succeeded_pct"`
	Failed    float64 `json:"failed_pct"`
	RetryPct  float64 `json:"retried_stages_pct"`
}

// QueryGenerationRates returns attempt success rates by stage, plus how often
// stages needed a retry batch.
func QueryGenerationRates(database DB, since string) ([]GenerationRate, error) {
	query := `
		SELECT stage,
			COUNT(*) as total,
			SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END) as succeeded
		FROM generation_attempts
		WHERE 1=1`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY stage`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query generation rates: %w", err)
	}
	defer rows.Close()

	type stageInfo struct {
		total, succeeded int
	}
	stageData := make(map[string]*stageInfo)
	for rows.Next() {
		var stage string
		var total, succeeded int
		if err := rows.Scan(&stage, &total, &succeeded); err != nil {
			return nil, fmt.Errorf("scan generation rate: %w", err)
		}
		stageData[stage] = &stageInfo{total: total, succeeded: succeeded}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Retry frequency from pipeline_events: one stage_retry event per
	// retried stage execution, one stage_started per execution.
	rQuery := `
		SELECT stage,
			SUM(CASE WHEN event = 'stage_started' THEN 1 ELSE 0 END) as started,
			SUM(CASE WHEN event = 'stage_retry' THEN 1 ELSE 0 END) as retried
		FROM pipeline_events
		WHERE event IN ('stage_started', 'stage_retry')
		AND stage != ''`
	rArgs := []interface{}{}
	if since != "" {
		rQuery += ` AND timestamp >= ?`
		rArgs = append(rArgs, since)
	}
	rQuery += ` GROUP BY stage`

	rRows, err := database.Conn().Query(rQuery, rArgs...)
	if err != nil {
		return nil, fmt.Errorf("query retry rates: %w", err)
	}
	defer rRows.Close()

	type retryInfo struct {
		started, retried int
	}
	retries := make(map[string]retryInfo)
	for rRows.Next() {
		var stage string
		var started, retried int
		if err := rRows.Scan(&stage, &started, &retried); err != nil {
			return nil, fmt.Errorf("scan retry rate: %w", err)
		}
		retries[stage] = retryInfo{started: started, retried: retried}
	}
	if err := rRows.Err(); err != nil {
		return nil, err
	}

	var results []GenerationRate
	for stage, info := range stageData {
		ri := retries[stage]
		results = append(results, GenerationRate{
			Stage:     stage,
			Attempts:  info.total,
			Succeeded: pct(info.succeeded, info.total),
			Failed:    pct(info.total-info.succeeded, info.total),
			RetryPct:  pct(ri.retried, max(ri.started, 1)),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// ScoreStats holds composite score distribution for a stage.
type ScoreStats struct {
	Stage string  `json:"stage"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	Best  float64 `json:"best"`
}

// QueryScoreStats returns composite score distributions per stage, computed
// over succeeded attempts only.
func QueryScoreStats(database DB, since string) ([]ScoreStats, error) {
	query := `
		SELECT stage, composite
		FROM generation_attempts
		WHERE status = 'succeeded' AND composite IS NOT NULL`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query score stats: %w", err)
	}
	defer rows.Close()

	stageScores := make(map[string][]float64)
	for rows.Next() {
		var stage string
		var composite float64
		if err := rows.Scan(&stage, &composite); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		stageScores[stage] = append(stageScores[stage], composite)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ScoreStats
	for stage, scores := range stageScores {
		sort.Float64s(scores)
		results = append(results, ScoreStats{
			Stage: stage,
			Count: len(scores),
			Avg:   round2(mean(scores)),
			P50:   round2(rawPercentile(scores, 50)),
			P95:   round2(rawPercentile(scores, 95)),
			Best:  round2(scores[len(scores)-1]),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Stage < results[j].Stage
	})
	return results, nil
}

// Throughput holds run throughput for a time period.
type Throughput struct {
	Period      string  `json:"period"`
	Created     int     `json:"created"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	AvgDuration float64 `json:"avg_duration_hours"`
}

// QueryThroughput returns run metrics grouped by week.
func QueryThroughput(database DB, since string) ([]Throughput, error) {
	query := `
		SELECT
			strftime('%Y-W%W', timestamp) as period,
			SUM(CASE WHEN event = 'created' THEN 1 ELSE 0 END) as created,
			SUM(CASE WHEN event = 'completed' THEN 1 ELSE 0 END) as completed,
			SUM(CASE WHEN event = 'failed' THEN 1 ELSE 0 END) as failed,
			SUM(CASE WHEN event = 'cancelled' THEN 1 ELSE 0 END) as cancelled
		FROM pipeline_events
		WHERE event IN ('created', 'completed', 'failed', 'cancelled')`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY period ORDER BY period DESC LIMIT 10`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query throughput: %w", err)
	}
	defer rows.Close()

	var results []Throughput
	for rows.Next() {
		var t Throughput
		if err := rows.Scan(&t.Period, &t.Created, &t.Completed, &t.Failed, &t.Cancelled); err != nil {
			return nil, fmt.Errorf("scan throughput: %w", err)
		}
		results = append(results, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Avg duration: pair each created with the nearest subsequent completed.
	for i := range results {
		durQuery := `
			SELECT AVG(
				(julianday(
					(SELECT MIN(pe2.timestamp) FROM pipeline_events pe2
					 WHERE pe2.run_id = pe1.run_id AND pe2.event = 'completed'
					 AND pe2.timestamp > pe1.timestamp)
				) - julianday(pe1.timestamp)) * 24
			) as avg_hours
			FROM pipeline_events pe1
			WHERE pe1.event = 'created'
			AND strftime('%Y-W%W',
				(SELECT MIN(pe2.timestamp) FROM pipeline_events pe2
				 WHERE pe2.run_id = pe1.run_id AND pe2.event = 'completed'
				 AND pe2.timestamp > pe1.timestamp)
			) = ?`

		var avgHours sql.NullFloat64
		if err := database.Conn().QueryRow(durQuery, results[i].Period).Scan(&avgHours); err == nil && avgHours.Valid {
			results[i].AvgDuration = math.Round(avgHours.Float64*10) / 10
		}
	}

	return results, nil
}

// RunEvent holds a single event for the run-detail timeline.
type RunEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// QueryRunDetail returns the full timeline for a run: lifecycle events
// interleaved with generation attempts, ordered by timestamp.
func QueryRunDetail(database DB, runID string) ([]RunEvent, error) {
	var results []RunEvent

	peRows, err := database.Conn().Query(
		`SELECT timestamp, event, stage, detail
		 FROM pipeline_events WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pipeline events: %w", err)
	}
	defer peRows.Close()

	for peRows.Next() {
		var e RunEvent
		var stage, detail sql.NullString
		if err := peRows.Scan(&e.Timestamp, &e.Event, &stage, &detail); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		e.Type = "pipeline"
		if stage.Valid {
			e.Stage = stage.String
		}
		if detail.Valid {
			e.Detail = detail.String
		}
		results = append(results, e)
	}
	if err := peRows.Err(); err != nil {
		return nil, err
	}

	gaRows, err := database.Conn().Query(
		`SELECT timestamp, stage, attempt, candidate_id, status, composite, failure
		 FROM generation_attempts WHERE run_id = ? ORDER BY timestamp, id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query generation attempts: %w", err)
	}
	defer gaRows.Close()

	for gaRows.Next() {
		var ts, stage, candidateID, status string
		var attempt int
		var composite sql.NullFloat64
		var failure sql.NullString
		if err := gaRows.Scan(&ts, &stage, &attempt, &candidateID, &status, &composite, &failure); err != nil {
			return nil, fmt.Errorf("scan generation attempt: %w", err)
		}

		detail := fmt.Sprintf("candidate=%s %s", candidateID, status)
		if composite.Valid {
			detail += fmt.Sprintf(" composite=%.3f", composite.Float64)
		}
		if failure.Valid && failure.String != "" {
			detail += " " + failure.String
		}

		results = append(results, RunEvent{
			Timestamp: ts,
			Type:      "generation",
			Event:     status,
			Stage:     stage,
			Attempt:   attempt,
			Detail:    detail,
		})
	}
	if err := gaRows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})

	return results, nil
}

// --- helpers ---

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func avg(values []float64) float64 {
	return math.Round(mean(values)*10) / 10
}

func rawPercentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func percentile(sorted []float64, p int) float64 {
	return math.Round(rawPercentile(sorted, p)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
