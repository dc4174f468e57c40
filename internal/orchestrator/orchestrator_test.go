package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/config"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/pipeline"
	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/stage"
)

type stageCall struct {
	stage  string
	inputs stage.Inputs
}

// fakeController persists a scripted result per stage, like the real
// controller does, so later stages can resolve their needs from the store.
type fakeController struct {
	store   *pipeline.Store
	results map[string]*pipeline.StageResult
	errs    map[string]error
	calls   []stageCall
}

func (f *fakeController) Run(ctx context.Context, runID string, spec config.Stage, inputs stage.Inputs) (*pipeline.StageResult, error) {
	f.calls = append(f.calls, stageCall{stage: spec.Kind, inputs: inputs})
	if err := f.errs[spec.Kind]; err != nil {
		return nil, err
	}
	result := f.results[spec.Kind]
	if result == nil {
		return nil, errors.New("unscripted stage: " + spec.Kind)
	}
	if err := f.store.SaveStageResult(runID, result); err != nil {
		return nil, err
	}
	return result, nil
}

type fakeAssembler struct {
	ref   string
	score float64
	err   error
	refs  []string
	calls int
}

func (f *fakeAssembler) Assemble(ctx context.Context, runID, seedPrompt string, refs []string) (string, float64, error) {
	f.calls++
	f.refs = refs
	if f.err != nil {
		return "", 0, f.err
	}
	return f.ref, f.score, nil
}

type fakeEvents struct {
	events []string
}

func (f *fakeEvents) LogPipelineEvent(runID, event, stage, detail string) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEvents) has(event string) bool {
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

func twoStageConfig() *config.PipelineConfig {
	return &config.PipelineConfig{Pipeline: config.Pipeline{
		Name: "test",
		Stages: []config.Stage{
			{Kind: "keyframe", Artifact: "image", Candidates: 2, Template: "keyframe.md"},
			{Kind: "clip", Artifact: "video", Candidates: 2, Template: "clip.md",
				Needs: []string{"keyframe.artifact", "keyframe.prompt"}},
		},
	}}
}

func succeededResult(runID, stageKind, ref, finalPrompt string, composite float64) *pipeline.StageResult {
	return &pipeline.StageResult{
		RunID:       runID,
		Stage:       stageKind,
		Status:      pipeline.StageSucceeded,
		FinalPrompt: finalPrompt,
		Winner:      0,
		Candidates: []pipeline.Candidate{
			{ID: stageKind + "-c1", Stage: stageKind, AttemptIndex: 1,
				Status: pipeline.CandidateSucceeded, ArtifactRef: ref, Composite: composite},
		},
	}
}

type fixture struct {
	orch       *Orchestrator
	store      *pipeline.Store
	controller *fakeController
	assembler  *fakeAssembler
	events     *fakeEvents
}

func newFixture(t *testing.T, cfg *config.PipelineConfig) *fixture {
	t.Helper()
	store := pipeline.NewStore(t.TempDir())
	controller := &fakeController{
		store:   store,
		results: map[string]*pipeline.StageResult{},
		errs:    map[string]error{},
	}
	assembler := &fakeAssembler{ref: "final.mp4", score: 0.82}
	events := &fakeEvents{}
	return &fixture{
		orch:       New(store, events, controller, assembler, cfg, nil),
		store:      store,
		controller: controller,
		assembler:  assembler,
		events:     events,
	}
}

func (fx *fixture) createRun(t *testing.T) *pipeline.Run {
	t.Helper()
	run, err := fx.orch.Create("a glossy soda can")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return run
}

func TestCreate(t *testing.T) {
	fx := newFixture(t, twoStageConfig())

	run := fx.createRun(t)
	if run.Status != pipeline.StatusPending {
		t.Errorf("status = %q, want pending", run.Status)
	}
	if run.SeedPrompt != "a glossy soda can" {
		t.Errorf("seed prompt = %q", run.SeedPrompt)
	}
	if len(run.StageOrder) != 2 || run.StageOrder[0] != "keyframe" || run.StageOrder[1] != "clip" {
		t.Errorf("stage order = %v", run.StageOrder)
	}
	if !fx.events.has("created") {
		t.Errorf("no created event: %v", fx.events.events)
	}

	if _, err := fx.orch.Create(""); err == nil {
		t.Error("expected error for empty seed prompt")
	}
}

func TestRunHappyPath(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	fx.controller.results["keyframe"] = succeededResult(run.ID, "keyframe", "img://kf", "keyframe final prompt", 0.8)
	fx.controller.results["clip"] = succeededResult(run.ID, "clip", "vid://clip", "clip final prompt", 0.7)

	got, err := fx.orch.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.FinalArtifact != "final.mp4" || got.FinalScore != 0.82 {
		t.Errorf("final = %q/%v", got.FinalArtifact, got.FinalScore)
	}
	if got.CurrentStage != "" {
		t.Errorf("current stage = %q, want cleared", got.CurrentStage)
	}
	if len(got.StageHistory) != 2 {
		t.Fatalf("stage history = %d entries, want 2", len(got.StageHistory))
	}
	if got.StageHistory[1].Winner != "clip-c1" {
		t.Errorf("history winner = %q", got.StageHistory[1].Winner)
	}

	// Stages ran in declared order.
	if len(fx.controller.calls) != 2 || fx.controller.calls[0].stage != "keyframe" || fx.controller.calls[1].stage != "clip" {
		t.Fatalf("calls = %+v", fx.controller.calls)
	}

	// The clip stage received the keyframe winner through its needs.
	clipInputs := fx.controller.calls[1].inputs
	if clipInputs.Reference != "img://kf" {
		t.Errorf("clip reference = %q, want the keyframe artifact", clipInputs.Reference)
	}
	if clipInputs.SeedVars["previous_prompt"] != "keyframe final prompt" {
		t.Errorf("previous_prompt = %q", clipInputs.SeedVars["previous_prompt"])
	}
	if clipInputs.EnhancerContext != "keyframe final prompt" {
		t.Errorf("enhancer context = %q", clipInputs.EnhancerContext)
	}
	if clipInputs.SeedVars["seed_prompt"] != "a glossy soda can" {
		t.Errorf("seed_prompt = %q", clipInputs.SeedVars["seed_prompt"])
	}

	// Only the video stage's winner reached assembly.
	if len(fx.assembler.refs) != 1 || fx.assembler.refs[0] != "vid://clip" {
		t.Errorf("assembly refs = %v", fx.assembler.refs)
	}

	for _, e := range []string{"started", "completed"} {
		if !fx.events.has(e) {
			t.Errorf("missing %s event: %v", e, fx.events.events)
		}
	}
}

func TestRunTerminalShortCircuit(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)
	if err := fx.store.Update(run.ID, func(r *pipeline.Run) {
		r.Status = pipeline.StatusCompleted
	}); err != nil {
		t.Fatal(err)
	}

	got, err := fx.orch.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != pipeline.StatusCompleted {
		t.Errorf("status = %q", got.Status)
	}
	if len(fx.controller.calls) != 0 {
		t.Errorf("controller called %d times for a terminal run", len(fx.controller.calls))
	}
}

func TestRunResumesSkippingDoneStages(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	// Simulate a crash after the keyframe stage persisted its result.
	done := succeededResult(run.ID, "keyframe", "img://kf", "keyframe final prompt", 0.8)
	if err := fx.store.SaveStageResult(run.ID, done); err != nil {
		t.Fatal(err)
	}
	fx.controller.results["clip"] = succeededResult(run.ID, "clip", "vid://clip", "clip prompt", 0.7)

	got, err := fx.orch.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != pipeline.StatusCompleted {
		t.Fatalf("status = %q", got.Status)
	}
	if len(fx.controller.calls) != 1 || fx.controller.calls[0].stage != "clip" {
		t.Fatalf("calls = %+v, want clip only", fx.controller.calls)
	}
	// The resumed clip stage still sees the persisted keyframe winner.
	if fx.controller.calls[0].inputs.Reference != "img://kf" {
		t.Errorf("clip reference = %q", fx.controller.calls[0].inputs.Reference)
	}
}

func TestRunDependencyMissing(t *testing.T) {
	cfg := &config.PipelineConfig{Pipeline: config.Pipeline{
		Name: "test",
		Stages: []config.Stage{
			{Kind: "clip", Artifact: "video", Candidates: 2, Template: "clip.md",
				Needs: []string{"storyboard.artifact"}},
		},
	}}
	fx := newFixture(t, cfg)
	run := fx.createRun(t)

	got, err := fx.orch.Run(context.Background(), run.ID)
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Code != CodeDependencyMissing {
		t.Errorf("code = %q, want %q", rerr.Code, CodeDependencyMissing)
	}
	if rerr.Stage != "clip" {
		t.Errorf("stage = %q", rerr.Stage)
	}
	if got.Status != pipeline.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.FailureStage != "clip" {
		t.Errorf("failure stage = %q", got.FailureStage)
	}
	if len(fx.controller.calls) != 0 {
		t.Errorf("controller ran despite missing dependency")
	}
	if !fx.events.has("failed") {
		t.Errorf("no failed event: %v", fx.events.events)
	}
}

func TestRunBatchExhausted(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	fx.controller.results["keyframe"] = &pipeline.StageResult{
		RunID:         run.ID,
		Stage:         "keyframe",
		Status:        pipeline.StageFailed,
		Winner:        -1,
		FailureReason: "no viable candidate after 4 attempts",
	}

	got, err := fx.orch.Run(context.Background(), run.ID)
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Code != CodeBatchExhausted {
		t.Errorf("code = %q, want %q", rerr.Code, CodeBatchExhausted)
	}
	if got.Status != pipeline.StatusFailed {
		t.Errorf("status = %q", got.Status)
	}
	if !strings.Contains(got.FailureReason, "no viable candidate") {
		t.Errorf("failure reason = %q", got.FailureReason)
	}
	// The pipeline stopped at the failed stage.
	if len(fx.controller.calls) != 1 {
		t.Errorf("calls = %+v", fx.controller.calls)
	}
	if fx.assembler.calls != 0 {
		t.Error("assembly ran after a failed stage")
	}
}

func TestRunBelowThresholdCompletesPartially(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	weak := succeededResult(run.ID, "keyframe", "img://kf", "kf prompt", 0.4)
	weak.Status = pipeline.StageBelowThreshold
	fx.controller.results["keyframe"] = weak
	fx.controller.results["clip"] = succeededResult(run.ID, "clip", "vid://clip", "clip prompt", 0.7)

	got, err := fx.orch.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != pipeline.StatusPartiallyFailed {
		t.Errorf("status = %q, want partially_failed", got.Status)
	}
	// A below-threshold stage still feeds its winner downstream.
	if len(fx.controller.calls) != 2 {
		t.Fatalf("calls = %+v", fx.controller.calls)
	}
	if got.FinalArtifact != "final.mp4" {
		t.Errorf("final artifact = %q", got.FinalArtifact)
	}
}

func TestCancelBeforeNextStage(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	if err := fx.orch.Cancel(run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	got, err := fx.orch.Run(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != pipeline.StatusCancelled {
		t.Errorf("status = %q, want cancelled", got.Status)
	}
	if len(fx.controller.calls) != 0 {
		t.Errorf("controller ran after cancellation was requested")
	}
	if !fx.events.has("cancel_requested") || !fx.events.has("cancelled") {
		t.Errorf("events = %v", fx.events.events)
	}

	// A terminal run cannot be cancelled again.
	if err := fx.orch.Cancel(run.ID); err == nil {
		t.Error("expected error cancelling a terminal run")
	}
}

func TestRunAssemblyFailure(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	fx.controller.results["keyframe"] = succeededResult(run.ID, "keyframe", "img://kf", "kf prompt", 0.8)
	fx.controller.results["clip"] = succeededResult(run.ID, "clip", "vid://clip", "clip prompt", 0.7)
	fx.assembler.err = errors.New("ffmpeg exited 1")

	got, err := fx.orch.Run(context.Background(), run.ID)
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Code != CodeAssembly {
		t.Errorf("code = %q, want %q", rerr.Code, CodeAssembly)
	}
	if got.Status != pipeline.StatusFailed {
		t.Errorf("status = %q", got.Status)
	}
}

func TestRunControllerError(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	fx.controller.errs["keyframe"] = errors.New("disk full")

	got, err := fx.orch.Run(context.Background(), run.ID)
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Code != CodePersistence {
		t.Errorf("code = %q, want %q", rerr.Code, CodePersistence)
	}
	if got.Status != pipeline.StatusFailed {
		t.Errorf("status = %q", got.Status)
	}
}

func TestRunStageDefinitionError(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	fx.controller.errs["keyframe"] = fmt.Errorf("%w: load template \"nonexistent.md\"", stage.ErrStageDefinition)

	got, err := fx.orch.Run(context.Background(), run.ID)
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("error = %v, want *RunError", err)
	}
	if rerr.Code != CodeConfiguration {
		t.Errorf("code = %q, want %q", rerr.Code, CodeConfiguration)
	}
	if got.Status != pipeline.StatusFailed {
		t.Errorf("status = %q", got.Status)
	}
	if !strings.Contains(got.FailureReason, string(CodeConfiguration)) {
		t.Errorf("failure reason = %q", got.FailureReason)
	}
}

func TestStatus(t *testing.T) {
	fx := newFixture(t, twoStageConfig())
	run := fx.createRun(t)

	if err := fx.store.SaveStageResult(run.ID, succeededResult(run.ID, "keyframe", "img://kf", "kf prompt", 0.8)); err != nil {
		t.Fatal(err)
	}

	got, results, err := fx.orch.Status(run.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if got.ID != run.ID {
		t.Errorf("run id = %q", got.ID)
	}
	if len(results) != 1 || results[0].Stage != "keyframe" {
		t.Errorf("results = %+v", results)
	}

	if _, _, err := fx.orch.Status("missing"); err == nil {
		t.Error("expected error for unknown run")
	}
}
