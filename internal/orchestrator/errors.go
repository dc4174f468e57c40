package orchestrator

import "fmt"

// FailureCode classifies why a run failed, for callers and diagnostics.
type FailureCode string

const (
	// CodeBatchExhausted: a stage produced no viable candidate even after
	// its bounded retry.
	CodeBatchExhausted FailureCode = "batch_exhausted"

	// CodeDependencyMissing: a stage's declared input from an earlier
	// stage is absent. This is a configuration error, never retried.
	CodeDependencyMissing FailureCode = "dependency_missing"

	// CodeConfiguration: the stage definition itself is unusable, such as
	// an unknown template or batch options the runner rejects. Never
	// retried.
	CodeConfiguration FailureCode = "configuration_error"

	// CodePersistence: state could not be saved; the run fails rather
	// than proceed on an unpersisted decision.
	CodePersistence FailureCode = "persistence_failure"

	// CodeAssembly: final assembly or scoring failed.
	CodeAssembly FailureCode = "assembly_failed"
)

// RunError is the structured failure surfaced to callers: which run, which
// stage, and which class of failure.
type RunError struct {
	RunID string
	Stage string
	Code  FailureCode
	Err   error
}

func (e *RunError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Code, e.Err)
	}
	return fmt.Sprintf("run %s stage %s: %s: %v", e.RunID, e.Stage, e.Code, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
