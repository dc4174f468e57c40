// Package gen submits prompts to an external generative backend and returns
// artifact handles. Backends are capability-polymorphic: the same contract
// covers still-image and video-clip generation.
package gen

import "context"

// Kind identifies what a backend is asked to produce.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Request describes one generation attempt.
type Request struct {
	// Kind selects the artifact type to produce.
	Kind Kind

	// Prompt is the full generation prompt.
	Prompt string

	// ReferenceArtifact is an optional handle to an earlier artifact the
	// backend should condition on (e.g. a keyframe image for a video clip).
	ReferenceArtifact string
}

// Artifact is the result of one successful generation call.
type Artifact struct {
	// Ref is an opaque handle to the produced artifact: a file path or a
	// blob key, depending on the backend.
	Ref string `json:"ref"`

	// Kind echoes the requested artifact kind.
	Kind Kind `json:"kind"`

	// Model is the backend model that produced the artifact, if reported.
	Model string `json:"model,omitempty"`
}

// Backend is the external generation service boundary. Errors are classified
// transient (worth a fresh attempt) or permanent via the helpers in this
// package; an unclassified error is treated as permanent.
type Backend interface {
	Generate(ctx context.Context, req Request) (*Artifact, error)
}
