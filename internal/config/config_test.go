package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
pipeline:
  name: soda-ad
  defaults:
    candidates: 3
    quality_gate: 0.7
    max_parallel: 2
    call_timeout: 2m
    metrics: [aesthetic, semantic]
    weights:
      aesthetic: 0.4
      semantic: 0.6
  enhancement:
    max_rounds: 2
    round_retries: 1
  stages:
    - kind: keyframe
      artifact: image
    - kind: storyboard
      artifact: image
      candidates: 6
      needs: [keyframe.artifact, keyframe.prompt]
    - kind: clip
      artifact: video
      metrics: [aesthetic, semantic, motion]
      needs: [storyboard.artifact]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := cfg.Pipeline
	if p.Name != "soda-ad" {
		t.Errorf("Name = %q, want %q", p.Name, "soda-ad")
	}
	if len(p.Stages) != 3 {
		t.Fatalf("Stages has %d entries, want 3", len(p.Stages))
	}

	// Defaults merged into the first stage.
	kf := p.Stages[0]
	if kf.Candidates != 3 {
		t.Errorf("keyframe.Candidates = %d, want 3 (from defaults)", kf.Candidates)
	}
	if kf.QualityGate != 0.7 {
		t.Errorf("keyframe.QualityGate = %v, want 0.7", kf.QualityGate)
	}
	if kf.MaxParallel != 2 {
		t.Errorf("keyframe.MaxParallel = %d, want 2", kf.MaxParallel)
	}
	if kf.CallTimeout != "2m" {
		t.Errorf("keyframe.CallTimeout = %q, want %q", kf.CallTimeout, "2m")
	}
	if kf.Template != "keyframe.md" {
		t.Errorf("keyframe.Template = %q, want %q", kf.Template, "keyframe.md")
	}
	if len(kf.Metrics) != 2 {
		t.Errorf("keyframe.Metrics = %v, want 2 defaults", kf.Metrics)
	}

	// Stage-level value wins over default.
	if p.Stages[1].Candidates != 6 {
		t.Errorf("storyboard.Candidates = %d, want 6", p.Stages[1].Candidates)
	}
	if len(p.Stages[2].Metrics) != 3 {
		t.Errorf("clip.Metrics = %v, want 3 entries", p.Stages[2].Metrics)
	}

	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate returned errors for valid config: %v", errs)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "pipeline: [not a map")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestHardcodedCandidateDefault(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
pipeline:
  name: minimal
  stages:
    - kind: keyframe
      artifact: image
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Pipeline.Stages[0]
	if s.Candidates != 4 {
		t.Errorf("Candidates = %d, want 4", s.Candidates)
	}
	if s.MaxParallel != 4 {
		t.Errorf("MaxParallel = %d, want 4", s.MaxParallel)
	}
	if cfg.Pipeline.Enhancement.MaxRounds != 3 {
		t.Errorf("Enhancement.MaxRounds = %d, want 3", cfg.Pipeline.Enhancement.MaxRounds)
	}
	if cfg.Pipeline.Enhancement.RoundRetries != 2 {
		t.Errorf("Enhancement.RoundRetries = %d, want 2", cfg.Pipeline.Enhancement.RoundRetries)
	}
}

func TestShouldRetryBelowGate(t *testing.T) {
	var p Pipeline
	if !p.ShouldRetryBelowGate() {
		t.Error("unset RetryBelowGate should default to true")
	}
	f := false
	p.RetryBelowGate = &f
	if p.ShouldRetryBelowGate() {
		t.Error("RetryBelowGate=false should disable the retry")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: `
pipeline:
  stages:
    - kind: keyframe
      artifact: image
`,
			want: "pipeline.name",
		},
		{
			name: "no stages",
			yaml: `
pipeline:
  name: empty
`,
			want: "pipeline.stages",
		},
		{
			name: "duplicate kind",
			yaml: `
pipeline:
  name: dup
  stages:
    - kind: keyframe
      artifact: image
    - kind: keyframe
      artifact: image
`,
			want: "duplicate stage kind",
		},
		{
			name: "bad artifact",
			yaml: `
pipeline:
  name: bad
  stages:
    - kind: keyframe
      artifact: audio
`,
			want: "must be one of image, video",
		},
		{
			name: "gate out of range",
			yaml: `
pipeline:
  name: bad
  stages:
    - kind: keyframe
      artifact: image
      quality_gate: 1.5
`,
			want: "between 0 and 1",
		},
		{
			name: "unknown metric",
			yaml: `
pipeline:
  name: bad
  stages:
    - kind: keyframe
      artifact: image
      metrics: [vibes]
`,
			want: "unknown metric",
		},
		{
			name: "forward need",
			yaml: `
pipeline:
  name: bad
  stages:
    - kind: keyframe
      artifact: image
      needs: [clip.artifact]
    - kind: clip
      artifact: video
`,
			want: "not an earlier stage",
		},
		{
			name: "malformed need",
			yaml: `
pipeline:
  name: bad
  stages:
    - kind: keyframe
      artifact: image
    - kind: clip
      artifact: video
      needs: [keyframe.banana]
`,
			want: "must have the form",
		},
		{
			name: "bad duration",
			yaml: `
pipeline:
  name: bad
  stages:
    - kind: keyframe
      artifact: image
      call_timeout: five minutes
`,
			want: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			errs := Validate(cfg)
			if len(errs) == 0 {
				t.Fatalf("Validate returned no errors, want one containing %q", tt.want)
			}
			found := false
			for _, e := range errs {
				if strings.Contains(e.Error(), tt.want) {
					found = true
				}
			}
			if !found {
				t.Errorf("no validation error contains %q; got %v", tt.want, errs)
			}
		})
	}
}

func TestParseNeed(t *testing.T) {
	stage, field, err := ParseNeed("keyframe.artifact")
	if err != nil {
		t.Fatalf("ParseNeed: %v", err)
	}
	if stage != "keyframe" || field != "artifact" {
		t.Errorf("ParseNeed = (%q, %q), want (keyframe, artifact)", stage, field)
	}

	for _, bad := range []string{"keyframe", ".artifact", "keyframe.output", ""} {
		if _, _, err := ParseNeed(bad); err == nil {
			t.Errorf("ParseNeed(%q) succeeded, want error", bad)
		}
	}
}
