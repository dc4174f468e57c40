package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a pipeline configuration from the given YAML path.
// After parsing, it merges defaults into stages that don't specify their own
// values.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a pipeline config in standard locations and loads
// the first one found. Search order: ./pipeline.yaml, ~/.admint/pipeline.yaml
func LoadDefault() (*PipelineConfig, error) {
	candidates := []string{"pipeline.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".admint", "pipeline.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no pipeline config found (searched: %v)", candidates)
}

// applyDefaults merges pipeline-level defaults into stages that don't set
// their own values.
func applyDefaults(cfg *PipelineConfig) {
	p := &cfg.Pipeline

	if p.Enhancement.MaxRounds <= 0 {
		p.Enhancement.MaxRounds = 3
	}
	if p.Enhancement.RoundRetries <= 0 {
		p.Enhancement.RoundRetries = 2
	}

	for i := range p.Stages {
		s := &p.Stages[i]

		if s.Candidates <= 0 {
			s.Candidates = p.Defaults.Candidates
		}
		if s.Candidates <= 0 {
			s.Candidates = 4
		}
		if s.QualityGate == 0 && p.Defaults.QualityGate > 0 {
			s.QualityGate = p.Defaults.QualityGate
		}
		if s.MaxParallel <= 0 {
			s.MaxParallel = p.Defaults.MaxParallel
		}
		if s.MaxParallel <= 0 {
			s.MaxParallel = 4
		}
		if s.CallTimeout == "" {
			s.CallTimeout = p.Defaults.CallTimeout
		}
		if s.StageTimeout == "" {
			s.StageTimeout = p.Defaults.StageTimeout
		}
		if len(s.Metrics) == 0 {
			s.Metrics = p.Defaults.Metrics
		}
		if len(s.Weights) == 0 {
			s.Weights = p.Defaults.Weights
		}
		if s.Template == "" {
			s.Template = s.Kind + ".md"
		}
	}
}
