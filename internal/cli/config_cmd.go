package cli

import (
	"fmt"

	"github.com/atharva-sardar02/ad-mint-ai-sub002/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configFile string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate and inspect the pipeline definition",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the pipeline definition for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		errs := config.Validate(cfg)
		if len(errs) == 0 {
			cmd.Printf("Pipeline %q is valid: %d stage(s).\n",
				cfg.Pipeline.Name, len(cfg.Pipeline.Stages))
			for _, s := range cfg.Pipeline.Stages {
				cmd.Printf("  %s: %s x%d, gate %.2f\n",
					s.Kind, s.Artifact, s.Candidates, s.QualityGate)
			}
			return nil
		}

		cmd.Printf("Pipeline %q has problems:\n", cfg.Pipeline.Name)
		for _, e := range errs {
			cmd.Printf("  - %s\n", e)
		}
		return fmt.Errorf("pipeline definition has %d error(s)", len(errs))
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the pipeline definition with defaults resolved",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config: %w", err)
		}

		cmd.Print(string(data))
		return nil
	},
}

func loadConfig() (*config.PipelineConfig, error) {
	if configFile != "" {
		return config.Load(configFile)
	}
	return config.LoadDefault()
}

func init() {
	configCmd.PersistentFlags().StringVarP(&configFile, "file", "f", "", "path to the pipeline definition (default: pipeline.yaml)")
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)
}
