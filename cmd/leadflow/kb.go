package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autostream/leadflow/internal/inference"
	"github.com/autostream/leadflow/internal/knowledge"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Validate and print the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		kb, err := knowledge.Load(cfg.Knowledge.Path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Knowledge base %s is valid\n", cfg.Knowledge.Path)
		for _, name := range kb.Sections() {
			text, _ := kb.Section(name)
			fmt.Fprintf(out, "\n== %s ==\n%s\n", name, text)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models available on the model server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		client := inference.NewClient(inferenceConfig(cfg), nil)
		names, err := client.ListModels(ctx)
		if err != nil {
			return fmt.Errorf("failed to list models at %s: %w", cfg.LLM.Endpoint, err)
		}

		out := cmd.OutOrStdout()
		found := false
		for _, name := range names {
			marker := " "
			if name == cfg.LLM.Model {
				marker = "*"
				found = true
			}
			fmt.Fprintf(out, "%s %s\n", marker, name)
		}
		if !found {
			fmt.Fprintf(out, "\nConfigured model %q is not installed\n", cfg.LLM.Model)
		}
		return nil
	},
}

var configWritePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Write the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Save(configWritePath); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configWritePath)
		return nil
	},
}

func init() {
	configCmd.Flags().StringVarP(&configWritePath, "write", "w", "leadflow.yaml", "Destination file")
}
