package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/server"
)

type configKeyType struct{}

// buildApp is the application factory, replaced in tests.
var buildApp = server.Build

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "webcrawler",
		Short: "Policy-constrained crawl job orchestrator",
		Long: `webcrawler runs bounded crawl jobs through a rendering engine, halts on
anti-automation challenges, and records per-page artifacts and events.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKeyType{}, cfg))
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./crawl-orchestrator.yaml)")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newTemplatesCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKeyType{}).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg, server.Options{})
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

func newTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the job templates available to create-from-template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			resolved, err := cfg.JobTemplates()
			if err != nil {
				return err
			}
			for _, name := range sortedKeys(resolved) {
				tc := resolved[name]
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s pages=%d depth=%d delay=%s priority=%s  %s\n",
					name, tc.MaxPages, tc.MaxDepth, tc.Delay, tc.Priority, cfg.Templates[name].Description)
			}
			return nil
		},
	}
}
