package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/crawl-orchestrator/internal/server"
)

// jobFile is the YAML job definition read by the crawl command. Pointer
// fields distinguish "absent" from a meaningful zero.
type jobFile struct {
	Template               string         `yaml:"template"`
	StartURL               string         `yaml:"start_url"`
	MaxPages               *int           `yaml:"max_pages"`
	MaxDepth               *int           `yaml:"max_depth"`
	DelaySeconds           *float64       `yaml:"delay_seconds"`
	TimeoutSeconds         *float64       `yaml:"timeout_seconds"`
	UserAgent              string         `yaml:"user_agent"`
	Headless               *bool          `yaml:"headless"`
	WindowSize             string         `yaml:"window_size"`
	Priority               string         `yaml:"priority"`
	RespectRobots          *bool          `yaml:"respect_robots"`
	AllowExternal          *bool          `yaml:"allow_external"`
	DenyDomains            []string       `yaml:"deny_domains"`
	MaxConsecutiveFailures *int           `yaml:"max_consecutive_failures"`
	MaxFailureRatio        *float64       `yaml:"max_failure_ratio"`
	Config                 map[string]any `yaml:"config"`
}

type crawlReport struct {
	Job   crawler.Job      `json:"job"`
	Stats crawler.JobStats `json:"stats"`
}

func newCrawlCmd() *cobra.Command {
	var (
		jobPath    string
		store      string
		sqlitePath string
	)
	cmd := &cobra.Command{
		Use:   "crawl [start-url]",
		Short: "Run one job to completion and print its stats",
		Long: `crawl executes a single job in the foreground. The job comes from a YAML
file (--job), a start URL argument, or both; the argument wins over the
file's start_url. The final job record and stats are printed as JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			var def jobFile
			if jobPath != "" {
				def, err = readJobFile(jobPath)
				if err != nil {
					return err
				}
			}
			if len(args) == 1 {
				def.StartURL = args[0]
			}
			if def.StartURL == "" {
				return errors.New("a start URL is required (argument or start_url in --job)")
			}
			jobCfg, err := def.jobConfig(cfg)
			if err != nil {
				return err
			}

			cfg.Store.Backend = store
			if sqlitePath != "" {
				cfg.Store.SQLitePath = sqlitePath
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			app, err := buildApp(cmd.Context(), cfg, server.Options{})
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close(cmd.Context()) }() //nolint:errcheck // best effort

			job, stats, err := app.Crawl(cmd.Context(), orchestrator.CreateRequest{
				StartURL: def.StartURL,
				Config:   jobCfg,
			})
			if err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), crawlReport{Job: job, Stats: stats})
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "YAML job definition")
	cmd.Flags().StringVar(&store, "store", config.BackendSQLite, "repository backend (memory|sqlite|postgres)")
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite database path (default from config)")
	return cmd
}

func readJobFile(path string) (jobFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jobFile{}, fmt.Errorf("read job file: %w", err)
	}
	var def jobFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return jobFile{}, fmt.Errorf("parse job file %s: %w", path, err)
	}
	return def, nil
}

// jobConfig starts from the named template, or the configured defaults, and
// overlays the file's fields.
func (f jobFile) jobConfig(cfg config.Config) (crawler.JobConfig, error) {
	base := cfg.JobDefaults()
	if f.Template != "" {
		templates, err := cfg.JobTemplates()
		if err != nil {
			return crawler.JobConfig{}, err
		}
		tpl, ok := templates[f.Template]
		if !ok {
			return crawler.JobConfig{}, &crawler.ConfigurationError{Field: "template", Reason: "unknown template " + f.Template}
		}
		base = tpl
	}
	out := base.Clone()
	if f.MaxPages != nil {
		out.MaxPages = *f.MaxPages
	}
	if f.MaxDepth != nil {
		out.MaxDepth = *f.MaxDepth
	}
	if f.DelaySeconds != nil {
		out.Delay = crawler.SecondsToDuration(*f.DelaySeconds)
	}
	if f.TimeoutSeconds != nil {
		out.Timeout = crawler.SecondsToDuration(*f.TimeoutSeconds)
	}
	if f.UserAgent != "" {
		out.UserAgent = f.UserAgent
	}
	if f.Headless != nil {
		out.Headless = *f.Headless
	}
	if f.WindowSize != "" {
		window, err := crawler.ParseWindowSize(f.WindowSize)
		if err != nil {
			return crawler.JobConfig{}, err
		}
		out.Window = window
	}
	if f.Priority != "" {
		out.Priority = crawler.Priority(strings.ToUpper(f.Priority))
	}
	if f.RespectRobots != nil {
		out.RespectRobots = *f.RespectRobots
	}
	if f.AllowExternal != nil {
		out.AllowExternal = *f.AllowExternal
	}
	if len(f.DenyDomains) > 0 {
		out.DenyDomains = append([]string(nil), f.DenyDomains...)
	}
	if f.MaxConsecutiveFailures != nil {
		out.MaxConsecutiveFailures = *f.MaxConsecutiveFailures
	}
	if f.MaxFailureRatio != nil {
		out.MaxFailureRatio = *f.MaxFailureRatio
	}
	for k, v := range f.Config {
		if out.Extra == nil {
			out.Extra = make(map[string]any, len(f.Config))
		}
		out.Extra[k] = v
	}
	if err := out.Validate(); err != nil {
		return crawler.JobConfig{}, err
	}
	return out, nil
}

func writeReport(w io.Writer, report crawlReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
