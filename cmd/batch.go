package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	Link       string `yaml:"link"`
	Threads    int    `yaml:"threads,omitempty"`
	Kind       string `yaml:"kind,omitempty"`
}

// BatchFile groups entries by job type.
type BatchFile map[string][]BatchEntry

func newBatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				return fmt.Errorf("parse batch file: %w", err)
			}
			jobs := buildJobsFromBatch(batchFile)
			if len(jobs) == 0 {
				return fmt.Errorf("no valid jobs found in %s", args[0])
			}
			return runJobs(jobs)
		},
	}
}

func buildJobsFromBatch(batchFile BatchFile) []utils.FetchJob {
	log := utils.GetLogger("batch")
	var jobs []utils.FetchJob
	for jobType, entries := range batchFile {
		if normalizeJobType(jobType) == "" {
			log.Warn().Str("type", jobType).Msg("unknown job type, skipping")
			continue
		}
		for _, entry := range entries {
			if entry.Link == "" {
				log.Warn().Str("type", jobType).Msg("empty link, skipping")
				continue
			}
			kind, err := events.ParseKind(entry.Kind)
			if err != nil {
				log.Warn().Str("link", entry.Link).Err(err).Msg("bad kind, skipping")
				continue
			}
			job := newJob(entry.Link, entry.OutputPath, kind)
			if entry.Threads > 0 {
				job.Connections = entry.Threads
			}
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(strings.TrimSpace(jobType)) {
	case "http", "https", "direct":
		return "http"
	}
	return ""
}
