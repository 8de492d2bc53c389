package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/rangefetch/internal/events"
	"github.com/tanq16/rangefetch/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath string
	var kind string

	cmd := &cobra.Command{
		Use:     "http [URL] [--output OUTPUT_PATH]",
		Aliases: []string{"get"},
		Short:   "Download a file via HTTP/HTTPS",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHTTP(args[0], outputPath, kind)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file or directory (name is inferred when empty or a directory)")
	cmd.Flags().StringVar(&kind, "kind", "file", "Event kind attached to notifications (file, update, plugin)")
	return cmd
}

func runHTTP(url, outputPath, kind string) error {
	k, err := events.ParseKind(kind)
	if err != nil {
		return err
	}
	return runJobs([]utils.FetchJob{newJob(url, outputPath, k)})
}
