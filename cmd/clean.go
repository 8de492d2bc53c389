package cmd

import (
	"github.com/spf13/cobra"
	rangehttp "github.com/tanq16/rangefetch/internal/downloaders/http"
	"github.com/tanq16/rangefetch/internal/output"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Remove checkpoints and partial files of interrupted downloads",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			removed, err := rangehttp.Clean(path)
			for _, p := range removed {
				output.PrintDebug("removed " + p)
			}
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				output.PrintInfo("Nothing to clean")
				return nil
			}
			output.PrintSuccess("Temporary files cleaned up")
			return nil
		},
	}
}
