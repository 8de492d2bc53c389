package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	rangehttp "github.com/tanq16/rangefetch/internal/downloaders/http"
	"github.com/tanq16/rangefetch/internal/output"
	"github.com/tanq16/rangefetch/internal/utils"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe [URL]",
		Short: "Show the size, name and range support of a remote file without downloading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			engine := rangehttp.NewEngine(utils.NewFetchHTTPClient(cfg.HTTPClientConfig()), cfg.EngineOptions(), utils.GetLogger("probe"))
			target, err := engine.Probe(ctx, args[0])
			if err != nil {
				return err
			}
			size := "unknown"
			if target.Size > 0 {
				size = fmt.Sprintf("%s (%d bytes)", utils.FormatBytes(uint64(target.Size)), target.Size)
			}
			fmt.Printf("%s %s\n", output.FDebug("url:     "), target.URL)
			fmt.Printf("%s %s\n", output.FDebug("name:    "), target.Filename)
			fmt.Printf("%s %s\n", output.FDebug("size:    "), size)
			ranges := output.FError("no")
			if target.RangeSupported {
				ranges = output.FSuccess("yes")
			}
			fmt.Printf("%s %s\n", output.FDebug("ranges:  "), ranges)
			return nil
		},
	}
}
