package cmd

import (
	"fmt"
	u "net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/rangefetch/internal/config"
	"github.com/tanq16/rangefetch/internal/metrics"
	"github.com/tanq16/rangefetch/internal/utils"
)

var (
	configPath     string
	connections    int
	workers        int
	timeout        time.Duration
	connectTimeout time.Duration
	userAgent      string
	proxyURL       string
	headers        []string
	limit          int
	debug          bool
	logFile        string
	statusFile     string
	statusAddr     string
	rename         bool
)

// cfg is the merged configuration: file, then environment, then flags.
var cfg config.Config

var RangefetchVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "rangefetch [URL]",
	Short:   "rangefetch is a segmented, resumable HTTP downloader",
	Version: RangefetchVersion,
	Args:    cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug, logFile)
		metrics.Register()
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runHTTP(args[0], "", "")
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := loaded.LoadFromEnv(); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("connections") {
		loaded.Threads = connections
	}
	if flags.Changed("workers") {
		loaded.Workers = workers
	}
	if flags.Changed("timeout") {
		loaded.Timeouts.Request = timeout
	}
	if flags.Changed("connect-timeout") {
		loaded.Timeouts.Connect = connectTimeout
	}
	if flags.Changed("user-agent") {
		loaded.UserAgent = userAgent
	}
	if flags.Changed("header") {
		if loaded.Headers == nil {
			loaded.Headers = make(map[string]string)
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			loaded.Headers[k] = v
		}
	}
	if flags.Changed("limit") {
		loaded.Limit.BytesPerSecond = limit
	}
	if flags.Changed("status-file") {
		loaded.Status.File = statusFile
	}
	if flags.Changed("status-addr") {
		loaded.Status.Addr = statusAddr
	}
	if flags.Changed("proxy") {
		loaded.Proxy.URL = proxyURL
	}
	// Credentials embedded in the proxy URL move to the proxy config
	if parsedProxy, err := u.Parse(loaded.Proxy.URL); err == nil && parsedProxy.User != nil && loaded.Proxy.Username == "" {
		loaded.Proxy.Username = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			loaded.Proxy.Password = password
		}
		parsedProxy.User = nil
		loaded.Proxy.URL = parsedProxy.String()
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func init() {
	rootCmd.SilenceUsage = true
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to the YAML config file (default $XDG_CONFIG_HOME/rangefetch/config.yaml)")
	flags.IntVarP(&connections, "connections", "c", 8, "Number of connections per download (above 5 enables high-thread-mode)")
	flags.IntVarP(&workers, "workers", "w", 1, "Number of downloads to run in parallel")
	flags.DurationVarP(&timeout, "timeout", "t", 5*time.Minute, "Overall request timeout (eg. 5s, 10m)")
	flags.DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "Connection timeout")
	flags.StringVarP(&userAgent, "user-agent", "a", utils.DefaultUserAgent, "User agent (\"randomize\" picks one per run)")
	flags.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL, credentials may be embedded (user:pass@host:port)")
	flags.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	flags.IntVar(&limit, "limit", 0, "Bandwidth limit in bytes per second shared by all connections (0 disables)")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")
	flags.StringVar(&logFile, "log-file", "", "Write JSON logs to a rotating file instead of stderr")
	flags.StringVar(&statusFile, "status-file", "", "Keep a JSON status document of the latest notification at this path")
	flags.StringVar(&statusAddr, "status-addr", "", "Serve status, metrics and live events on this address (eg. 127.0.0.1:9090)")
	flags.BoolVar(&rename, "rename", true, "Pick a fresh name when the destination exists without a checkpoint")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newProbeCmd())
	rootCmd.AddCommand(newCleanCmd())
}
