// Package cli implements the ghapp-token command line.
//
// Configuration is layered (defaults, YAML file, environment, flags),
// resolved into plain parameters and handed to the token pipeline.
// The JSON result is the only thing written to stdout; diagnostics go to stderr.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	ghapptoken "github.com/OpsMx/ghapp-token"
	"github.com/OpsMx/ghapp-token/internal/config"
	"github.com/OpsMx/ghapp-token/internal/metrics"
	"github.com/OpsMx/ghapp-token/internal/version"
)

// ValidLogFormats defines the allowed log formats.
var ValidLogFormats = []string{"text", "json"}

// RootOptions holds the command's flags.
type RootOptions struct {
	ConfigPath     string
	AppID          string
	PrivateKey     string
	PrivateKeyPath string
	Org            string
	BaseURL        string
	IssueTime      int64
	Timeout        time.Duration
	MetricsFile    string
	Verbose        bool
	LogFormat      string

	// now is the clock used when no issue time is configured
	now func() time.Time
}

// NewRootCommand creates the ghapp-token command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{now: time.Now}
	userAgent := version.UserAgent()

	cmd := &cobra.Command{
		Use:     version.Name,
		Short:   "Issue a GitHub App installation access token for an organization",
		Long:    "Signs a GitHub App JWT, looks up the App's installation on an organization and prints a short-lived installation access token as JSON.",
		Version: version.Version,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("unexpected arguments: %v", args))
			}
			return nil
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidLogFormat(opts.LogFormat) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid log format %q: must be one of %v", opts.LogFormat, ValidLogFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.Context(), cmd, opts, userAgent)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	bindFlags(cmd.Flags(), opts)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	})

	return cmd
}

func bindFlags(flags *pflag.FlagSet, opts *RootOptions) {
	flags.StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	flags.StringVarP(&opts.AppID, "app-id", "a", "", "GitHub App ID")
	flags.StringVarP(&opts.PrivateKey, "private-key", "p", "", "base64 encoded GitHub App private key")
	flags.StringVar(&opts.PrivateKeyPath, "private-key-path", "", "path to the GitHub App private key PEM file")
	flags.StringVarP(&opts.Org, "org", "o", "", "organization name as it appears in the GitHub URL, i.e. https://github.com/my-org/my-repo")
	flags.StringVarP(&opts.BaseURL, "base-url", "b", config.DefaultBaseURL, "GitHub API fully qualified base URL, including the scheme")
	flags.Int64VarP(&opts.IssueTime, "issue-time", "i", 0, "reference time in epoch seconds (default: now)")
	flags.DurationVar(&opts.Timeout, "timeout", config.DefaultTimeout, "timeout for each GitHub API request")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write Prometheus metrics to this file after the run")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")
}

// applyFlags copies explicitly set flags over cfg.
func (opts *RootOptions) applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("app-id") {
		cfg.AppID = opts.AppID
	}
	if flags.Changed("org") {
		cfg.Org = opts.Org
	}
	if flags.Changed("base-url") {
		cfg.BaseURL = opts.BaseURL
	}
	if flags.Changed("issue-time") {
		cfg.IssueTime = opts.IssueTime
	}
	if flags.Changed("timeout") {
		cfg.Timeout = opts.Timeout
	}
	if flags.Changed("metrics-file") {
		cfg.MetricsFile = opts.MetricsFile
	}
	return cfg.SetKey(opts.PrivateKey, opts.PrivateKeyPath)
}

func runToken(ctx context.Context, cmd *cobra.Command, opts *RootOptions, userAgent string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if err := opts.applyFlags(cmd.Flags(), cfg); err != nil {
		return WrapExitError(ExitCommandError, "loading configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	privateKey, err := cfg.ResolvePrivateKey()
	if err != nil {
		return WrapExitError(ExitCommandError, "resolving private key", err)
	}

	logger := newLogger(cmd.ErrOrStderr(), opts).With(slog.String("run_id", uuid.NewString()))
	logger.Debug("configuration loaded",
		slog.String("base_url", cfg.BaseURL),
		slog.String("key_source", cfg.KeySource.String()),
		slog.Duration("timeout", cfg.Timeout),
	)

	recorder := metrics.NewRecorder()
	transport := ghapptoken.NewHTTPTransport(userAgent,
		ghapptoken.WithTimeout(cfg.Timeout),
		ghapptoken.WithObserver(recorder),
	)
	client := ghapptoken.NewClient(transport, ghapptoken.WithLogger(logger))

	out, runErr := client.Run(ctx, ghapptoken.Params{
		AppID:         cfg.AppID,
		PrivateKey:    privateKey,
		Org:           cfg.Org,
		BaseURL:       cfg.BaseURL,
		ReferenceTime: cfg.ReferenceTime(opts.now),
	})

	recorder.ObserveExchange(opts.now(), runErr)
	if cfg.MetricsFile != "" {
		if err := recorder.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics file", slog.String("path", cfg.MetricsFile), slog.Any("error", err))
		}
	}

	if runErr != nil {
		return WrapExitError(ExitFailure, "token exchange failed", runErr)
	}

	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func newLogger(w io.Writer, opts *RootOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// isValidLogFormat checks if the format is one of the allowed values.
func isValidLogFormat(format string) bool {
	for _, f := range ValidLogFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}
