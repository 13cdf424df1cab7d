package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/john/slackignore/internal/config"
	"github.com/john/slackignore/internal/rules"
)

// rootOptions holds flags shared by every command
type rootOptions struct {
	configPath string
	token      string
	cookie     string
	ignore     []string
	debug      bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "slackignore",
		Short: "Keep conversations read when the only new messages match your ignore rules",
		Example: `slackignore -t xoxc-... -c xoxd-... \
  -i '-c alerts -r Grafana' \
  -i '-n deploy-bot -t (?s).*succeeded.*'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), opts, newLogger(opts.debug))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", os.Getenv("CONFIG_PATH"), "path to a YAML config file")
	flags.StringVarP(&opts.token, "slack-auth-token", "t", "", "Slack user token (xoxc-...)")
	flags.StringVarP(&opts.cookie, "slack-cookie", "c", "", `value of the Slack "d" cookie`)
	flags.StringArrayVarP(&opts.ignore, "ignore", "i", nil,
		"ignore rule, e.g. '-c <channel> -n <nickname> -r <real name> -b -t <text>' (repeatable)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newPostCommand(opts))
	return cmd
}

// loadConfig reads the config file and environment, then applies flag
// overrides and rule tokens before validating.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.token != "" {
		cfg.Slack.Token = o.token
	}
	if o.cookie != "" {
		cfg.Slack.Cookie = o.cookie
	}

	specs, err := rules.ParseSpecs(o.ignore)
	if err != nil {
		return nil, err
	}
	cfg.Rules = append(cfg.Rules, specs...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		newLogger(false).Error("slackignore failed", "error", err)
		stop()
		os.Exit(1)
	}
}
