package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ojeval/internal/cli/command"
	"ojeval/internal/cli/config"
	httpclient "ojeval/internal/cli/http"
	"ojeval/internal/cli/repl"
	"ojeval/internal/cli/state"
	"ojeval/internal/notify"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "ojeval",
		Usage: "interactive client for the judge service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "configs/cli.yaml", Usage: "path to config file"},
			&cli.StringFlag{Name: "base", Usage: "override base URL", Sources: cli.EnvVars("OJEVAL_BASE_URL")},
			&cli.DurationFlag{Name: "timeout", Usage: "override HTTP timeout (e.g. 10s)"},
			&cli.StringFlag{Name: "token", Usage: "override access token", Sources: cli.EnvVars("OJEVAL_TOKEN")},
			&cli.StringFlag{Name: "state", Usage: "override token state path"},
			&cli.BoolFlag{Name: "pretty", Usage: "pretty print JSON responses"},
		},
		Action: run,
	}
	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if v := cmd.String("base"); v != "" {
		cfg.BaseURL = v
	}
	if v := cmd.Duration("timeout"); v > 0 {
		cfg.Timeout = v
	}
	if v := cmd.String("state"); v != "" {
		cfg.TokenStatePath = v
	}
	pretty := cmd.Bool("pretty") || (cfg.PrettyJSON != nil && *cfg.PrettyJSON)

	tokens, err := state.Load(cfg.TokenStatePath)
	if err != nil {
		return fmt.Errorf("load token state: %w", err)
	}
	if v := cmd.String("token"); v != "" {
		tokens.AccessToken = v
	}

	var session *repl.Session
	client := httpclient.New(cfg.BaseURL, cfg.Timeout, func() string {
		return session.Token()
	})
	poller := notify.NewPoller(client, cfg.Poll)
	session = repl.New(client, poller, command.Registry(), &tokens, cfg.TokenStatePath, pretty)
	session.Run(ctx, os.Stdin)
	return nil
}
