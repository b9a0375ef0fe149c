package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xbot/internal/app"
	"xbot/internal/bot"
	"xbot/internal/config"
	"xbot/internal/spam"
	logx "xbot/pkg/logx"
	"xbot/pkg/systemd"
)

const stopTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the scheduler and the status server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := app.New(cfgPath, app.WithVersion(version))
		if err != nil {
			return err
		}
		if err := a.Start(ctx); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return err
		}
		systemd.Ready()
		go systemd.Watchdog(ctx, func() bool { return a.Err() == nil }, a.Logger().With(logx.String("comp", "systemd")))

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			if a.Err() != nil {
				reason = app.StopFatalError
			}
		}
		systemd.Stopping()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		_ = a.Stop(stopCtx, reason)
		return a.Err()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Load()
		if err != nil {
			return err
		}
		var missing []string
		if strings.TrimSpace(cfg.Social.AccessToken) == "" {
			missing = append(missing, config.EnvXAccessToken)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config %s: ok\n", cfgPath)
		fmt.Fprintf(out, "schedule enabled: %v\n", cfg.Schedule.Enabled)
		fmt.Fprintf(out, "server enabled: %v\n", cfg.Server.Enabled)
		if len(missing) > 0 {
			return fmt.Errorf("missing secrets: %s", strings.Join(missing, ", "))
		}
		return nil
	},
}

var spamCmd = &cobra.Command{
	Use:   "spam <text>",
	Short: "Classify a text with the configured spam filter",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewConfigManager(cfgPath).Load()
		if err != nil {
			return err
		}
		f := spam.New(cfg.Spam.Keywords, cfg.Spam.Threshold)
		text := strings.Join(args, " ")
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"spam":      f.IsSpam(text),
			"matches":   f.Matches(text),
			"threshold": f.Threshold(),
		})
	},
}

var onceCmd = &cobra.Command{
	Use:       "once <job>",
	Short:     "Run one job immediately and exit",
	Args:      cobra.ExactArgs(1),
	ValidArgs: jobNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		job := bot.JobTestPost
		if args[0] != string(bot.JobTestPost) {
			var ok bool
			if job, ok = bot.ParseJob(args[0]); !ok {
				return fmt.Errorf("unknown job %q (want one of %s)", args[0], strings.Join(jobNames(), ", "))
			}
		}

		a, err := app.New(cfgPath, app.WithVersion(version))
		if err != nil {
			return err
		}
		defer func() { _ = a.Stop(context.Background(), app.StopUnknown) }()

		out, id, err := a.RunOnce(ctx, job)
		if id != "" {
			fmt.Fprintln(cmd.OutOrStdout(), "post id:", id)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "outcome:", out)
		if errors.Is(err, bot.ErrJobFailed) {
			return err
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func jobNames() []string {
	out := make([]string, 0, len(bot.Jobs)+1)
	for _, j := range bot.Jobs {
		out = append(out, string(j))
	}
	return append(out, string(bot.JobTestPost))
}
