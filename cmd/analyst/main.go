// Package main is the operator CLI: ask a question, print the live schema
// or inspect a user's quota without going through HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/playintel/market-analyst/internal/app"
	"github.com/playintel/market-analyst/internal/config"
	"github.com/playintel/market-analyst/internal/model"
	"github.com/playintel/market-analyst/internal/quota"
	"github.com/playintel/market-analyst/internal/schema"
	"github.com/playintel/market-analyst/internal/store"
	"github.com/playintel/market-analyst/pkg/logger"
)

var (
	// Global flags
	verbose bool
	timeout time.Duration

	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:           "analyst",
	Short:         "Steam market analyst operator tool",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if verbose {
			log, err = logger.NewDevelopment()
		} else {
			log, err = logger.New("warn")
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer one question through the full pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		a, err := app.Build(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		user, _ := cmd.Flags().GetString("user")
		plan, _ := cmd.Flags().GetString("plan")
		env, err := a.Chat.Chat(ctx, &model.ChatRequest{Question: args[0], UserID: user, Plan: plan})
		if err != nil {
			return err
		}
		return printAnswer(cmd.OutOrStdout(), env, verbose)
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the schema description sent to the model",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		s, err := store.Open(ctx, cfg.AnalyticsDriver, cfg.AnalyticsDSN, store.Options{StatementTimeout: cfg.StatementTimeout})
		if err != nil {
			return err
		}
		defer s.Close()

		b, err := schema.NewBuilder(s, s.Driver(), log)
		if err != nil {
			return err
		}
		d, err := b.Build(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), schema.Render(d, s.Driver()))
		return err
	},
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show a user's usage for the current period",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		qs, err := quota.Open(ctx, cfg.QuotaBackend, quota.Options{
			DSN:           cfg.QuotaDSN,
			RedisAddr:     cfg.RedisAddr,
			RedisPassword: cfg.RedisPassword,
			RedisDB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		tracker := quota.NewTracker(qs, quota.DefaultPlans, log)
		defer tracker.Close()

		user, _ := cmd.Flags().GetString("user")
		plan, _ := cmd.Flags().GetString("plan")
		rec, err := tracker.Usage(ctx, user, plan)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), rec.View())
	},
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

// printAnswer writes the answer text, then the attempts and data when
// detailed output is requested.
func printAnswer(w io.Writer, env *model.AnswerEnvelope, detailed bool) error {
	if _, err := fmt.Fprintln(w, env.Answer); err != nil {
		return err
	}
	if !detailed {
		return nil
	}
	fmt.Fprintf(w, "\nroute: %s\n", env.Route)
	if env.Kind != model.ErrorNone {
		fmt.Fprintf(w, "error: %s\n", env.Kind)
	}
	for _, at := range env.Attempts {
		fmt.Fprintf(w, "attempt %d [%s] %s\n", at.Index, at.Outcome, at.Query)
		if at.Error != "" {
			fmt.Fprintf(w, "  %s\n", at.Error)
		}
	}
	if env.Result != nil {
		return writeJSON(w, env.Result.Records())
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show attempts, data and debug logs")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall command timeout")

	for _, c := range []*cobra.Command{askCmd, quotaCmd} {
		c.Flags().String("user", "cli", "User the request is counted against")
		c.Flags().String("plan", "free", "Plan of the user")
	}

	rootCmd.AddCommand(askCmd, schemaCmd, quotaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
