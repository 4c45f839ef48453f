package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/edgard/webmax/internal/bot"
	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
	"github.com/edgard/webmax/internal/gemini"
	"github.com/edgard/webmax/internal/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "maxbot",
		Short: "Example Max messenger bot",
		Long: `maxbot is a Max messenger bot built on the webmax client. It answers
commands, keeps a chat history for /ask and runs maintenance tasks.

Running maxbot without a subcommand is the same as "maxbot run".`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	config.RegisterFlags(root.PersistentFlags())
	root.PersistentFlags().Bool("force", false, "read the SMS code from stdin even when it is not a terminal")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Log in and serve commands until interrupted",
			Args:  cobra.NoArgs,
			RunE:  runBot,
		},
		newLoginCmd(),
		newLogoutCmd(),
	)
	return root
}

// app holds what every subcommand sets up.
type app struct {
	cfg *config.Config
	log *slog.Logger
	db  *sqlx.DB
	bot *bot.Bot
}

func (a *app) Close() {
	database.CloseDB(a.db)
}

// setup loads the configuration and builds the logger, the store and the bot.
func setup(ctx context.Context, cmd *cobra.Command, withAI bool) (*app, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return nil, err
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return nil, err
	}
	store := database.NewStore(db, log)

	var gemClient gemini.Client
	if withAI && cfg.Gemini.APIKey != "" {
		gemClient, err = gemini.NewClient(ctx, cfg.Gemini, log)
		if err != nil {
			database.CloseDB(db)
			log.Error("Failed to initialize Gemini client", "error", err)
			return nil, err
		}
	} else if withAI {
		log.Info("Gemini API key not set, /ask is disabled")
	}

	force, _ := flags.GetBool("force")
	prompter := newTerminalPrompter(cmd.InOrStdin(), cmd.ErrOrStderr(), force)

	return &app{
		cfg: cfg,
		log: log,
		db:  db,
		bot: bot.NewBot(log, cfg, store, gemClient, prompter),
	}, nil
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.log.Info("Starting bot...")
	runErr := a.bot.Run(ctx)
	a.log.Info("Bot run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.log.Error("Bot stopped due to error", "error", runErr)
		return runErr
	}

	a.log.Info("Bot stopped gracefully.")
	return nil
}
