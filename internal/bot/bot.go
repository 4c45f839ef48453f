// Package bot implements the maxbot orchestrator: credential bootstrap,
// handler and task wiring, and lifecycle management of the Max client
// and the metrics endpoint.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/webmax"
	"github.com/edgard/webmax/errs"
	"github.com/edgard/webmax/internal/bot/handlers"
	"github.com/edgard/webmax/internal/bot/tasks"
	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
	"github.com/edgard/webmax/internal/gemini"
	"github.com/edgard/webmax/internal/logger"
	"github.com/edgard/webmax/models"
)

const metricsShutdownTimeout = 5 * time.Second

// Bot represents the main bot application and manages its components' lifecycle.
type Bot struct {
	logger       *slog.Logger
	cfg          *config.Config
	store        database.Store
	geminiClient gemini.Client
	prompter     webmax.CodePrompter
	registry     *prometheus.Registry
	extraOpts    []webmax.Option
}

// NewBot creates a new instance of the bot. geminiClient may be nil, which
// disables /ask. prompter is used whenever a phone login is needed.
func NewBot(
	logger *slog.Logger,
	cfg *config.Config,
	store database.Store,
	geminiClient gemini.Client,
	prompter webmax.CodePrompter,
	opts ...webmax.Option,
) *Bot {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Bot{
		logger:       logger.With("component", "bot_orchestrator"),
		cfg:          cfg,
		store:        store,
		geminiClient: geminiClient,
		prompter:     prompter,
		registry:     registry,
		extraOpts:    opts,
	}
}

// credentials is what the Max client logs in with.
type credentials struct {
	token    string
	deviceID string
	// stored is set when the token came from the credential store.
	stored bool
}

// credentials picks the configured token, else the token stored for the
// configured phone, else nothing (a phone login is needed).
func (b *Bot) credentials(ctx context.Context) (credentials, error) {
	if b.cfg.Max.Token != "" {
		return credentials{token: b.cfg.Max.Token, deviceID: uuid.NewString()}, nil
	}

	session, err := b.store.GetSession(ctx, b.cfg.Max.Phone)
	if err != nil {
		return credentials{}, fmt.Errorf("failed to load stored session: %w", err)
	}
	if session == nil {
		return credentials{deviceID: uuid.NewString()}, nil
	}

	deviceID := session.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	b.logger.InfoContext(ctx, "Using stored session", "user_id", session.UserID)
	return credentials{token: session.Token, deviceID: deviceID, stored: true}, nil
}

// newClient builds a Max client for creds. serve adds the bot handlers and
// scheduled tasks; it is off for one-shot login and logout clients.
func (b *Bot) newClient(creds credentials, serve bool) (*webmax.Client, error) {
	maxCfg := b.cfg.Max
	if creds.token != "" {
		maxCfg.Token = creds.token
		maxCfg.Phone = ""
	} else {
		maxCfg.Token = ""
	}

	opts := []webmax.Option{
		webmax.WithLogger(b.logger.With("component", "webmax")),
		webmax.WithDeviceID(creds.deviceID),
		webmax.WithMetrics(b.registry),
	}
	if b.prompter != nil {
		opts = append(opts, webmax.WithCodePrompter(b.prompter))
	}
	if serve {
		opts = append(opts, webmax.WithMiddlewares(logger.Middleware(b.logger)))
		opts = append(opts, b.taskOptions()...)
	}
	opts = append(opts, b.extraOpts...)

	c, err := webmax.New(maxCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create max client: %w", err)
	}

	if b.cfg.Max.Phone != "" {
		c.OnConnect(func(ctx context.Context, c *webmax.Client) error {
			return b.saveSession(ctx, c.Token(), c.Me(), creds.deviceID)
		})
	}

	if serve {
		handlers.RegisterAll(c, handlers.HandlerDeps{
			Logger:       b.logger,
			Config:       b.cfg,
			Store:        b.store,
			GeminiClient: b.geminiClient,
		})
	}
	return c, nil
}

// taskOptions schedules every enabled task, in name order.
func (b *Bot) taskOptions() []webmax.Option {
	registered := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: b.logger,
		Store:  b.store,
		Config: b.cfg,
	})

	names := lo.Keys(registered)
	slices.Sort(names)

	var opts []webmax.Option
	for _, name := range names {
		schedule, ok := b.cfg.TaskEnabled(name)
		if !ok {
			b.logger.Info("Scheduled task disabled", "task", name)
			continue
		}
		fn := registered[name]
		opts = append(opts, webmax.WithTask(webmax.Task{
			Name:     name,
			Schedule: schedule,
			Func: func(ctx context.Context, _ *webmax.Client) error {
				return fn(ctx)
			},
		}))
	}
	for name := range b.cfg.Scheduler.Tasks {
		if _, ok := registered[name]; !ok {
			b.logger.Warn("Unknown task in configuration", "task", name)
		}
	}
	return opts
}

func (b *Bot) saveSession(ctx context.Context, token string, me *models.User, deviceID string) error {
	if token == "" {
		return nil
	}
	err := b.store.SaveSession(ctx, &database.Session{
		Phone:    b.cfg.Max.Phone,
		Token:    token,
		UserID:   me.ID(),
		DeviceID: deviceID,
	})
	if err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// MetricsHandler serves the Prometheus registry of the bot.
func (b *Bot) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{Registry: b.registry})
}

// Run starts the bot and all its components, handling graceful shutdown on context cancellation.
// It returns an error if any component fails during startup or execution.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("Starting bot orchestrator...")

	g, gCtx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gCtx)
	defer cancel()

	g.Go(func() error {
		defer cancel()
		return b.runClient(runCtx)
	})

	if addr := b.cfg.Metrics.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           b.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			b.logger.Info("Serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	b.logger.Info("Bot orchestrator running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Error("Bot orchestrator stopped due to error", "error", err)
		return err
	}

	b.logger.Info("Bot orchestrator stopped gracefully.")
	return nil
}

func (b *Bot) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.MetricsHandler())
	return mux
}

// runClient runs the Max client until ctx ends. A stored token the service
// rejects is forgotten and replaced by a phone login.
func (b *Bot) runClient(ctx context.Context) error {
	creds, err := b.credentials(ctx)
	if err != nil {
		return err
	}

	c, err := b.newClient(creds, true)
	if err != nil {
		return err
	}
	err = c.Run(ctx)

	var authErr *errs.AuthError
	if !creds.stored || !errors.As(err, &authErr) {
		return err
	}

	b.logger.WarnContext(ctx, "Stored session was rejected, logging in by phone", "error", err)
	if err := b.store.DeleteSession(ctx, b.cfg.Max.Phone); err != nil {
		return err
	}

	c, err = b.newClient(credentials{deviceID: creds.deviceID}, true)
	if err != nil {
		return err
	}
	return c.Run(ctx)
}

// Login runs the phone login, stores the issued token and disconnects.
func (b *Bot) Login(ctx context.Context) (*models.User, error) {
	phone := b.cfg.Max.Phone
	if phone == "" {
		return nil, errors.New("login needs max.phone")
	}

	creds, err := b.credentials(ctx)
	if err != nil {
		return nil, err
	}
	c, err := b.newClient(credentials{deviceID: creds.deviceID}, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Stop(ctx) }()

	token, me, err := c.Auth(ctx, phone, b.prompter)
	if token != "" {
		if saveErr := b.saveSession(ctx, token, me, creds.deviceID); saveErr != nil {
			return nil, saveErr
		}
	}
	if err != nil {
		return nil, err
	}
	b.logger.InfoContext(ctx, "Logged in", "user_id", me.ID(), "name", me.Contact.DisplayName())
	return me, nil
}

// Logout terminates the current token on the server and deletes the
// stored session.
func (b *Bot) Logout(ctx context.Context) error {
	creds, err := b.credentials(ctx)
	if err != nil {
		return err
	}
	if creds.token == "" {
		return errors.New("no session to log out from")
	}

	maxCfg := b.cfg.Max
	maxCfg.Token, maxCfg.Phone = creds.token, ""
	c, err := webmax.New(maxCfg, append([]webmax.Option{
		webmax.WithLogger(b.logger.With("component", "webmax")),
		webmax.WithDeviceID(creds.deviceID),
	}, b.extraOpts...)...)
	if err != nil {
		return fmt.Errorf("failed to create max client: %w", err)
	}
	c.OnConnect(func(ctx context.Context, c *webmax.Client) error {
		return c.Logout(ctx)
	})

	if err := c.Run(ctx); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}

	if phone := b.cfg.Max.Phone; phone != "" {
		if err := b.store.DeleteSession(ctx, phone); err != nil {
			return err
		}
	}
	b.logger.InfoContext(ctx, "Logged out")
	return nil
}
