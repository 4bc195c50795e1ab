package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/castwright/internal/config"
	"github.com/jackzampolin/castwright/internal/home"
	"github.com/jackzampolin/castwright/internal/invoker"
	"github.com/jackzampolin/castwright/internal/ledger"
	"github.com/jackzampolin/castwright/internal/notify"
	"github.com/jackzampolin/castwright/internal/objstore"
	"github.com/jackzampolin/castwright/internal/podcast"
	"github.com/jackzampolin/castwright/internal/prompts"
	podcastprompts "github.com/jackzampolin/castwright/internal/prompts/podcast"
	"github.com/jackzampolin/castwright/internal/providers"
	"github.com/jackzampolin/castwright/internal/server"
	"github.com/jackzampolin/castwright/internal/stitch"
	"github.com/jackzampolin/castwright/internal/svcctx"
	"github.com/jackzampolin/castwright/internal/telemetry"
	"github.com/jackzampolin/castwright/internal/workflow"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the castwright server",
	Long: `Start the castwright HTTP server.

The server opens the SQLite ledger and artifact stores under the home
directory, starts the speech job workers, and serves the pipeline API.
On Ctrl+C or SIGTERM background runs are cancelled and the ledger is closed.

The server provides:
  - /health        Basic server health check
  - /ready         Readiness check (pings the ledger)
  - /metrics       Prometheus metrics
  - /api/topics    Pipeline operations
  - /swagger       API documentation

Examples:
  castwright serve                    # Start on the configured port (default 8080)
  castwright serve --port 3000        # Start on custom port
  castwright serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: runServe,
}

// newLogger writes text to a terminal and JSON otherwise.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	h, err := home.New(homeDir)
	if err != nil {
		return err
	}
	if err := h.EnsureExists(); err != nil {
		return err
	}

	cfgMgr, err := config.NewManager(configPath(h))
	if err != nil {
		return err
	}
	cfg := cfgMgr.Get()

	logger := newLogger(os.Stderr, cfg.LogLevel())
	slog.SetDefault(logger)
	cfgMgr.SetLogger(logger)
	if f := cfgMgr.File(); f != "" {
		logger.Info("loaded config", "file", f)
		cfgMgr.WatchConfig()
	}

	// shutdown hooks run in order, so later resources are released first
	var closers []func(context.Context) error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i](context.Background())
		}
	}

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  cfg.Telemetry.ServiceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		StdoutTraces: cfg.Telemetry.StdoutTraces,
	}, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	closers = append(closers, tel.Shutdown)

	store, err := ledger.OpenSQLite(ctx, home.Resolve(cfg.Storage.LedgerPath, h.LedgerPath()), logger)
	if err != nil {
		cleanup()
		return err
	}
	closers = append(closers, func(context.Context) error { return store.Close() })

	contentStore, err := objstore.NewFSStore(home.Resolve(cfg.Storage.ContentDir, h.ContentDir()))
	if err != nil {
		cleanup()
		return err
	}
	audioStore, err := objstore.NewFSStore(home.Resolve(cfg.Storage.AudioDir, h.AudioDir()))
	if err != nil {
		cleanup()
		return err
	}

	inst := tel.Instruments()
	inv := invoker.New(invoker.Config{
		Policy:   cfg.InvokerPolicy(),
		Observer: inst,
		Logger:   logger,
	})

	oa := cfg.Providers.OpenAI
	apiKey := cfg.OpenAIKey()
	if apiKey == "" {
		logger.Warn("no OpenAI API key configured; provider calls will fail", "key", "providers.openai.api_key")
	}
	text := providers.NewOpenAIText(providers.OpenAITextConfig{
		APIKey:      apiKey,
		Model:       oa.TextModel,
		MaxTokens:   oa.MaxTokens,
		Temperature: oa.Temperature,
		MaxRetries:  oa.MaxRetries,
		Timeout:     oa.Timeout,
		BaseURL:     oa.BaseURL,
	})
	tts := providers.NewOpenAITTS(providers.OpenAITTSConfig{
		APIKey:       apiKey,
		Model:        oa.SpeechModel,
		Voice:        oa.Voice,
		Speed:        oa.Speed,
		Instructions: oa.Instructions,
		MaxRetries:   oa.MaxRetries,
		Timeout:      oa.Timeout,
		BaseURL:      oa.BaseURL,
	})
	speech, err := providers.NewSpeechRunner(providers.SpeechRunnerConfig{
		Backend:           tts,
		Store:             audioStore,
		Workers:           oa.Workers,
		RequestsPerMinute: oa.RateLimit,
		Invoker:           inv,
		Logger:            logger,
	})
	if err != nil {
		cleanup()
		return err
	}
	speech.Start(ctx)
	closers = append(closers, func(context.Context) error { speech.Stop(); return nil })

	concat, err := stitch.SelectConcatenator(cfg.Stitch.FFmpegPath, cfg.Stitch.AllowByteConcat, logger)
	if err != nil {
		cleanup()
		return err
	}

	var pub notify.Publisher
	if cfg.Notify.NATSURL != "" {
		nc, err := notify.ConnectNATS(notify.NATSConfig{
			URL:           cfg.Notify.NATSURL,
			Name:          cfg.Notify.Name,
			SubjectPrefix: cfg.Notify.SubjectPrefix,
		}, logger)
		if err != nil {
			cleanup()
			return err
		}
		pub = nc
	}
	notifier := notify.NewNotifier(pub, logger)
	closers = append(closers, func(context.Context) error { notifier.Close(); return nil })

	resolver := prompts.NewResolver(logger)
	podcastprompts.RegisterPrompts(resolver)
	if err := cfg.ApplyPromptOverrides(resolver); err != nil {
		cleanup()
		return err
	}
	cfgMgr.OnChange(func(c *config.Config) {
		if err := c.ApplyPromptOverrides(resolver); err != nil {
			logger.Warn("prompt overrides not reloaded", "error", err)
			return
		}
		logger.Info("prompt overrides reloaded", "count", len(c.Prompts.Overrides))
	})

	svc, err := podcast.New(podcast.Config{
		Ledger:         telemetry.WrapLedger(store, inst),
		Content:        contentStore,
		Audio:          audioStore,
		Text:           text,
		Speech:         speech,
		Concat:         concat,
		Prompts:        resolver,
		Invoker:        inv,
		ChunkSize:      cfg.Pipeline.ChunkSize,
		Voice:          oa.Voice,
		PruneThreshold: cfg.Pipeline.PruneThreshold,
		ScratchDir:     home.Resolve(cfg.Storage.ScratchDir, h.ScratchDir()),
		LocksDir:       home.Resolve(cfg.Storage.LocksDir, h.LocksDir()),
		Notifier:       notifier,
		Instruments:    inst,
		Tracer:         tel.Tracer(),
		Logger:         logger,
	})
	if err != nil {
		cleanup()
		return err
	}

	runner := workflow.NewRunner(workflow.Config{
		Pipeline:       svc,
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
		InitialWait:    cfg.Pipeline.InitialWait,
		PollInterval:   cfg.Pipeline.PollInterval,
		Logger:         logger,
	})

	host := cfg.Server.Host
	if cmd.Flags().Changed("host") {
		host = serveHost
	}
	port := cfg.Server.Port
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	// the server runs the hooks in order; release in reverse of acquisition
	hooks := make([]func(context.Context) error, 0, len(closers))
	for i := len(closers) - 1; i >= 0; i-- {
		hooks = append(hooks, closers[i])
	}

	srv, err := server.New(server.Config{
		Host: host,
		Port: port,
		Services: &svcctx.Services{
			Pipeline:  svc,
			Runner:    runner,
			ConfigMgr: cfgMgr,
			Home:      h,
			Logger:    logger,
		},
		MetricsHandler: tel.Handler(),
		OnShutdown:     hooks,
		Logger:         logger,
	})
	if err != nil {
		cleanup()
		return err
	}

	logger.Info("castwright ready",
		"home", h.Path(),
		"text_model", oa.TextModel,
		"speech_model", oa.SpeechModel,
		"concat", concat.Name(),
	)

	// Start server (blocks until shutdown)
	return srv.Start(ctx)
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to (overrides server.host)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on (overrides server.port)")

	rootCmd.AddCommand(serveCmd)
}
