// Command attune runs the parent-child session analysis service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/cobra"

	"github.com/corvidlabs/attune/internal/audio"
	"github.com/corvidlabs/attune/internal/coding"
	"github.com/corvidlabs/attune/internal/config"
	"github.com/corvidlabs/attune/internal/gateway"
	"github.com/corvidlabs/attune/internal/health"
	"github.com/corvidlabs/attune/internal/insight"
	"github.com/corvidlabs/attune/internal/observe"
	"github.com/corvidlabs/attune/internal/pipeline"
	"github.com/corvidlabs/attune/internal/resilience"
	"github.com/corvidlabs/attune/internal/roles"
	"github.com/corvidlabs/attune/internal/server"
	"github.com/corvidlabs/attune/internal/store"
	"github.com/corvidlabs/attune/internal/store/memstore"
	"github.com/corvidlabs/attune/internal/store/postgres"
	"github.com/corvidlabs/attune/internal/transcribe"
	"github.com/corvidlabs/attune/pkg/provider/ai"
	"github.com/corvidlabs/attune/pkg/provider/ai/anyllm"
	aiopenai "github.com/corvidlabs/attune/pkg/provider/ai/openai"
	"github.com/corvidlabs/attune/pkg/provider/stt"
	"github.com/corvidlabs/attune/pkg/provider/stt/deepgram"
	sttopenai "github.com/corvidlabs/attune/pkg/provider/stt/openai"
	"github.com/corvidlabs/attune/pkg/types"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "attune",
		Short: "Behavioral analysis for recorded parent-child sessions",
		Long: `Attune transcribes recorded parent-child play and discipline sessions,
identifies who is speaking, codes every parent utterance with a DPICS-style
behavior tag, and produces a scored report with coaching guidance.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("attune %s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and analysis pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})

	analyzeCmd := &cobra.Command{
		Use:   "analyze <audio-file>",
		Short: "Analyze a single recording and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			childID, _ := cmd.Flags().GetString("child")
			return runAnalyze(args[0], mode, childID)
		},
	}
	analyzeCmd.Flags().String("mode", "cdi", "session mode: cdi or pdi")
	analyzeCmd.Flags().String("child", "", "child identifier, used to fetch session history")
	rootCmd.AddCommand(analyzeCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ── serve ─────────────────────────────────────────────────────────────────────

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("attune starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "attune",
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	gw, sttProvider, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	st, checkers, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sup := buildSupervisor(cfg, st, gw, sttProvider, logger)
	sup.Start(ctx)
	defer sup.Close()

	srvCfg := server.Config{ListenAddr: cfg.Server.ListenAddr}
	if cfg.Server.TLS != nil {
		srvCfg.CertFile = cfg.Server.TLS.CertFile
		srvCfg.KeyFile = cfg.Server.TLS.KeyFile
	}
	srv := server.New(srvCfg, st, sup, health.New(checkers...), logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("goodbye")
	return nil
}

// ── analyze ───────────────────────────────────────────────────────────────────

// runAnalyze executes the full pipeline once against a local recording,
// without persistence or an HTTP surface, and prints the finished session.
func runAnalyze(audioFile, mode, childID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	sessionMode := types.Mode(mode)
	if sessionMode != types.ModeCDI && sessionMode != types.ModePDI {
		return fmt.Errorf("invalid mode %q: want cdi or pdi", mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	gw, sttProvider, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	st := memstore.New()
	sess := &types.Session{
		ID:       uuid.NewString(),
		ChildID:  childID,
		Mode:     sessionMode,
		AudioRef: filepath.Base(audioFile),
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		return err
	}

	// The audio source serves exactly the one file named on the command line.
	source := pipeline.AudioSourceFunc(func(_ context.Context, _ *types.Session) (stt.Request, error) {
		f, err := os.Open(audioFile)
		if err != nil {
			return stt.Request{}, err
		}
		return stt.Request{Audio: f, MIMEType: audio.TypeByName(audioFile)}, nil
	})

	transcriber := transcribe.New(sttProvider, st, logger)
	analyzer := insight.New(gw, st, logger, insightOptions(cfg)...)
	pipe := pipeline.New(st, source, transcriber, roles.New(gw), coding.New(gw), analyzer, logger)

	if err := pipe.Run(ctx, sess.ID); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	result, err := st.Session(ctx, sess.ID)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// ── wiring ────────────────────────────────────────────────────────────────────

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found — copy configs/example.yaml to get started", configPath)
		}
		return nil, err
	}
	return cfg, nil
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai talks to the official SDK directly.
	reg.RegisterAI("openai", func(entry config.ProviderEntry) (ai.Provider, error) {
		var opts []aiopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, aiopenai.WithBaseURL(entry.BaseURL))
		}
		return aiopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral and groq share the same pattern:
	// optional APIKey + optional BaseURL through the any-llm bridge.
	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterAI(providerName, func(entry config.ProviderEntry) (ai.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterAI("ollama", func(entry config.ProviderEntry) (ai.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		return sttopenai.New(entry.APIKey, entry.Model)
	})
}

// buildProviders instantiates the configured AI and STT chains, wraps each in
// its fallback group, and returns the shared gateway plus the transcription
// backend.
func buildProviders(cfg *config.Config, reg *config.Registry) (*gateway.Gateway, stt.Provider, error) {
	aiChain := cfg.Providers.AI
	aiProviders, err := reg.CreateAIChain(aiChain)
	if err != nil {
		return nil, nil, fmt.Errorf("create ai providers: %w", err)
	}
	aiFB := resilience.NewAIFallback(aiProviders[0], aiChain.Primary.Name, resilience.FallbackConfig{})
	for i, p := range aiProviders[1:] {
		aiFB.AddFallback(aiChain.Fallbacks[i].Name, p)
	}
	slog.Info("ai chain ready", "primary", aiChain.Primary.Name, "fallbacks", len(aiChain.Fallbacks))

	sttChain := cfg.Providers.STT
	sttProviders, err := reg.CreateSTTChain(sttChain)
	if err != nil {
		return nil, nil, fmt.Errorf("create stt providers: %w", err)
	}
	sttFB := resilience.NewSTTFallback(sttProviders[0], sttChain.Primary.Name, resilience.FallbackConfig{})
	for i, p := range sttProviders[1:] {
		sttFB.AddFallback(sttChain.Fallbacks[i].Name, p)
	}
	slog.Info("stt chain ready", "primary", sttChain.Primary.Name, "fallbacks", len(sttChain.Fallbacks))

	gw := gateway.New(aiFB, gateway.WithCallTimeout(cfg.Pipeline.CallTimeout.Std()))
	return gw, sttFB, nil
}

// buildStore selects the session store. An empty DSN yields the in-memory
// store, which loses everything on restart.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, []health.Checker, func(), error) {
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("no postgres dsn configured — using in-memory store")
		return memstore.New(), nil, func() {}, nil
	}

	pg, err := postgres.New(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, nil, err
	}
	checkers := []health.Checker{{Name: "postgres", Check: pg.Ping}}
	return pg, checkers, pg.Close, nil
}

// buildSupervisor assembles the pipeline and wraps it in its supervisor; the
// serve path only ever drives the pipeline through supervised triggers.
func buildSupervisor(cfg *config.Config, st store.Store, gw *gateway.Gateway, sttProvider stt.Provider, logger *slog.Logger) *pipeline.Supervisor {
	transcriber := transcribe.New(sttProvider, st, logger)
	analyzer := insight.New(gw, st, logger, insightOptions(cfg)...)
	pipe := pipeline.New(st, audio.NewDir(cfg.Storage.AudioDir), transcriber, roles.New(gw), coding.New(gw), analyzer, logger)

	var supOpts []pipeline.SupervisorOption
	if d := cfg.Pipeline.StaleAfter.Std(); d > 0 {
		supOpts = append(supOpts, pipeline.WithStaleAfter(d))
	}
	if d := cfg.Pipeline.ReapInterval.Std(); d > 0 {
		supOpts = append(supOpts, pipeline.WithReapInterval(d))
	}
	return pipeline.NewSupervisor(pipe, st, logger, supOpts...)
}

func insightOptions(cfg *config.Config) []insight.Option {
	var opts []insight.Option
	if cfg.Pipeline.HistoryLimit > 0 {
		opts = append(opts, insight.WithHistoryLimit(cfg.Pipeline.HistoryLimit))
	}
	return opts
}

// ── logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
