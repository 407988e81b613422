// Command beat is the main entry point for the Beat meeting facilitation
// engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/beatmeet/beat/internal/app"
	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/internal/docstore"
	"github.com/beatmeet/beat/internal/health"
	"github.com/beatmeet/beat/internal/observe"
	"github.com/beatmeet/beat/internal/resilience"
	"github.com/beatmeet/beat/pkg/docsink"
	"github.com/beatmeet/beat/pkg/provider/llm"
	"github.com/beatmeet/beat/pkg/provider/llm/anyllm"
	"github.com/beatmeet/beat/pkg/provider/llm/openai"
	"github.com/beatmeet/beat/pkg/provider/stt"
	"github.com/beatmeet/beat/pkg/provider/stt/deepgram"
	"github.com/beatmeet/beat/pkg/provider/stt/whisper"
	"github.com/beatmeet/beat/pkg/provider/tts"
	"github.com/beatmeet/beat/pkg/provider/tts/coqui"
	"github.com/beatmeet/beat/pkg/provider/tts/elevenlabs"
	"github.com/beatmeet/beat/pkg/room"
	"github.com/beatmeet/beat/pkg/room/discord"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "beat: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "beat: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	slog.Info("beat starting", "config", *configPath, "listen_addr", cfg.Server.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "beat"})
	if err != nil {
		slog.Error("failed to init telemetry", "error", err)
		return 1
	}
	defer shutdownTelemetry(context.Background())

	reg := config.NewRegistry()
	registerProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}

	platform, err := reg.CreateRoom(cfg.Providers.Room)
	if err != nil {
		slog.Error("failed to create room platform", "error", err)
		return 1
	}

	sink, closeSink, err := buildDocSink(ctx, cfg)
	if err != nil {
		slog.Error("failed to build document sink", "error", err)
		return 1
	}
	if closeSink != nil {
		defer closeSink()
	}

	application, err := app.New(ctx, cfg, platform, *providers, sink)
	if err != nil {
		slog.Error("failed to initialise application", "error", err)
		return 1
	}

	checks := []health.Checker{
		{Name: "config", Check: func(context.Context) error { return nil }},
	}
	healthHandler := health.New(checks...)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.Healthz)
	mux.HandleFunc("/readyz", healthHandler.Readyz)

	var srv *http.Server
	if cfg.Server.ListenAddr != "" {
		srv = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	slog.Info("beat ready — press Ctrl+C to shut down")
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// registerProviders wires every concrete provider implementation the
// example corpus offers into reg, keyed by the names [config.ValidProviderNames]
// recognises. No VAD provider is registered, although the config accepts a
// providers.vad entry: the Speech Gate decides from transcript text rather
// than a separate voice-activity backend — see DESIGN.md.
func registerProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("anthropic", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewAnthropic(e.Model)
	})
	reg.RegisterLLM("ollama", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewOllama(e.Model)
	})
	reg.RegisterLLM("gemini", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewGemini(e.Model)
	})
	reg.RegisterLLM("deepseek", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewDeepSeek(e.Model)
	})
	reg.RegisterLLM("mistral", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewMistral(e.Model)
	})
	reg.RegisterLLM("groq", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewGroq(e.Model)
	})
	reg.RegisterLLM("llamacpp", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewLlamaCpp(e.Model)
	})
	reg.RegisterLLM("llamafile", func(e config.ProviderEntry) (llm.Provider, error) {
		return anyllm.NewLlamaFile(e.Model)
	})

	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if e.Model != "" {
			opts = append(opts, deepgram.WithModel(e.Model))
		}
		return deepgram.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		return whisper.New(e.BaseURL, opts...)
	})
	reg.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		return whisper.NewNative(e.Model)
	})

	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		return coqui.New(e.BaseURL)
	})

	reg.RegisterRoom("discord", func(e config.ProviderEntry) (room.Platform, error) {
		session, err := discordgo.New("Bot " + e.APIKey)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildVoiceStates |
			discordgo.IntentsGuilds
		if err := session.Open(); err != nil {
			return nil, fmt.Errorf("discord: open session: %w", err)
		}
		guildID, _ := e.Options["guild_id"].(string)
		platform := discord.New(session, guildID)
		if textChannelID, ok := e.Options["text_channel_id"].(string); ok {
			platform.TextChannelID = textChannelID
		}
		return platform, nil
	})
}

// buildProviders instantiates the configured providers, wrapping each in a
// [resilience] fallback group when the entry declares Fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if cfg.Providers.LLM.Name != "" {
		p, err := buildLLM(cfg.Providers.LLM, reg)
		if err != nil {
			return nil, err
		}
		ps.LLM = p
	}
	if cfg.Providers.STT.Name != "" {
		p, err := buildSTT(cfg.Providers.STT, reg)
		if err != nil {
			return nil, err
		}
		ps.STT = p
	}
	if cfg.Providers.TTS.Name != "" {
		p, err := buildTTS(cfg.Providers.TTS, reg)
		if err != nil {
			return nil, err
		}
		ps.TTS = p
	}

	return ps, nil
}

func buildLLM(entry config.ProviderEntry, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(entry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		p, err := reg.CreateLLM(fe)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", fe.Name, err)
		}
		fb.AddFallback(fe.Name, p)
	}
	return fb, nil
}

func buildSTT(entry config.ProviderEntry, reg *config.Registry) (stt.Provider, error) {
	primary, err := reg.CreateSTT(entry)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		p, err := reg.CreateSTT(fe)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", fe.Name, err)
		}
		fb.AddFallback(fe.Name, p)
	}
	return fb, nil
}

func buildTTS(entry config.ProviderEntry, reg *config.Registry) (tts.Provider, error) {
	primary, err := reg.CreateTTS(entry)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	fb := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fe := range entry.Fallbacks {
		p, err := reg.CreateTTS(fe)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", fe.Name, err)
		}
		fb.AddFallback(fe.Name, p)
	}
	return fb, nil
}

// buildDocSink constructs the Document Assembler's storage sink from
// cfg.Docstore. When no DSN is configured it returns a [noopSink] and a nil
// close function: the application still runs, and every upload is logged
// and dropped without an error.
func buildDocSink(ctx context.Context, cfg *config.Config) (docsink.Sink, func(), error) {
	if cfg.Docstore.PostgresDSN == "" {
		return noopSink{}, nil, nil
	}
	store, err := docstore.New(ctx, cfg.Docstore.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect docstore: %w", err)
	}
	return store, store.Close, nil
}

// noopSink is used when no document store is configured; uploads are
// logged and dropped rather than failing the meeting.
type noopSink struct{}

func (noopSink) Upload(_ context.Context, roomID, filename, _ string, _ string) error {
	slog.Warn("docsink: no docstore configured, dropping document", "room", roomID, "filename", filename)
	return nil
}

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
