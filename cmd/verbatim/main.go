// Command verbatim is the media-processing daemon: it owns the task queues,
// the transcription pipeline, speaker identification, recovery, and the
// operational HTTP surface (health probes, metrics, notification sockets).
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

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/tobfr/verbatim/internal/blob"
	"github.com/tobfr/verbatim/internal/config"
	"github.com/tobfr/verbatim/internal/health"
	"github.com/tobfr/verbatim/internal/notify"
	"github.com/tobfr/verbatim/internal/observe"
	"github.com/tobfr/verbatim/internal/queue"
	"github.com/tobfr/verbatim/internal/recovery"
	"github.com/tobfr/verbatim/internal/speaker"
	"github.com/tobfr/verbatim/internal/store"
	"github.com/tobfr/verbatim/internal/summarize"
	"github.com/tobfr/verbatim/internal/tasks"
	"github.com/tobfr/verbatim/internal/topics"
	"github.com/tobfr/verbatim/internal/vector"
	"github.com/tobfr/verbatim/pkg/provider/llm"
	llmanyllm "github.com/tobfr/verbatim/pkg/provider/llm/anyllm"
	llmopenai "github.com/tobfr/verbatim/pkg/provider/llm/openai"
	"github.com/tobfr/verbatim/pkg/provider/transcribe"
	tropenai "github.com/tobfr/verbatim/pkg/provider/transcribe/openai"
	"github.com/tobfr/verbatim/pkg/provider/voice"
	voicehttp "github.com/tobfr/verbatim/pkg/provider/voice/http"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "verbatim: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "verbatim: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("verbatim starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "verbatim",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("init telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("create metrics", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	transcriber, llmProvider, voiceProvider, err := buildProviders(cfg)
	if err != nil {
		slog.Error("build providers", "err", err)
		return 1
	}

	// ── Backing services ──────────────────────────────────────────────────────
	st, err := store.New(ctx, cfg.Database.DSN, cfg.Database.EmbeddingDimensions)
	if err != nil {
		slog.Error("connect postgres", "err", err)
		return 1
	}
	defer st.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("connect redis", "addr", cfg.Redis.Addr, "err", err)
		return 1
	}

	blobs, err := blob.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("connect object store", "err", err)
		return 1
	}

	// ── Pipeline wiring ───────────────────────────────────────────────────────
	router := queue.NewRouter(cfg.Queues)
	broker := queue.NewBroker(rdb)
	locker := queue.NewLocker(rdb)
	bus := notify.NewBus(rdb, logger)
	index := vector.New(st.Pool(), cfg.Database.EmbeddingDimensions)

	engine := speaker.New(
		st.Speakers, st.Profiles, st.Matches, st.Segments, st.Settings,
		index, voiceProvider, cfg.Speaker, metrics, logger,
	)
	summarizer := summarize.New(llmProvider, st.Topics, cfg.Providers.LLM.Model)
	extractor := topics.NewExtractor(llmProvider, st.Topics)

	svc := tasks.New(*cfg, tasks.Deps{
		Store:       st,
		Blobs:       blobs,
		Broker:      broker,
		Router:      router,
		Bus:         bus,
		Speakers:    engine,
		Summarizer:  summarizer,
		Topics:      extractor,
		Transcriber: transcriber,
		LLM:         llmProvider,
		Metrics:     metrics,
		Logger:      logger,
	})

	workerID := workerIdentity()
	pool := queue.NewPool(router, broker, svc.Dispatch, workerID, logger)
	// A transcription process dying on the GPU can leave its checked-out
	// connections half-dead; recycle the pool between tasks.
	pool.AfterTask = func(context.Context) { st.Pool().Reset() }

	rec := recovery.New(
		st.Files, st.Tasks, st.Settings, broker, cfg.Recovery,
		svc.ResubmitFile,
		func(ctx context.Context, f store.MediaFile, action string) {
			bus.Publish(ctx, mustEvent(notify.EventRecovery, f, action))
		},
		metrics, logger,
	)
	svc.SetRecovery(rec)

	// Reconcile claim lists left behind by dead replicas before this one
	// starts claiming.
	if err := rec.RecoverBoot(ctx, workerID); err != nil {
		slog.Error("boot recovery", "err", err)
		return 1
	}

	scheduler := queue.NewScheduler(locker, svc.Beats(), logger)

	// ── HTTP surface ──────────────────────────────────────────────────────────
	checks := health.New(version,
		health.Checker{Name: "database", Check: st.Ping},
		health.Checker{Name: "redis", Check: broker.Ping},
		health.Checker{Name: "storage", Check: blobs.Ping},
	)
	bridge := notify.NewBridge(bus, logger)
	bridge.ResolveUser = userFromQuery

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", observe.Middleware(metrics, http.HandlerFunc(checks.Healthz)))
	mux.Handle("GET /readyz", observe.Middleware(metrics, http.HandlerFunc(checks.Readyz)))
	mux.Handle("GET /metrics", promhttp.Handler())
	// The websocket upgrade needs the raw ResponseWriter; no middleware here.
	mux.Handle("GET /ws/events", bridge)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(sctx)
	})

	slog.Info("verbatim ready", "worker_id", workerID, "listen_addr", cfg.Server.ListenAddr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildProviders(cfg *config.Config) (transcribe.Provider, llm.Provider, voice.Provider, error) {
	transcriber, err := buildTranscriber(cfg.Providers.Transcription)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("transcription provider: %w", err)
	}
	llmProvider, err := buildLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("llm provider: %w", err)
	}
	voiceProvider, err := buildVoice(cfg.Providers.VoiceEmbed, cfg.Database.EmbeddingDimensions)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("voice embedding provider: %w", err)
	}
	return transcriber, llmProvider, voiceProvider, nil
}

func buildTranscriber(entry config.ProviderEntry) (transcribe.Provider, error) {
	switch entry.Name {
	case "openai", "":
		var opts []tropenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, tropenai.WithBaseURL(entry.BaseURL))
		}
		return tropenai.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown implementation %q", entry.Name)
	}
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai", "":
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	case "anyllm":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return llmanyllm.New(entry.Backend, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown implementation %q", entry.Name)
	}
}

func buildVoice(entry config.ProviderEntry, dimensions int) (voice.Provider, error) {
	switch entry.Name {
	case "http", "":
		if entry.BaseURL == "" {
			return nil, errors.New(`"http" requires base_url (the embedding sidecar address)`)
		}
		return voicehttp.New(entry.BaseURL, dimensions)
	default:
		return nil, fmt.Errorf("unknown implementation %q", entry.Name)
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// workerIdentity names this replica's claim lists. Hostname plus pid is
// unique per live process and survives in redis when the process dies, which
// is exactly what boot recovery inspects.
func workerIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// userFromQuery resolves the websocket user from the user_id query parameter.
// The daemon sits behind the API gateway, which authenticates and rewrites
// the parameter; raw exposure of this port must not leave the deployment
// network.
func userFromQuery(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func mustEvent(eventType string, f store.MediaFile, action string) notify.Event {
	ev, err := notify.NewEvent(eventType, f.UserID, f.ID, map[string]any{
		"action": action,
		"status": f.Status,
	})
	if err != nil {
		return notify.Event{Type: eventType, UserID: f.UserID, FileID: f.ID}
	}
	return ev
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
