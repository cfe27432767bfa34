// Package app wires all vivadeck subsystems into a running review agent.
//
// The App struct owns the full lifecycle: New creates and connects the
// stores, resilience wrappers, and orchestrator from config plus the
// providers built by main, Run serves the session alongside the health and
// metrics listener, and Shutdown tears everything down in reverse order.
//
// For testing, inject in-memory stores via functional options
// (WithCheckpointStore, WithChunkStore, etc.). When an option is not
// provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vivadeck/vivadeck/internal/artifact"
	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/config"
	"github.com/vivadeck/vivadeck/internal/health"
	"github.com/vivadeck/vivadeck/internal/observe"
	"github.com/vivadeck/vivadeck/internal/orchestrator"
	"github.com/vivadeck/vivadeck/internal/pipeline"
	"github.com/vivadeck/vivadeck/internal/resilience"
	"github.com/vivadeck/vivadeck/internal/retrieval"
	"github.com/vivadeck/vivadeck/internal/review"
	"github.com/vivadeck/vivadeck/internal/review/reason"
	"github.com/vivadeck/vivadeck/internal/transcript"
	"github.com/vivadeck/vivadeck/internal/transcript/llmcorrect"
	"github.com/vivadeck/vivadeck/internal/transcript/phonetic"
	"github.com/vivadeck/vivadeck/pkg/provider/embeddings"
	"github.com/vivadeck/vivadeck/pkg/provider/llm"
	"github.com/vivadeck/vivadeck/pkg/provider/stt"
	"github.com/vivadeck/vivadeck/pkg/provider/tts"
	"github.com/vivadeck/vivadeck/pkg/provider/vad"
	"github.com/vivadeck/vivadeck/pkg/room"
	"github.com/vivadeck/vivadeck/pkg/types"
)

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
	VAD        vad.Engine
	Room       room.Room
}

func (p *Providers) validate() error {
	switch {
	case p == nil:
		return errors.New("providers are required")
	case p.LLM == nil:
		return errors.New("llm provider is required")
	case p.STT == nil:
		return errors.New("stt provider is required")
	case p.TTS == nil:
		return errors.New("tts provider is required")
	case p.Embeddings == nil:
		return errors.New("embeddings provider is required")
	case p.VAD == nil:
		return errors.New("vad engine is required")
	case p.Room == nil:
		return errors.New("room gateway is required")
	}
	return nil
}

// App owns all subsystem lifetimes for one review session agent.
type App struct {
	cfg       *config.Config
	providers *Providers
	roomName  string
	resume    bool

	// Subsystems — initialised in New, torn down in Shutdown.
	pgstore     *retrieval.PGStore
	chunks      retrieval.ChunkStore
	index       *retrieval.Index
	checkpoints checkpoint.Store
	reasoner    *reason.Reasoner
	corrector   transcript.Pipeline
	llmWrapped  llm.Provider
	breakers    *resilience.Registry
	metrics     *observe.Metrics
	orch        *orchestrator.Orchestrator
	httpSrv     *http.Server

	readiness []health.Checker

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCheckpointStore injects a checkpoint store instead of creating one
// from config.
func WithCheckpointStore(s checkpoint.Store) Option {
	return func(a *App) { a.checkpoints = s }
}

// WithChunkStore injects a retrieval chunk store instead of connecting to
// PostgreSQL.
func WithChunkStore(s retrieval.ChunkStore) Option {
	return func(a *App) { a.chunks = s }
}

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithResume restores the session's latest checkpoint instead of starting
// fresh.
func WithResume() Option {
	return func(a *App) { a.resume = true }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers
// struct comes from main.go (populated via the config registry); roomName
// is the media room this agent serves. Use Option functions to inject test
// doubles for any store.
func New(ctx context.Context, cfg *config.Config, providers *Providers, roomName string, opts ...Option) (*App, error) {
	if err := providers.validate(); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if roomName == "" {
		return nil, errors.New("app: room name is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		roomName:  roomName,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	// One registry for every provider wrapper, so breakers are keyed by
	// provider and operation and shared across subsystems.
	a.breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{})

	if err := a.initRetrieval(ctx); err != nil {
		return nil, fmt.Errorf("app: init retrieval: %w", err)
	}
	if err := a.initCheckpoints(); err != nil {
		return nil, fmt.Errorf("app: init checkpoints: %w", err)
	}
	a.initReasoner()
	a.initCorrector()
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initRetrieval connects the pgvector chunk store and builds the retrieval
// index over it.
func (a *App) initRetrieval(ctx context.Context) error {
	rc := a.cfg.Retrieval

	if a.chunks == nil {
		if rc.PostgresDSN == "" {
			return errors.New("retrieval.postgres_dsn is required when no chunk store is injected")
		}
		store, err := retrieval.NewPGStore(ctx, rc.PostgresDSN, rc.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.pgstore = store
		a.chunks = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.readiness = append(a.readiness, health.Checker{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return store.Pool().Ping(ctx) },
		})
	}

	parser, err := artifact.NewParser(a.cfg.Artifact.Parser)
	if err != nil {
		return err
	}

	var idxOpts []retrieval.IndexOption
	idxOpts = append(idxOpts, retrieval.WithParser(parser))
	idxOpts = append(idxOpts, retrieval.WithBreakers(a.cfg.Providers.Embeddings.Name, a.breakers))
	if rc.ChunkBudget > 0 {
		idxOpts = append(idxOpts, retrieval.WithChunkBudget(rc.ChunkBudget))
	}
	if rc.ChunkOverlap > 0 {
		idxOpts = append(idxOpts, retrieval.WithChunkOverlap(rc.ChunkOverlap))
	}
	a.index = retrieval.NewIndex(a.chunks, a.providers.Embeddings, idxOpts...)
	return nil
}

// initCheckpoints builds the configured checkpoint store.
func (a *App) initCheckpoints() error {
	if a.checkpoints != nil {
		return nil
	}

	cc := a.cfg.Checkpoint
	switch cc.Backend {
	case config.CheckpointRedis:
		opt, err := redis.ParseURL(cc.RedisURL)
		if err != nil {
			return fmt.Errorf("parse checkpoint.redis_url: %w", err)
		}
		client := redis.NewClient(opt)
		a.closers = append(a.closers, client.Close)
		a.readiness = append(a.readiness, health.Checker{
			Name:  "redis",
			Check: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})

		var storeOpts []checkpoint.RedisOption
		if cc.Ring > 0 {
			storeOpts = append(storeOpts, checkpoint.WithRing(cc.Ring))
		}
		if cc.TTLSec > 0 {
			storeOpts = append(storeOpts, checkpoint.WithTTL(time.Duration(cc.TTLSec)*time.Second))
		}
		a.checkpoints = checkpoint.NewRedisStore(client, storeOpts...)

	case config.CheckpointMemory, "":
		a.checkpoints = checkpoint.NewMemoryStore(cc.Ring)

	default:
		return fmt.Errorf("unknown checkpoint backend %q", cc.Backend)
	}

	a.readiness = append(a.readiness, health.CheckpointChecker(a.checkpoints))
	return nil
}

// initReasoner builds the structured-task reasoner over the (fallback
// wrapped) LLM, grounded by the retrieval index.
func (a *App) initReasoner() {
	a.reasoner = reason.NewReasoner(a.llmProvider(),
		reason.WithContextProvider(a.index),
		reason.WithRetry(resilience.LLMRetryConfig("reasoner")),
		reason.WithBreakers(a.cfg.Providers.LLM.Name, a.breakers),
	)
}

// initCorrector assembles the transcript correction pipeline: phonetic
// matching against the deck lexicon, with LLM cleanup on low-confidence
// spans.
func (a *App) initCorrector() {
	a.corrector = transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithLLMCorrector(llmcorrect.New(a.llmProvider())),
	)
}

// initOrchestrator assembles the session orchestrator from config and the
// initialised subsystems.
func (a *App) initOrchestrator() error {
	sc := a.cfg.Session

	orch, err := orchestrator.New(orchestrator.Config{
		Gateway:  a.providers.Room,
		RoomName: a.roomName,

		ASR:   resilience.NewSTTFallback(a.providers.STT, a.cfg.Providers.STT.Name, resilience.FallbackConfig{Breakers: a.breakers}),
		TTS:   resilience.NewTTSFallback(a.providers.TTS, a.cfg.Providers.TTS.Name, resilience.FallbackConfig{Breakers: a.breakers}),
		LLM:   a.llmProvider(),
		VAD:   a.providers.VAD,
		Voice: a.voiceProfile(),

		Reasoner:    a.reasoner,
		Index:       a.index,
		Checkpoints: a.checkpoints,
		Fetcher:     a.fetcher(),
		Corrector:   a.corrector,

		Pipeline: a.pipelineConfig(),

		AnswerTimeout:   secondsOrZero(sc.AnswerTimeoutSec),
		NudgeInterval:   secondsOrZero(sc.NudgeIntervalSec),
		DisconnectGrace: secondsOrZero(sc.DisconnectGraceSec),
		QuestionCounts:  questionCounts(sc.QuestionCounts),

		CheckpointInterval: secondsOrZero(a.cfg.Checkpoint.IntervalSec),
		Resume:             a.resume,
		Metrics:            a.metrics,
	})
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// initHTTP builds the health and metrics listener. The server itself is
// started by Run.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(a.readiness...).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// llmProvider returns the fallback-wrapped LLM, built once on first use.
func (a *App) llmProvider() llm.Provider {
	if a.llmWrapped == nil {
		a.llmWrapped = resilience.NewLLMFallback(
			a.providers.LLM, a.cfg.Providers.LLM.Name, resilience.FallbackConfig{Breakers: a.breakers})
	}
	return a.llmWrapped
}

func (a *App) fetcher() *artifact.Fetcher {
	var opts []artifact.FetcherOption
	if a.cfg.Artifact.MaxFetchBytes > 0 {
		opts = append(opts, artifact.WithMaxBytes(a.cfg.Artifact.MaxFetchBytes))
	}
	return artifact.NewFetcher(opts...)
}

func (a *App) voiceProfile() types.VoiceProfile {
	vc := a.cfg.Voice
	return types.VoiceProfile{
		ID:       vc.VoiceID,
		Provider: a.cfg.Providers.TTS.Name,
		Language: vc.Language,
		Speed:    vc.Speed,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the health/metrics listener and drives the review session,
// blocking until the session ends or ctx is cancelled. The HTTP listener's
// lifetime is bound to the session: when the session returns, the listener
// is drained and closed.
func (a *App) Run(ctx context.Context) error {
	srvErr := make(chan error, 1)
	if a.httpSrv.Addr != "" {
		go func() {
			slog.Info("health listener up", "addr", a.httpSrv.Addr)
			err := a.serve()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				srvErr <- err
				return
			}
			srvErr <- nil
		}()
	} else {
		srvErr <- nil
	}

	runErr := a.orch.Run(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpSrv.Shutdown(drainCtx); err != nil {
		slog.Warn("http listener shutdown", "err", err)
	}
	if err := <-srvErr; err != nil {
		slog.Error("health listener failed", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}

func (a *App) serve() error {
	if tls := a.cfg.Server.TLS; tls != nil {
		return a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return a.httpSrv.ListenAndServe()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects
// the context deadline: if ctx expires before all closers finish, the
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// pipelineConfig maps the YAML pipeline block onto the dialogue pipeline's
// config, converting millisecond knobs to durations.
func (a *App) pipelineConfig() pipeline.Config {
	pc := a.cfg.Pipeline
	return pipeline.Config{
		SampleRate:         pc.SampleRate,
		Language:           pc.Language,
		Model:              a.cfg.Providers.STT.Model,
		EndpointingMs:      pc.EndpointingMs,
		DisablePunctuation: pc.DisablePunctuation,
		DisableSmartFormat: pc.DisableSmartFormat,
		Diarize:            pc.Diarize,
		DisableUtterances:  pc.DisableUtterances,
		AllowInterruptions: !pc.DisableInterruptions,
		InterruptMinSpeech: millisOrZero(pc.InterruptMinSpeechMs),
		InterruptMinWords:  pc.InterruptMinWords,
		KeywordBoost:       pc.KeywordBoost,
		Temperature:        pc.Temperature,
		MaxTokens:          pc.MaxTokens,
		VAD: vad.Config{
			SampleRate:       pc.SampleRate,
			FrameSizeMs:      pc.VAD.FrameSizeMs,
			SpeechThreshold:  pc.VAD.SpeechThreshold,
			SilenceThreshold: pc.VAD.SilenceThreshold,
			MinSpeechMs:      pc.VAD.MinSpeechMs,
			MinSilenceMs:     pc.VAD.MinSilenceMs,
			PaddingMs:        pc.VAD.PaddingMs,
		},
	}
}

// questionCounts converts the YAML level map into typed review levels,
// dropping unknown level names with a warning.
func questionCounts(m map[string]int) map[review.Level]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[review.Level]int, len(m))
	for k, v := range m {
		level := review.Level(k)
		switch level {
		case review.LevelEasy, review.LevelMedium, review.LevelHard:
			out[level] = v
		default:
			slog.Warn("ignoring unknown question level", "level", k)
		}
	}
	return out
}

func secondsOrZero(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

func millisOrZero(ms int) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
