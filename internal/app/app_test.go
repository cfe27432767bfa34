package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/vivadeck/vivadeck/internal/app"
	"github.com/vivadeck/vivadeck/internal/checkpoint"
	"github.com/vivadeck/vivadeck/internal/config"
	"github.com/vivadeck/vivadeck/internal/retrieval"
	embmock "github.com/vivadeck/vivadeck/pkg/provider/embeddings/mock"
	llmmock "github.com/vivadeck/vivadeck/pkg/provider/llm/mock"
	sttmock "github.com/vivadeck/vivadeck/pkg/provider/stt/mock"
	ttsmock "github.com/vivadeck/vivadeck/pkg/provider/tts/mock"
	vadmock "github.com/vivadeck/vivadeck/pkg/provider/vad/mock"
	roommock "github.com/vivadeck/vivadeck/pkg/room/mock"
)

// fakeChunkStore is an empty in-memory stand-in for the pgvector store.
type fakeChunkStore struct{}

func (fakeChunkStore) Upsert(context.Context, []retrieval.Chunk) error { return nil }

func (fakeChunkStore) Search(context.Context, string, []float32, int) ([]retrieval.ScoredChunk, error) {
	return nil, nil
}

func (fakeChunkStore) FirstChunks(context.Context, string, int) ([]retrieval.ScoredChunk, error) {
	return nil, nil
}

func (fakeChunkStore) DeleteSession(context.Context, string) (int64, error) { return 0, nil }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			LogLevel: config.LogInfo,
		},
		Providers: config.ProvidersConfig{
			LLM:        config.ProviderEntry{Name: "openai", Model: "gpt-4o"},
			STT:        config.ProviderEntry{Name: "deepgram"},
			TTS:        config.ProviderEntry{Name: "cartesia"},
			Embeddings: config.ProviderEntry{Name: "openai"},
			VAD:        config.ProviderEntry{Name: "energy"},
			Room:       config.ProviderEntry{Name: "wsroom", BaseURL: "ws://localhost:7880"},
		},
		Voice: config.VoiceConfig{VoiceID: "reviewer-1", Language: "en-US"},
		Session: config.SessionConfig{
			AnswerTimeoutSec: 90,
			QuestionCounts:   map[string]int{"easy": 2, "medium": 2, "hard": 1},
		},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM:        &llmmock.Provider{},
		STT:        &sttmock.Provider{},
		TTS:        &ttsmock.Provider{},
		Embeddings: &embmock.Provider{},
		VAD:        &vadmock.Engine{},
		Room:       &roommock.Room{},
	}
}

func TestNew_WithInjectedStores(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), "room-1",
		app.WithChunkStore(fakeChunkStore{}),
		app.WithCheckpointStore(checkpoint.NewMemoryStore(0)),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if application == nil {
		t.Fatal("expected non-nil app")
	}
}

func TestNew_RequiresRoomName(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), testProviders(), "",
		app.WithChunkStore(fakeChunkStore{}),
		app.WithCheckpointStore(checkpoint.NewMemoryStore(0)),
	)
	if err == nil {
		t.Fatal("expected error for empty room name")
	}
}

func TestNew_RequiresProviders(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*app.Providers)
	}{
		{"missing llm", func(p *app.Providers) { p.LLM = nil }},
		{"missing stt", func(p *app.Providers) { p.STT = nil }},
		{"missing tts", func(p *app.Providers) { p.TTS = nil }},
		{"missing embeddings", func(p *app.Providers) { p.Embeddings = nil }},
		{"missing vad", func(p *app.Providers) { p.VAD = nil }},
		{"missing room", func(p *app.Providers) { p.Room = nil }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			providers := testProviders()
			tc.mutate(providers)
			_, err := app.New(context.Background(), testConfig(), providers, "room-1",
				app.WithChunkStore(fakeChunkStore{}),
				app.WithCheckpointStore(checkpoint.NewMemoryStore(0)),
			)
			if err == nil {
				t.Error("expected error for missing provider")
			}
		})
	}
}

func TestNew_RequiresDSNWithoutInjectedChunkStore(t *testing.T) {
	t.Parallel()

	_, err := app.New(context.Background(), testConfig(), testProviders(), "room-1",
		app.WithCheckpointStore(checkpoint.NewMemoryStore(0)),
	)
	if err == nil {
		t.Fatal("expected error when postgres_dsn is missing")
	}
}

func TestNew_RejectsUnknownCheckpointBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Checkpoint.Backend = "etcd"
	_, err := app.New(context.Background(), cfg, testProviders(), "room-1",
		app.WithChunkStore(fakeChunkStore{}),
	)
	if err == nil {
		t.Fatal("expected error for unknown checkpoint backend")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig(), testProviders(), "room-1",
		app.WithChunkStore(fakeChunkStore{}),
		app.WithCheckpointStore(checkpoint.NewMemoryStore(0)),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := application.Shutdown(ctx); err != nil {
		t.Errorf("first shutdown: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Errorf("second shutdown: %v", err)
	}
}
