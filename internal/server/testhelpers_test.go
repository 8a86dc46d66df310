package server

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/chatrelay/internal/config"
	"github.com/pscheid92/chatrelay/internal/domain"
	"github.com/pscheid92/chatrelay/internal/hub"
	"github.com/pscheid92/chatrelay/internal/relay"
)

// fakeEventRepo is an in-memory domain.EventRepository.
type fakeEventRepo struct {
	mu      sync.Mutex
	listErr error
	events  []domain.LifecycleEvent
	stats   domain.ConnectionStats
}

func (f *fakeEventRepo) Insert(_ context.Context, event domain.LifecycleEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEventRepo) ListRecent(_ context.Context, limit int) ([]domain.LifecycleEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > len(f.events) {
		limit = len(f.events)
	}
	// newest first
	recent := make([]domain.LifecycleEvent, 0, limit)
	for i := len(f.events) - 1; i >= len(f.events)-limit; i-- {
		recent = append(recent, f.events[i])
	}
	return recent, nil
}

func (f *fakeEventRepo) Stats(_ context.Context) (domain.ConnectionStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeEventRepo) stages() []domain.Stage {
	f.mu.Lock()
	defer f.mu.Unlock()
	stages := make([]domain.Stage, 0, len(f.events))
	for _, event := range f.events {
		stages = append(stages, event.Stage)
	}
	return stages
}

// fakeMessageRepo is an in-memory domain.MessageRepository.
type fakeMessageRepo struct {
	mu       sync.Mutex
	listErr  error
	messages []domain.ChatMessage
}

func (f *fakeMessageRepo) Insert(_ context.Context, username, message string) (domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := domain.ChatMessage{
		ID:       int64(len(f.messages) + 1),
		Username: username,
		Message:  message,
	}
	f.messages = append(f.messages, stored)
	return stored, nil
}

func (f *fakeMessageRepo) ListRecent(_ context.Context, limit int) ([]domain.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > len(f.messages) {
		limit = len(f.messages)
	}
	return f.messages[len(f.messages)-limit:], nil
}

// syncRecorder records lifecycle events straight into a fakeEventRepo,
// skipping the asynchronous buffer so tests can assert immediately.
type syncRecorder struct {
	repo *fakeEventRepo
}

func (r *syncRecorder) Record(ctx context.Context, event domain.LifecycleEvent) {
	_ = r.repo.Insert(ctx, event)
}

type serverFixture struct {
	server   *Server
	baseURL  string
	events   *fakeEventRepo
	messages *fakeMessageRepo
	hub      *hub.Hub
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:              "test",
		Port:                "0",
		LogLevel:            "error",
		LogFormat:           "text",
		Room:                "chat_room",
		MaxConnections:      100,
		MaxConnectionsPerIP: 100,
		ConnectionRate:      1000,
		ConnectionBurst:     1000,
		MaxClientsPerRoom:   100,
		HistoryReplayLimit:  50,
		RecorderBufferSize:  64,
	}
}

func newServerFixture(t *testing.T, cfg *config.Config) *serverFixture {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	events := &fakeEventRepo{}
	messages := &fakeMessageRepo{}

	chatHub := hub.NewHub(clockwork.NewRealClock(), cfg.MaxClientsPerRoom)
	t.Cleanup(func() { chatHub.Stop() })

	coordinator := relay.NewCoordinator(chatHub, &syncRecorder{repo: events}, messages, nil, clockwork.NewRealClock(), cfg.Room)

	srv := NewServer(cfg, coordinator, events, messages, nil, nil)

	httpServer := httptest.NewServer(srv.echo)
	t.Cleanup(func() { httpServer.Close() })

	return &serverFixture{
		server:   srv,
		baseURL:  httpServer.URL,
		events:   events,
		messages: messages,
		hub:      chatHub,
	}
}
