// Package app wires Beat's subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the shared provider
// set and MCP host from config, StartMeeting spawns a new facilitated
// meeting in its own goroutine, and Shutdown tears every active meeting
// down in order. Unlike a single-session assistant, Beat runs one
// independent [session.Facilitator] per room — a deployment facilitates
// many concurrent meetings, each with its own Agenda State Machine and
// resilience boundary.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/beatmeet/beat/internal/config"
	"github.com/beatmeet/beat/internal/mcp"
	"github.com/beatmeet/beat/internal/mcp/mcphost"
	"github.com/beatmeet/beat/internal/session"
	"github.com/beatmeet/beat/pkg/docsink"
	"github.com/beatmeet/beat/pkg/provider/llm"
	"github.com/beatmeet/beat/pkg/provider/stt"
	"github.com/beatmeet/beat/pkg/provider/tts"
	"github.com/beatmeet/beat/pkg/room"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured; [session.Facilitator] degrades gracefully
// when STT or TTS is absent (chat/control-only facilitation).
type Providers struct {
	LLM   llm.Provider
	STT   stt.Provider
	TTS   tts.Provider
	Voice tts.VoiceProfile
}

// meetingHandle tracks one running meeting's cancellation and completion.
type meetingHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// App owns the shared provider set, MCP tool host, and the set of
// currently running meetings.
type App struct {
	cfg       *config.Config
	platform  room.Platform
	providers Providers
	sink      docsink.Sink
	mcpHost   *mcphost.Host

	mu       sync.Mutex
	meetings map[string]*meetingHandle

	closers []func() error
}

// Option is a functional option for New, used to inject test doubles.
type Option func(*App)

// WithMCPHost injects an MCP host instead of creating one from config.
func WithMCPHost(h *mcphost.Host) Option {
	return func(a *App) { a.mcpHost = h }
}

// New builds an App from cfg. platform connects rooms, providers supplies
// the LLM/STT/TTS collaborators, and sink is where assembled meeting
// documents are uploaded. MCP servers declared in cfg.MCP are registered
// and calibrated synchronously.
func New(ctx context.Context, cfg *config.Config, platform room.Platform, providers Providers, sink docsink.Sink, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		platform:  platform,
		providers: providers,
		sink:      sink,
		meetings:  make(map[string]*meetingHandle),
	}
	for _, o := range opts {
		o(a)
	}

	if a.mcpHost == nil {
		a.mcpHost = mcphost.New()
	}

	for _, srv := range cfg.MCP.Servers {
		serverCfg := mcp.ServerConfig{
			Name:      srv.Name,
			Transport: string(srv.Transport),
			Command:   srv.Command,
			URL:       srv.URL,
			Env:       srv.Env,
		}
		if err := a.mcpHost.RegisterServer(ctx, serverCfg); err != nil {
			return nil, fmt.Errorf("app: register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}

	return a, nil
}

// MCPHost returns the shared MCP tool host.
func (a *App) MCPHost() *mcphost.Host { return a.mcpHost }

// StartMeeting connects to roomID and runs a [session.Facilitator] for it
// in a new goroutine. Returns an error if a meeting is already running for
// that room. The meeting runs until its own lifecycle ends (agenda
// exhausted, explicit end command) or ctx is cancelled.
func (a *App) StartMeeting(ctx context.Context, roomID string) error {
	a.mu.Lock()
	if _, exists := a.meetings[roomID]; exists {
		a.mu.Unlock()
		return fmt.Errorf("app: a meeting is already running for room %q", roomID)
	}
	meetingCtx, cancel := context.WithCancel(ctx)
	handle := &meetingHandle{cancel: cancel, done: make(chan struct{})}
	a.meetings[roomID] = handle
	a.mu.Unlock()

	fac := session.New(a.platform, roomID, a.cfg.Facilitation, session.Providers{
		LLM:   a.providers.LLM,
		STT:   a.providers.STT,
		TTS:   a.providers.TTS,
		Voice: a.providers.Voice,
	}, a.sink, a.mcpHost)

	go func() {
		defer close(handle.done)
		defer a.forget(roomID)
		if err := fac.Run(meetingCtx); err != nil {
			slog.Warn("app: meeting ended with error", "room", roomID, "error", err)
		} else {
			slog.Info("app: meeting ended", "room", roomID)
		}
	}()

	return nil
}

func (a *App) forget(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.meetings, roomID)
}

// StopMeeting cancels the running meeting for roomID and blocks until its
// Facilitator has finished tearing down. Returns an error if no meeting is
// running for that room.
func (a *App) StopMeeting(ctx context.Context, roomID string) error {
	a.mu.Lock()
	handle, exists := a.meetings[roomID]
	a.mu.Unlock()
	if !exists {
		return fmt.Errorf("app: no meeting running for room %q", roomID)
	}

	handle.cancel()
	select {
	case <-handle.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveMeetings returns the room IDs of every meeting currently running.
func (a *App) ActiveMeetings() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.meetings))
	for id := range a.meetings {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every running meeting and waits for them to finish, then
// closes the MCP host and runs any registered closers. It respects
// ctx's deadline: if ctx expires before every meeting has wound down,
// Shutdown returns early with ctx's error.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	handles := make([]*meetingHandle, 0, len(a.meetings))
	for _, h := range a.meetings {
		h.cancel()
		handles = append(handles, h)
	}
	a.mu.Unlock()

	for _, h := range handles {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := a.mcpHost.Close(); err != nil {
		slog.Warn("app: mcp host close error", "error", err)
	}
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := closer(); err != nil {
			slog.Warn("app: closer error", "index", i, "error", err)
		}
	}

	return nil
}
