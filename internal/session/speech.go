package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/beatmeet/beat/pkg/provider/stt"
	"github.com/beatmeet/beat/pkg/room"
)

// speechInput opens one STT streaming session per distinct speaker seen on
// the raw audio feed, lazily, and forwards each final transcript to onFinal.
// Multiplexing by speaker rather than opening a single shared session keeps
// each participant's utterances properly segmented — the room platform
// tags every frame with its speaker, but a single STT stream has no way to
// un-interleave simultaneous speakers.
type speechInput struct {
	provider stt.Provider
	onFinal  func(userID, text string)

	mu       sync.Mutex
	sessions map[string]stt.SessionHandle
}

func newSpeechInput(provider stt.Provider, onFinal func(userID, text string)) *speechInput {
	return &speechInput{
		provider: provider,
		onFinal:  onFinal,
		sessions: make(map[string]stt.SessionHandle),
	}
}

// run drains frames until ctx is cancelled or the channel closes, dispatching
// each frame to the originating speaker's session.
func (s *speechInput) run(ctx context.Context, frames <-chan room.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			sess := s.sessionFor(ctx, frame.UserID)
			if sess == nil {
				continue
			}
			if err := sess.SendAudio(frame.Data); err != nil {
				slog.Warn("session: stt send audio failed", "speaker", frame.UserID, "error", err)
			}
		}
	}
}

func (s *speechInput) sessionFor(ctx context.Context, userID string) stt.SessionHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess
	}

	sess, err := s.provider.StartStream(ctx, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err != nil {
		slog.Warn("session: open stt stream failed", "speaker", userID, "error", err)
		return nil
	}
	s.sessions[userID] = sess

	go func() {
		for t := range sess.Finals() {
			if t.Text == "" {
				continue
			}
			s.onFinal(userID, t.Text)
		}
	}()

	return sess
}

// closeAll closes every open session. Safe to call once, from the Session
// Lifecycle's shutdown path.
func (s *speechInput) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, sess := range s.sessions {
		if err := sess.Close(); err != nil {
			slog.Warn("session: close stt session failed", "speaker", userID, "error", err)
		}
	}
}
