package coordinator

import (
	"context"

	"github.com/beatmeet/beat/pkg/provider/tts"
)

// AudioSink receives synthesised PCM audio for playback into the room's
// audio track. The facilitation engine never touches raw audio itself —
// this is the narrow seam where a room adapter's output stream plugs in.
type AudioSink func(chunk []byte)

// TTSSpeaker adapts a streaming [tts.Provider] into the narrow [Speaker]
// contract the Coordinator depends on. The Speak call blocks only long
// enough to queue synthesis; chunks are forwarded to sink as they arrive on
// a background goroutine, so Speak returns once synthesis has been queued
// rather than once playback finishes.
type TTSSpeaker struct {
	provider tts.Provider
	voice    tts.VoiceProfile
	sink     AudioSink
}

// NewTTSSpeaker creates a [TTSSpeaker] using voice for every utterance and
// forwarding synthesised audio to sink.
func NewTTSSpeaker(provider tts.Provider, voice tts.VoiceProfile, sink AudioSink) *TTSSpeaker {
	return &TTSSpeaker{provider: provider, voice: voice, sink: sink}
}

// Speak synthesises text and streams the resulting audio to the sink.
// allowInterrupt is accepted for contract compatibility; synthesis
// interruption policy is the room adapter's concern once audio is handed
// off, since this engine has no visibility into ongoing playback.
func (s *TTSSpeaker) Speak(ctx context.Context, text string, allowInterrupt bool) error {
	_ = allowInterrupt

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := s.provider.SynthesizeStream(ctx, textCh, s.voice)
	if err != nil {
		return err
	}

	go func() {
		for chunk := range audioCh {
			if s.sink != nil {
				s.sink(chunk)
			}
		}
	}()

	return nil
}
