// Package discord provides a [room.Platform] implementation backed by a
// Discord voice channel (for presence/audio-track wiring) paired with a text
// channel (for structured topic messages) via the bwmarrin/discordgo
// library.
//
// The platform requires an active *discordgo.Session (owned by the bot
// layer) and a guild ID. Each call to [Platform.Connect] joins the voice
// channel named by roomID and returns a [Connection] that tracks the
// participant roster off Discord's voice-state events and exchanges
// structured messages over a paired text channel.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/beatmeet/beat/pkg/room"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ room.Platform = (*Platform)(nil)

// Platform implements [room.Platform] using a discordgo session.
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string

	// TextChannelID is the channel used for Publish/OnMessage traffic. If
	// empty, Publish and inbound message delivery are no-ops.
	TextChannelID string
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{session: session, guildID: guildID}
}

// Connect joins the voice channel identified by roomID and returns an active
// [room.Connection]. The supplied ctx governs the connection-setup phase
// only; once the Connection is returned it lives until
// [Connection.Disconnect] is called.
func (p *Platform) Connect(_ context.Context, roomID string) (room.Connection, error) {
	vc, err := p.session.ChannelVoiceJoin(p.guildID, roomID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", roomID, err)
	}

	c := &Connection{
		session:       p.session,
		guildID:       p.guildID,
		channelID:     roomID,
		textChannelID: p.TextChannelID,
		vc:            vc,
		participants:  make(map[string]room.Participant),
		ssrc:          make(map[uint32]string),
		frames:        make(chan room.AudioFrame, 64),
		closed:        make(chan struct{}),
	}
	c.seedParticipants()
	c.registerHandlers()
	go c.receiveAudio()
	return c, nil
}

// Connection implements [room.Connection] over a joined Discord voice
// channel and a paired text channel.
type Connection struct {
	session       *discordgo.Session
	guildID       string
	channelID     string
	textChannelID string
	vc            *discordgo.VoiceConnection

	mu              sync.Mutex
	participants    map[string]room.Participant
	messageHandlers map[string]func(room.Message)
	changeHandlers  []func(room.Event)
	removeHandlers  []func()

	ssrcMu sync.RWMutex
	ssrc   map[uint32]string

	frames chan room.AudioFrame
	closed chan struct{}
}

var _ room.Connection = (*Connection)(nil)
var _ room.RawAudioSource = (*Connection)(nil)
var _ room.RawAudioSink = (*Connection)(nil)

// topicPayload is the wire envelope used to tag Publish/OnMessage traffic
// with a topic over Discord's flat text-channel transport.
type topicPayload struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (c *Connection) seedParticipants() {
	g, err := c.session.State.Guild(c.guildID)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != c.channelID {
			continue
		}
		name := vs.UserID
		if m, err := c.session.State.Member(c.guildID, vs.UserID); err == nil && m.User != nil {
			name = m.User.Username
		}
		c.participants[vs.UserID] = room.Participant{ID: vs.UserID, Name: name}
	}
}

func (c *Connection) registerHandlers() {
	removeVoice := c.session.AddHandler(func(_ *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		c.handleVoiceState(vs)
	})
	c.mu.Lock()
	c.removeHandlers = append(c.removeHandlers, removeVoice)
	c.mu.Unlock()

	removeSpeaking := c.session.AddHandler(func(_ *discordgo.Session, su *discordgo.VoiceSpeakingUpdate) {
		c.ssrcMu.Lock()
		c.ssrc[uint32(su.SSRC)] = su.UserID
		c.ssrcMu.Unlock()
	})
	c.mu.Lock()
	c.removeHandlers = append(c.removeHandlers, removeSpeaking)
	c.mu.Unlock()

	if c.textChannelID == "" {
		return
	}
	removeMsg := c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.ChannelID != c.textChannelID || m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		var env topicPayload
		if err := json.Unmarshal([]byte(m.Content), &env); err != nil {
			return
		}
		c.mu.Lock()
		fn := c.messageHandlers[env.Topic]
		c.mu.Unlock()
		if fn != nil {
			fn(room.Message{Topic: env.Topic, Payload: env.Payload, From: m.Author.ID})
		}
	})
	c.mu.Lock()
	c.removeHandlers = append(c.removeHandlers, removeMsg)
	c.mu.Unlock()
}

func (c *Connection) handleVoiceState(vs *discordgo.VoiceStateUpdate) {
	if vs.GuildID != c.guildID {
		return
	}
	c.mu.Lock()
	_, wasPresent := c.participants[vs.UserID]
	nowPresent := vs.ChannelID == c.channelID
	var evt *room.Event
	name := vs.UserID
	if m, err := c.session.State.Member(c.guildID, vs.UserID); err == nil && m.User != nil {
		name = m.User.Username
	}
	switch {
	case nowPresent && !wasPresent:
		c.participants[vs.UserID] = room.Participant{ID: vs.UserID, Name: name}
		evt = &room.Event{Type: room.EventJoin, UserID: vs.UserID, Username: name}
	case !nowPresent && wasPresent:
		delete(c.participants, vs.UserID)
		evt = &room.Event{Type: room.EventLeave, UserID: vs.UserID, Username: name}
	}
	handlers := append([]func(room.Event){}, c.changeHandlers...)
	c.mu.Unlock()

	if evt != nil {
		for _, fn := range handlers {
			fn(*evt)
		}
	}
}

// Metadata returns the paired text channel's topic string as raw bytes. The
// Session Lifecycle parses this for an embedded agenda/style declaration at
// join time; an unconfigured or unreadable text channel yields an empty,
// non-error result so the caller falls back to its own defaults.
func (c *Connection) Metadata(_ context.Context) ([]byte, error) {
	if c.textChannelID == "" {
		return nil, nil
	}
	ch, err := c.session.Channel(c.textChannelID)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch channel %q: %w", c.textChannelID, err)
	}
	return []byte(ch.Topic), nil
}

func (c *Connection) Participants() []room.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]room.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// RemoveParticipant disconnects a participant from the voice channel by
// moving them to no channel (a server-mute/disconnect-equivalent action).
func (c *Connection) RemoveParticipant(_ context.Context, id string) error {
	return c.session.GuildMemberMove(c.guildID, id, nil)
}

// Publish posts payload on topic to the paired text channel as a JSON
// envelope. Returns nil without effect if no text channel is configured.
func (c *Connection) Publish(_ context.Context, topic string, payload any) error {
	if c.textChannelID == "" {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload for topic %q: %w", topic, err)
	}
	envelope, err := json.Marshal(topicPayload{Topic: topic, Payload: raw})
	if err != nil {
		return fmt.Errorf("discord: marshal envelope for topic %q: %w", topic, err)
	}
	_, err = c.session.ChannelMessageSend(c.textChannelID, string(envelope))
	if err != nil {
		return fmt.Errorf("discord: publish topic %q: %w", topic, err)
	}
	return nil
}

func (c *Connection) OnMessage(topic string, fn func(room.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messageHandlers == nil {
		c.messageHandlers = make(map[string]func(room.Message))
	}
	c.messageHandlers[topic] = fn
}

func (c *Connection) OnParticipantChange(fn func(room.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeHandlers = append(c.changeHandlers, fn)
}

// Disconnect leaves the voice channel and deregisters all event handlers.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	handlers := c.removeHandlers
	c.removeHandlers = nil
	c.mu.Unlock()
	for _, remove := range handlers {
		remove()
	}
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	if c.vc == nil {
		return nil
	}
	return c.vc.Disconnect()
}

// receiveAudio drains the voice connection's Opus receive channel, tags each
// packet with the speaking participant's user ID via the SSRC map populated
// from VoiceSpeakingUpdate events, and forwards it on Frames. Packets from an
// SSRC not yet resolved to a user ID are dropped — Discord always sends a
// speaking update before the first audio packet for a given SSRC.
func (c *Connection) receiveAudio() {
	if c.vc == nil || c.vc.OpusRecv == nil {
		return
	}
	for {
		select {
		case <-c.closed:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			c.ssrcMu.RLock()
			userID, known := c.ssrc[pkt.SSRC]
			c.ssrcMu.RUnlock()
			if !known {
				continue
			}
			select {
			case c.frames <- room.AudioFrame{UserID: userID, Data: pkt.Opus}:
			default:
				// Backpressure: drop the frame rather than block the receive loop.
			}
		}
	}
}

// Frames implements [room.RawAudioSource]. Frames carry Opus-encoded
// payloads; the bound STT provider is expected to accept that encoding.
func (c *Connection) Frames() <-chan room.AudioFrame {
	return c.frames
}

// SendAudio implements [room.RawAudioSink], queueing an Opus frame for
// playback into the voice channel. Drops the frame under backpressure
// rather than blocking the caller.
func (c *Connection) SendAudio(chunk []byte) {
	if c.vc == nil || c.vc.OpusSend == nil {
		return
	}
	select {
	case c.vc.OpusSend <- chunk:
	default:
	}
}
