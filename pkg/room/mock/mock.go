// Package mock provides an in-memory [room.Platform] for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/beatmeet/beat/pkg/room"
)

// Platform is an in-memory [room.Platform] that hands out [*Connection]
// values. Zero value is ready to use.
type Platform struct {
	mu          sync.Mutex
	connections map[string]*Connection
}

var _ room.Platform = (*Platform)(nil)

// Connect returns the existing connection for roomID, creating one on first call.
func (p *Platform) Connect(_ context.Context, roomID string) (room.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connections == nil {
		p.connections = make(map[string]*Connection)
	}
	if c, ok := p.connections[roomID]; ok {
		return c, nil
	}
	c := &Connection{
		roomID:          roomID,
		participants:    make(map[string]room.Participant),
		messageHandlers: make(map[string]func(room.Message)),
		Published:       nil,
	}
	p.connections[roomID] = c
	return c, nil
}

// Connection is an in-memory [room.Connection] useful for deterministic tests.
type Connection struct {
	mu sync.Mutex

	roomID          string
	participants    map[string]room.Participant
	messageHandlers map[string]func(room.Message)
	changeHandlers  []func(room.Event)
	disconnected    bool

	// Published records every call to Publish in order, for test assertions.
	Published []PublishedMessage

	// MetadataBlob is returned verbatim by Metadata. Test code sets this
	// directly to simulate a room's agenda/style topic payload.
	MetadataBlob []byte
}

// PublishedMessage is a single recorded Publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

var _ room.Connection = (*Connection)(nil)

// AddParticipant adds p to the roster and fires join handlers. Test helper.
func (c *Connection) AddParticipant(p room.Participant) {
	c.mu.Lock()
	c.participants[p.ID] = p
	handlers := append([]func(room.Event){}, c.changeHandlers...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(room.Event{Type: room.EventJoin, UserID: p.ID, Username: p.Name})
	}
}

// DeliverMessage simulates an inbound message on topic. Test helper.
func (c *Connection) DeliverMessage(msg room.Message) {
	c.mu.Lock()
	fn := c.messageHandlers[msg.Topic]
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *Connection) Metadata(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.MetadataBlob, nil
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

func (c *Connection) RemoveParticipant(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[id]
	if !ok {
		return fmt.Errorf("mock room: unknown participant %q", id)
	}
	delete(c.participants, id)
	handlers := append([]func(room.Event){}, c.changeHandlers...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(room.Event{Type: room.EventLeave, UserID: id, Username: p.Name})
	}
	c.mu.Lock()
	return nil
}

func (c *Connection) Publish(_ context.Context, topic string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Published = append(c.Published, PublishedMessage{Topic: topic, Payload: payload})
	return nil
}

func (c *Connection) OnMessage(topic string, fn func(room.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandlers[topic] = fn
}

func (c *Connection) OnParticipantChange(fn func(room.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changeHandlers = append(c.changeHandlers, fn)
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}
