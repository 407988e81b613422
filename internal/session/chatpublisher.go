package session

import (
	"context"

	"github.com/beatmeet/beat/pkg/room"
)

// chatTopic is the room message topic used for chat-panel text, both
// inbound (@name mentions) and outbound (chat-redirected replies).
const chatTopic = "chat"

// controlTopic is the room message topic used for structural control
// signals: style changes and the explicit end-meeting command.
const controlTopic = "control"

// chatPayload is the wire shape for a chat-panel message.
type chatPayload struct {
	Text string `json:"text"`
}

// roomChatPublisher adapts a [room.Connection] into [coordinator.ChatPublisher],
// publishing replies on chatTopic instead of speaking them.
type roomChatPublisher struct {
	conn room.Connection
}

func newChatPublisher(conn room.Connection) *roomChatPublisher {
	return &roomChatPublisher{conn: conn}
}

func (p *roomChatPublisher) PublishChatReply(ctx context.Context, text string) error {
	return p.conn.Publish(ctx, chatTopic, chatPayload{Text: text})
}
