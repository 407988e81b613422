package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/config"
)

// itemMetadata is one agenda item as it appears in a room's metadata blob.
type itemMetadata struct {
	Topic   string `json:"topic"`
	Minutes float64 `json:"minutes"`
}

// roomMetadata is the JSON document a room's platform-specific metadata
// (for Discord, the voice channel's paired text-channel topic) is expected
// to decode into. Title and at least one item are required; style defaults
// to moderate when absent or invalid.
type roomMetadata struct {
	Title   string         `json:"title"`
	Style   string         `json:"style"`
	BotName string         `json:"bot_name"`
	Items   []itemMetadata `json:"items"`
}

// parseMetadata decodes raw room metadata into an agenda title, style, item
// specs, and the bot's own address name. An empty or missing bot_name
// defaults to "Beat".
func parseMetadata(raw []byte) (title string, style config.Style, specs []agenda.ItemSpec, botName string, err error) {
	var meta roomMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", "", nil, "", fmt.Errorf("session: parse room metadata: %w", err)
	}

	if meta.Title == "" {
		return "", "", nil, "", fmt.Errorf("session: room metadata missing required agenda title")
	}
	if len(meta.Items) == 0 {
		return "", "", nil, "", fmt.Errorf("session: room metadata missing required agenda items")
	}

	style = config.Style(meta.Style)
	if !style.IsValid() {
		style = config.StyleModerate
	}

	specs = make([]agenda.ItemSpec, len(meta.Items))
	for i, it := range meta.Items {
		if it.Topic == "" {
			return "", "", nil, "", fmt.Errorf("session: agenda item %d has an empty topic", i)
		}
		if it.Minutes <= 0 {
			return "", "", nil, "", fmt.Errorf("session: agenda item %q has a non-positive duration", it.Topic)
		}
		specs[i] = agenda.ItemSpec{Topic: it.Topic, Allocated: time.Duration(it.Minutes * float64(time.Minute))}
	}

	botName = meta.BotName
	if botName == "" {
		botName = "Beat"
	}

	return meta.Title, style, specs, botName, nil
}
