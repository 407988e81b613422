// Package tools provides the built-in tool set offered to the General/
// DirectQuestion LM path through the tool host: read-only agenda status
// lookup and document-request enqueueing. Both run in-process against the
// live [agenda.Machine] rather than calling out to an MCP server, registered
// as in-process Go functions through [mcphost.Host.RegisterBuiltin].
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beatmeet/beat/internal/agenda"
	"github.com/beatmeet/beat/internal/mcp/mcphost"
	"github.com/beatmeet/beat/pkg/types"
)

const (
	agendaStatusName    = "agenda_status"
	requestDocumentName = "request_document"
)

// slugger sanitizes a description into the slug used for a document's
// filename and [agenda.Machine]'s request-dedup key.
type slugger func(string) string

// Register installs the agenda_status and request_document tools on host,
// bound to machine. slug supplies the same slug derivation the Command
// Router uses for Custom document requests, so a tool-enqueued request and
// a spoken one collide on the same slug when they mean the same document.
func Register(host *mcphost.Host, machine *agenda.Machine, slug slugger) error {
	if err := host.RegisterBuiltin(agendaStatusTool(machine)); err != nil {
		return fmt.Errorf("tools: register %s: %w", agendaStatusName, err)
	}
	if err := host.RegisterBuiltin(requestDocumentTool(machine, slug)); err != nil {
		return fmt.Errorf("tools: register %s: %w", requestDocumentName, err)
	}
	return nil
}

type agendaStatusResult struct {
	HasCurrentItem      bool    `json:"has_current_item"`
	Topic               string  `json:"topic,omitempty"`
	ElapsedMinutes      float64 `json:"elapsed_minutes"`
	RemainingMinutes    float64 `json:"remaining_minutes"`
	AllocatedMinutes    float64 `json:"allocated_minutes"`
	TotalMeetingMinutes float64 `json:"total_meeting_minutes"`
	OvertimeMinutes     float64 `json:"overtime_minutes"`
}

// agendaStatusTool reports the current item and timing, the same
// deterministic figures the Command Router's time-query intent and the
// Monitoring Scheduler's warnings use, so the general LM path never has to
// guess at elapsed or remaining time.
func agendaStatusTool(machine *agenda.Machine) mcphost.BuiltinTool {
	return mcphost.BuiltinTool{
		Definition: types.ToolDefinition{
			Name:        agendaStatusName,
			Description: "Report the current agenda item, its elapsed and remaining time, and cumulative meeting overtime.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			EstimatedDurationMs: 5,
			MaxDurationMs:       50,
			Idempotent:          true,
			CacheableSeconds:    5,
		},
		Handler: func(_ context.Context, _ string) (string, error) {
			status := machine.TimeStatus()
			out, err := json.Marshal(agendaStatusResult{
				HasCurrentItem:      status.HasCurrentItem,
				Topic:               status.Topic,
				ElapsedMinutes:      status.ElapsedMinutes,
				RemainingMinutes:    status.RemainingMinutes,
				AllocatedMinutes:    status.AllocatedMinutes,
				TotalMeetingMinutes: status.TotalMeetingMinutes,
				OvertimeMinutes:     status.OvertimeMinutes,
			})
			if err != nil {
				return "", fmt.Errorf("tools: marshal agenda status: %w", err)
			}
			return string(out), nil
		},
		DeclaredP50: 5,
		DeclaredMax: 50,
	}
}

type requestDocumentArgs struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type requestDocumentResult struct {
	Queued bool   `json:"queued"`
	Slug   string `json:"slug"`
}

// requestDocumentTool enqueues a document request for delivery by the
// Document Assembler once the meeting ends. Duplicate slugs are a no-op,
// mirroring [agenda.Machine.QueueDocumentRequest]'s at-most-once contract.
func requestDocumentTool(machine *agenda.Machine, slug slugger) mcphost.BuiltinTool {
	return mcphost.BuiltinTool{
		Definition: types.ToolDefinition{
			Name:        requestDocumentName,
			Description: "Queue a post-meeting document for delivery once the meeting ends.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"kind": map[string]any{
						"type": "string",
						"enum": []string{"attendance", "action-items", "summary", "custom"},
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Required when kind is custom: what the document should cover.",
					},
				},
				"required": []string{"kind"},
			},
			EstimatedDurationMs: 5,
			MaxDurationMs:       50,
			Idempotent:          false,
		},
		Handler: func(_ context.Context, args string) (string, error) {
			var a requestDocumentArgs
			if err := json.Unmarshal([]byte(args), &a); err != nil {
				return "", fmt.Errorf("tools: decode request_document args: %w", err)
			}

			docType, err := parseDocKind(a.Kind)
			if err != nil {
				return "", err
			}

			docSlug := string(docType.String())
			if docType == agenda.DocCustom {
				docSlug = slug(a.Description)
			}

			queued := machine.QueueDocumentRequest(agenda.DocumentRequest{
				Type:        docType,
				Description: a.Description,
				Slug:        docSlug,
			})

			out, err := json.Marshal(requestDocumentResult{Queued: queued, Slug: docSlug})
			if err != nil {
				return "", fmt.Errorf("tools: marshal request_document result: %w", err)
			}
			return string(out), nil
		},
		DeclaredP50: 5,
		DeclaredMax: 50,
	}
}

func parseDocKind(kind string) (agenda.DocRequestType, error) {
	switch kind {
	case "attendance":
		return agenda.DocAttendance, nil
	case "action-items":
		return agenda.DocActionItems, nil
	case "summary":
		return agenda.DocSummary, nil
	case "custom":
		return agenda.DocCustom, nil
	default:
		return 0, fmt.Errorf("tools: unknown document kind %q", kind)
	}
}
