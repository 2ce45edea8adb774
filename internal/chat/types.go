// Package chat exposes the tutor conversation over HTTP and WebSocket and
// persists completed exchanges.
package chat

import (
	"github.com/ashureev/tutor-ai/internal/domain"
)

// MessageRequest is the body of POST /api/ai/message.
type MessageRequest struct {
	Message string `json:"message"`
}

// HistoryItem is one entry of GET /api/ai/history.
type HistoryItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func historyItems(turns []domain.Turn) []HistoryItem {
	items := make([]HistoryItem, len(turns))
	for i, t := range turns {
		items[i] = HistoryItem{Role: t.Role.String(), Content: t.Content}
	}
	return items
}

// Frame types exchanged on /ws/chat.
const (
	FrameMessage = "message"
	FrameReply   = "reply"
	FrameError   = "error"
	FramePing    = "ping"
	FramePong    = "pong"
)

// Frame is a WebSocket message in either direction.
type Frame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}
