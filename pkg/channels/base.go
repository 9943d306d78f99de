// Package channels implements session transports for the supported
// messaging networks: Telegram (bot API long polling), LINE (webhook +
// messaging REST API) and Discord (gateway websocket).
//
// Every transport produces normalize.RawEvent values and satisfies
// session.Transport.
package channels

import (
	"strings"
	"sync/atomic"
)

// BaseTransport carries the state shared by all transports.
type BaseTransport struct {
	platform  string
	role      string
	allowList []string
	running   atomic.Bool
}

func NewBaseTransport(platform, role string, allowList []string) *BaseTransport {
	return &BaseTransport{
		platform:  platform,
		role:      role,
		allowList: allowList,
	}
}

func (t *BaseTransport) Platform() string { return t.platform }
func (t *BaseTransport) Role() string     { return t.role }

func (t *BaseTransport) IsRunning() bool {
	return t.running.Load()
}

func (t *BaseTransport) SetRunning(running bool) {
	t.running.Store(running)
}

// IsAllowed checks the sender against the allowlist. An empty list
// allows everyone. Entries and sender IDs may use the compound
// "id|username" form; either side matching admits the sender.
func (t *BaseTransport) IsAllowed(senderID string) bool {
	if len(t.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range t.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID := trimmed
		allowedUser := ""
		if idx := strings.Index(trimmed, "|"); idx > 0 {
			allowedID = trimmed[:idx]
			allowedUser = trimmed[idx+1:]
		}

		if senderID == allowed ||
			idPart == allowed ||
			senderID == trimmed ||
			idPart == trimmed ||
			idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}

	return false
}
