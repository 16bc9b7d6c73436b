package coordinator

import (
	"hash/fnv"
	"time"

	"github.com/syncroom-dev/syncroom/pkg/protocol"
)

// displayPalette holds the cursor colors assigned to users. A user's
// color is a pure function of the user ID, so it is stable across
// sessions, documents, and server restarts.
var displayPalette = [...]string{
	"#e6194b", // red
	"#3cb44b", // green
	"#4363d8", // blue
	"#f58231", // orange
	"#911eb4", // purple
	"#42d4f4", // cyan
	"#f032e6", // magenta
	"#bfef45", // lime
	"#fabed4", // pink
	"#469990", // teal
	"#9a6324", // brown
	"#ffe119", // yellow
}

// DisplayColor returns the deterministic cursor color for a user ID.
func DisplayColor(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return displayPalette[h.Sum32()%uint32(len(displayPalette))]
}

// UserPresence is one user's live state inside a document session.
// Presence is keyed by user ID: a second connection joining for the
// same user replaces the first connection's presence.
type UserPresence struct {
	UserID       string
	ConnectionID string
	DisplayName  string
	Color        string

	// Cursor state, updated in place by cursor messages.
	Position       int
	SelectionStart int
	SelectionEnd   int

	LastSeenAt time.Time
}

func newPresence(userID, connectionID, displayName string) *UserPresence {
	return &UserPresence{
		UserID:       userID,
		ConnectionID: connectionID,
		DisplayName:  displayName,
		Color:        DisplayColor(userID),
		LastSeenAt:   time.Now().UTC(),
	}
}

// info converts the presence to its wire form.
func (p *UserPresence) info() protocol.PresenceInfo {
	return protocol.PresenceInfo{
		UserID:         p.UserID,
		ConnectionID:   p.ConnectionID,
		DisplayName:    p.DisplayName,
		Color:          p.Color,
		Position:       p.Position,
		SelectionStart: p.SelectionStart,
		SelectionEnd:   p.SelectionEnd,
		LastSeenAt:     p.LastSeenAt,
	}
}
