// Package session tracks the device login state that enables the voice
// pipeline. The pipeline only runs while a user is logged in and no voice
// enrollment is in progress.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Session is a snapshot of the device login state.
type Session struct {
	// UID identifies the logged-in user. Empty when nobody is logged in.
	UID string

	// Enrolling is true while a voice enrollment owns the microphone.
	Enrolling bool

	// Since is the login time written by the backend. Zero when the marker
	// carries no timestamp.
	Since time.Time
}

// Enabled reports whether the pipeline may run for this session.
func (s Session) Enabled() bool {
	return s.UID != "" && !s.Enrolling
}

// Reason describes the session state for logs and events.
func (s Session) Reason() string {
	switch {
	case s.Enrolling:
		return "enrolling"
	case s.UID == "":
		return "no_user"
	default:
		return "active"
	}
}

// Store reports the current session.
type Store interface {
	Current(ctx context.Context) (Session, error)
}

// marker is the on-disk login marker. uid wins over login_id.
type marker struct {
	UID     any `json:"uid"`
	LoginID any `json:"login_id"`
	TS      any `json:"ts"`
}

// ParseMarker extracts the session from a login marker document. A document
// without a usable id yields a Session with an empty UID and no error.
func ParseMarker(data []byte) (Session, error) {
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return Session{}, fmt.Errorf("session: parse marker: %w", err)
	}
	s := Session{UID: idString(m.UID)}
	if s.UID == "" {
		s.UID = idString(m.LoginID)
	}
	s.Since = parseTS(m.TS)
	return s, nil
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}

// parseTS accepts unix seconds or an RFC 3339 string.
func parseTS(v any) time.Time {
	switch x := v.(type) {
	case float64:
		if x <= 0 {
			return time.Time{}
		}
		sec := int64(x)
		return time.Unix(sec, int64((x-float64(sec))*1e9))
	case string:
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(x)); err == nil {
			return t
		}
	}
	return time.Time{}
}
