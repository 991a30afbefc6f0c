package model

import (
	"fmt"
	"strings"
)

// ValidationError rejects malformed content before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ValidateContent checks type-specific message content rules.
func ValidateContent(typ MessageType, text, mediaURL string, loc *Location) error {
	switch typ {
	case TypeText:
		if strings.TrimSpace(text) == "" {
			return &ValidationError{Field: "text", Reason: "empty message body"}
		}
	case TypeImage, TypeAudio:
		if strings.TrimSpace(mediaURL) == "" {
			return &ValidationError{Field: "mediaUrl", Reason: "missing media reference"}
		}
	case TypeLocation:
		if loc == nil {
			return &ValidationError{Field: "location", Reason: "missing coordinates"}
		}
		if loc.Lat < -90 || loc.Lat > 90 {
			return &ValidationError{Field: "location.lat", Reason: "latitude out of range"}
		}
		if loc.Lng < -180 || loc.Lng > 180 {
			return &ValidationError{Field: "location.lng", Reason: "longitude out of range"}
		}
	default:
		return &ValidationError{Field: "messageType", Reason: fmt.Sprintf("unknown type %q", typ)}
	}
	return nil
}

// ValidateConversation checks the structural invariants of a conversation.
func (c *Conversation) Validate() error {
	if len(c.Participants) == 0 {
		return &ValidationError{Field: "participants", Reason: "must not be empty"}
	}
	seen := make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		if p == "" {
			return &ValidationError{Field: "participants", Reason: "empty participant id"}
		}
		if seen[p] {
			return &ValidationError{Field: "participants", Reason: fmt.Sprintf("duplicate participant %q", p)}
		}
		seen[p] = true
	}
	if !c.IsGroup && len(c.Participants) != 2 {
		return &ValidationError{Field: "participants", Reason: "direct conversation requires exactly 2 participants"}
	}
	if c.GroupAdmin != "" && !c.HasParticipant(c.GroupAdmin) {
		return &ValidationError{Field: "groupAdmin", Reason: "admin must be a participant"}
	}
	return nil
}
