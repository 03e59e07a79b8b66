package session

import (
	"strings"
	"time"
)

const defaultDisplayName = "Customer"

// Identity is the authenticated subject as reported by the backend. The controller
// never edits it; it only replaces it wholesale.
type Identity struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Profile holds the user-editable attributes attached one-to-one to an Identity.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone,omitempty"`
}

// ProfileFields are the attributes written by a profile upsert.
type ProfileFields struct {
	DisplayName string
	Phone       string
}

func (identity *Identity) clone() *Identity {
	if identity == nil {
		return nil
	}
	copied := *identity
	if identity.Metadata != nil {
		copied.Metadata = make(map[string]any, len(identity.Metadata))
		for key, value := range identity.Metadata {
			copied.Metadata[key] = value
		}
	}
	return &copied
}

func (profile *Profile) clone() *Profile {
	if profile == nil {
		return nil
	}
	copied := *profile
	return &copied
}

// DisplayNameFor derives a profile name from identity metadata, falling back to
// the local part of the email address and then to a generic name.
func DisplayNameFor(identity Identity) string {
	for _, key := range []string{"full_name", "name"} {
		if value, ok := identity.Metadata[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	if at := strings.Index(identity.Email, "@"); at > 0 {
		if local := strings.TrimSpace(identity.Email[:at]); local != "" {
			return local
		}
	}
	return defaultDisplayName
}
