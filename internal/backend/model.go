package backend

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/storefront/internal/session"
)

// Account is a registered storefront identity.
type Account struct {
	UserID       string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:user_email;size:320;not null;uniqueIndex"`
	MetadataJSON string    `gorm:"column:metadata_json;type:text;not null"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "storefront_accounts"
}

// ProfileRecord is the one-to-one profile row of an Account.
type ProfileRecord struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:display_name;size:320;not null"`
	Phone       string    `gorm:"column:phone;size:64"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing profiles.
func (ProfileRecord) TableName() string {
	return "storefront_profiles"
}

func (a Account) identity() session.Identity {
	metadata := map[string]any{}
	if a.MetadataJSON != "" {
		_ = json.Unmarshal([]byte(a.MetadataJSON), &metadata)
	}
	return session.Identity{
		ID:        a.UserID,
		Email:     a.Email,
		CreatedAt: a.CreatedAt.UTC(),
		Metadata:  metadata,
	}
}

func (r ProfileRecord) profile() session.Profile {
	return session.Profile{
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		Phone:       r.Phone,
	}
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
