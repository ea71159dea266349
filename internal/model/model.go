package model

import (
	"time"

	"gorm.io/gorm"
)

// Roles in increasing order of privilege. A listener may only watch the
// endpoint; an operator may talk, place calls and change audio settings.
const (
	RoleListener = "listener"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var roleRank = map[string]int{RoleListener: 1, RoleOperator: 2, RoleAdmin: 3}

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	_, ok := roleRank[r]
	return ok
}

// RoleAtLeast reports whether role grants everything min grants. Unknown
// roles grant nothing.
func RoleAtLeast(role, min string) bool {
	return roleRank[role] > 0 && roleRank[role] >= roleRank[min]
}

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Role         string         `gorm:"default:'listener'" json:"role"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// Peer is another endpoint learned from its device.info advertisement.
type Peer struct {
	DeviceID string    `gorm:"primaryKey;column:device_id" json:"id"`
	Room     string    `gorm:"index" json:"room"`
	IP       string    `json:"ip"`
	IsMobile bool      `json:"is_mobile"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

const (
	CallSent     = "sent"
	CallReceived = "received"
)

type CallRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Direction string    `gorm:"index" json:"direction"` // sent, received
	Caller    string    `gorm:"index" json:"caller"`
	Target    string    `gorm:"index" json:"target"`
	Chime     string    `json:"chime,omitempty"`
	Priority  uint8     `json:"priority"`
	Accepted  bool      `json:"accepted"`
	Reason    string    `json:"reason,omitempty"` // dnd, self, transmitting
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

type Webhook struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Room      string    `gorm:"index" json:"room"` // Empty matches every call
	URL       string    `gorm:"not null" json:"url"`
	Platform  string    `json:"platform"`   // telegram, slack, generic
	ChannelID string    `json:"channel_id"` // For Telegram
	Template  string    `json:"template"`   // "Call from {{.Caller}} to {{.Target}}"
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
