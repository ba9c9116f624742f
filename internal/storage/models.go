package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	RevokedReasonRotated = "rotated"
	RevokedReasonReuse   = "reuse"
	RevokedReasonLogout  = "logout"
)

type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type RefreshToken struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	TokenHash         string
	CreatedAt         time.Time
	ExpiresAt         time.Time
	RevokedAt         *time.Time
	RevokedReason     *string
	ReplacedByTokenID *uuid.UUID
}

// Revoked reports whether the token left the active state, either by
// explicit revocation or by being linked to a successor.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil || t.ReplacedByTokenID != nil
}

type Route struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Title       string
	Description *string
	Geometry    json.RawMessage
	DistanceKm  float64
	IsPublic    bool
	ShareToken  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Marker struct {
	ID          uuid.UUID
	RouteID     uuid.UUID
	Geometry    json.RawMessage
	Label       *string
	Description *string
	IconType    string
	OrderIndex  int
	CreatedAt   time.Time
}
