package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// BatchTokenPayload captures the data available when minting a dispatch
// token. One token authorizes batch submissions for a single store/device.
type BatchTokenPayload struct {
	UserID   uuid.UUID
	StoreID  uuid.UUID
	DeviceID uuid.UUID
	Role     string
	JTI      string
}

// BatchTokenClaims represents the typed JWT a terminal attaches to each
// dispatch batch.
type BatchTokenClaims struct {
	UserID   uuid.UUID `json:"user_id"`
	StoreID  uuid.UUID `json:"store_id"`
	DeviceID uuid.UUID `json:"device_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}
