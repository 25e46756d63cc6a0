package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/storeguard/storeguard/permission"
)

const sessionFormatVersionCurrent = 1

var errUnsupportedVersion = errors.New("unsupported session schema version")

type record struct {
	Version           int    `json:"v"`
	ID                string `json:"id"`
	UserID            string `json:"uid"`
	Role              int    `json:"role"`
	Permissions       uint64 `json:"perm"`
	CreatedAt         int64  `json:"cat"`
	ExpiresAt         int64  `json:"eat"`
	LastActivity      int64  `json:"lat"`
	IPAddress         string `json:"ip,omitempty"`
	UserAgent         string `json:"ua,omitempty"`
	DeviceFingerprint string `json:"fp,omitempty"`
	CartID            string `json:"cart"`
	Remembered        bool   `json:"rem,omitempty"`
	TwoFactorVerified bool   `json:"tfa,omitempty"`
	ElevatedUntil     int64  `json:"elev,omitempty"`
}

// Encode serializes s for persistent stores. Timestamps are kept at millisecond
// precision.
func Encode(s *Session) ([]byte, error) {
	if s == nil || s.ID == "" {
		return nil, errors.New("session id required")
	}
	rec := record{
		Version:           sessionFormatVersionCurrent,
		ID:                s.ID,
		UserID:            s.UserID,
		Role:              int(s.Role),
		Permissions:       s.Permissions.Raw(),
		CreatedAt:         s.CreatedAt.UnixMilli(),
		ExpiresAt:         s.ExpiresAt.UnixMilli(),
		LastActivity:      s.LastActivity.UnixMilli(),
		IPAddress:         s.IPAddress,
		UserAgent:         s.UserAgent,
		DeviceFingerprint: s.DeviceFingerprint,
		CartID:            s.CartID,
		Remembered:        s.Remembered,
		TwoFactorVerified: s.TwoFactorVerified,
	}
	if !s.ElevatedUntil.IsZero() {
		rec.ElevatedUntil = s.ElevatedUntil.UnixMilli()
	}
	return json.Marshal(rec)
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Session, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if rec.Version != sessionFormatVersionCurrent {
		return nil, fmt.Errorf("%w: %d", errUnsupportedVersion, rec.Version)
	}
	if rec.ID == "" {
		return nil, errors.New("decode session: missing id")
	}

	s := &Session{
		ID:                rec.ID,
		UserID:            rec.UserID,
		Role:              permission.Role(rec.Role),
		Permissions:       permission.Set(rec.Permissions),
		CreatedAt:         time.UnixMilli(rec.CreatedAt).UTC(),
		ExpiresAt:         time.UnixMilli(rec.ExpiresAt).UTC(),
		LastActivity:      time.UnixMilli(rec.LastActivity).UTC(),
		IPAddress:         rec.IPAddress,
		UserAgent:         rec.UserAgent,
		DeviceFingerprint: rec.DeviceFingerprint,
		CartID:            rec.CartID,
		Remembered:        rec.Remembered,
		TwoFactorVerified: rec.TwoFactorVerified,
	}
	if rec.ElevatedUntil != 0 {
		s.ElevatedUntil = time.UnixMilli(rec.ElevatedUntil).UTC()
	}
	return s, nil
}
