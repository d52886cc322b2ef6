package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrConnectionIDEmpty   = errors.New("connection id empty")
	ErrConnectionIDTooLong = errors.New("connection id too long")
)

// Device is one live transport connection. The row exists exactly as long as
// the connection is open.
type Device struct {
	ConnectionID ConnectionID `gorm:"primaryKey;size:64" json:"connection"`
	UserID       UserID       `gorm:"index;size:64;not null" json:"user"`
	DeviceName   string       `gorm:"size:64" json:"device_name"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NewDevice avoids raw literals in adapters and keeps construction obvious.
// An empty device name falls back to DefaultDeviceName, an overlong one is cut
// on a rune boundary.
func NewDevice(conn ConnectionID, user UserID, name string) (*Device, error) {
	if conn == "" {
		return nil, ErrConnectionIDEmpty
	}
	if len(conn) > MaxConnectionIDLen {
		return nil, ErrConnectionIDTooLong
	}
	if user == "" {
		return nil, ErrUserIDEmpty
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultDeviceName
	}
	if len(name) > MaxDeviceNameLen {
		cut := MaxDeviceNameLen
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return &Device{
		ConnectionID: conn,
		UserID:       user,
		DeviceName:   name,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
