//nolint:revive // exported
package mintegration

import (
	"errors"
	"strings"
	"time"
	"unicode"
)

// Integration is a reusable, named connection descriptor for an external API.
// It is owned by the account and referenced (never owned) by workflows.
type Integration struct {
	ID                   string            `json:"id"`
	URLHost              string            `json:"urlHost"`
	URLPath              string            `json:"urlPath,omitempty"`
	DocumentationURL     string            `json:"documentationUrl,omitempty"`
	Documentation        string            `json:"documentation,omitempty"`
	DocumentationPending bool              `json:"documentationPending,omitempty"`
	Credentials          map[string]string `json:"credentials,omitempty"`
	CreatedAt            time.Time         `json:"createdAt,omitempty"`
	UpdatedAt            time.Time         `json:"updatedAt,omitempty"`
}

type UpsertMode int8

const (
	UpsertModeCreate UpsertMode = iota
	UpsertModeUpdate
)

func (m UpsertMode) String() string {
	switch m {
	case UpsertModeCreate:
		return "CREATE"
	case UpsertModeUpdate:
		return "UPDATE"
	}
	return "UNSPECIFIED"
}

var ErrEmptyID = errors.New("integration id is empty after sanitization")

// SanitizeID normalizes a user-chosen integration id: lowercase, runs of
// non-alphanumeric runes collapse to a single dash, leading/trailing dashes
// trimmed.
func SanitizeID(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastDash := true // suppress leading dash
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// Validate reports whether the integration can be sent to the engine.
func (i Integration) Validate() error {
	if SanitizeID(i.ID) == "" {
		return ErrEmptyID
	}
	if i.URLHost == "" {
		return errors.New("integration urlHost is required")
	}
	return nil
}
