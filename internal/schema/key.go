package schema

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies which record a natural key or payload belongs to.
type Kind string

const (
	// KindProfile is a UserProfile record.
	KindProfile Kind = "profile"
	// KindProgress is a DailyProgress record.
	KindProgress Kind = "progress"
)

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	return k == KindProfile || k == KindProgress
}

// DateLayout is the calendar-day format used for natural keys.
const DateLayout = "2006-01-02"

// NaturalKey is the business identifier used for conflict resolution.
// Date is empty for profiles.
type NaturalKey struct {
	UserID string `json:"user_id"`
	Date   string `json:"date,omitempty"`
}

// ProfileKey returns the natural key of a user's profile.
func ProfileKey(userID string) NaturalKey {
	return NaturalKey{UserID: userID}
}

// ProgressKey returns the natural key of a user's record for date.
func ProgressKey(userID, date string) NaturalKey {
	return NaturalKey{UserID: userID, Date: date}
}

// String renders the key as "user" or "user/date".
func (k NaturalKey) String() string {
	if k.Date == "" {
		return k.UserID
	}
	return k.UserID + "/" + k.Date
}

// ValidateUserID checks that id can be used in cache keys. The colon
// separates key segments, so it is not allowed.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user_id is required")
	}
	if strings.ContainsRune(id, ':') {
		return fmt.Errorf("user_id must not contain ':' (got %q)", id)
	}
	return nil
}

// ValidateFor checks that the key has the fields required by kind.
func (k NaturalKey) ValidateFor(kind Kind) error {
	if err := ValidateUserID(k.UserID); err != nil {
		return err
	}
	switch kind {
	case KindProfile:
		if k.Date != "" {
			return fmt.Errorf("profile key must not carry a date (got %q)", k.Date)
		}
	case KindProgress:
		if _, err := ParseDate(k.Date); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
	return nil
}

// ParseDate parses a YYYY-MM-DD calendar day.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required")
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD (got %q)", s)
	}
	return t, nil
}

// FormatDate formats t as a calendar day in t's location.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
