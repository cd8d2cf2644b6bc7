// Package cache records which jokes were recently served to a client so they are not repeated.
//
// Entries are keyed by client identity hash and language. An entry older than the configured expiry
// never suppresses a joke: every store filters by age on read, and Sweeper deletes stale rows.
package cache

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ClientHashLength is the length of a hex encoded SHA-256 digest.
const ClientHashLength = 64

const DefaultExpiry = 24 * time.Hour

var (
	ErrInvalidClientHash = errors.New("client hash must be a 64 character hex digest")
	ErrNegativeJokeID    = errors.New("joke id must not be negative")
	ErrUnknownLanguage   = errors.New("unknown language code")
)

// Store is safe for concurrent use. Operations on one client never touch another client's entries.
type Store interface {
	// AddEntry records that jokeID in lang was served to clientHash.
	AddEntry(ctx context.Context, clientHash string, jokeID int, lang string) error

	// ListEntries returns the sorted IDs served to clientHash in lang within the expiry window.
	ListEntries(ctx context.Context, clientHash, lang string) ([]int, error)

	// ClearEntries deletes every entry of clientHash across languages and returns how many were removed.
	ClearEntries(ctx context.Context, clientHash string) (int64, error)

	// PurgeExpired deletes entries older than the expiry window.
	PurgeExpired(ctx context.Context) (int64, error)
}

// StoreError wraps a backend failure with the operation that caused it.
type StoreError struct {
	Op      string
	Backend string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cache %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// LanguageValidator reports whether a language code is recognized.
type LanguageValidator func(code string) bool

func ValidClientHash(h string) bool {
	if len(h) != ClientHashLength {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}

// ValidateEntry checks the arguments of AddEntry.
func ValidateEntry(clientHash string, jokeID int, lang string, isLanguage LanguageValidator) error {
	if !ValidClientHash(clientHash) {
		return ErrInvalidClientHash
	}
	if jokeID < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeJokeID, jokeID)
	}
	if isLanguage != nil && !isLanguage(lang) {
		return fmt.Errorf("%w: %q", ErrUnknownLanguage, lang)
	}
	return nil
}

// ExpiryFromHours converts a configured window in hours, falling back to DefaultExpiry.
func ExpiryFromHours(hours int) time.Duration {
	if hours <= 0 {
		return DefaultExpiry
	}
	return time.Duration(hours) * time.Hour
}
