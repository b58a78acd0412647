// Package usersettings stores per-user gateway overlays in the KV store.
// Overlays can only tighten path restrictions or standing-approve
// PROMPT-level operations; HIGH and BLOCKED classifications are never
// relaxable from here.
package usersettings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/kv"
)

const keyPrefix = "gateway:usersettings:"

// Settings is one user's overlay. The zero value means "no overlay".
type Settings struct {
	ExtraBlockedPatterns []string `json:"extra_blocked_patterns,omitempty"`
	AutoApprove          []string `json:"auto_approve,omitempty"`
	DefaultTimeoutSec    int      `json:"default_timeout_sec,omitempty"`
}

// AutoApproves reports whether the user has standing-approved the given
// operation kind.
func (s Settings) AutoApproves(operation string) bool {
	for _, op := range s.AutoApprove {
		if op == operation {
			return true
		}
	}
	return false
}

// Store persists settings blobs per user.
type Store struct {
	kv kv.Client
}

// NewStore creates a Store over the given KV client.
func NewStore(client kv.Client) *Store {
	return &Store{kv: client}
}

// Get returns the user's settings, or zero-value settings when absent or
// unreadable. A broken overlay never blocks the request path; the global
// blocklist still applies.
func (s *Store) Get(ctx context.Context, userID string) Settings {
	data, err := s.kv.Get(ctx, keyPrefix+userID)
	if err == kv.ErrNil {
		return Settings{}
	}
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to load user gateway settings")
		return Settings{}
	}

	var settings Settings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("Failed to decode user gateway settings")
		return Settings{}
	}
	return settings
}

// Put stores the user's settings.
func (s *Store) Put(ctx context.Context, userID string, settings Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode user gateway settings: %w", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+userID, string(data)); err != nil {
		return fmt.Errorf("failed to store user gateway settings: %w", err)
	}
	log.Info().Str("user", userID).Msg("Saved user gateway settings")
	return nil
}
