package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no row exists for the requested owner.
var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// VoicePreferences is the stored voice configuration of one shopper.
// OwnerID is the storefront user id for signed-in shoppers and the tab
// session id for guests.
type VoicePreferences struct {
	OwnerID    string    `json:"owner_id"`
	Enabled    bool      `json:"enabled"`
	VoiceID    string    `json:"voice_id"`
	SpeechRate float64   `json:"speech_rate"`
	Volume     float64   `json:"volume"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ============================================================================
// Voice preference operations
// ============================================================================

// GetVoicePreferences returns the preferences stored for ownerID.
func (s *Store) GetVoicePreferences(ctx context.Context, ownerID string) (*VoicePreferences, error) {
	var p VoicePreferences
	err := s.db.QueryRow(ctx, `
		SELECT owner_id, enabled, voice_id, speech_rate, volume, updated_at
		FROM voice_preferences
		WHERE owner_id = $1
	`, ownerID).Scan(&p.OwnerID, &p.Enabled, &p.VoiceID, &p.SpeechRate, &p.Volume, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpsertVoicePreferences creates or replaces the preferences for p.OwnerID.
func (s *Store) UpsertVoicePreferences(ctx context.Context, p VoicePreferences) error {
	if p.OwnerID == "" {
		return errors.New("store: owner id is required")
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO voice_preferences (owner_id, enabled, voice_id, speech_rate, volume, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (owner_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			voice_id = EXCLUDED.voice_id,
			speech_rate = EXCLUDED.speech_rate,
			volume = EXCLUDED.volume,
			updated_at = NOW()
	`, p.OwnerID, p.Enabled, p.VoiceID, p.SpeechRate, p.Volume)
	return err
}

// DeleteVoicePreferences removes the stored preferences for ownerID.
func (s *Store) DeleteVoicePreferences(ctx context.Context, ownerID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM voice_preferences WHERE owner_id = $1`, ownerID)
	return err
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
