// Package transcript holds the ordered conversation log of one assistant session.
//
// Turns are append-only. The single permitted mutation is replacing the last
// assistant turn, which the chat pipeline uses to swap its pending placeholder
// for the interpreted reply.
package transcript

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrNoAssistantTurn is returned when a replacement is requested but the
// transcript does not end with an assistant turn.
var ErrNoAssistantTurn = errors.New("transcript: last turn is not an assistant turn")

// Attachment is an inline image sent along with a user turn.
type Attachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
}

// Turn is one message in the conversation.
type Turn struct {
	Key         string      `json:"key"`
	Role        Role        `json:"role"`
	Text        string      `json:"text"`
	Attachment  *Attachment `json:"attachment,omitempty"`
	ProductRefs []int       `json:"product_refs,omitempty"`
	ActionTag   string      `json:"action_tag,omitempty"`
	Pending     bool        `json:"pending,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (t Turn) clone() Turn {
	if t.Attachment != nil {
		a := *t.Attachment
		t.Attachment = &a
	}
	if t.ProductRefs != nil {
		t.ProductRefs = append([]int(nil), t.ProductRefs...)
	}
	return t
}

// Persister stores a session's turns outside the process.
type Persister interface {
	Save(ctx context.Context, sessionID string, turns []Turn) error
	Load(ctx context.Context, sessionID string) ([]Turn, error)
	Delete(ctx context.Context, sessionID string) error
}

// Store is the transcript of one session. It is safe for concurrent use.
type Store struct {
	sessionID string
	persister Persister
	logger    *zap.SugaredLogger
	now       func() time.Time

	mu    sync.Mutex
	turns []Turn

	// persistMu orders snapshots and saves so the persisted copy never
	// goes back in time.
	persistMu sync.Mutex
}

// New creates an empty transcript. persister may be nil.
func New(sessionID string, persister Persister, logger *zap.SugaredLogger) *Store {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		sessionID: sessionID,
		persister: persister,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SessionID returns the id the transcript is persisted under.
func (s *Store) SessionID() string { return s.sessionID }

// Append adds a turn to the end of the transcript. A missing key or
// timestamp is filled in. The stored turn is returned.
func (s *Store) Append(ctx context.Context, t Turn) Turn {
	t = t.clone()
	if t.Key == "" {
		t.Key = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.mu.Unlock()

	s.persist(ctx)
	return t.clone()
}

// ReplaceLastAssistant rewrites the last turn, which must be an assistant
// turn. The key and creation time of the replaced turn are kept.
func (s *Store) ReplaceLastAssistant(ctx context.Context, t Turn) (Turn, error) {
	s.mu.Lock()
	n := len(s.turns)
	if n == 0 || s.turns[n-1].Role != RoleAssistant {
		s.mu.Unlock()
		return Turn{}, ErrNoAssistantTurn
	}
	prev := s.turns[n-1]
	t = t.clone()
	t.Role = RoleAssistant
	t.Key = prev.Key
	t.CreatedAt = prev.CreatedAt
	s.turns[n-1] = t
	s.mu.Unlock()

	s.persist(ctx)
	return t.clone(), nil
}

// ResolvePending replaces the placeholder identified by key when it is still
// the last turn. Otherwise the reply is appended, so a reply that arrives
// after the history was cleared still lands in the current transcript.
func (s *Store) ResolvePending(ctx context.Context, key string, t Turn) Turn {
	s.mu.Lock()
	n := len(s.turns)
	if n > 0 && s.turns[n-1].Key == key && s.turns[n-1].Role == RoleAssistant {
		prev := s.turns[n-1]
		t = t.clone()
		t.Role = RoleAssistant
		t.Key = prev.Key
		t.CreatedAt = prev.CreatedAt
		t.Pending = false
		s.turns[n-1] = t
		s.mu.Unlock()
		s.persist(ctx)
		return t.clone()
	}
	s.mu.Unlock()

	t.Role = RoleAssistant
	t.Pending = false
	t.Key = ""
	return s.Append(ctx, t)
}

// Turns returns a copy of every turn in order.
func (s *Store) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.turns)
}

// Last returns the final turn, if any.
func (s *Store) Last() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.turns) == 0 {
		return Turn{}, false
	}
	return s.turns[len(s.turns)-1].clone(), true
}

// Find returns the turn with the given key.
func (s *Store) Find(key string) (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.turns {
		if t.Key == key {
			return t.clone(), true
		}
	}
	return Turn{}, false
}

// Len returns the number of turns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns)
}

// History returns up to limit of the most recent settled turns, oldest
// first. Pending placeholders are skipped. limit <= 0 means no limit.
func (s *Store) History(limit int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Turn, 0, len(s.turns))
	for _, t := range s.turns {
		if t.Pending {
			continue
		}
		out = append(out, t.clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Clear drops every turn and removes the persisted copy.
func (s *Store) Clear(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()

	if s.persister == nil {
		return
	}
	if err := s.persister.Delete(ctx, s.sessionID); err != nil {
		s.logger.Warnf("transcript: delete session %s failed: %v", s.sessionID, err)
	}
}

// Restore loads the persisted turns for this session, replacing whatever is
// in memory. It returns the number of turns restored.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	turns, err := s.persister.Load(ctx, s.sessionID)
	if err != nil {
		return 0, err
	}

	// A placeholder left behind by a dropped connection will never resolve.
	kept := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Pending {
			continue
		}
		kept = append(kept, t.clone())
	}

	s.mu.Lock()
	s.turns = kept
	s.mu.Unlock()
	return len(kept), nil
}

func (s *Store) persist(ctx context.Context) {
	if s.persister == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	snapshot := s.Turns()
	if err := s.persister.Save(ctx, s.sessionID, snapshot); err != nil {
		s.logger.Warnf("transcript: persist session %s failed: %v", s.sessionID, err)
	}
}

func cloneAll(turns []Turn) []Turn {
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t.clone()
	}
	return out
}
