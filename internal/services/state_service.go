package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"esachat/internal/kvstore"
	"esachat/internal/models"
)

// StateService persists wizard state and the agent history of a session
type StateService struct {
	store kvstore.Store
	ttl   time.Duration
}

// NewStateService creates a new wizard state service
func NewStateService(store kvstore.Store, ttl time.Duration) *StateService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &StateService{store: store, ttl: ttl}
}

// Load returns the stored state, or the initial state when none exists.
// Unreadable state is discarded so the session can always continue.
func (s *StateService) Load(ctx context.Context, sid string) (models.WizardState, error) {
	raw, err := s.store.Get(ctx, keyState(sid))
	if errors.Is(err, kvstore.ErrNotFound) {
		return models.NewWizardState(), nil
	}
	if err != nil {
		return models.WizardState{}, fmt.Errorf("load state %s: %w", sid, err)
	}

	var st models.WizardState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		slog.Warn("discarding unreadable wizard state", "session_id", sid, "error", err)
		return models.NewWizardState(), nil
	}
	if st.CollectedInputs == nil {
		st.CollectedInputs = map[string]any{}
	}
	if st.CurrentStep == "" {
		st.CurrentStep = models.StepSelectService
	}
	return st, nil
}

// Save writes the state and refreshes every session key's TTL.
func (s *StateService) Save(ctx context.Context, sid string, st models.WizardState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return s.store.Batch(ctx, func(b kvstore.Batch) {
		b.Set(keyState(sid), string(data), s.ttl)
		expireSessionKeys(b, s.ttl, sid, "")
	})
}

// Clear deletes the chat, history and state keys of a session.
func (s *StateService) Clear(ctx context.Context, sid string) error {
	return s.store.Del(ctx, keyChat(sid), keyHistory(sid), keyState(sid))
}

// ClearHistory drops the agent history.
func (s *StateService) ClearHistory(ctx context.Context, sid string) error {
	return s.store.Del(ctx, keyHistory(sid))
}

// History returns the agent history in order. Unreadable entries are skipped.
func (s *StateService) History(ctx context.Context, sid string) ([]models.HistoryEntry, error) {
	raw, err := s.store.LRange(ctx, keyHistory(sid))
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", sid, err)
	}
	out := make([]models.HistoryEntry, 0, len(raw))
	for _, r := range raw {
		var h models.HistoryEntry
		if err := json.Unmarshal([]byte(r), &h); err != nil {
			slog.Warn("skipping unreadable history entry", "session_id", sid, "error", err)
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// AppendHistory pushes entries and refreshes TTLs.
func (s *StateService) AppendHistory(ctx context.Context, sid string, entries ...models.HistoryEntry) error {
	values, err := encodeHistory(entries)
	if err != nil {
		return err
	}
	return s.store.Batch(ctx, func(b kvstore.Batch) {
		b.RPush(keyHistory(sid), values...)
		expireSessionKeys(b, s.ttl, sid, "")
	})
}

// EnsureSystemPrompt seeds an empty history with the system preamble.
func (s *StateService) EnsureSystemPrompt(ctx context.Context, sid, prompt string) error {
	n, err := s.store.LLen(ctx, keyHistory(sid))
	if err != nil {
		return fmt.Errorf("history length %s: %w", sid, err)
	}
	if n > 0 {
		return nil
	}
	return s.AppendHistory(ctx, sid, models.HistoryEntry{Role: "system", Content: prompt})
}

func encodeHistory(entries []models.HistoryEntry) ([]string, error) {
	values := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal history entry: %w", err)
		}
		values = append(values, string(data))
	}
	return values, nil
}
