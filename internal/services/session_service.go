package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"esachat/internal/kvstore"
	"esachat/internal/models"
)

// ErrSessionNotFound covers both a missing session and one owned by
// someone else, so callers cannot probe for existence.
var ErrSessionNotFound = errors.New("session_not_found")

// AgentSystemPrompt is the fixed preamble of every agent history.
const AgentSystemPrompt = "You are a smart assistant helping users evaluate Crop, PV suitability, basic Agent-Based Modelling, enhanced Agent-Based Modelling or full Agent-Based Modelling. Avoid unnecessary elaboration.\n\n"

const (
	asyncSessionTitle = "#abm"
	defaultResultText = "Results are ready."
)

// SessionService manages per-user and global session documents, the
// ownership pointer and the per-user recency index.
type SessionService struct {
	store kvstore.Store
	clock clockwork.Clock
	ttl   time.Duration
}

// NewSessionService creates a new session store
func NewSessionService(store kvstore.Store, clock clockwork.Clock, ttl time.Duration) *SessionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{store: store, clock: clock, ttl: ttl}
}

func (s *SessionService) now() time.Time {
	return s.clock.Now().UTC()
}

// Owner returns the recorded owner of a session, or "" when none.
func (s *SessionService) Owner(ctx context.Context, sid string) (string, error) {
	v, err := s.store.Get(ctx, keyOwner(sid))
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get owner of %s: %w", sid, err)
	}
	return v, nil
}

// SetOwner records sub as owner unless one is already recorded, and
// refreshes the pointer's TTL either way. It reports whether sub is the
// owner afterwards.
func (s *SessionService) SetOwner(ctx context.Context, sid, sub string) (bool, error) {
	if sub == "" {
		return false, nil
	}
	set, err := s.store.SetNX(ctx, keyOwner(sid), sub, s.ttl)
	if err != nil {
		return false, fmt.Errorf("set owner of %s: %w", sid, err)
	}
	if set {
		return true, nil
	}
	if err := s.store.Expire(ctx, keyOwner(sid), s.ttl); err != nil {
		return false, fmt.Errorf("refresh owner of %s: %w", sid, err)
	}
	owner, err := s.Owner(ctx, sid)
	return owner == sub, err
}

// TouchTTL refreshes the TTL of every key of the session.
func (s *SessionService) TouchTTL(ctx context.Context, sid, sub string) error {
	return touchSessionTTL(ctx, s.store, s.ttl, sid, sub)
}

// mayAccess reports whether sub may act on sid. Sessions without a
// recorded owner are open to any authenticated caller.
func (s *SessionService) mayAccess(ctx context.Context, sub, sid string) (bool, error) {
	owner, err := s.Owner(ctx, sid)
	if err != nil {
		return false, err
	}
	return owner == "" || owner == sub, nil
}

// loadDoc prefers the per-user copy and falls back to the global one.
// Callers must enforce ownership before trusting the result.
func (s *SessionService) loadDoc(ctx context.Context, sub, sid string) (*models.SessionDocument, error) {
	keys := []string{keyGlobalDoc(sid)}
	if sub != "" {
		keys = append([]string{keyUserDoc(sub, sid)}, keys...)
	}
	for _, k := range keys {
		raw, err := s.store.Get(ctx, k)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load session %s: %w", sid, err)
		}
		var doc models.SessionDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("decode session %s: %w", k, err)
		}
		return &doc, nil
	}
	return nil, nil
}

// GetOwned returns the session if sub may read it.
func (s *SessionService) GetOwned(ctx context.Context, sub, sid string) (*models.SessionDocument, error) {
	ok, err := s.mayAccess(ctx, sub, sid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	doc, err := s.loadDoc(ctx, sub, sid)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrSessionNotFound
	}
	if doc.Messages == nil {
		doc.Messages = []models.Message{}
	}
	return doc, nil
}

// Save merges incoming messages into the stored document and writes it
// to both keys.
func (s *SessionService) Save(ctx context.Context, sub, sid, title string, incoming []models.Message) error {
	ok, err := s.mayAccess(ctx, sub, sid)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}

	existing, err := s.loadDoc(ctx, sub, sid)
	if err != nil {
		return err
	}

	doc := &models.SessionDocument{
		ID:    sid,
		Title: models.NormalizeTitle(title),
	}
	var previous []models.Message
	if existing != nil {
		doc.CreatedAt = existing.CreatedAt
		doc.UpdatedAt = existing.UpdatedAt
		previous = existing.Messages
	}
	doc.Messages = MergeMessages(previous, incoming)

	return s.saveBoth(ctx, sub, sid, doc, true)
}

// UpdateTitle renames a session, bumping its recency only when touch is set.
func (s *SessionService) UpdateTitle(ctx context.Context, sub, sid, title string, touch bool) error {
	ok, err := s.mayAccess(ctx, sub, sid)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSessionNotFound
	}
	doc, err := s.loadDoc(ctx, sub, sid)
	if err != nil {
		return err
	}
	if doc == nil {
		return ErrSessionNotFound
	}
	doc.Title = models.NormalizeTitle(title)
	return s.saveBoth(ctx, sub, sid, doc, touch)
}

// Delete always removes the caller's copy and index entry; the global
// copy and ownership record go only when the caller is the owner.
func (s *SessionService) Delete(ctx context.Context, sub, sid string) error {
	owner, err := s.Owner(ctx, sid)
	if err != nil {
		return err
	}
	userKey := keyUserDoc(sub, sid)
	return s.store.Batch(ctx, func(b kvstore.Batch) {
		b.Del(userKey)
		b.ZRem(keyIndex(sub), userKey)
		if owner == sub {
			b.Del(keyGlobalDoc(sid), keyOwner(sid))
		}
	})
}

// List returns the caller's sessions, newest first. Index entries whose
// document has expired are skipped.
func (s *SessionService) List(ctx context.Context, sub string) ([]models.SessionSummary, error) {
	members, err := s.store.ZRevRangeWithScores(ctx, keyIndex(sub))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]models.SessionSummary, 0, len(members))
	for _, m := range members {
		raw, err := s.store.Get(ctx, m.Member)
		if errors.Is(err, kvstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		var doc models.SessionDocument
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			slog.Warn("skipping unreadable session document", "key", m.Member, "error", err)
			continue
		}
		out = append(out, models.SessionSummary{
			ID:           doc.ID,
			Title:        models.NormalizeTitle(doc.Title),
			UpdatedAt:    m.Score,
			MessageCount: len(doc.Messages),
		})
	}
	return out, nil
}

// SeedHistory rebuilds the agent history from a stored session so a
// reopened conversation keeps its context.
func (s *SessionService) SeedHistory(ctx context.Context, sub, sid string) error {
	doc, err := s.GetOwned(ctx, sub, sid)
	if err != nil {
		return err
	}

	entries := []models.HistoryEntry{{Role: "system", Content: AgentSystemPrompt}}
	for _, m := range doc.Messages {
		if m.Role == "user" || m.Role == "assistant" {
			entries = append(entries, models.HistoryEntry{Role: m.Role, Content: m.Content})
		}
	}
	values, err := encodeHistory(entries)
	if err != nil {
		return err
	}

	return s.store.Batch(ctx, func(b kvstore.Batch) {
		b.Del(keyHistory(sid))
		b.RPush(keyHistory(sid), values...)
		expireSessionKeys(b, s.ttl, sid, "")
	})
}

// AppendAsyncResult folds a background result into the session as an
// assistant message. Without a known owner only the global copy is
// written, so the result is reachable by id but not yet listed.
func (s *SessionService) AppendAsyncResult(ctx context.Context, ownerHint, sid string, result models.ModelResult) error {
	owner := ownerHint
	if owner == "" {
		recorded, err := s.Owner(ctx, sid)
		if err != nil {
			return err
		}
		owner = recorded
	}

	doc, err := s.loadDoc(ctx, owner, sid)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &models.SessionDocument{
			ID:        sid,
			Title:     asyncSessionTitle,
			CreatedAt: s.now().Format(time.RFC3339Nano),
		}
	}

	msg, err := s.resultMessage(result, lastGeoJSON(doc.Messages))
	if err != nil {
		return err
	}
	doc.Messages = append(doc.Messages, msg)

	if owner != "" {
		if err := s.saveBoth(ctx, owner, sid, doc, true); err != nil {
			return err
		}
	} else {
		s.stamp(doc)
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal session %s: %w", sid, err)
		}
		if err := s.store.Set(ctx, keyGlobalDoc(sid), string(data), s.ttl); err != nil {
			return fmt.Errorf("save global session %s: %w", sid, err)
		}
	}

	hist, err := encodeHistory([]models.HistoryEntry{{Role: "assistant", Content: msg.Content}})
	if err != nil {
		return err
	}
	return s.store.Batch(ctx, func(b kvstore.Batch) {
		b.RPush(keyHistory(sid), hist...)
		expireSessionKeys(b, s.ttl, sid, owner)
	})
}

// stamp fills defaults and advances updated_at without ever moving it back.
func (s *SessionService) stamp(doc *models.SessionDocument) {
	now := s.now()
	if doc.Title == "" {
		doc.Title = models.DefaultSessionTitle
	}
	if doc.Messages == nil {
		doc.Messages = []models.Message{}
	}
	if doc.CreatedAt == "" {
		doc.CreatedAt = now.Format(time.RFC3339Nano)
	}
	ts := float64(now.UnixNano()) / float64(time.Second)
	if ts > doc.UpdatedAt {
		doc.UpdatedAt = ts
	}
}

// saveBoth writes the per-user and global copies, bumps the index when
// asked and refreshes every TTL in one batch. Ownership is claimed
// first-writer-wins.
func (s *SessionService) saveBoth(ctx context.Context, sub, sid string, doc *models.SessionDocument, touchIndex bool) error {
	doc.ID = sid
	s.stamp(doc)

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", sid, err)
	}

	if _, err := s.SetOwner(ctx, sid, sub); err != nil {
		return err
	}

	userKey := keyUserDoc(sub, sid)
	err = s.store.Batch(ctx, func(b kvstore.Batch) {
		b.Set(userKey, string(data), s.ttl)
		b.Set(keyGlobalDoc(sid), string(data), s.ttl)
		if touchIndex {
			b.ZAdd(keyIndex(sub), doc.UpdatedAt, userKey)
		}
		b.Expire(keyIndex(sub), s.ttl)
		expireSessionKeys(b, s.ttl, sid, sub)
	})
	if err != nil {
		return fmt.Errorf("save session %s: %w", sid, err)
	}
	return nil
}

func (s *SessionService) resultMessage(r models.ModelResult, geo json.RawMessage) (models.Message, error) {
	content := r.Text
	if content == "" {
		content = defaultResultText
	}
	layers := r.MapLayers
	if layers == nil {
		layers = []json.RawMessage{}
	}
	charts := r.ChartData
	if charts == nil {
		charts = []models.ChartEntry{}
	}

	md := models.MapData{
		GeoJSONData:    geo,
		WMSLayers:      layers,
		MapExplanation: r.MapExplanation,
	}
	if r.Pilot != "" {
		p := r.Pilot
		md.PilotArea = &p
	}
	mapData, err := json.Marshal(md)
	if err != nil {
		return models.Message{}, fmt.Errorf("marshal map data: %w", err)
	}

	msg := models.Message{
		Role:      "assistant",
		Content:   content,
		Timestamp: models.NewTimestamp(s.now()),
		MapData:   mapData,
	}
	hasLayers := len(layers) > 0
	extras := map[string]any{
		"activeComponents": models.ActiveComponents{
			Map:      hasLayers,
			Graph:    hasLayers,
			BarChart: len(charts) > 0,
			Slider:   hasLayers,
		},
		"graphData":     []any{},
		"barChartData":  charts,
		"serviceCalled": r.Action.ServiceCalled(),
	}
	for k, v := range extras {
		if err := msg.SetExtra(k, v); err != nil {
			return models.Message{}, fmt.Errorf("marshal %s: %w", k, err)
		}
	}
	return msg, nil
}

// lastGeoJSON finds the polygon of the most recent message that had one.
func lastGeoJSON(messages []models.Message) json.RawMessage {
	for i := len(messages) - 1; i >= 0; i-- {
		if geo, ok := messages[i].GeoJSON(); ok {
			return geo
		}
	}
	return nil
}

// MergeMessages unions incoming and existing by (role, content,
// timestamp), keeping incoming's copy of overlapping entries, then
// sorts stably by timestamp.
func MergeMessages(existing, incoming []models.Message) []models.Message {
	merged := make([]models.Message, 0, len(existing)+len(incoming))
	merged = append(merged, incoming...)

	seen := make(map[models.MergeKey]struct{}, len(incoming))
	for _, m := range incoming {
		seen[m.Key()] = struct{}{}
	}
	for _, m := range existing {
		if _, dup := seen[m.Key()]; dup {
			continue
		}
		merged = append(merged, m)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Epoch() < merged[j].Timestamp.Epoch()
	})
	return merged
}
