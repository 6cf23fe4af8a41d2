// Package prefs implements the per-(user,agent) preference model and
// session frustration tracking: an in-process map updated from
// feedback/sentiment signals and explicit preference memories, consulted by
// the retrieval orchestrator to additively adjust intent-routing strategy
// for sessions in active frustration.
package prefs

import (
	"sync"
	"time"
)

// Preference is a single normalized preference entry.
type Preference struct {
	Category    string
	Value       string
	Strength    float64
	Evidence    int
	FirstSeen   time.Time
	LastSeen    time.Time
	SourceIDs   []string
}

const maxSourceIDs = 20

// UserModel is the full preference set for one (user, agent) pair.
type UserModel struct {
	mu    sync.Mutex
	prefs map[string]*Preference
}

// Upsert records or reinforces a preference under key, bumping strength and
// evidence count and capping the retained source-id list.
func (m *UserModel) Upsert(key, category, value string, strengthDelta float64, sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefs == nil {
		m.prefs = make(map[string]*Preference)
	}
	now := time.Now().UTC()
	p, ok := m.prefs[key]
	if !ok {
		p = &Preference{Category: category, Value: value, FirstSeen: now}
		m.prefs[key] = p
	}
	p.Value = value
	p.Strength = clamp01(p.Strength + strengthDelta)
	p.Evidence++
	p.LastSeen = now
	if sourceID != "" {
		p.SourceIDs = append(p.SourceIDs, sourceID)
		if len(p.SourceIDs) > maxSourceIDs {
			p.SourceIDs = p.SourceIDs[len(p.SourceIDs)-maxSourceIDs:]
		}
	}
}

// Get returns a copy of the preference at key, if any.
func (m *UserModel) Get(key string) (Preference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prefs[key]
	if !ok {
		return Preference{}, false
	}
	return *p, true
}

// Snapshot returns a copy of all preferences.
func (m *UserModel) Snapshot() map[string]Preference {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Preference, len(m.prefs))
	for k, v := range m.prefs {
		out[k] = *v
	}
	return out
}

const (
	decayPerInterval = 0.1
	decayInterval    = 5 * time.Minute
	escalateAfter    = 3
)

// FrustrationState tracks a session's emotional trajectory, decaying toward
// neutral with silence and escalating on consecutive negative signals.
type FrustrationState struct {
	mu                sync.Mutex
	level             float64
	consecutiveNeg    int
	lastSignal        string
	lastUpdated       time.Time
}

// RecordSignal folds a new sentiment signal ("positive", "negative",
// "neutral") into the state, applying time-decay for any elapsed silence
// first.
func (f *FrustrationState) RecordSignal(signal string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decayLocked()

	switch signal {
	case "negative":
		f.consecutiveNeg++
		f.level = clamp01(f.level + 0.2)
	case "positive":
		f.consecutiveNeg = 0
		f.level = clamp01(f.level - 0.3)
	default:
		f.consecutiveNeg = 0
	}
	f.lastSignal = signal
	f.lastUpdated = time.Now().UTC()
}

func (f *FrustrationState) decayLocked() {
	if f.lastUpdated.IsZero() {
		return
	}
	elapsed := time.Since(f.lastUpdated)
	intervals := float64(elapsed / decayInterval)
	if intervals <= 0 {
		return
	}
	f.level = clamp01(f.level - decayPerInterval*intervals)
	// Consume the decayed intervals so a later read does not decay them again.
	f.lastUpdated = f.lastUpdated.Add(time.Duration(intervals) * decayInterval)
}

// IsFrustrated reports whether the session is in active frustration: either
// 3+ consecutive negative signals, or a decayed level still above 0.5.
func (f *FrustrationState) IsFrustrated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decayLocked()
	return f.consecutiveNeg >= escalateAfter || f.level > 0.5
}

// Level returns the current decayed frustration level.
func (f *FrustrationState) Level() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decayLocked()
	return f.level
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// key identifies a (user, agent) pair.
type key struct {
	userID, agentID string
}

// Store is the process-wide registry of per-(user,agent) models and
// frustration states, each guarded by its own lock so unrelated sessions
// never contend.
type Store struct {
	mu     sync.Mutex
	models map[key]*UserModel
	states map[key]*FrustrationState
}

// NewStore constructs an empty preference/frustration registry.
func NewStore() *Store {
	return &Store{
		models: make(map[key]*UserModel),
		states: make(map[key]*FrustrationState),
	}
}

// Model returns (creating if absent) the UserModel for (userID, agentID).
func (s *Store) Model(userID, agentID string) *UserModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{userID, agentID}
	m, ok := s.models[k]
	if !ok {
		m = &UserModel{}
		s.models[k] = m
	}
	return m
}

// Frustration returns (creating if absent) the FrustrationState for
// (userID, agentID).
func (s *Store) Frustration(userID, agentID string) *FrustrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{userID, agentID}
	f, ok := s.states[k]
	if !ok {
		f = &FrustrationState{}
		s.states[k] = f
	}
	return f
}

// BoostAdjustment is an additive, best-effort layer applied on top of the
// intent router's base strategy when a session is actively frustrated.
type BoostAdjustment struct {
	WidenLimitBy int
	FavorTypes   []string // memory.MemoryType values, kept as strings to avoid an import cycle
}

// frustratedFavorTypes are the types favored for a session in active
// frustration: procedural "how do I" guidance and core facts tend to
// resolve confusion faster than episodic chatter.
var frustratedFavorTypes = []string{"procedural", "core"}

// AdjustmentFor returns the adjustment to apply for (userID, agentID),
// or the zero value if the session isn't frustrated.
func (s *Store) AdjustmentFor(userID, agentID string) BoostAdjustment {
	if userID == "" || agentID == "" {
		return BoostAdjustment{}
	}
	f := s.Frustration(userID, agentID)
	if !f.IsFrustrated() {
		return BoostAdjustment{}
	}
	return BoostAdjustment{WidenLimitBy: 5, FavorTypes: frustratedFavorTypes}
}
