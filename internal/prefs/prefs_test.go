package prefs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUserModel_UpsertReinforcesStrengthAndEvidence(t *testing.T) {
	var m UserModel
	m.Upsert("language", "preference", "go", 0.3, "mem-1")
	m.Upsert("language", "preference", "go", 0.3, "mem-2")

	p, ok := m.Get("language")
	require.True(t, ok)
	require.Equal(t, 2, p.Evidence)
	require.InDelta(t, 0.6, p.Strength, 0.001)
	require.Equal(t, []string{"mem-1", "mem-2"}, p.SourceIDs)
}

func TestFrustrationState_EscalatesAfterThreeConsecutiveNegatives(t *testing.T) {
	var f FrustrationState
	require.False(t, f.IsFrustrated())
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	require.False(t, f.IsFrustrated())
	f.RecordSignal("negative")
	require.True(t, f.IsFrustrated())
}

func TestFrustrationState_PositiveSignalResetsConsecutiveCount(t *testing.T) {
	var f FrustrationState
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	f.RecordSignal("positive")
	f.RecordSignal("negative")
	require.False(t, f.IsFrustrated())
}

func TestFrustrationState_DecaysOverSimulatedSilence(t *testing.T) {
	var f FrustrationState
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	require.True(t, f.IsFrustrated())

	f.mu.Lock()
	f.lastUpdated = time.Now().UTC().Add(-1 * time.Hour)
	f.mu.Unlock()

	require.Less(t, f.Level(), 0.5)
}

func TestStore_AdjustmentForIsZeroWhenNotFrustrated(t *testing.T) {
	s := NewStore()
	adj := s.AdjustmentFor("user-1", "agent-1")
	require.Zero(t, adj.WidenLimitBy)
	require.Empty(t, adj.FavorTypes)
}

func TestStore_AdjustmentForWidensLimitWhenFrustrated(t *testing.T) {
	s := NewStore()
	f := s.Frustration("user-1", "agent-1")
	f.RecordSignal("negative")
	f.RecordSignal("negative")
	f.RecordSignal("negative")

	adj := s.AdjustmentFor("user-1", "agent-1")
	require.Positive(t, adj.WidenLimitBy)
	require.Contains(t, adj.FavorTypes, "procedural")
}

func TestStore_IndependentSessionsDoNotShareState(t *testing.T) {
	s := NewStore()
	s.Model("user-1", "agent-1").Upsert("k", "c", "v", 0.5, "")
	_, ok := s.Model("user-2", "agent-1").Get("k")
	require.False(t, ok)
}
