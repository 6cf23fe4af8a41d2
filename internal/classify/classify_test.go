package classify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"engram/internal/memory"
)

func TestSecurity_DetectsSecretPatternsAsTerminal(t *testing.T) {
	got := Security("api_key: sk-abc123", Context{AgentID: "agent-1", HasUser: true})
	require.Equal(t, memory.ClassSecret, got)
}

func TestSecurity_FallsBackToPrivateOrPublic(t *testing.T) {
	require.Equal(t, memory.ClassPrivate, Security("a normal note", Context{AgentID: "agent-1"}))
	require.Equal(t, memory.ClassPublic, Security("a normal note", Context{}))
}

func TestType_FirstMatchingPatternWins(t *testing.T) {
	require.Equal(t, memory.TypeCore, Type("always remember the deploy key rotates monthly"))
	require.Equal(t, memory.TypeProcedural, Type("how to restart the worker pool"))
	require.Equal(t, memory.TypePreference, Type("i prefer tabs over spaces"))
	require.Equal(t, memory.TypeSemantic, Type("the invoice totals are stored in cents"))
}

func TestUrgencyOf_ClassifiesBySignalWords(t *testing.T) {
	require.Equal(t, memory.UrgencyCritical, UrgencyOf("production is down, asap"))
	require.Equal(t, memory.UrgencyImportant, UrgencyOf("please note the new endpoint"))
	require.Equal(t, memory.UrgencyBackground, UrgencyOf("fyi, no rush on this"))
	require.Equal(t, memory.UrgencyReference, UrgencyOf("the service listens on port 8080"))
}

func TestDomainOf_MatchesKeywordSets(t *testing.T) {
	require.Equal(t, memory.DomainTechnical, DomainOf("the database connection is refused"))
	require.Equal(t, memory.DomainPersonal, DomainOf("my birthday is next week"))
	require.Equal(t, memory.DomainKnowledge, DomainOf("water boils at 100 degrees celsius"))
}

func TestEntities_ExtractsIPsPortsAndVersions(t *testing.T) {
	ents := Entities("the api server at 10.0.0.5 listens on port 8080, running kafka v2.8.1")
	require.Contains(t, ents, "10.0.0.5")
	require.Contains(t, ents, "port 8080")
	require.Contains(t, ents, "v2.8.1")
	require.Contains(t, ents, "kafka")
}

func TestEntities_DropsIPShapedVersionMatches(t *testing.T) {
	ents := Entities("reach it at 10.0.0.5 only")
	count := 0
	for _, e := range ents {
		if e == "10.0.0.5" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestHasNegation_DetectsNegationTokens(t *testing.T) {
	require.True(t, HasNegation("this is not the right endpoint"))
	require.False(t, HasNegation("this is the right endpoint"))
}

func TestPriority_ClampsToUnitRange(t *testing.T) {
	p := Priority(memory.UrgencyCritical, memory.DomainTechnical)
	require.LessOrEqual(t, p, 1.0)
	require.GreaterOrEqual(t, p, 0.0)
}
