package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	st, ok := ParseStage(" negotiation ")
	require.True(t, ok)
	assert.Equal(t, StageNegotiation, st)

	st, ok = ParseStage("Closed_Won")
	require.True(t, ok)
	assert.Equal(t, StageClosedWon, st)

	_, ok = ParseStage("won")
	assert.False(t, ok)
	_, ok = ParseStage("")
	assert.False(t, ok)
}

func TestStageClassification(t *testing.T) {
	for _, st := range ActiveStages() {
		assert.True(t, st.IsActive(), st)
		assert.False(t, st.IsClosed(), st)
	}
	assert.True(t, StageClosedWon.IsClosed())
	assert.True(t, StageClosedLost.IsClosed())
	assert.False(t, Stage("bogus").IsActive())
	assert.Len(t, Stages(), 6)
	assert.Equal(t, "Closed Won", StageClosedWon.Label())
	assert.Equal(t, "🤝", StageNegotiation.Emoji())
}

func TestFindByNameIgnoresCase(t *testing.T) {
	deals := SampleDeals(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 2, FindByName(deals, "security AUDIT"))
	assert.Equal(t, -1, FindByName(deals, "Nope"))
	assert.Equal(t, []string{"Cloud Migration", "Annual SaaS License", "Security Audit", "Data Analytics Platform"}, Names(deals))
}

func TestStageNames(t *testing.T) {
	assert.Equal(t, "lead, qualified, proposal, negotiation", StageNames(ActiveStages()))
}
