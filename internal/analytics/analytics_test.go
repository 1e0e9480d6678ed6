package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealflow/internal/domain"
)

func TestSummarizeSampleDeals(t *testing.T) {
	deals := domain.SampleDeals(time.Now())
	s := Summarize(deals)
	assert.Equal(t, 4, s.Count)
	assert.Equal(t, 325000.0, s.TotalValue)
	assert.Equal(t, 4, s.ActiveDeals)
	assert.Equal(t, 325000.0, s.ActiveValue)
	assert.Zero(t, s.WonDeals)
	assert.Zero(t, s.WinRate)
}

func TestSummarizeWinRate(t *testing.T) {
	deals := []domain.Deal{
		{Name: "a", Value: 10, Stage: domain.StageClosedWon},
		{Name: "b", Value: 20, Stage: domain.StageClosedWon},
		{Name: "c", Value: 30, Stage: domain.StageClosedLost},
		{Name: "d", Value: 40, Stage: domain.StageLead},
	}
	s := Summarize(deals)
	assert.Equal(t, 2, s.WonDeals)
	assert.Equal(t, 30.0, s.WonValue)
	assert.Equal(t, 1, s.LostDeals)
	assert.Equal(t, 1, s.ActiveDeals)
	assert.Equal(t, 40.0, s.ActiveValue)
	assert.Equal(t, 67, s.WinRate)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, Summary{}, s)
}

func TestSummarizeDoesNotMutate(t *testing.T) {
	deals := domain.SampleDeals(time.Now())
	before := append([]domain.Deal(nil), deals...)
	first := Summarize(deals)
	second := Summarize(deals)
	assert.Equal(t, first, second)
	assert.Equal(t, before, deals)
}

func TestWinRateRounding(t *testing.T) {
	assert.Equal(t, 0, WinRate(0, 0))
	assert.Equal(t, 100, WinRate(3, 0))
	assert.Equal(t, 0, WinRate(0, 5))
	assert.Equal(t, 33, WinRate(1, 2))
	assert.Equal(t, 50, WinRate(1, 1))
}

func TestBreakdown(t *testing.T) {
	deals := domain.SampleDeals(time.Now())
	deals = append(deals, domain.Deal{Name: "x", Value: 5, Stage: domain.StageLead})
	rows := Breakdown(deals)
	require.Len(t, rows, 6)
	assert.Equal(t, domain.StageLead, rows[0].Stage)
	assert.Equal(t, 2, rows[0].Count)
	assert.Equal(t, 35005.0, rows[0].Value)
	assert.Equal(t, 0, rows[5].Count)
}

func TestFormatUSD(t *testing.T) {
	assert.Equal(t, "$75,000", FormatUSD(75000))
	assert.Equal(t, "$1,234.5", FormatUSD(1234.5))
	assert.Equal(t, "$0", FormatUSD(0))
	assert.Equal(t, "$1,000,000", FormatUSD(1e6))
}
