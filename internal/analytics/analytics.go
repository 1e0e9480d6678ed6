// Package analytics derives pipeline metrics from a deal collection.
package analytics

import (
	"math"

	"dealflow/internal/domain"
)

type Summary struct {
	Count       int     `json:"count"`
	TotalValue  float64 `json:"total_value"`
	ActiveDeals int     `json:"active_deals"`
	ActiveValue float64 `json:"active_value"`
	WonDeals    int     `json:"won_deals"`
	WonValue    float64 `json:"won_value"`
	LostDeals   int     `json:"lost_deals"`
	LostValue   float64 `json:"lost_value"`
	WinRate     int     `json:"win_rate" minimum:"0" maximum:"100"`
}

// Summarize is pure; it never mutates deals.
func Summarize(deals []domain.Deal) Summary {
	var s Summary
	s.Count = len(deals)
	for _, d := range deals {
		s.TotalValue += d.Value
		switch d.Stage {
		case domain.StageClosedWon:
			s.WonDeals++
			s.WonValue += d.Value
		case domain.StageClosedLost:
			s.LostDeals++
			s.LostValue += d.Value
		default:
			s.ActiveDeals++
			s.ActiveValue += d.Value
		}
	}
	s.WinRate = WinRate(s.WonDeals, s.LostDeals)
	return s
}

// WinRate is the rounded percentage of closed deals that were won, 0 when none closed.
func WinRate(won, lost int) int {
	closed := won + lost
	if closed == 0 {
		return 0
	}
	return int(math.Round(float64(won) / float64(closed) * 100))
}

type StageTotal struct {
	Stage domain.Stage `json:"stage"`
	Label string       `json:"label"`
	Emoji string       `json:"emoji"`
	Count int          `json:"count"`
	Value float64      `json:"value"`
}

// Breakdown returns one entry per stage in board order, including empty stages.
func Breakdown(deals []domain.Deal) []StageTotal {
	idx := make(map[domain.Stage]int)
	out := make([]StageTotal, 0, len(domain.Stages()))
	for i, st := range domain.Stages() {
		idx[st] = i
		out = append(out, StageTotal{Stage: st, Label: st.Label(), Emoji: st.Emoji()})
	}
	for _, d := range deals {
		i, ok := idx[d.Stage]
		if !ok {
			continue
		}
		out[i].Count++
		out[i].Value += d.Value
	}
	return out
}
