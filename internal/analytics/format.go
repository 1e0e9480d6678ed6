package analytics

import (
	"math"

	"github.com/dustin/go-humanize"
)

// FormatUSD renders an amount with thousands separators, e.g. $120,000 or $1,234.5.
func FormatUSD(v float64) string {
	return "$" + humanize.Commaf(math.Round(v*100)/100)
}
