package store

import (
	"sort"

	"hist-data/internal/model"
)

// Merge combines existing records with freshly fetched ones: sort ascending by
// caldt, then collapse duplicate timestamps keeping the later-arriving record.
// Fresh bars therefore win over existing ones, so re-fetching a range with
// corrected bars replaces them, and repeating a merge is a no-op.
func Merge(existing, fresh []model.Bar) []model.Bar {
	combined := make([]model.Bar, 0, len(existing)+len(fresh))
	combined = append(combined, existing...)
	combined = append(combined, fresh...)

	// Stable keeps arrival order within equal timestamps so keep-last works.
	sort.SliceStable(combined, func(i, j int) bool {
		return combined[i].Caldt.Before(combined[j].Caldt)
	})

	out := combined[:0]
	for _, b := range combined {
		if n := len(out); n > 0 && out[n-1].Caldt.Equal(b.Caldt) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
