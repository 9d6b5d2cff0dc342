package ingest

import (
	"sort"
	"strings"
	"time"

	"github.com/feedcourier/feedcourier/app/database"
)

// Changed reports whether the incoming revision of an item differs from the
// stored one in any comparable field. Both sides are normalized before
// comparison so formatting churn in the source does not count as a change.
// Pure function: no store access, independently testable.
func Changed(existing, incoming database.Item) bool {
	if collapse(existing.Title) != collapse(incoming.Title) {
		return true
	}
	if collapse(existing.Link) != collapse(incoming.Link) {
		return true
	}
	if collapse(existing.Description) != collapse(incoming.Description) {
		return true
	}
	if collapse(existing.Content) != collapse(incoming.Content) {
		return true
	}
	if collapse(existing.Author) != collapse(incoming.Author) {
		return true
	}
	if collapse(existing.ImageURL) != collapse(incoming.ImageURL) {
		return true
	}
	if existing.Fingerprint != incoming.Fingerprint {
		return true
	}
	if !sameTime(existing.PublishedAt, incoming.PublishedAt) {
		return true
	}
	if !sameCategories(existing.Categories, incoming.Categories) {
		return true
	}

	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.UTC().Truncate(time.Second).Equal(b.UTC().Truncate(time.Second))
}

func sameCategories(a, b []string) bool {
	na := normalizeCategories(a)
	nb := normalizeCategories(b)

	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// normalizeCategories returns a sorted, deduplicated, case-insensitive copy
func normalizeCategories(cats []string) []string {
	seen := make(map[string]bool, len(cats))
	out := make([]string, 0, len(cats))
	for _, c := range cats {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
