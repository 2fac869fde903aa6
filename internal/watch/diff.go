package watch

import "dropwatch/internal/catalog"

// Membership is the read side of the listing store.
type Membership interface {
	Contains(id string) bool
}

// Diff returns the fetched items whose id is not yet in seen, in fetch
// order. The order determines notification order, so it is never
// re-sorted. An id repeated within one fetch is reported once.
func Diff(fetched []catalog.Item, seen Membership) []catalog.Item {
	var fresh []catalog.Item
	inBatch := map[string]struct{}{}
	for _, it := range fetched {
		if it.ID == "" {
			continue
		}
		if _, dup := inBatch[it.ID]; dup {
			continue
		}
		if seen.Contains(it.ID) {
			continue
		}
		inBatch[it.ID] = struct{}{}
		fresh = append(fresh, it)
	}
	return fresh
}
