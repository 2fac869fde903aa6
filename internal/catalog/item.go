// Package catalog fetches the watched product catalog.
package catalog

// Item is one catalog entry. ID is the only identity: two fetches
// describing the same ID with different other fields are the same item.
type Item struct {
	ID          string
	Name        string
	URL         string
	ImageURL    string
	Description string
	// Price is kept as the source's textual form; the source emits both
	// numbers and strings ("24.99", "N/A").
	Price string
}
