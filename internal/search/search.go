// Package search provides owner-scoped project search: Meilisearch when
// available, PostgreSQL full-text search as the fallback.
package search

// Record is the data we index for a project.
type Record struct {
	ID          string `json:"id"`
	OwnerID     int64  `json:"ownerId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Slug        string `json:"slug"`
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	Snippet string `json:"snippet,omitempty"`
}

// Query describes a search request, always scoped to one owner.
type Query struct {
	OwnerID int64
	Text    string
	Limit   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a project search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}
