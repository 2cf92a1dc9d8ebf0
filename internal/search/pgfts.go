package search

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// PgFTS implements Searcher over the projects table using PostgreSQL
// full-text search. The description lives inside the JSONB document, so it
// is extracted on the fly.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT id, name, slug, COALESCE(data->>'description', '') AS description
		FROM projects
		WHERE owner_id = $1
			AND to_tsvector('english', name || ' ' || COALESCE(slug, '') || ' ' || COALESCE(data->>'description', ''))
				@@ plainto_tsquery('english', $2)
		ORDER BY ts_rank(
			to_tsvector('english', name || ' ' || COALESCE(slug, '') || ' ' || COALESCE(data->>'description', '')),
			plainto_tsquery('english', $2)) DESC, id DESC
		LIMIT $3
	`
	rows, err := p.db.Query(query, q.OwnerID, q.Text, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts search: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0)
	for rows.Next() {
		var id int64
		var name, slug, description string
		if err := rows.Scan(&id, &name, &slug, &description); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, Result{
			ID:      strconv.FormatInt(id, 10),
			Name:    name,
			Slug:    slug,
			Snippet: description,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("pgfts iterate: %w", err)
	}
	return results, len(results), nil
}
