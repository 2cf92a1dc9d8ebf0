package store

import "time"

type User struct {
	ID           int64
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

type Project struct {
	ID          int64
	OwnerID     int64
	Name        string
	Slug        string
	PublicID    string
	PublicSlug  *string
	IsPublished bool
	PublishedAt *time.Time
	// Data is the raw JSONB document column. Interpretation (including
	// degrading malformed values to an empty object) happens in the
	// document package.
	Data []byte
}

type Asset struct {
	ID        int64
	OwnerID   int64
	URL       string
	Filename  string
	CreatedAt time.Time
}
