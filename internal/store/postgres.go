package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUniqueViolation marks a commit-time unique constraint failure, e.g. two
// concurrent publishes racing for the same public slug. The constraint is the
// authoritative guard; callers translate this into a conflict for the client.
var ErrUniqueViolation = errors.New("unique constraint violation")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- users ----

func (s *PostgresStore) CreateUser(ctx context.Context, email, passwordHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, created_at
	`, email, passwordHash).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("insert user: %w", ErrUniqueViolation)
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUserByEmail matches case-insensitively; emails are stored normalized but
// legacy rows may predate normalization.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- projects ----

const projectColumns = `id, owner_id, name, slug, public_id, public_slug, is_published, published_at, data`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Slug, &p.PublicID, &p.PublicSlug, &p.IsPublished, &p.PublishedAt, &p.Data)
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, ownerID int64, name, slug, publicID string, data []byte) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (owner_id, name, slug, public_id, is_published, data)
		VALUES ($1, $2, $3, $4, FALSE, $5)
		RETURNING `+projectColumns+`
	`, ownerID, name, slug, publicID, data)
	project, err := scanProject(row)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

// GetProjectForOwner is the ownership gate for reads: a missing project and a
// project owned by someone else are both sql.ErrNoRows.
func (s *PostgresStore) GetProjectForOwner(ctx context.Context, projectID, ownerID int64) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1 AND owner_id = $2
	`, projectID, ownerID)
	return scanProject(row)
}

func (s *PostgresStore) ListProjectsForOwner(ctx context.Context, ownerID int64) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE owner_id = $1
		ORDER BY id DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

// UpdateProjectDocument commits the document column together with the
// denormalized name/slug in a single statement so a partial update can never
// be observed.
func (s *PostgresStore) UpdateProjectDocument(ctx context.Context, projectID, ownerID int64, name, slug string, data []byte) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET name = $3, slug = $4, data = $5
		WHERE id = $1 AND owner_id = $2
		RETURNING `+projectColumns+`
	`, projectID, ownerID, name, slug, data)
	return scanProject(row)
}

// UpdateProjectPublication commits the publication state, public slug, and
// document mirror atomically. A public_slug collision at commit time surfaces
// as ErrUniqueViolation.
func (s *PostgresStore) UpdateProjectPublication(ctx context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE projects
		SET is_published = $3, public_slug = $4, published_at = $5, data = $6
		WHERE id = $1 AND owner_id = $2
		RETURNING `+projectColumns+`
	`, projectID, ownerID, isPublished, publicSlug, publishedAt, data)
	project, err := scanProject(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Project{}, fmt.Errorf("update publication: %w", ErrUniqueViolation)
		}
		return Project{}, err
	}
	return project, nil
}

func (s *PostgresStore) DeleteProjectForOwner(ctx context.Context, projectID, ownerID int64) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM projects WHERE id = $1 AND owner_id = $2
	`, projectID, ownerID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// IsPublicSlugTaken reports whether a different project already holds slug.
// Advisory only; the unique constraint decides races.
func (s *PostgresStore) IsPublicSlugTaken(ctx context.Context, publicSlug string, excludingProjectID int64) (bool, error) {
	var taken bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM projects WHERE public_slug = $1 AND id <> $2)
	`, publicSlug, excludingProjectID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check public slug: %w", err)
	}
	return taken, nil
}

func (s *PostgresStore) GetPublishedProjectBySlug(ctx context.Context, publicSlug string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE public_slug = $1 AND is_published = TRUE
	`, publicSlug)
	return scanProject(row)
}

// ---- assets ----

func (s *PostgresStore) CreateAsset(ctx context.Context, ownerID int64, url, filename string) (Asset, error) {
	var asset Asset
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO assets (owner_id, url, filename)
		VALUES ($1, $2, $3)
		RETURNING id, owner_id, url, filename, created_at
	`, ownerID, url, filename).Scan(&asset.ID, &asset.OwnerID, &asset.URL, &asset.Filename, &asset.CreatedAt)
	if err != nil {
		return Asset{}, fmt.Errorf("insert asset: %w", err)
	}
	return asset, nil
}

func (s *PostgresStore) ListAssetsForOwner(ctx context.Context, ownerID int64) ([]Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, url, filename, created_at
		FROM assets
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	items := make([]Asset, 0)
	for rows.Next() {
		var asset Asset
		if err := rows.Scan(&asset.ID, &asset.OwnerID, &asset.URL, &asset.Filename, &asset.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		items = append(items, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return items, nil
}

// ---- refresh sessions (Postgres fallback when Redis is not configured) ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.password_hash, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}
