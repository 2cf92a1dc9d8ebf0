package store

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func projectRows(id, ownerID int64, name, slug string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "name", "slug", "public_id", "public_slug", "is_published", "published_at", "data",
	}).AddRow(id, ownerID, name, slug, "abc123", nil, false, nil, []byte(`{}`))
}

func TestGetProjectForOwnerScopesByOwner(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND owner_id = $2`)).
		WithArgs(int64(7), int64(1)).
		WillReturnRows(projectRows(7, 1, "My Site!", "my-site"))

	project, err := s.GetProjectForOwner(context.Background(), 7, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), project.ID)
	assert.Equal(t, "my-site", project.Slug)

	// A different owner sees no rows, indistinguishable from absence.
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE id = $1 AND owner_id = $2`)).
		WithArgs(int64(7), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = s.GetProjectForOwner(context.Background(), 7, 2)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProjectPublicationUniqueViolation(t *testing.T) {
	s, mock := newMockStore(t)

	slug := "my-site"
	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE projects`)).
		WithArgs(int64(7), int64(1), true, slug, now, []byte(`{}`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "projects_public_slug_key"})

	_, err := s.UpdateProjectPublication(context.Background(), 7, 1, true, &slug, &now, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsPublicSlugTaken(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM projects WHERE public_slug = $1 AND id <> $2)`)).
		WithArgs("my-site", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	taken, err := s.IsPublicSlugTaken(context.Background(), "my-site", 7)
	require.NoError(t, err)
	assert.True(t, taken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProjectForOwnerMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM projects WHERE id = $1 AND owner_id = $2`)).
		WithArgs(int64(9), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteProjectForOwner(context.Background(), 9, 1)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListProjectsForOwner(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "name", "slug", "public_id", "public_slug", "is_published", "published_at", "data",
	}).
		AddRow(5, 1, "Second", "second", "p2", nil, false, nil, []byte(`{}`)).
		AddRow(3, 1, "First", "first", "p1", "first", true, time.Now(), []byte(`{"updatedAt":"x"}`))

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY id DESC`)).
		WithArgs(int64(1)).
		WillReturnRows(rows)

	items, err := s.ListProjectsForOwner(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(5), items[0].ID)
	assert.Equal(t, "first", *items[1].PublicSlug)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO users`)).
		WithArgs("owner@example.com", "hash").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	_, err := s.CreateUser(context.Background(), "owner@example.com", "hash")
	assert.ErrorIs(t, err, ErrUniqueViolation)
	assert.NoError(t, mock.ExpectationsWereMet())
}
