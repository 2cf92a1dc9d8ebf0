package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesmith/api/internal/config"
	"sitesmith/api/internal/store"
)

type fakeStore struct {
	pingFn func(ctx context.Context) error

	createUserFn     func(ctx context.Context, email, passwordHash string) (store.User, error)
	getUserByEmailFn func(ctx context.Context, email string) (store.User, error)
	getUserByIDFn    func(ctx context.Context, userID int64) (store.User, error)

	createProjectFn            func(ctx context.Context, ownerID int64, name, slug, publicID string, data []byte) (store.Project, error)
	getProjectForOwnerFn       func(ctx context.Context, projectID, ownerID int64) (store.Project, error)
	listProjectsForOwnerFn     func(ctx context.Context, ownerID int64) ([]store.Project, error)
	updateProjectDocumentFn    func(ctx context.Context, projectID, ownerID int64, name, slug string, data []byte) (store.Project, error)
	updateProjectPublicationFn func(ctx context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (store.Project, error)
	deleteProjectForOwnerFn    func(ctx context.Context, projectID, ownerID int64) error
	isPublicSlugTakenFn        func(ctx context.Context, publicSlug string, excludingProjectID int64) (bool, error)
	getPublishedBySlugFn       func(ctx context.Context, publicSlug string) (store.Project, error)

	createAssetFn        func(ctx context.Context, ownerID int64, url, filename string) (store.Asset, error)
	listAssetsForOwnerFn func(ctx context.Context, ownerID int64) ([]store.Asset, error)

	saveRefreshFn   func(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	lookupRefreshFn func(ctx context.Context, tokenHash string) (store.User, error)
	revokeRefreshFn func(ctx context.Context, tokenHash string) error
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) CreateUser(ctx context.Context, email, passwordHash string) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, email, passwordHash)
	}
	return store.User{ID: 1, Email: email, PasswordHash: passwordHash}, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Email: "owner@example.com"}, nil
}

func (f *fakeStore) CreateProject(ctx context.Context, ownerID int64, name, slug, publicID string, data []byte) (store.Project, error) {
	if f.createProjectFn != nil {
		return f.createProjectFn(ctx, ownerID, name, slug, publicID, data)
	}
	return store.Project{ID: 1, OwnerID: ownerID, Name: name, Slug: slug, PublicID: publicID, Data: data}, nil
}

func (f *fakeStore) GetProjectForOwner(ctx context.Context, projectID, ownerID int64) (store.Project, error) {
	if f.getProjectForOwnerFn != nil {
		return f.getProjectForOwnerFn(ctx, projectID, ownerID)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) ListProjectsForOwner(ctx context.Context, ownerID int64) ([]store.Project, error) {
	if f.listProjectsForOwnerFn != nil {
		return f.listProjectsForOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (f *fakeStore) UpdateProjectDocument(ctx context.Context, projectID, ownerID int64, name, slug string, data []byte) (store.Project, error) {
	if f.updateProjectDocumentFn != nil {
		return f.updateProjectDocumentFn(ctx, projectID, ownerID, name, slug, data)
	}
	return store.Project{ID: projectID, OwnerID: ownerID, Name: name, Slug: slug, Data: data}, nil
}

func (f *fakeStore) UpdateProjectPublication(ctx context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (store.Project, error) {
	if f.updateProjectPublicationFn != nil {
		return f.updateProjectPublicationFn(ctx, projectID, ownerID, isPublished, publicSlug, publishedAt, data)
	}
	return store.Project{
		ID: projectID, OwnerID: ownerID, IsPublished: isPublished,
		PublicSlug: publicSlug, PublishedAt: publishedAt, Data: data,
	}, nil
}

func (f *fakeStore) DeleteProjectForOwner(ctx context.Context, projectID, ownerID int64) error {
	if f.deleteProjectForOwnerFn != nil {
		return f.deleteProjectForOwnerFn(ctx, projectID, ownerID)
	}
	return nil
}

func (f *fakeStore) IsPublicSlugTaken(ctx context.Context, publicSlug string, excludingProjectID int64) (bool, error) {
	if f.isPublicSlugTakenFn != nil {
		return f.isPublicSlugTakenFn(ctx, publicSlug, excludingProjectID)
	}
	return false, nil
}

func (f *fakeStore) GetPublishedProjectBySlug(ctx context.Context, publicSlug string) (store.Project, error) {
	if f.getPublishedBySlugFn != nil {
		return f.getPublishedBySlugFn(ctx, publicSlug)
	}
	return store.Project{}, sql.ErrNoRows
}

func (f *fakeStore) CreateAsset(ctx context.Context, ownerID int64, url, filename string) (store.Asset, error) {
	if f.createAssetFn != nil {
		return f.createAssetFn(ctx, ownerID, url, filename)
	}
	return store.Asset{ID: 1, OwnerID: ownerID, URL: url, Filename: filename, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) ListAssetsForOwner(ctx context.Context, ownerID int64) ([]store.Asset, error) {
	if f.listAssetsForOwnerFn != nil {
		return f.listAssetsForOwnerFn(ctx, ownerID)
	}
	return nil, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	return nil
}

type fakeBlob struct {
	putFn func(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error)
}

func (f *fakeBlob) Put(ctx context.Context, name string, r io.Reader, size int64, contentType string) (string, error) {
	if f.putFn != nil {
		return f.putFn(ctx, name, r, size, contentType)
	}
	return "/uploads/" + name, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}
}

func newTestService(fs *fakeStore) *Service {
	return New(testConfig(), fs, &fakeBlob{}, nil)
}

func projectWithData(id int64, name, slug string, data string) store.Project {
	return store.Project{ID: id, OwnerID: 1, Name: name, Slug: slug, PublicID: "pub1", Data: []byte(data)}
}

func TestCreateProjectDefaults(t *testing.T) {
	svc := newTestService(&fakeStore{})

	payload, err := svc.CreateProject(context.Background(), 1, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Untitled Project", payload["name"])
	assert.Equal(t, "untitled-project", payload["slug"])
	assert.Equal(t, "1", payload["id"])
	assert.Equal(t, false, payload["isPublished"])
	assert.Nil(t, payload["publishedAt"])
}

func TestCreateProjectNormalizesName(t *testing.T) {
	svc := newTestService(&fakeStore{})

	payload, err := svc.CreateProject(context.Background(), 1, map[string]any{"name": " My Site! "})
	require.NoError(t, err)
	assert.Equal(t, "My Site!", payload["name"])
	assert.Equal(t, "my-site", payload["slug"])
}

func TestCreateProjectRejectsNonObject(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateProject(context.Background(), 1, []any{"nope"})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 400, domainErr.Status)
	assert.Equal(t, "Project payload must be an object", domainErr.Message)
}

func TestGetProjectHidesForeignProjects(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			if ownerID == 1 {
				return projectWithData(projectID, "Mine", "mine", `{}`), nil
			}
			return store.Project{}, sql.ErrNoRows
		},
	}
	svc := newTestService(fs)

	_, err := svc.GetProject(context.Background(), 1, 7)
	require.NoError(t, err)

	_, err = svc.GetProject(context.Background(), 2, 7)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 404, domainErr.Status)
	assert.Equal(t, "Project not found", domainErr.Message)
}

func TestUpdateProjectAppliesPageMutations(t *testing.T) {
	var savedData []byte
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "Site", "site", `{"pages":[]}`), nil
		},
		updateProjectDocumentFn: func(_ context.Context, projectID, ownerID int64, name, slug string, data []byte) (store.Project, error) {
			savedData = data
			return store.Project{ID: projectID, OwnerID: ownerID, Name: name, Slug: slug, Data: data}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.UpdateProject(context.Background(), 1, 7, map[string]any{
		"pageMutations": []any{
			map[string]any{"action": "create", "title": "Home", "path": "/home"},
		},
	})
	require.NoError(t, err)

	var persisted map[string]any
	require.NoError(t, json.Unmarshal(savedData, &persisted))
	_, hasMutations := persisted["pageMutations"]
	assert.False(t, hasMutations, "mutation batch must not be persisted")

	pages, ok := persisted["pages"].([]any)
	require.True(t, ok)
	require.Len(t, pages, 1)
	page := pages[0].(map[string]any)
	assert.Equal(t, "Home", page["title"])
	assert.Equal(t, "/home", page["path"])

	assert.Equal(t, "7", payload["id"])
}

func TestUpdateProjectRenameRecomputesSlug(t *testing.T) {
	var savedName, savedSlug string
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "Old Name", "old-name", `{"name":"Old Name"}`), nil
		},
		updateProjectDocumentFn: func(_ context.Context, projectID, ownerID int64, name, slug string, data []byte) (store.Project, error) {
			savedName, savedSlug = name, slug
			return store.Project{ID: projectID, OwnerID: ownerID, Name: name, Slug: slug, Data: data}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateProject(context.Background(), 1, 7, map[string]any{"name": "Fresh Start"})
	require.NoError(t, err)
	assert.Equal(t, "Fresh Start", savedName)
	assert.Equal(t, "fresh-start", savedSlug)
}

func TestUpdateProjectMetadataRequiresName(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "Site", "site", `{}`), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateProjectMetadata(context.Background(), 1, 7, map[string]any{"description": "only"})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Project name is required", domainErr.Message)
}

func TestPublishAssignsSlugAndTimestamp(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "My Site", "my-site", `{}`), nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.PublishProject(context.Background(), 1, 7, true, "")
	require.NoError(t, err)
	assert.Equal(t, "my-site", payload["publicSlug"])
	assert.Equal(t, true, payload["isPublished"])
	assert.NotNil(t, payload["publishedAt"])
}

func TestPublishGeneratedSlugSkipsTaken(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "My Site", "my-site", `{}`), nil
		},
		isPublicSlugTakenFn: func(_ context.Context, publicSlug string, _ int64) (bool, error) {
			return publicSlug == "my-site", nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.PublishProject(context.Background(), 1, 7, true, "")
	require.NoError(t, err)
	assert.Equal(t, "my-site-2", payload["publicSlug"])
}

func TestPublishRequestedSlugConflict(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "My Site", "my-site", `{}`), nil
		},
		isPublicSlugTakenFn: func(_ context.Context, publicSlug string, _ int64) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishProject(context.Background(), 1, 7, true, "taken-slug")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 409, domainErr.Status)
	assert.Equal(t, "Public slug already in use", domainErr.Message)
}

func TestPublishReservedSlugIsUnavailable(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "My Site", "my-site", `{}`), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishProject(context.Background(), 1, 7, true, "assets")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 409, domainErr.Status)
}

func TestRepublishKeepsOriginalTimestamp(t *testing.T) {
	firstPublished := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	slug := "my-site"
	var savedPublishedAt *time.Time
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			p := projectWithData(projectID, "My Site", "my-site", `{}`)
			p.IsPublished = true
			p.PublicSlug = &slug
			p.PublishedAt = &firstPublished
			return p, nil
		},
		updateProjectPublicationFn: func(_ context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (store.Project, error) {
			savedPublishedAt = publishedAt
			return store.Project{ID: projectID, OwnerID: ownerID, IsPublished: isPublished, PublicSlug: publicSlug, PublishedAt: publishedAt, Data: data}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishProject(context.Background(), 1, 7, true, "")
	require.NoError(t, err)
	require.NotNil(t, savedPublishedAt)
	assert.True(t, savedPublishedAt.Equal(firstPublished))
}

func TestUnpublishRetainsSlugClearsTimestamp(t *testing.T) {
	published := time.Now().UTC()
	slug := "my-site"
	var savedSlug *string
	var savedPublishedAt *time.Time
	var savedData []byte
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			p := projectWithData(projectID, "My Site", "my-site", `{}`)
			p.IsPublished = true
			p.PublicSlug = &slug
			p.PublishedAt = &published
			return p, nil
		},
		updateProjectPublicationFn: func(_ context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (store.Project, error) {
			savedSlug, savedPublishedAt, savedData = publicSlug, publishedAt, data
			return store.Project{ID: projectID, OwnerID: ownerID, IsPublished: isPublished, PublicSlug: publicSlug, PublishedAt: publishedAt, Data: data}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishProject(context.Background(), 1, 7, false, "")
	require.NoError(t, err)
	require.NotNil(t, savedSlug)
	assert.Equal(t, "my-site", *savedSlug)
	assert.Nil(t, savedPublishedAt)

	var persisted map[string]any
	require.NoError(t, json.Unmarshal(savedData, &persisted))
	assert.Equal(t, "my-site", persisted["publicSlug"])
}

func TestPublishUniqueViolationMapsToConflict(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "My Site", "my-site", `{}`), nil
		},
		updateProjectPublicationFn: func(_ context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (store.Project, error) {
			return store.Project{}, store.ErrUniqueViolation
		},
	}
	svc := newTestService(fs)

	_, err := svc.PublishProject(context.Background(), 1, 7, true, "")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 409, domainErr.Status)
	assert.Equal(t, "Public slug already in use", domainErr.Message)
}

func TestValidatePublicSlug(t *testing.T) {
	fs := &fakeStore{
		getProjectForOwnerFn: func(_ context.Context, projectID, ownerID int64) (store.Project, error) {
			return projectWithData(projectID, "My Site", "my-site", `{}`), nil
		},
		isPublicSlugTakenFn: func(_ context.Context, publicSlug string, _ int64) (bool, error) {
			return publicSlug == "claimed", nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.ValidatePublicSlug(context.Background(), 1, 7, "My Candidate")
	require.NoError(t, err)
	assert.Equal(t, "my-candidate", payload["slug"])
	assert.Equal(t, true, payload["available"])

	payload, err = svc.ValidatePublicSlug(context.Background(), 1, 7, "claimed")
	require.NoError(t, err)
	assert.Equal(t, false, payload["available"])

	_, err = svc.ValidatePublicSlug(context.Background(), 1, 7, "   ")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Public slug is required", domainErr.Message)
}

func TestResolvePublicProjectReservedIsHidden(t *testing.T) {
	fs := &fakeStore{
		getPublishedBySlugFn: func(_ context.Context, publicSlug string) (store.Project, error) {
			return projectWithData(1, "My Site", "my-site", `{}`), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.ResolvePublicProject(context.Background(), "uploads")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 404, domainErr.Status)

	payload, err := svc.ResolvePublicProject(context.Background(), "my-site")
	require.NoError(t, err)
	assert.Equal(t, "My Site", payload["name"])
}

func TestUploadAssetRequiresFilename(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.UploadAsset(context.Background(), 1, "   ", strings.NewReader("x"), 1, "text/plain")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "Filename is required", domainErr.Message)
}

func TestUploadAssetStoresUnderOpaqueName(t *testing.T) {
	var storedName string
	fs := &fakeStore{}
	blob := &fakeBlob{
		putFn: func(_ context.Context, name string, r io.Reader, _ int64, _ string) (string, error) {
			storedName = name
			return "/uploads/" + name, nil
		},
	}
	svc := New(testConfig(), fs, blob, nil)

	payload, err := svc.UploadAsset(context.Background(), 1, "photo.png", strings.NewReader("bytes"), 5, "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(storedName, ".png"))
	assert.NotEqual(t, "photo.png", storedName)
	assert.Equal(t, "photo.png", payload["filename"])
	assert.Equal(t, "/uploads/"+storedName, payload["url"])
}

func TestRegisterDuplicateEmail(t *testing.T) {
	fs := &fakeStore{
		getUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			return store.User{ID: 1, Email: email}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.Register(context.Background(), "owner@example.com", "password123")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "EMAIL_EXISTS", domainErr.Code)
}

func TestRefreshRotatesToken(t *testing.T) {
	var savedHashes []string
	var revokedHash string
	fs := &fakeStore{
		lookupRefreshFn: func(_ context.Context, tokenHash string) (store.User, error) {
			return store.User{ID: 3, Email: "owner@example.com"}, nil
		},
		saveRefreshFn: func(_ context.Context, tokenHash string, userID int64, _ time.Time) error {
			savedHashes = append(savedHashes, tokenHash)
			return nil
		},
		revokeRefreshFn: func(_ context.Context, tokenHash string) error {
			revokedHash = tokenHash
			return nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Refresh(context.Background(), "old-refresh-token")
	require.NoError(t, err)
	assert.Equal(t, int64(3), session.UserID)
	assert.NotEmpty(t, session.Token)
	assert.NotEmpty(t, session.RefreshToken)
	require.Len(t, savedHashes, 1)
	assert.NotEqual(t, savedHashes[0], revokedHash)
}

func TestRefreshInvalidToken(t *testing.T) {
	fs := &fakeStore{
		lookupRefreshFn: func(_ context.Context, tokenHash string) (store.User, error) {
			return store.User{}, errors.New("not found")
		},
	}
	svc := newTestService(fs)

	_, err := svc.Refresh(context.Background(), "bogus")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, 401, domainErr.Status)
}
