package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"sitesmith/api/internal/auth"
	"sitesmith/api/internal/authpw"
	"sitesmith/api/internal/blob"
	"sitesmith/api/internal/config"
	"sitesmith/api/internal/document"
	"sitesmith/api/internal/search"
	"sitesmith/api/internal/slug"
	"sitesmith/api/internal/store"
	"sitesmith/api/internal/util"
)

// Session is an authenticated caller.
type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	Email        string
	ExpiresAt    time.Time
}

// Store is the relational storage the service depends on.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, email, passwordHash string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)

	CreateProject(ctx context.Context, ownerID int64, name, slugValue, publicID string, data []byte) (store.Project, error)
	GetProjectForOwner(ctx context.Context, projectID, ownerID int64) (store.Project, error)
	ListProjectsForOwner(ctx context.Context, ownerID int64) ([]store.Project, error)
	UpdateProjectDocument(ctx context.Context, projectID, ownerID int64, name, slugValue string, data []byte) (store.Project, error)
	UpdateProjectPublication(ctx context.Context, projectID, ownerID int64, isPublished bool, publicSlug *string, publishedAt *time.Time, data []byte) (store.Project, error)
	DeleteProjectForOwner(ctx context.Context, projectID, ownerID int64) error
	IsPublicSlugTaken(ctx context.Context, publicSlug string, excludingProjectID int64) (bool, error)
	GetPublishedProjectBySlug(ctx context.Context, publicSlug string) (store.Project, error)

	CreateAsset(ctx context.Context, ownerID int64, url, filename string) (store.Asset, error)
	ListAssetsForOwner(ctx context.Context, ownerID int64) ([]store.Asset, error)

	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// SessionStore holds refresh tokens; Redis in production, the relational
// store as fallback.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    Store
	sessions SessionStore
	authpw   *authpw.Service
	blobs    blob.Store
	search   *search.Service
}

// New wires a service that keeps refresh sessions in the relational store.
func New(cfg config.Config, dataStore Store, blobs blob.Store, searchService *search.Service) *Service {
	return NewWithSessionStore(cfg, dataStore, dataStore, blobs, searchService)
}

// NewWithSessionStore wires a service with a dedicated refresh session store.
func NewWithSessionStore(cfg config.Config, dataStore Store, sessions SessionStore, blobs blob.Store, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authpw.NewService(dataStore),
		blobs:    blobs,
		search:   searchService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ---- authentication ----

func (s *Service) Register(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.Register(ctx, email, password)
	if err != nil {
		if errors.Is(err, authpw.ErrEmailTaken) {
			return Session{}, domainError(400, "EMAIL_EXISTS", "Email already registered", nil)
		}
		return Session{}, validationError(err.Error())
	}
	return s.createSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.authpw.Login(ctx, email, password)
	if err != nil {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid credentials", nil)
	}
	return s.createSession(ctx, user)
}

func (s *Service) createSession(ctx context.Context, user store.User) (Session, error) {
	jti := util.HexID()
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, user.Email, jti, s.cfg.AccessTTL)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken := util.HexID() + util.HexID()
	expiresAt := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user.ID, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Email:        user.Email,
		ExpiresAt:    time.Now().Add(s.cfg.AccessTTL),
	}, nil
}

// Refresh rotates a refresh token and issues a new access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, domainError(401, "UNAUTHORIZED", "Refresh token invalid", nil)
	}
	if user.Email == "" {
		user, err = s.store.GetUserByID(ctx, user.ID)
		if err != nil {
			return Session{}, domainError(401, "UNAUTHORIZED", "Refresh token invalid", nil)
		}
	}
	_ = s.sessions.RevokeRefreshSession(ctx, hash)
	return s.createSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// SessionFromToken resolves an access token into a caller identity.
func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.UserID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// ---- projects ----

func (s *Service) CreateProject(ctx context.Context, userID int64, payload any) (map[string]any, error) {
	body, ok := payload.(map[string]any)
	if !ok {
		return nil, validationError("Project payload must be an object")
	}

	var name string
	if raw, present := body["name"]; present && raw != nil && raw != "" {
		validated, err := document.ValidateName(raw)
		if err != nil {
			return nil, mapDocumentError(err)
		}
		name = validated
	} else {
		name = "Untitled Project"
	}
	body["name"] = name

	if raw, present := body["description"]; present && raw != nil {
		validated, err := document.ValidateDescription(raw)
		if err != nil {
			return nil, mapDocumentError(err)
		}
		body["description"] = validated
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal project data: %w", err)
	}

	project, err := s.store.CreateProject(ctx, userID, name, slug.Normalize(name), util.HexID(), data)
	if err != nil {
		return nil, err
	}
	s.indexProject(project)
	return serializeProject(project), nil
}

func (s *Service) GetProject(ctx context.Context, userID, projectID int64) (map[string]any, error) {
	project, err := s.store.GetProjectForOwner(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}
	return serializeProject(project), nil
}

func (s *Service) ListProjects(ctx context.Context, userID int64) ([]map[string]any, error) {
	projects, err := s.store.ListProjectsForOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		summaries = append(summaries, serializeProjectSummary(project))
	}
	return summaries, nil
}

// UpdateProject applies a full document update: shallow merge, optional page
// mutation batch, and metadata write-back, committed as one row update.
func (s *Service) UpdateProject(ctx context.Context, userID, projectID int64, payload any) (map[string]any, error) {
	project, err := s.store.GetProjectForOwner(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}

	existing := document.Coerce(project.Data)
	next, meta, err := document.FullUpdate(existing, payload)
	if err != nil {
		return nil, mapDocumentError(err)
	}

	name, slugValue := project.Name, project.Slug
	if meta.HasName {
		name = meta.Name
		slugValue = slug.Normalize(name)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal project data: %w", err)
	}

	updated, err := s.store.UpdateProjectDocument(ctx, projectID, userID, name, slugValue, data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}
	s.indexProject(updated)
	return serializeProject(updated), nil
}

// UpdateProjectMetadata updates only name/description; name is mandatory.
func (s *Service) UpdateProjectMetadata(ctx context.Context, userID, projectID int64, payload any) (map[string]any, error) {
	project, err := s.store.GetProjectForOwner(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}

	existing := document.Coerce(project.Data)
	next, meta, err := document.MetadataUpdate(existing, payload, true)
	if err != nil {
		return nil, mapDocumentError(err)
	}

	name, slugValue := project.Name, project.Slug
	if meta.HasName {
		name = meta.Name
		slugValue = slug.Normalize(name)
	}

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("marshal project data: %w", err)
	}

	updated, err := s.store.UpdateProjectDocument(ctx, projectID, userID, name, slugValue, data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}
	s.indexProject(updated)
	return serializeProject(updated), nil
}

func (s *Service) DeleteProject(ctx context.Context, userID, projectID int64) (map[string]any, error) {
	if err := s.store.DeleteProjectForOwner(ctx, projectID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteProject(strconv.FormatInt(projectID, 10))
	}
	return map[string]any{"status": "deleted", "id": strconv.FormatInt(projectID, 10)}, nil
}

// ---- publication ----

// PublishProject drives the publish/unpublish state machine. The slug
// availability check is advisory; the unique constraint on public_slug is the
// authoritative guard and its violation surfaces as a conflict.
func (s *Service) PublishProject(ctx context.Context, userID, projectID int64, isPublished bool, requestedSlug string) (map[string]any, error) {
	project, err := s.store.GetProjectForOwner(ctx, projectID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}

	data := document.Coerce(project.Data)
	publicSlug := project.PublicSlug
	publishedAt := project.PublishedAt

	if isPublished {
		if requestedSlug != "" {
			normalized, err := normalizePublicSlug(requestedSlug)
			if err != nil {
				return nil, err
			}
			available, err := s.isPublicSlugAvailable(ctx, normalized, projectID)
			if err != nil {
				return nil, err
			}
			if !available {
				return nil, conflictError("Public slug already in use")
			}
			publicSlug = &normalized
		}
		if publicSlug == nil || *publicSlug == "" {
			generated, err := s.buildPublicSlug(ctx, project)
			if err != nil {
				return nil, err
			}
			publicSlug = &generated
		}
		// First publish stamps the timestamp; re-publishing never moves it.
		if publishedAt == nil {
			now := time.Now().UTC()
			publishedAt = &now
		}
	} else {
		publishedAt = nil
	}

	if publicSlug != nil && *publicSlug != "" {
		data["publicSlug"] = *publicSlug
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal project data: %w", err)
	}

	updated, err := s.store.UpdateProjectPublication(ctx, projectID, userID, isPublished, publicSlug, publishedAt, payload)
	if err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			return nil, conflictError("Public slug already in use")
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}
	s.indexProject(updated)
	return serializeProject(updated), nil
}

// ValidatePublicSlug reports whether the normalized slug is free for this
// project to claim.
func (s *Service) ValidatePublicSlug(ctx context.Context, userID, projectID int64, rawSlug string) (map[string]any, error) {
	if _, err := s.store.GetProjectForOwner(ctx, projectID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}

	normalized, err := normalizePublicSlug(rawSlug)
	if err != nil {
		return nil, err
	}
	available, err := s.isPublicSlugAvailable(ctx, normalized, projectID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"slug": normalized, "available": available}, nil
}

// ResolvePublicProject looks up a published project by public slug. Reserved
// platform segments never resolve.
func (s *Service) ResolvePublicProject(ctx context.Context, publicSlug string) (map[string]any, error) {
	if slug.Reserved(publicSlug) {
		return nil, notFoundError("Project not found")
	}
	project, err := s.store.GetPublishedProjectBySlug(ctx, publicSlug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}
	return serializeProject(project), nil
}

func normalizePublicSlug(value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", validationError("Public slug is required")
	}
	return slug.Normalize(value), nil
}

func (s *Service) isPublicSlugAvailable(ctx context.Context, candidate string, projectID int64) (bool, error) {
	if slug.Reserved(candidate) {
		return false, nil
	}
	taken, err := s.store.IsPublicSlugTaken(ctx, candidate, projectID)
	if err != nil {
		return false, err
	}
	return !taken, nil
}

// buildPublicSlug derives a free public slug from the project's slug (or its
// name when the slug is blank), suffixing -2, -3, ... until unclaimed.
func (s *Service) buildPublicSlug(ctx context.Context, project store.Project) (string, error) {
	base := project.Slug
	if base == "" {
		base = slug.Normalize(project.Name)
	}
	candidate := base
	suffix := 1
	for {
		available, err := s.isPublicSlugAvailable(ctx, candidate, project.ID)
		if err != nil {
			return "", err
		}
		if available {
			return candidate, nil
		}
		suffix++
		candidate = fmt.Sprintf("%s-%d", base, suffix)
	}
}

// ---- assets ----

// UploadAsset streams asset bytes to the blob store under a collision-free
// name and records the row. Content type and size are deliberately not
// validated.
func (s *Service) UploadAsset(ctx context.Context, userID int64, filename string, r io.Reader, size int64, contentType string) (map[string]any, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, validationError("Filename is required")
	}

	storedName := util.HexID() + filepath.Ext(filename)
	url, err := s.blobs.Put(ctx, storedName, r, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("store asset: %w", err)
	}

	asset, err := s.store.CreateAsset(ctx, userID, url, filename)
	if err != nil {
		return nil, err
	}
	return serializeAsset(asset), nil
}

func (s *Service) ListAssets(ctx context.Context, userID int64) ([]map[string]any, error) {
	assets, err := s.store.ListAssetsForOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(assets))
	for _, asset := range assets {
		items = append(items, serializeAsset(asset))
	}
	return items, nil
}

// ---- search ----

func (s *Service) SearchProjects(_ context.Context, userID int64, text string, limit int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(search.Query{OwnerID: userID, Text: text, Limit: limit})
}

func (s *Service) indexProject(project store.Project) {
	if s.search == nil {
		return
	}
	data := document.Coerce(project.Data)
	description, _ := data.String("description")
	s.search.IndexProject(search.Record{
		ID:          strconv.FormatInt(project.ID, 10),
		OwnerID:     project.OwnerID,
		Name:        project.Name,
		Description: description,
		Slug:        project.Slug,
	})
}

// ---- serialization ----

func serializeProject(project store.Project) map[string]any {
	data := document.Coerce(project.Data)
	response := make(map[string]any, len(data)+6)
	for key, value := range data {
		response[key] = value
	}
	response["id"] = strconv.FormatInt(project.ID, 10)
	response["name"] = project.Name
	response["slug"] = project.Slug
	response["publicSlug"] = optionalString(project.PublicSlug)
	response["isPublished"] = project.IsPublished
	response["publishedAt"] = optionalTime(project.PublishedAt)
	return response
}

func serializeProjectSummary(project store.Project) map[string]any {
	data := document.Coerce(project.Data)
	return map[string]any{
		"id":          strconv.FormatInt(project.ID, 10),
		"name":        project.Name,
		"slug":        project.Slug,
		"publicId":    project.PublicID,
		"publicSlug":  optionalString(project.PublicSlug),
		"isPublished": project.IsPublished,
		"publishedAt": optionalTime(project.PublishedAt),
		"updatedAt":   data.Value("updatedAt"),
	}
}

func serializeAsset(asset store.Asset) map[string]any {
	return map[string]any{
		"id":        strconv.FormatInt(asset.ID, 10),
		"url":       asset.URL,
		"filename":  asset.Filename,
		"createdAt": asset.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func optionalString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func optionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339)
}

func mapDocumentError(err error) error {
	var verr *document.ValidationError
	if errors.As(err, &verr) {
		return validationError(verr.Error())
	}
	var nferr *document.NotFoundError
	if errors.As(err, &nferr) {
		return notFoundError(nferr.Error())
	}
	return err
}
