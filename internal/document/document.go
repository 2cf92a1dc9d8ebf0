// Package document owns the JSON document model for a project: coercion of
// stored values, shallow merge updates, metadata validation, and ordered page
// mutations.
package document

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"sitesmith/api/internal/util"
)

const (
	MaxNameLength        = 80
	MaxDescriptionLength = 280
)

// Data is a project document. It is always interpretable as a JSON object;
// anything else stored in the data column degrades to an empty document.
type Data map[string]any

// Coerce parses a stored data value. Malformed JSON, non-object values, and
// doubly-encoded JSON text all degrade to an empty document rather than fail.
func Coerce(raw []byte) Data {
	if len(raw) == 0 {
		return Data{}
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return Data{}
	}
	switch v := value.(type) {
	case map[string]any:
		return Data(v)
	case string:
		var nested any
		if err := json.Unmarshal([]byte(v), &nested); err != nil {
			return Data{}
		}
		if obj, ok := nested.(map[string]any); ok {
			return Data(obj)
		}
	}
	return Data{}
}

// String returns the string value stored under key.
func (d Data) String(key string) (string, bool) {
	v, ok := d[key].(string)
	return v, ok
}

// List returns the list value stored under key.
func (d Data) List(key string) ([]any, bool) {
	v, ok := d[key].([]any)
	return v, ok
}

// Value returns the raw value stored under key.
func (d Data) Value(key string) any {
	return d[key]
}

func (d Data) clone() Data {
	next := make(Data, len(d))
	for k, v := range d {
		next[k] = v
	}
	return next
}

// MetadataResult carries the validated name/description extracted from a
// payload, for denormalizing onto the project row.
type MetadataResult struct {
	Name           string
	HasName        bool
	Description    string
	HasDescription bool
}

// ValidateName checks a project name: string, trimmed, non-empty, bounded.
func ValidateName(value any) (string, error) {
	name, ok := value.(string)
	if !ok {
		return "", validationErr("Project name must be a string")
	}
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return "", validationErr("Project name is required")
	}
	if utf8.RuneCountInString(normalized) > MaxNameLength {
		return "", validationErr("Project name must be %d characters or fewer", MaxNameLength)
	}
	return normalized, nil
}

// ValidateDescription checks a project description: string, trimmed, bounded.
// Empty is allowed.
func ValidateDescription(value any) (string, error) {
	description, ok := value.(string)
	if !ok {
		return "", validationErr("Project description must be a string")
	}
	normalized := strings.TrimSpace(description)
	if utf8.RuneCountInString(normalized) > MaxDescriptionLength {
		return "", validationErr("Project description must be %d characters or fewer", MaxDescriptionLength)
	}
	return normalized, nil
}

// ApplyMetadata validates name/description and writes them into d. A JSON
// null is treated the same as an absent key. With requireName set, a missing
// name is an error.
func ApplyMetadata(d Data, name, description any, requireName bool) (MetadataResult, error) {
	var result MetadataResult
	if name != nil {
		validated, err := ValidateName(name)
		if err != nil {
			return MetadataResult{}, err
		}
		d["name"] = validated
		result.Name = validated
		result.HasName = true
	} else if requireName {
		return MetadataResult{}, validationErr("Project name is required")
	}
	if description != nil {
		validated, err := ValidateDescription(description)
		if err != nil {
			return MetadataResult{}, err
		}
		d["description"] = validated
		result.Description = validated
		result.HasDescription = true
	}
	return result, nil
}

// FullUpdate applies a client payload to existing document data under
// partial-update semantics: a shallow merge where every top-level payload key
// overwrites the same key, pageMutations is consumed as instructions rather
// than stored, and name/description are validated before being written back.
// Any failure rejects the whole update; existing is never mutated.
func FullUpdate(existing Data, payload any) (Data, MetadataResult, error) {
	body, ok := payload.(map[string]any)
	if !ok {
		return nil, MetadataResult{}, validationErr("Project payload must be an object")
	}

	next := existing.clone()

	mutations, hasMutations := body["pageMutations"]
	incomingPages, hasPages := body["pages"]
	if hasPages && incomingPages != nil {
		if _, isList := incomingPages.([]any); !isList {
			return nil, MetadataResult{}, validationErr("Pages must be a list")
		}
	}

	for key, value := range body {
		if key == "pageMutations" {
			continue
		}
		next[key] = value
	}

	if hasMutations && mutations != nil {
		pages, err := ApplyPageMutations(next, mutations)
		if err != nil {
			return nil, MetadataResult{}, err
		}
		next["pages"] = pages
	}

	meta, err := ApplyMetadata(next, body["name"], body["description"], false)
	if err != nil {
		return nil, MetadataResult{}, err
	}
	return next, meta, nil
}

// MetadataUpdate applies only the name/description portion of a payload.
func MetadataUpdate(existing Data, payload any, requireName bool) (Data, MetadataResult, error) {
	body, ok := payload.(map[string]any)
	if !ok {
		return nil, MetadataResult{}, validationErr("Metadata payload must be an object")
	}
	next := existing.clone()
	meta, err := ApplyMetadata(next, body["name"], body["description"], requireName)
	if err != nil {
		return nil, MetadataResult{}, err
	}
	return next, meta, nil
}

// ApplyPageMutations applies an ordered batch of create/update/delete
// mutations against a working copy of d's pages. The batch is all-or-nothing:
// the first failure aborts and d is left untouched.
func ApplyPageMutations(d Data, mutations any) ([]any, error) {
	batch, ok := mutations.([]any)
	if !ok {
		return nil, validationErr("Page mutations must be a list")
	}

	existing, _ := d.List("pages")
	pages := make([]any, 0, len(existing)+len(batch))
	for _, entry := range existing {
		if page, isObject := entry.(map[string]any); isObject {
			pages = append(pages, clonePage(page))
		}
	}

	for _, raw := range batch {
		mutation, isObject := raw.(map[string]any)
		if !isObject {
			return nil, validationErr("Each page mutation must be an object")
		}
		action, _ := mutation["action"].(string)
		switch action {
		case "create":
			created, err := buildPage(mutation)
			if err != nil {
				return nil, err
			}
			pages = append(pages, created)
		case "update":
			pageID, ok := mutation["id"].(string)
			if !ok || pageID == "" {
				return nil, validationErr("Page id is required for updates")
			}
			matched := false
			for i, entry := range pages {
				page := entry.(map[string]any)
				if page["id"] != pageID {
					continue
				}
				updated, err := updatePage(page, mutation)
				if err != nil {
					return nil, err
				}
				pages[i] = updated
				matched = true
			}
			if !matched {
				return nil, notFoundErr("Page not found")
			}
		case "delete":
			pageID, ok := mutation["id"].(string)
			if !ok || pageID == "" {
				return nil, validationErr("Page id is required for deletion")
			}
			remaining := pages[:0:0]
			for _, entry := range pages {
				if entry.(map[string]any)["id"] != pageID {
					remaining = append(remaining, entry)
				}
			}
			if len(remaining) == len(pages) {
				return nil, notFoundErr("Page not found")
			}
			pages = remaining
		default:
			return nil, validationErr("Invalid page mutation action")
		}
	}
	return pages, nil
}

func buildPage(mutation map[string]any) (map[string]any, error) {
	title, ok := mutation["title"].(string)
	if !ok || strings.TrimSpace(title) == "" {
		return nil, validationErr("Page title is required")
	}
	path, ok := mutation["path"].(string)
	if !ok || strings.TrimSpace(path) == "" {
		return nil, validationErr("Page path is required")
	}

	var pageID string
	if raw, present := mutation["id"]; present && raw != nil {
		pageID, ok = raw.(string)
		if !ok {
			return nil, validationErr("Page id must be a string")
		}
	} else {
		pageID = util.PageID()
	}

	nodes := []any{}
	if raw, present := mutation["nodes"]; present && raw != nil {
		nodes, ok = raw.([]any)
		if !ok {
			return nil, validationErr("Page nodes must be a list")
		}
	}

	return map[string]any{
		"id":    pageID,
		"title": strings.TrimSpace(title),
		"path":  strings.TrimSpace(path),
		"nodes": nodes,
	}, nil
}

func updatePage(page, mutation map[string]any) (map[string]any, error) {
	updated := clonePage(page)
	if raw, present := mutation["title"]; present {
		title, ok := raw.(string)
		if !ok || strings.TrimSpace(title) == "" {
			return nil, validationErr("Page title is required")
		}
		updated["title"] = strings.TrimSpace(title)
	}
	if raw, present := mutation["path"]; present {
		path, ok := raw.(string)
		if !ok || strings.TrimSpace(path) == "" {
			return nil, validationErr("Page path is required")
		}
		updated["path"] = strings.TrimSpace(path)
	}
	if raw, present := mutation["nodes"]; present {
		nodes, ok := raw.([]any)
		if !ok {
			return nil, validationErr("Page nodes must be a list")
		}
		updated["nodes"] = nodes
	}
	return updated, nil
}

func clonePage(page map[string]any) map[string]any {
	copied := make(map[string]any, len(page))
	for k, v := range page {
		copied[k] = v
	}
	return copied
}
