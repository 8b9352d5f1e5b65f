package models

import (
	"encoding/json"
	"time"
)

// User is a local account. The external subject id comes from the identity
// provider and never changes; the role is local and never read from tokens.
type User struct {
	ID                string    `json:"id"`
	ExternalSubjectID string    `json:"external_subject_id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Role              string    `json:"role"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type Page struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	Content         string     `json:"content"`
	MetaDescription *string    `json:"meta_description,omitempty"`
	ParentID        *string    `json:"parent_id,omitempty"`
	AuthorID        string     `json:"author_id"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
}

type Article struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Content       string     `json:"content"`
	Excerpt       *string    `json:"excerpt,omitempty"`
	FeaturedImage *string    `json:"featured_image,omitempty"`
	AuthorID      string     `json:"author_id"`
	CategoryID    *string    `json:"category_id,omitempty"`
	Tags          []string   `json:"tags"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
}

type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description *string   `json:"description,omitempty"`
	ParentID    *string   `json:"parent_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type MediaFile struct {
	ID               string    `json:"id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	FileType         string    `json:"file_type"`
	FileSize         int64     `json:"file_size"`
	URL              string    `json:"url"`
	UploadedBy       string    `json:"uploaded_by"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// ToolCall is the dispatch request: a tool name plus free-form arguments.
// Never persisted.
type ToolCall struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ToolResponse carries tool outcomes in-band. The dispatch endpoint returns
// it with HTTP 200 whether or not the tool succeeded; only failures of the
// dispatch mechanism itself surface as transport errors.
type ToolResponse struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// DashboardStats aggregates entity counts by kind and status.
type DashboardStats struct {
	TotalPages        int64 `json:"total_pages"`
	TotalArticles     int64 `json:"total_articles"`
	TotalUsers        int64 `json:"total_users"`
	PublishedPages    int64 `json:"published_pages"`
	PublishedArticles int64 `json:"published_articles"`
	DraftPages        int64 `json:"draft_pages"`
	DraftArticles     int64 `json:"draft_articles"`
	ArchivedPages     int64 `json:"archived_pages"`
	ArchivedArticles  int64 `json:"archived_articles"`
}
