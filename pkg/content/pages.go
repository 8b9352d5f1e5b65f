package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcpcms/pkg/models"

	"github.com/google/uuid"
)

type PageInput struct {
	Title           string  `json:"title"`
	Slug            string  `json:"slug"`
	Content         string  `json:"content"`
	MetaDescription *string `json:"meta_description"`
	ParentID        *string `json:"parent_id"`
	Status          string  `json:"status"`
}

// PagePatch is a partial update; nil fields are untouched. When Title is set
// without Slug, the slug is recomputed from the new title.
type PagePatch struct {
	Title           *string `json:"title"`
	Slug            *string `json:"slug"`
	Content         *string `json:"content"`
	MetaDescription *string `json:"meta_description"`
	ParentID        *string `json:"parent_id"`
	Status          *string `json:"status"`
}

const pageColumns = `id, title, slug, content, meta_description, parent_id, author_id, status, created_at, updated_at, published_at`

func (s *Store) CreatePage(ctx context.Context, in PageInput, authorID string) (models.Page, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Page{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Slug == "" {
		in.Slug = Slugify(in.Title)
	}
	if in.Status == "" {
		in.Status = models.StatusDraft
	}
	if !validStatus(in.Status) {
		return models.Page{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	now := time.Now().UTC()
	p := models.Page{
		ID:              uuid.New().String(),
		Title:           in.Title,
		Slug:            in.Slug,
		Content:         in.Content,
		MetaDescription: in.MetaDescription,
		ParentID:        in.ParentID,
		AuthorID:        authorID,
		Status:          in.Status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Status == models.StatusPublished {
		p.PublishedAt = &now
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO pages (id, title, slug, content, meta_description, parent_id, author_id, status, created_at, updated_at, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, p.ID, p.Title, p.Slug, p.Content, p.MetaDescription, p.ParentID, p.AuthorID, p.Status, p.CreatedAt, p.UpdatedAt, p.PublishedAt)
	if err != nil {
		return models.Page{}, err
	}
	return p, nil
}

func (s *Store) GetPage(ctx context.Context, id string) (models.Page, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+pageColumns+` FROM pages WHERE id=$1`, id)
	var p models.Page
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &p.MetaDescription, &p.ParentID, &p.AuthorID, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.PublishedAt)
	if noRows(err) {
		return models.Page{}, ErrNotFound
	}
	if err != nil {
		return models.Page{}, err
	}
	return p, nil
}

func (s *Store) ListPages(ctx context.Context) ([]models.Page, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+pageColumns+` FROM pages ORDER BY created_at DESC LIMIT $1`, listLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Page{}
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &p.MetaDescription, &p.ParentID, &p.AuthorID, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdatePage applies the patch and always refreshes updated_at. The author
// id is never reassigned. Transitioning to published stamps published_at
// once.
func (s *Store) UpdatePage(ctx context.Context, id string, patch PagePatch) (models.Page, error) {
	if patch.Status != nil && !validStatus(*patch.Status) {
		return models.Page{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
	}
	if patch.Title != nil && patch.Slug == nil {
		slug := Slugify(*patch.Title)
		patch.Slug = &slug
	}
	now := time.Now().UTC()
	set := []string{"updated_at=$1"}
	args := []any{now}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Slug != nil {
		add("slug", *patch.Slug)
	}
	if patch.Content != nil {
		add("content", *patch.Content)
	}
	if patch.MetaDescription != nil {
		add("meta_description", *patch.MetaDescription)
	}
	if patch.ParentID != nil {
		add("parent_id", *patch.ParentID)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
		if *patch.Status == models.StatusPublished {
			args = append(args, now)
			set = append(set, fmt.Sprintf("published_at=COALESCE(published_at,$%d)", len(args)))
		}
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE pages SET %s WHERE id=$%d RETURNING `+pageColumns, strings.Join(set, ", "), len(args))
	row := s.DB.QueryRow(ctx, query, args...)
	var p models.Page
	err := row.Scan(&p.ID, &p.Title, &p.Slug, &p.Content, &p.MetaDescription, &p.ParentID, &p.AuthorID, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.PublishedAt)
	if noRows(err) {
		return models.Page{}, ErrNotFound
	}
	if err != nil {
		return models.Page{}, err
	}
	return p, nil
}

func (s *Store) DeletePage(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM pages WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
