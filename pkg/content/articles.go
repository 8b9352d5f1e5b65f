package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mcpcms/pkg/models"

	"github.com/google/uuid"
)

type ArticleInput struct {
	Title         string   `json:"title"`
	Slug          string   `json:"slug"`
	Content       string   `json:"content"`
	Excerpt       *string  `json:"excerpt"`
	FeaturedImage *string  `json:"featured_image"`
	CategoryID    *string  `json:"category_id"`
	Tags          []string `json:"tags"`
	Status        string   `json:"status"`
}

type ArticlePatch struct {
	Title         *string   `json:"title"`
	Slug          *string   `json:"slug"`
	Content       *string   `json:"content"`
	Excerpt       *string   `json:"excerpt"`
	FeaturedImage *string   `json:"featured_image"`
	CategoryID    *string   `json:"category_id"`
	Tags          *[]string `json:"tags"`
	Status        *string   `json:"status"`
}

const articleColumns = `id, title, slug, content, excerpt, featured_image, author_id, category_id, tags, status, created_at, updated_at, published_at`

func (s *Store) CreateArticle(ctx context.Context, in ArticleInput, authorID string) (models.Article, error) {
	if strings.TrimSpace(in.Title) == "" {
		return models.Article{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if in.Slug == "" {
		in.Slug = Slugify(in.Title)
	}
	if in.Status == "" {
		in.Status = models.StatusDraft
	}
	if !validStatus(in.Status) {
		return models.Article{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, in.Status)
	}
	if in.Tags == nil {
		in.Tags = []string{}
	}
	now := time.Now().UTC()
	a := models.Article{
		ID:            uuid.New().String(),
		Title:         in.Title,
		Slug:          in.Slug,
		Content:       in.Content,
		Excerpt:       in.Excerpt,
		FeaturedImage: in.FeaturedImage,
		AuthorID:      authorID,
		CategoryID:    in.CategoryID,
		Tags:          in.Tags,
		Status:        in.Status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if a.Status == models.StatusPublished {
		a.PublishedAt = &now
	}
	_, err := s.DB.Exec(ctx, `
		INSERT INTO articles (id, title, slug, content, excerpt, featured_image, author_id, category_id, tags, status, created_at, updated_at, published_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, a.ID, a.Title, a.Slug, a.Content, a.Excerpt, a.FeaturedImage, a.AuthorID, a.CategoryID, a.Tags, a.Status, a.CreatedAt, a.UpdatedAt, a.PublishedAt)
	if err != nil {
		return models.Article{}, err
	}
	return a, nil
}

func (s *Store) GetArticle(ctx context.Context, id string) (models.Article, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=$1`, id)
	var a models.Article
	err := row.Scan(&a.ID, &a.Title, &a.Slug, &a.Content, &a.Excerpt, &a.FeaturedImage, &a.AuthorID, &a.CategoryID, &a.Tags, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.PublishedAt)
	if noRows(err) {
		return models.Article{}, ErrNotFound
	}
	if err != nil {
		return models.Article{}, err
	}
	return a, nil
}

func (s *Store) ListArticles(ctx context.Context) ([]models.Article, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+articleColumns+` FROM articles ORDER BY created_at DESC LIMIT $1`, listLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Article{}
	for rows.Next() {
		var a models.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Slug, &a.Content, &a.Excerpt, &a.FeaturedImage, &a.AuthorID, &a.CategoryID, &a.Tags, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.PublishedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateArticle(ctx context.Context, id string, patch ArticlePatch) (models.Article, error) {
	if patch.Status != nil && !validStatus(*patch.Status) {
		return models.Article{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *patch.Status)
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
	if patch.Excerpt != nil {
		add("excerpt", *patch.Excerpt)
	}
	if patch.FeaturedImage != nil {
		add("featured_image", *patch.FeaturedImage)
	}
	if patch.CategoryID != nil {
		add("category_id", *patch.CategoryID)
	}
	if patch.Tags != nil {
		add("tags", *patch.Tags)
	}
	if patch.Status != nil {
		add("status", *patch.Status)
		if *patch.Status == models.StatusPublished {
			args = append(args, now)
			set = append(set, fmt.Sprintf("published_at=COALESCE(published_at,$%d)", len(args)))
		}
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE articles SET %s WHERE id=$%d RETURNING `+articleColumns, strings.Join(set, ", "), len(args))
	row := s.DB.QueryRow(ctx, query, args...)
	var a models.Article
	err := row.Scan(&a.ID, &a.Title, &a.Slug, &a.Content, &a.Excerpt, &a.FeaturedImage, &a.AuthorID, &a.CategoryID, &a.Tags, &a.Status, &a.CreatedAt, &a.UpdatedAt, &a.PublishedAt)
	if noRows(err) {
		return models.Article{}, ErrNotFound
	}
	if err != nil {
		return models.Article{}, err
	}
	return a, nil
}

func (s *Store) DeleteArticle(ctx context.Context, id string) error {
	tag, err := s.DB.Exec(ctx, `DELETE FROM articles WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
