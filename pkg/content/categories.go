package content

import (
	"context"

	"mcpcms/pkg/models"
)

// Categories and media are read-only collections in this service; they are
// maintained out of band.

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name, slug, description, parent_id, created_at FROM categories ORDER BY name LIMIT $1`, listLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.ParentID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (models.Category, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, name, slug, description, parent_id, created_at FROM categories WHERE id=$1`, id)
	var c models.Category
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.Description, &c.ParentID, &c.CreatedAt)
	if noRows(err) {
		return models.Category{}, ErrNotFound
	}
	if err != nil {
		return models.Category{}, err
	}
	return c, nil
}

func (s *Store) ListMedia(ctx context.Context) ([]models.MediaFile, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, filename, original_filename, file_type, file_size, url, uploaded_by, uploaded_at FROM media_files ORDER BY uploaded_at DESC LIMIT $1`, listLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.MediaFile{}
	for rows.Next() {
		var m models.MediaFile
		if err := rows.Scan(&m.ID, &m.Filename, &m.OriginalFilename, &m.FileType, &m.FileSize, &m.URL, &m.UploadedBy, &m.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
