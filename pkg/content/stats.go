package content

import (
	"context"

	"mcpcms/pkg/models"
)

// Stats runs one aggregate query per entity kind and folds status counts
// into the dashboard shape.
func (s *Store) Stats(ctx context.Context) (models.DashboardStats, error) {
	var st models.DashboardStats

	pages, err := s.statusCounts(ctx, "pages")
	if err != nil {
		return models.DashboardStats{}, err
	}
	articles, err := s.statusCounts(ctx, "articles")
	if err != nil {
		return models.DashboardStats{}, err
	}

	st.PublishedPages = pages[models.StatusPublished]
	st.DraftPages = pages[models.StatusDraft]
	st.ArchivedPages = pages[models.StatusArchived]
	st.PublishedArticles = articles[models.StatusPublished]
	st.DraftArticles = articles[models.StatusDraft]
	st.ArchivedArticles = articles[models.StatusArchived]
	for _, n := range pages {
		st.TotalPages += n
	}
	for _, n := range articles {
		st.TotalArticles += n
	}

	row := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM users`)
	if err := row.Scan(&st.TotalUsers); err != nil {
		return models.DashboardStats{}, err
	}
	return st, nil
}

func (s *Store) statusCounts(ctx context.Context, table string) (map[string]int64, error) {
	// table is one of two compile-time constants, never caller input.
	rows, err := s.DB.Query(ctx, `SELECT status, COUNT(*) FROM `+table+` GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int64{}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
