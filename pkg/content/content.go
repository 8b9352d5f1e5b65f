// Package content is the content store: pages and articles with full CRUD,
// categories and media as read-only collections. Slug uniqueness per kind is
// enforced by store indexes; ownership rules live with the callers.
package content

import (
	"context"
	"errors"

	"mcpcms/pkg/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound     = errors.New("entity not found")
	ErrInvalidInput = errors.New("invalid entity input")
)

// listLimit caps list responses. Not cursor-paginated; a documented
// limitation of the store surface.
const listLimit = 1000

type contentDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	DB contentDB
}

func validStatus(status string) bool {
	switch status {
	case models.StatusDraft, models.StatusPublished, models.StatusArchived:
		return true
	default:
		return false
	}
}

func noRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
