// Package users is the user directory: it maps external subject ids to local
// accounts and owns account creation. Uniqueness of the subject id is
// enforced by the store's unique index, not by application locking.
package users

import (
	"context"
	"errors"
	"strings"
	"time"

	"mcpcms/pkg/models"
	"mcpcms/pkg/rbac"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound     = errors.New("account not found")
	ErrInvalidInput = errors.New("invalid account input")
	ErrDuplicate    = errors.New("account already exists")
)

type directoryDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Directory struct {
	DB directoryDB
}

const userColumns = `id, external_subject_id, email, name, role, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.ExternalSubjectID, &u.Email, &u.Name, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (d *Directory) FindBySubject(ctx context.Context, subjectID string) (models.User, error) {
	row := d.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE external_subject_id=$1`, subjectID)
	return scanUser(row)
}

func (d *Directory) FindByID(ctx context.Context, id string) (models.User, error) {
	row := d.DB.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	return scanUser(row)
}

// Register creates an account for the subject if none exists. It is
// idempotent: an existing account is returned unchanged with created=false.
// New accounts always start as viewer; role elevation is a separate
// admin-gated path.
func (d *Directory) Register(ctx context.Context, subjectID, email, name string) (models.User, bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	email = strings.TrimSpace(email)
	if subjectID == "" || email == "" {
		return models.User{}, false, ErrInvalidInput
	}
	existing, err := d.FindBySubject(ctx, subjectID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return models.User{}, false, err
	}
	created, err := d.insert(ctx, subjectID, email, name, rbac.RoleViewer)
	if err == nil {
		return created, true, nil
	}
	// A concurrent registration may have won the unique-index race; the
	// winner's account is the answer either way.
	if isUniqueViolation(err) {
		existing, findErr := d.FindBySubject(ctx, subjectID)
		if findErr != nil {
			return models.User{}, false, findErr
		}
		return existing, false, nil
	}
	return models.User{}, false, err
}

// Create inserts an account with an explicit role. This is the tool-side
// variant used by createUser; duplicate subjects are an error here, not an
// idempotent success.
func (d *Directory) Create(ctx context.Context, subjectID, email, name string, role rbac.Role) (models.User, error) {
	subjectID = strings.TrimSpace(subjectID)
	email = strings.TrimSpace(email)
	if subjectID == "" || email == "" {
		return models.User{}, ErrInvalidInput
	}
	u, err := d.insert(ctx, subjectID, email, name, role)
	if isUniqueViolation(err) {
		return models.User{}, ErrDuplicate
	}
	return u, err
}

func (d *Directory) insert(ctx context.Context, subjectID, email, name string, role rbac.Role) (models.User, error) {
	now := time.Now().UTC()
	u := models.User{
		ID:                uuid.New().String(),
		ExternalSubjectID: subjectID,
		Email:             email,
		Name:              strings.TrimSpace(name),
		Role:              string(role),
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := d.DB.Exec(ctx, `
		INSERT INTO users (id, external_subject_id, email, name, role, is_active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.ExternalSubjectID, u.Email, u.Name, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (d *Directory) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := d.DB.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
