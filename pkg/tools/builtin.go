package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"mcpcms/pkg/content"
	"mcpcms/pkg/models"
	"mcpcms/pkg/rbac"
	"mcpcms/pkg/users"
)

// ContentWriter is the slice of the content store the built-in tools need.
type ContentWriter interface {
	CreatePage(ctx context.Context, in content.PageInput, authorID string) (models.Page, error)
	CreateArticle(ctx context.Context, in content.ArticleInput, authorID string) (models.Article, error)
	GetPage(ctx context.Context, id string) (models.Page, error)
	UpdatePage(ctx context.Context, id string, patch content.PagePatch) (models.Page, error)
}

// UserCreator is the slice of the user directory the createUser tool needs.
type UserCreator interface {
	Create(ctx context.Context, subjectID, email, name string, role rbac.Role) (models.User, error)
}

// RegisterBuiltin installs the standard tool set.
func RegisterBuiltin(r *Registry, store ContentWriter, dir UserCreator) {
	r.Register(&createPageTool{store: store})
	r.Register(&createArticleTool{store: store})
	r.Register(&updatePageTool{store: store})
	r.Register(&createUserTool{dir: dir})
}

func decodeArgs(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return Validation("invalid arguments: %v", err)
	}
	return nil
}

// wrapStoreErr lifts store sentinel errors into tool kinds.
func wrapStoreErr(err error) error {
	switch {
	case errors.Is(err, content.ErrInvalidInput), errors.Is(err, users.ErrInvalidInput), errors.Is(err, users.ErrDuplicate):
		return &Error{Kind: KindValidation, Message: err.Error()}
	case errors.Is(err, content.ErrNotFound), errors.Is(err, users.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: err.Error()}
	default:
		return err
	}
}

type createPageTool struct {
	store ContentWriter
}

func (t *createPageTool) Name() string               { return "createPage" }
func (t *createPageTool) RequiredRoles() []rbac.Role { return rbac.ContentManagers }

func (t *createPageTool) Execute(ctx context.Context, args json.RawMessage, caller models.User) (map[string]any, error) {
	var in content.PageInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	p, err := t.store.CreatePage(ctx, in, caller.ID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return map[string]any{"page_id": p.ID, "slug": p.Slug, "status": p.Status}, nil
}

type createArticleTool struct {
	store ContentWriter
}

func (t *createArticleTool) Name() string               { return "createArticle" }
func (t *createArticleTool) RequiredRoles() []rbac.Role { return rbac.ContentManagers }

func (t *createArticleTool) Execute(ctx context.Context, args json.RawMessage, caller models.User) (map[string]any, error) {
	var in content.ArticleInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	a, err := t.store.CreateArticle(ctx, in, caller.ID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return map[string]any{"article_id": a.ID, "slug": a.Slug, "status": a.Status}, nil
}

type updatePageTool struct {
	store ContentWriter
}

func (t *updatePageTool) Name() string               { return "updatePage" }
func (t *updatePageTool) RequiredRoles() []rbac.Role { return rbac.ContentManagers }

func (t *updatePageTool) Execute(ctx context.Context, args json.RawMessage, caller models.User) (map[string]any, error) {
	var in struct {
		PageID string `json:"page_id"`
		content.PagePatch
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.PageID) == "" {
		return nil, Validation("page_id is required")
	}
	page, err := t.store.GetPage(ctx, in.PageID)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	role, _ := rbac.Parse(caller.Role)
	if !rbac.Allowed(rbac.Elevated, role) && page.AuthorID != caller.ID {
		return nil, Forbidden("Insufficient permissions")
	}
	updated, err := t.store.UpdatePage(ctx, in.PageID, in.PagePatch)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return map[string]any{"page_id": updated.ID, "slug": updated.Slug, "status": updated.Status}, nil
}

type createUserTool struct {
	dir UserCreator
}

func (t *createUserTool) Name() string               { return "createUser" }
func (t *createUserTool) RequiredRoles() []rbac.Role { return []rbac.Role{rbac.RoleAdmin} }

func (t *createUserTool) Execute(ctx context.Context, args json.RawMessage, caller models.User) (map[string]any, error) {
	if caller.Role != string(rbac.RoleAdmin) {
		return nil, Forbidden("Only admins can create users")
	}
	var in struct {
		SubjectID string `json:"external_subject_id"`
		Email     string `json:"email"`
		Name      string `json:"name"`
		Role      string `json:"role"`
	}
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	role := rbac.RoleViewer
	if in.Role != "" {
		parsed, ok := rbac.Parse(in.Role)
		if !ok {
			return nil, Validation("unknown role %q", in.Role)
		}
		role = parsed
	}
	u, err := t.dir.Create(ctx, in.SubjectID, in.Email, in.Name, role)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return map[string]any{"user_id": u.ID, "role": u.Role}, nil
}
