package main

import (
	"encoding/json"
	"errors"
	"net/http"

	"mcpcms/pkg/content"
	"mcpcms/pkg/httpx"
	"mcpcms/pkg/models"
	"mcpcms/pkg/rbac"
	"mcpcms/pkg/stream"

	"github.com/go-chi/chi/v5"
)

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, content.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "not found", "not_found")
	case errors.Is(err, content.ErrInvalidInput):
		httpx.Error(w, http.StatusBadRequest, err.Error(), "validation_failed")
	default:
		httpx.Error(w, http.StatusBadGateway, "content store unavailable", "dependency_failed")
	}
}

func (s *Server) publishEvent(eventType string, data any) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(stream.NewEvent(eventType, data))
}

// canTouch reports whether the account may mutate a row it does not own.
func canTouch(u models.User, authorID string) bool {
	role, ok := rbac.Parse(u.Role)
	if ok && rbac.Allowed(rbac.Elevated, role) {
		return true
	}
	return authorID == u.ID
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request, _ models.User) {
	pages, err := s.Content.ListPages(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pages)
}

func (s *Server) createPage(w http.ResponseWriter, r *http.Request, u models.User) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in content.PageInput
	if err := json.Unmarshal(body, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json", "validation_failed")
		return
	}
	p, err := s.Content.CreatePage(r.Context(), in, u.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publishEvent(stream.EventPageCreated, map[string]string{"page_id": p.ID, "slug": p.Slug})
	httpx.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request, _ models.User) {
	p, err := s.Content.GetPage(r.Context(), chi.URLParam(r, "page_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) updatePage(w http.ResponseWriter, r *http.Request, u models.User) {
	id := chi.URLParam(r, "page_id")
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var patch content.PagePatch
	if err := json.Unmarshal(body, &patch); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json", "validation_failed")
		return
	}
	existing, err := s.Content.GetPage(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !canTouch(u, existing.AuthorID) {
		httpx.Error(w, http.StatusForbidden, "Insufficient permissions", "insufficient_role")
		return
	}
	p, err := s.Content.UpdatePage(r.Context(), id, patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publishEvent(stream.EventPageUpdated, map[string]string{"page_id": p.ID, "slug": p.Slug})
	httpx.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) deletePage(w http.ResponseWriter, r *http.Request, _ models.User) {
	id := chi.URLParam(r, "page_id")
	if err := s.Content.DeletePage(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publishEvent(stream.EventPageDeleted, map[string]string{"page_id": id})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Page deleted successfully"})
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request, _ models.User) {
	articles, err := s.Content.ListArticles(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, articles)
}

func (s *Server) createArticle(w http.ResponseWriter, r *http.Request, u models.User) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var in content.ArticleInput
	if err := json.Unmarshal(body, &in); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json", "validation_failed")
		return
	}
	a, err := s.Content.CreateArticle(r.Context(), in, u.ID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publishEvent(stream.EventArticleCreated, map[string]string{"article_id": a.ID, "slug": a.Slug})
	httpx.WriteJSON(w, http.StatusCreated, a)
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request, _ models.User) {
	a, err := s.Content.GetArticle(r.Context(), chi.URLParam(r, "article_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) updateArticle(w http.ResponseWriter, r *http.Request, u models.User) {
	id := chi.URLParam(r, "article_id")
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var patch content.ArticlePatch
	if err := json.Unmarshal(body, &patch); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json", "validation_failed")
		return
	}
	existing, err := s.Content.GetArticle(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !canTouch(u, existing.AuthorID) {
		httpx.Error(w, http.StatusForbidden, "Insufficient permissions", "insufficient_role")
		return
	}
	a, err := s.Content.UpdateArticle(r.Context(), id, patch)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publishEvent(stream.EventArticleUpdated, map[string]string{"article_id": a.ID, "slug": a.Slug})
	httpx.WriteJSON(w, http.StatusOK, a)
}

func (s *Server) deleteArticle(w http.ResponseWriter, r *http.Request, _ models.User) {
	id := chi.URLParam(r, "article_id")
	if err := s.Content.DeleteArticle(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.publishEvent(stream.EventArticleDeleted, map[string]string{"article_id": id})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "Article deleted successfully"})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request, _ models.User) {
	categories, err := s.Content.ListCategories(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, categories)
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request, _ models.User) {
	c, err := s.Content.GetCategory(r.Context(), chi.URLParam(r, "category_id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, c)
}

func (s *Server) listMedia(w http.ResponseWriter, r *http.Request, _ models.User) {
	media, err := s.Content.ListMedia(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, media)
}

const statsCacheKey = "cms:dashboard:stats"

func (s *Server) dashboardStats(w http.ResponseWriter, r *http.Request, _ models.User) {
	if s.Cache != nil {
		if cached, ok, err := s.Cache.Get(r.Context(), statsCacheKey); err == nil && ok {
			var stats models.DashboardStats
			if json.Unmarshal([]byte(cached), &stats) == nil {
				httpx.WriteJSON(w, http.StatusOK, stats)
				return
			}
		}
	}
	stats, err := s.Content.Stats(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if s.Cache != nil {
		if b, err := json.Marshal(stats); err == nil {
			_ = s.Cache.Set(r.Context(), statsCacheKey, string(b), s.StatsCacheTTL)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}
