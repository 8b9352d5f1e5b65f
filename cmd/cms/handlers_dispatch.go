package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mcpcms/pkg/audit"
	"mcpcms/pkg/httpx"
	"mcpcms/pkg/models"
	"mcpcms/pkg/rbac"
	"mcpcms/pkg/stream"
	"mcpcms/pkg/tools"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

// handleDispatch runs one tool call. Only failures of the dispatch mechanism
// itself (oversized or malformed body, missing tool name, rate limiting)
// surface as transport errors; once a call is accepted, every outcome goes
// back in-band with HTTP 200.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request, u models.User) {
	if retryAfterMs, limited := s.checkRateLimit(u); limited {
		w.Header().Set("Retry-After", strconv.Itoa((retryAfterMs+999)/1000))
		httpx.Error(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limited")
		return
	}
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var call models.ToolCall
	if err := json.Unmarshal(body, &call); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json", "validation_failed")
		return
	}
	if strings.TrimSpace(call.Tool) == "" {
		httpx.Error(w, http.StatusBadRequest, "tool is required", "validation_failed")
		return
	}

	tool, found := s.Tools.Resolve(call.Tool)
	if !found {
		s.finishDispatch(r.Context(), w, u, call, false, "not_found", "Tool '"+call.Tool+"' not found")
		return
	}
	role, parsed := rbac.Parse(u.Role)
	if !parsed || !rbac.Allowed(tool.RequiredRoles(), role) {
		s.finishDispatch(r.Context(), w, u, call, false, string(tools.KindForbidden), "Insufficient permissions")
		return
	}

	data, err := tool.Execute(r.Context(), call.Args, u)
	if err != nil {
		kind := tools.Classify(err)
		message := "tool execution failed"
		var te *tools.Error
		if errors.As(err, &te) {
			message = te.Message
		} else {
			log.Printf("dispatch: tool %s failed: %v", call.Tool, err)
		}
		s.finishDispatch(r.Context(), w, u, call, false, string(kind), message)
		return
	}
	s.finishDispatch(r.Context(), w, u, call, true, "", "")
	httpx.WriteJSON(w, http.StatusOK, models.ToolResponse{Success: true, Data: data})
}

// finishDispatch records the outcome (audit, metrics, event stream) and, for
// failures, writes the in-band error envelope.
func (s *Server) finishDispatch(ctx context.Context, w http.ResponseWriter, u models.User, call models.ToolCall, success bool, errorCode, message string) {
	dispatchID := uuid.New().String()
	if s.Metrics != nil {
		s.Metrics.IncTool(call.Tool)
		if !success {
			s.Metrics.IncToolError(call.Tool, errorCode)
		}
	}
	if s.Audit != nil {
		rec := audit.Record{
			DispatchID:  dispatchID,
			ActorIDHash: audit.HashIdentity(u.ID, s.AuditSalt),
			Tool:        call.Tool,
			Success:     success,
			ErrorCode:   errorCode,
			Args:        call.Args,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.Audit.Append(ctx, rec); err != nil {
			log.Printf("dispatch: audit append failed: %v", err)
		}
	}
	s.publishEvent(stream.EventToolDispatched, map[string]any{
		"dispatch_id": dispatchID,
		"tool":        call.Tool,
		"success":     success,
	})
	if !success {
		httpx.WriteJSON(w, http.StatusOK, models.ToolResponse{Success: false, Error: message})
	}
}

func (s *Server) checkRateLimit(u models.User) (int, bool) {
	if !s.RateLimitEnabled || s.RateLimiter == nil {
		return 0, false
	}
	limit := s.RateLimitPerMinute
	if limit <= 0 {
		return 0, false
	}
	decision := s.RateLimiter.Allow("dispatch:"+u.ID, limit)
	if decision.Allowed {
		return 0, false
	}
	retryAfter := int(time.Until(decision.ResetAt).Milliseconds())
	if retryAfter < 0 {
		retryAfter = int(s.RateLimitWindow.Milliseconds())
	}
	return retryAfter, true
}

func (s *Server) listTools(w http.ResponseWriter, _ *http.Request, _ models.User) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tools": s.Tools.Names()})
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, _ models.User) {
	if s.Events == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable", "dependency_failed")
		return
	}
	opts := &websocket.AcceptOptions{}
	if origins := wsOriginPatterns(env("WS_ALLOWED_ORIGINS", "")); len(origins) > 0 {
		opts.OriginPatterns = origins
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.Events.Subscribe(64)
	defer s.Events.Unsubscribe(sub)

	_ = wsjson.Write(ctx, conn, stream.NewEvent("ready", nil))
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case evt, ok := <-sub:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			cancelWrite()
			if err != nil {
				_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
				return
			}
		}
	}
}

func wsOriginPatterns(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
