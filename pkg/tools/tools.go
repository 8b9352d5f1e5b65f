// Package tools is the dispatch surface: named operations that execute on
// behalf of an already-authenticated account. Tools report failures in-band
// through kinded errors; the transport around them never turns a tool
// failure into a non-200 response.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mcpcms/pkg/models"
	"mcpcms/pkg/rbac"
)

// Tool is one dispatchable operation. Execute receives the raw argument
// object from the caller and the resolved local account; role checks happen
// before Execute, ownership checks inside it.
type Tool interface {
	Name() string
	RequiredRoles() []rbac.Role
	Execute(ctx context.Context, args json.RawMessage, caller models.User) (map[string]any, error)
}

// Kind classifies a tool failure for the envelope and the audit trail.
type Kind string

const (
	KindValidation Kind = "validation_failed"
	KindForbidden  Kind = "insufficient_role"
	KindNotFound   Kind = "not_found"
	KindDependency Kind = "dependency_failed"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Classify maps any error to its kind. Errors without an explicit kind count
// as dependency failures: the tool's backing store misbehaved, not the call.
func Classify(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindDependency
}
