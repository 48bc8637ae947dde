package crm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leadflow/leadflow/internal/store"
)

// Kind classifies a failure for the caller.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindProvider   Kind = "provider"
	KindTransport  Kind = "transport"
	KindTimeout    Kind = "timeout"
	KindInternal   Kind = "internal"
)

// Error is a failure with a message fit for an end user.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf reports the kind of err. Unclassified errors are internal, except
// deadline expiry which is always a timeout.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

func IsKind(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }

// storeError maps persistence sentinels; what names the missing record.
func storeError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return newError(KindNotFound, nil, "%s not found", what)
	case errors.Is(err, store.ErrDuplicate), errors.Is(err, store.ErrConflict):
		return newError(KindConflict, err, "%s was modified concurrently", what)
	case errors.Is(err, context.DeadlineExceeded):
		return newError(KindTimeout, err, "database timed out")
	}
	return newError(KindInternal, err, "database error")
}

// externalError wraps a failed call to a collaborator, turning deadline
// expiry into a timeout.
func externalError(kind Kind, err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, err, "%s: timed out", msg)
	}
	return newError(kind, err, "%s", msg)
}

// validate reports fields by their JSON names.
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// checkInput validates v and renders the first failures as one message.
func checkInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return newError(KindValidation, err, "invalid input")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "email":
			msgs = append(msgs, field+" is not a valid email address")
		case "max":
			msgs = append(msgs, field+" is too long")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return &Error{Kind: KindValidation, Message: strings.Join(msgs, "; ")}
}
