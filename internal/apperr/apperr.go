// Package apperr defines the error taxonomy surfaced by the pipeline.
// Every error returned to a caller carries a stable category and a message that
// is safe to show; the wrapped cause is for logs only.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category is the stable, user-visible classification of a failure.
type Category string

const (
	CategoryValidation   Category = "validation_error"
	CategoryPrecondition Category = "precondition_error"
	CategoryNotFound     Category = "not_found"
	CategoryStorage      Category = "storage_error"
	CategoryExtraction   Category = "extraction_error"
	CategoryAnalysis     Category = "analysis_adapter_error"
	CategoryConversation Category = "conversation_error"
	CategoryGeneration   Category = "generation_error"
	CategoryConcurrency  Category = "concurrency_error"
	CategoryInternal     Category = "internal_error"
)

// Error is a categorized pipeline error.
type Error struct {
	Category Category
	Op       string // operation that failed, e.g. "RunAnalysis"
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error without an underlying cause.
func New(cat Category, op, message string) *Error {
	return &Error{Category: cat, Op: op, Message: message}
}

// Wrap returns an error that records err as its cause.
func Wrap(cat Category, op, message string, err error) *Error {
	return &Error{Category: cat, Op: op, Message: message, Err: err}
}

func Validation(op, message string) *Error {
	return New(CategoryValidation, op, message)
}

func Precondition(op, message string) *Error {
	return New(CategoryPrecondition, op, message)
}

func NotFound(op, message string) *Error {
	return New(CategoryNotFound, op, message)
}

func Concurrency(op, message string) *Error {
	return New(CategoryConcurrency, op, message)
}

func Storage(op, message string, err error) *Error {
	return Wrap(CategoryStorage, op, message, err)
}

func Extraction(op, message string, err error) *Error {
	return Wrap(CategoryExtraction, op, message, err)
}

func Analysis(op, message string, err error) *Error {
	return Wrap(CategoryAnalysis, op, message, err)
}

func Conversation(op, message string, err error) *Error {
	return Wrap(CategoryConversation, op, message, err)
}

func Generation(op, message string, err error) *Error {
	return Wrap(CategoryGeneration, op, message, err)
}

func Internal(op, message string, err error) *Error {
	return Wrap(CategoryInternal, op, message, err)
}

// CategoryOf returns the category of the first *Error in err's chain,
// or CategoryInternal when there is none.
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return CategoryInternal
}

// Is reports whether err carries the given category.
func Is(err error, cat Category) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == cat
}

// PublicMessage returns the caller-facing text for err. Uncategorized errors
// never leak their text.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "An unexpected error occurred."
}

// HTTPStatus maps a category onto the status code used by the HTTP entry points.
func HTTPStatus(cat Category) int {
	switch cat {
	case CategoryValidation:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryPrecondition, CategoryConcurrency:
		return http.StatusConflict
	case CategoryStorage, CategoryExtraction, CategoryAnalysis, CategoryConversation, CategoryGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
