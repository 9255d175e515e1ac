package domain

import (
	"fmt"
	"strings"
)

// ErrorCategory classifies a failed attempt.
type ErrorCategory string

const (
	CategoryExternalService ErrorCategory = "external_service"
	CategoryOperation       ErrorCategory = "operation"
	CategoryNetwork         ErrorCategory = "network"
	CategoryResource        ErrorCategory = "resource"
	CategoryValidation      ErrorCategory = "validation"
	CategoryTimeout         ErrorCategory = "timeout"
	CategoryUnknown         ErrorCategory = "unknown"
)

// Categories lists every category.
var Categories = []ErrorCategory{
	CategoryExternalService,
	CategoryOperation,
	CategoryNetwork,
	CategoryResource,
	CategoryValidation,
	CategoryTimeout,
	CategoryUnknown,
}

// ParseCategory accepts both "external_service" and "EXTERNAL_SERVICE".
func ParseCategory(s string) (ErrorCategory, error) {
	c := ErrorCategory(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown error category %q", s)
}

// CategorizedError lets an executor pin the category of its error.
type CategorizedError interface {
	error
	Category() ErrorCategory
}

// ConflictError names the resource behind an "already exists" failure.
type ConflictError interface {
	error
	ConflictingResource() Resource
}

type categorized struct {
	err      error
	category ErrorCategory
}

func (e *categorized) Error() string           { return e.err.Error() }
func (e *categorized) Unwrap() error           { return e.err }
func (e *categorized) Category() ErrorCategory { return e.category }

// WithCategory wraps err so the classifier reports category.
func WithCategory(err error, category ErrorCategory) error {
	if err == nil {
		return nil
	}
	return &categorized{err: err, category: category}
}

type conflict struct {
	err      error
	resource Resource
}

func (e *conflict) Error() string                 { return e.err.Error() }
func (e *conflict) Unwrap() error                 { return e.err }
func (e *conflict) ConflictingResource() Resource { return e.resource }

// WithConflict wraps err with the resource that already exists.
func WithConflict(err error, r Resource) error {
	if err == nil {
		return nil
	}
	return &conflict{err: err, resource: r}
}
