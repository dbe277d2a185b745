package feed

import (
	"fmt"

	"github.com/madello/paarvai/internal/errors"
)

const componentFeed = "feed"

// Sentinel errors. Callers test with errors.Is.
var (
	// ErrNotFound is returned when a selection names an id that is not in the store.
	ErrNotFound = errors.NewStd("record not found")

	// ErrInvalidFilterValue is returned for a filter field outside its allowed domain.
	ErrInvalidFilterValue = errors.NewStd("invalid filter value")

	// ErrServiceStopped is returned by Service operations after Stop.
	ErrServiceStopped = errors.NewStd("feed service stopped")

	// ErrServiceNotStarted is returned by Service operations before Start.
	ErrServiceNotStarted = errors.NewStd("feed service not started")
)

func notFoundError(id string) error {
	return errors.New(fmt.Errorf("%w: %q", ErrNotFound, id)).
		Component(componentFeed).
		Category(errors.CategoryNotFound).
		Context("operation", "select").
		Context("id", id).
		Build()
}

func invalidFilterError(field, value string, cause error) error {
	err := fmt.Errorf("%w: %s %q", ErrInvalidFilterValue, field, value)
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	return errors.New(err).
		Component(componentFeed).
		Category(errors.CategoryValidation).
		Context("operation", "set_filter").
		Context("field", field).
		Build()
}

func lifecycleError(sentinel error, operation string) error {
	return errors.New(sentinel).
		Component(componentFeed).
		Category(errors.CategoryState).
		Context("operation", operation).
		Build()
}
