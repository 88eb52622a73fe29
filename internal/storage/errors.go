package storage

import "errors"

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrNoFieldsToUpdate is returned when an update carries no changes
	ErrNoFieldsToUpdate = errors.New("no fields to update")
)
