package database

import "errors"

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("entity not found")

// ErrInvalidRoute is returned when a route cannot be stored as given
var ErrInvalidRoute = errors.New("invalid route")
