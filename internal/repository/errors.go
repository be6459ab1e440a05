// Package repository defines the item store and the sentinel errors it
// returns. Handlers compare against these values to choose a status code:
// ErrItemExists becomes 400 and ErrItemNotFound becomes 404.
package repository

import "errors"

// ErrItemExists is returned when Create is called with an identifier that
// is already present in the store.
var ErrItemExists = errors.New("item already exists")

// ErrItemNotFound is returned by Get, Update and Delete when the
// identifier is not present in the store.
var ErrItemNotFound = errors.New("item not found")
