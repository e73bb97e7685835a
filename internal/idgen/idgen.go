// Package idgen validates and mints the UUIDs used for session and
// participant identity. Generation uses satori/go.uuid, matching the
// id helper already in this lineage; boundary validation uses
// google/uuid for its stricter RFC4122 Parse.
package idgen

import (
	gouuid "github.com/google/uuid"
	satori "github.com/satori/go.uuid"
)

// New mints a fresh random session/participant id.
func New() string {
	return satori.NewV4().String()
}

// Valid reports whether s is a well-formed UUID.
func Valid(s string) bool {
	_, err := gouuid.Parse(s)
	return err == nil
}
