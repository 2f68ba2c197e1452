package migrations

import (
	_ "embed"
)

//go:embed schema.sql
var initialSchema string

// GetInitialSchema returns the initial database schema.
func GetInitialSchema() string {
	return initialSchema
}
