// Package db provides the database driver factory.
package db

import (
	"github.com/hrygo/mygpt/internal/profile"
	"github.com/hrygo/mygpt/store"
	"github.com/hrygo/mygpt/store/db/sqlite"
)

// NewDBDriver creates a new database driver for the given profile. The
// engine persists to a single embedded sqlite file.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	return sqlite.NewDB(profile)
}
