package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/construkt/internal/profile"
	"github.com/hrygo/construkt/store"
	"github.com/hrygo/construkt/store/db/postgres"
	"github.com/hrygo/construkt/store/db/sqlite"
)

// ============================================================================
// DATABASE SUPPORT POLICY
// ============================================================================
// Chat sessions and chat logs can live in PostgreSQL or SQLite.
//
// PostgreSQL: shared state for multi-instance deployments.
// SQLite: single node and tests (":memory:" works).
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
