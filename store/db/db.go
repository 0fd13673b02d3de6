package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/parrotalk/internal/profile"
	"github.com/hrygo/parrotalk/store"
	"github.com/hrygo/parrotalk/store/db/postgres"
	"github.com/hrygo/parrotalk/store/db/sqlite"
	"github.com/hrygo/parrotalk/store/db/supabase"
)

// NewDBDriver creates new db driver based on profile.
// The "none" driver returns a nil driver: turns complete without persistence.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "", "none":
		return nil, nil
	case "supabase":
		driver, err = supabase.NewDB(profile)
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: supported drivers are supabase, postgres, sqlite and none", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
