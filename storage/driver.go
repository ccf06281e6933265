// Package storage implements the durable event store behind spec.md §4.8's
// storage interface boundary: insert, query_recent, count, set_max_events
// against a single events table, backed by an embedded relational store.
//
// Grounded in nabbar-golib's database/gorm package (Driver enum,
// Dialector(dsn) switch over mysql/postgres/sqlite/sqlserver/clickhouse);
// narrowed to the one dialector spec.md §4.8 actually names (a single
// embedded store) while keeping the Driver/Dialector shape so a future
// backend remains a one-line addition.
package storage

import (
	"strings"

	gormdb "gorm.io/gorm"

	drvsql "gorm.io/driver/sqlite"
)

// Driver identifies the gorm dialector backing the store. Only DriverSQLite
// is wired today; the type is kept distinct from a bare string so adding a
// backend later does not touch call sites.
type Driver string

const (
	DriverNone   Driver = ""
	DriverSQLite Driver = "sqlite"
)

// DriverFromString normalizes a config-supplied driver name. Unrecognized
// values resolve to DriverNone.
func DriverFromString(drv string) Driver {
	switch strings.ToLower(drv) {
	case string(DriverSQLite):
		return DriverSQLite
	default:
		return DriverNone
	}
}

func (d Driver) String() string {
	return string(d)
}

// Dialector returns the gorm.Dialector for this driver and dsn, or nil for
// an unrecognized driver.
func (d Driver) Dialector(dsn string) gormdb.Dialector {
	switch d {
	case DriverSQLite:
		return drvsql.Open(dsn)
	default:
		return nil
	}
}
