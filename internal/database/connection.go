// Package database opens the ticket store connection and papers over
// placeholder differences between the supported drivers.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SupportedDrivers lists the drivers the store can run on.
var SupportedDrivers = []string{"sqlite3", "postgres", "mysql"}

// Open connects to the record store and verifies the connection.
func Open(driver, dsn string) (*sql.DB, error) {
	if !driverSupported(driver) {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	// A single worker processes batches sequentially; a small pool is
	// enough and keeps sqlite happy.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	return db, nil
}

func driverSupported(driver string) bool {
	for _, d := range SupportedDrivers {
		if d == driver {
			return true
		}
	}
	return false
}
