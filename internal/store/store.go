package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is a JobStore that also records usage.
type Store interface {
	JobStore
	UsageStore
}

// Open returns the store for driver and a function releasing it.
func Open(ctx context.Context, driver, dsn string) (Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryJobStore(), func() error { return nil }, nil
	case DriverPostgres:
		s, err := NewPostgresJobStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverSQLite:
		s, err := NewSQLiteJobStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}
