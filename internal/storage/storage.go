package storage

import (
	"context"
	"time"

	"timeinsight/internal/activity"
)

// Store is the durable repository of applications, activities and user sessions.
// All writes go through WithinTx, which serializes callers.
type Store interface {
	Init(ctx context.Context) error
	// WithinTx runs fn in a single transaction. The transaction is committed
	// if fn returns nil and rolled back otherwise.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	ActivitiesBetween(ctx context.Context, start, end time.Time) ([]activity.ApplicationActivity, error)
	SessionsBetween(ctx context.Context, start, end time.Time) ([]activity.UserSession, error)
	Close() error
}

// Tx exposes the row operations available inside a transaction.
// Lookups return (nil, nil) when no row matches.
type Tx interface {
	FindApplicationByName(ctx context.Context, name string) (*activity.Application, error)
	FindApplicationByID(ctx context.Context, id int64) (*activity.Application, error)
	CreateApplication(ctx context.Context, name, desc, path string, enrolled time.Time) (*activity.Application, error)

	// LastActivity returns the most recently inserted activity, open or not,
	// whatever its session_start.
	LastActivity(ctx context.Context) (*activity.ApplicationActivity, error)
	CloseActivity(ctx context.Context, a *activity.ApplicationActivity, end time.Time) error
	OpenActivity(ctx context.Context, applicationID int64, windowName, info string, start time.Time) (*activity.ApplicationActivity, error)

	// LastSession returns the most recently inserted session, open or not.
	LastSession(ctx context.Context) (*activity.UserSession, error)
	CloseSession(ctx context.Context, s *activity.UserSession, end time.Time) error
	OpenSession(ctx context.Context, t activity.SessionType, start time.Time) (*activity.UserSession, error)
}
