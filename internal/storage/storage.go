package storage

import (
	"context"
	"fmt"

	"nuclight.org/gatekeeper/internal/vote"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Backend is a vote.Store together with its lifecycle hooks.
type Backend interface {
	vote.Store
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type Options struct {
	Driver   string
	Path     string
	MongoURI string
	MongoDB  string
}

// Open connects to the backend named by opts.Driver. It does not migrate.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch opts.Driver {
	case "", DriverSQLite:
		db, err := NewDB(opts.Path)
		if err != nil {
			return nil, err
		}
		return &SQLiteStore{VoteRepository: NewVoteRepository(db), db: db}, nil
	case DriverMongo:
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDB)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

type SQLiteStore struct {
	*VoteRepository
	db *DB
}

func (s *SQLiteStore) Migrate(ctx context.Context) error { return s.db.Migrate(ctx) }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *SQLiteStore) Close(context.Context) error { return s.db.Close() }
