package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/library-catalog/cmd/api/book"
	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dialect captures what differs between the supported SQL drivers.
type dialect struct {
	driver     string
	migrations string
	// placeholder renders the n-th (1-based) bind parameter.
	placeholder func(n int) string
	// noLimit is the LIMIT value meaning "every row", needed when only OFFSET is given.
	noLimit string
}

func dollarPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func questionPlaceholder(int) string {
	return "?"
}

var dialects = map[string]dialect{
	"postgres": {driver: "postgres", migrations: "migrations/postgres", placeholder: dollarPlaceholder, noLimit: "ALL"},
	"pgx":      {driver: "pgx", migrations: "migrations/postgres", placeholder: dollarPlaceholder, noLimit: "ALL"},
	"sqlite":   {driver: "sqlite", migrations: "migrations/sqlite", placeholder: questionPlaceholder, noLimit: "-1"},
}

// Store opens SQL sessions, one database transaction each.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     zerolog.Logger
}

func NewStore(db *sql.DB, driverName string, logger zerolog.Logger) (*Store, error) {
	d, ok := dialects[driverName]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driverName)
	}
	return &Store{
		db:      db,
		dialect: d,
		log:     logger.With().Str("component", "database").Str("driver", driverName).Logger(),
	}, nil
}

/* Connects to the database through driverName and connStr and returns a pointer to a valid DB object (*sql.DB). */
func ConnectDb(ctx context.Context, driverName, connStr string) (*sql.DB, error) {
	if _, ok := dialects[driverName]; !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driverName)
	}

	sqlDB, err := sql.Open(driverName, connStr)
	if err != nil {
		return nil, fmt.Errorf("connecting to db, opening: %w", err)
	}
	if driverName == "sqlite" {
		// A single connection keeps sqlite writers from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to db, pinging: %w", err)
	}
	return sqlDB, nil
}

func (store *Store) Begin(ctx context.Context) (book.Session, error) {
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return newSession(tx, store.dialect), nil
}

func (store *Store) Ping(ctx context.Context) error {
	return store.db.PingContext(ctx)
}

/* Applies the embedded migrations of the store's dialect. Returns migrate.ErrNoChange when the schema is current. */
func MigrationUp(store *Store) error {
	source, err := iofs.New(migrations, store.dialect.migrations)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	var driver migratedb.Driver
	switch store.dialect.driver {
	case "postgres":
		driver, err = postgres.WithInstance(store.db, &postgres.Config{})
	case "pgx":
		driver, err = migratepgx.WithInstance(store.db, &migratepgx.Config{})
	case "sqlite":
		driver, err = migratesqlite.WithInstance(store.db, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, store.dialect.driver, driver)
	if err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}

	if err := m.Up(); err != nil {
		return fmt.Errorf("migrating up: %w", err)
	}
	store.log.Info().Msg("migrations applied")
	return nil
}
