package db

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sujalbistaa/qreview/internal/logging"
)

// Backend names the storage engine behind a connection.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgresql"
)

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Init opens the database named by url. Supported forms are
// sqlite://<path> and postgres://… (or postgresql://…).
func Init(url string) (*gorm.DB, Backend, error) {
	log := logging.NewLogger("db")

	if url == "" {
		url = "sqlite://reviews.db"
		log.Info().Msg("DATABASE_URL not set, defaulting to 'sqlite://reviews.db'")
	}

	var (
		dialector gorm.Dialector
		backend   Backend
	)

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		dialector = postgres.Open(url)
		backend = BackendPostgres
		log.Info().Msg("Connecting to PostgreSQL database...")
	case strings.HasPrefix(url, "sqlite://"):
		dsn := sqliteDSN(strings.TrimPrefix(url, "sqlite://"))
		dialector = sqlite.Open(dsn)
		backend = BackendSQLite
		log.Info().Str("dsn", dsn).Msg("Connecting to SQLite database")
	default:
		return nil, "", fmt.Errorf("invalid DATABASE_URL prefix: must start with 'postgres://' or 'sqlite://'")
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, "", err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, "", err
	}
	if backend == BackendSQLite {
		// SQLite has a single writer; one connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	log.Info().Str("backend", string(backend)).Msg("Database connection established.")
	return gdb, backend, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?" + sqlitePragmas
}
