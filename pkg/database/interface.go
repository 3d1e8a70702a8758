package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/models"
)

var (
	// ErrStorageUnavailable means the backing storage could not be read or
	// written. It is never reported as an empty result.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrDuplicate is returned when an insert or update violates a unique key
	ErrDuplicate = errors.New("duplicate value for unique field")
	// ErrInvalidTable is returned for table names that are not plain identifiers
	ErrInvalidTable = errors.New("invalid table name")
	// ErrInvalidQuery is returned for malformed conditions or options
	ErrInvalidQuery = errors.New("invalid query")
)

// Conditions filter records by field. A slice value means "field is one of".
type Conditions map[string]interface{}

// SelectOptions control ordering and pagination of Select.
// OrderBy is "field" or "field ASC|DESC". Limit 0 means no limit.
type SelectOptions struct {
	OrderBy string
	Limit   int
	Offset  int
}

// Store is the table-scoped record store
type Store interface {
	// Read returns every record of a table in stored order
	Read(ctx context.Context, table string) ([]models.Record, error)
	// Write replaces the full content of a table
	Write(ctx context.Context, table string, records []models.Record) error

	Select(ctx context.Context, table string, conditions Conditions, opts *SelectOptions) ([]models.Record, error)
	// Insert assigns id and timestamps and returns the stored record
	Insert(ctx context.Context, table string, fields models.Record) (models.Record, error)
	// Update merges fields into every record matching conditions and returns the matched count
	Update(ctx context.Context, table string, conditions Conditions, fields models.Record) (int, error)
	// Delete removes every record matching conditions and returns the removed count
	Delete(ctx context.Context, table string, conditions Conditions) (int, error)

	HealthCheck() error
	Close() error
}

// UniqueKeys lists fields that must not repeat within a table
var UniqueKeys = map[string][]string{
	models.TableUsers: {"telegram_id"},
	models.TableTeams: {"invite_code"},
}

// DefaultTables are created by InitializeDatabase
var DefaultTables = []string{
	models.TableUsers,
	models.TableTeams,
	models.TableTasks,
	models.TableTaskStatuses,
	models.TableTaskPriorities,
	models.TableEmployeeNotes,
	models.TableTaskComments,
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidTableName reports whether name can be used as a table / file name
func ValidTableName(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkTable(table string) error {
	if !ValidTableName(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

// DatabaseConfig selects and configures a backend
type DatabaseConfig struct {
	UseLocalDB  bool
	DataDir     string
	MySQLDSN    string
	PostgresDSN string
	Debug       bool
}

// NewDatabase builds the backend described by config.
// Order: file store when UseLocalDB, then MySQL, then PostgreSQL.
func NewDatabase(config DatabaseConfig) (Store, error) {
	log := logger.Default().Named("database")

	if config.UseLocalDB || (config.MySQLDSN == "" && config.PostgresDSN == "") {
		log.Info("using JSON file database", "data_dir", config.DataDir)
		store, err := NewLocalDatabase(config.DataDir)
		if err != nil {
			return nil, err
		}
		if err := store.InitializeDatabase(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	}

	var (
		store *SQLDatabase
		err   error
	)
	if config.MySQLDSN != "" {
		log.Info("using MySQL database")
		store, err = NewMySQLDatabase(config.MySQLDSN)
	} else {
		log.Info("using PostgreSQL database")
		store, err = NewPostgresDatabase(config.PostgresDSN)
	}
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}
