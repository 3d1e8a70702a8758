package database

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/models"

	"github.com/google/uuid"
)

const sequencesFile = "_sequences.json"

// LocalDatabase stores each table as a JSON array in <dataDir>/<table>.json.
//
// Every operation re-reads the table from disk. Mutations of one table are
// serialized by a per-table lock and files are replaced atomically, so
// concurrent requests in this process cannot lose each other's writes.
// Nothing coordinates separate processes sharing the directory.
type LocalDatabase struct {
	dataDir string
	log     *logger.Logger
	unique  map[string][]string

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex

	seqMu sync.Mutex
	clock *clock
}

// NewLocalDatabase opens (and creates) the data directory. When dataDir is
// not writable it falls back to a directory under os.TempDir().
func NewLocalDatabase(dataDir string) (*LocalDatabase, error) {
	log := logger.Default().Named("local-db")
	if dataDir == "" {
		dataDir = "./data"
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Warn("failed to create data directory, falling back to temp dir", "data_dir", dataDir, "error", err)
		dataDir = filepath.Join(os.TempDir(), "teamboard-data")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("%w: create data directory: %v", ErrStorageUnavailable, err)
		}
	}

	return &LocalDatabase{
		dataDir: dataDir,
		log:     log,
		unique:  UniqueKeys,
		locks:   make(map[string]*sync.RWMutex),
		clock:   newClock(),
	}, nil
}

// DataDir returns the directory holding the table files
func (db *LocalDatabase) DataDir() string {
	return db.dataDir
}

// InitializeDatabase creates missing table files and seeds lookup tables
func (db *LocalDatabase) InitializeDatabase(ctx context.Context) error {
	for _, table := range DefaultTables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(db.tablePath(table)); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("%w: stat %s: %v", ErrStorageUnavailable, table, err)
		}

		if err := db.Write(ctx, table, initialData(table)); err != nil {
			return err
		}
		db.log.Info("created table file", "table", table)
	}
	return nil
}

func initialData(table string) []models.Record {
	var seed []models.Record
	switch table {
	case models.TableTaskStatuses:
		seed = models.TaskStatusSeed
	case models.TableTaskPriorities:
		seed = models.TaskPrioritySeed
	}
	out := make([]models.Record, 0, len(seed))
	for _, r := range seed {
		out = append(out, r.Clone())
	}
	return out
}

// Read returns all records of a table. A table without a file is empty; a
// file that cannot be read or decoded is ErrStorageUnavailable.
func (db *LocalDatabase) Read(ctx context.Context, table string) ([]models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := db.tableLock(table)
	lock.RLock()
	defer lock.RUnlock()

	return db.readTable(table)
}

// Write replaces the table file
func (db *LocalDatabase) Write(ctx context.Context, table string, records []models.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	lock := db.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	return db.writeTable(table, records)
}

// Select filters, sorts and paginates a table
func (db *LocalDatabase) Select(ctx context.Context, table string, conditions Conditions, opts *SelectOptions) ([]models.Record, error) {
	records, err := db.Read(ctx, table)
	if err != nil {
		return nil, err
	}

	result := make([]models.Record, 0, len(records))
	for _, record := range records {
		if matchesSelect(record, conditions) {
			result = append(result, record)
		}
	}
	return applyOptions(result, opts)
}

// Insert appends a new record with a fresh id and timestamps
func (db *LocalDatabase) Insert(ctx context.Context, table string, fields models.Record) (models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := db.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	records, err := db.readTable(table)
	if err != nil {
		return nil, err
	}

	record := make(models.Record, len(fields)+3)
	for k, v := range fields {
		record[k] = v
	}
	if err := db.checkUnique(table, records, record, -1); err != nil {
		return nil, err
	}

	id, err := db.nextID(table, records)
	if err != nil {
		return nil, err
	}
	stamp := db.clock.stamp(time.Time{})
	record["id"] = id
	record["created_at"] = stamp
	record["updated_at"] = stamp

	records = append(records, record)
	if err := db.writeTable(table, records); err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Update merges fields into every record equal on all conditions
func (db *LocalDatabase) Update(ctx context.Context, table string, conditions Conditions, fields models.Record) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	lock := db.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	records, err := db.readTable(table)
	if err != nil {
		return 0, err
	}

	var matched []int
	var latest time.Time
	for i, record := range records {
		if !matchesExact(record, conditions) {
			continue
		}
		matched = append(matched, i)
		if prev, err := time.Parse(TimestampLayout, record.String("updated_at")); err == nil && prev.After(latest) {
			latest = prev
		}
	}
	if len(matched) == 0 {
		return 0, nil
	}

	stamp := db.clock.stamp(latest)
	for _, i := range matched {
		updated := records[i].Clone()
		for k, v := range fields {
			if k == "id" || k == "created_at" {
				continue
			}
			updated[k] = v
		}
		updated["updated_at"] = stamp
		if err := db.checkUnique(table, records, updated, i); err != nil {
			return 0, err
		}
		records[i] = updated
	}

	if err := db.writeTable(table, records); err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Delete removes every record equal on all conditions
func (db *LocalDatabase) Delete(ctx context.Context, table string, conditions Conditions) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	lock := db.tableLock(table)
	lock.Lock()
	defer lock.Unlock()

	records, err := db.readTable(table)
	if err != nil {
		return 0, err
	}

	kept := make([]models.Record, 0, len(records))
	for _, record := range records {
		if !matchesExact(record, conditions) {
			kept = append(kept, record)
		}
	}
	deleted := len(records) - len(kept)
	if deleted == 0 {
		return 0, nil
	}

	if err := db.writeTable(table, kept); err != nil {
		return 0, err
	}
	return deleted, nil
}

// HealthCheck verifies the data directory is accessible
func (db *LocalDatabase) HealthCheck() error {
	info, err := os.Stat(db.dataDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrStorageUnavailable, db.dataDir)
	}
	return nil
}

// Close is a no-op for the file store
func (db *LocalDatabase) Close() error {
	return nil
}

// private helpers

func (db *LocalDatabase) tablePath(table string) string {
	return filepath.Join(db.dataDir, table+".json")
}

func (db *LocalDatabase) tableLock(table string) *sync.RWMutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()

	lock, ok := db.locks[table]
	if !ok {
		lock = &sync.RWMutex{}
		db.locks[table] = lock
	}
	return lock
}

// readTable decodes numbers as json.Number so large Telegram ids survive
func (db *LocalDatabase) readTable(table string) ([]models.Record, error) {
	data, err := os.ReadFile(db.tablePath(table))
	if os.IsNotExist(err) {
		return []models.Record{}, nil
	}
	if err != nil {
		db.log.Error("failed to read table", "table", table, "error", err)
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorageUnavailable, table, err)
	}

	var records []models.Record
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.UseNumber()
		if err := decoder.Decode(&records); err != nil {
			db.log.Error("failed to decode table", "table", table, "error", err)
			return nil, fmt.Errorf("%w: decode %s: %v", ErrStorageUnavailable, table, err)
		}
	}
	if records == nil {
		records = []models.Record{}
	}
	return records, nil
}

// writeTable writes to a temp file and renames it over the table file
func (db *LocalDatabase) writeTable(table string, records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrInvalidQuery, table, err)
	}
	return db.replaceFile(db.tablePath(table), data)
}

func (db *LocalDatabase) replaceFile(path string, data []byte) error {
	tmp := filepath.Join(db.dataDir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.New().String()))
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		db.log.Error("failed to write temp file", "path", tmp, "error", err)
		return fmt.Errorf("%w: write %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		db.log.Error("failed to replace file", "path", path, "error", err)
		return fmt.Errorf("%w: rename %s: %v", ErrStorageUnavailable, filepath.Base(path), err)
	}
	return nil
}

// nextID returns max(last issued id, max id on disk) + 1 and persists it.
// The caller holds the table's write lock.
func (db *LocalDatabase) nextID(table string, records []models.Record) (int64, error) {
	db.seqMu.Lock()
	defer db.seqMu.Unlock()

	sequences, err := db.readSequences()
	if err != nil {
		return 0, err
	}

	last := sequences[table]
	for _, record := range records {
		if id := record.ID(); id > last {
			last = id
		}
	}
	next := last + 1
	sequences[table] = next

	data, err := json.MarshalIndent(sequences, "", "  ")
	if err != nil {
		return 0, err
	}
	if err := db.replaceFile(filepath.Join(db.dataDir, sequencesFile), data); err != nil {
		return 0, err
	}
	return next, nil
}

func (db *LocalDatabase) readSequences() (map[string]int64, error) {
	sequences := make(map[string]int64)
	data, err := os.ReadFile(filepath.Join(db.dataDir, sequencesFile))
	if os.IsNotExist(err) {
		return sequences, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read sequences: %v", ErrStorageUnavailable, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return sequences, nil
	}
	if err := json.Unmarshal(data, &sequences); err != nil {
		return nil, fmt.Errorf("%w: decode sequences: %v", ErrStorageUnavailable, err)
	}
	return sequences, nil
}

// checkUnique rejects candidate when a unique field collides with another
// record. skip is the index of the record being replaced, or -1.
func (db *LocalDatabase) checkUnique(table string, records []models.Record, candidate models.Record, skip int) error {
	for _, field := range db.unique[table] {
		value := candidate[field]
		if value == nil {
			continue
		}
		for i, record := range records {
			if i == skip {
				continue
			}
			if valuesEqual(record[field], value) {
				return fmt.Errorf("%w: %s.%s", ErrDuplicate, table, field)
			}
		}
	}
	return nil
}

// IsStorageError reports whether err came from the storage layer
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
