package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"teamboard-backend/pkg/logger"
	"teamboard-backend/pkg/models"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type dialect string

const (
	dialectMySQL    dialect = "mysql"
	dialectPostgres dialect = "postgres"
)

func (d dialect) quote(identifier string) string {
	if d == dialectMySQL {
		return "`" + identifier + "`"
	}
	return `"` + identifier + `"`
}

// SQLDatabase implements Store on MySQL or PostgreSQL through sqlx.
// Records map onto the columns declared in tableSchemas; unknown fields are
// dropped on write.
type SQLDatabase struct {
	db      *sqlx.DB
	dialect dialect
	log     *logger.Logger
	clock   *clock
}

// NewMySQLDatabase connects to MySQL. ClientFoundRows is forced so Update
// reports matched rows rather than changed rows.
func NewMySQLDatabase(dsn string) (*SQLDatabase, error) {
	cfg, err := mysql.ParseDSN(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	cfg.ClientFoundRows = true

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("%w: open mysql: %v", ErrStorageUnavailable, err)
	}
	return newSQLDatabase(db, dialectMySQL)
}

// NewPostgresDatabase connects to PostgreSQL
func NewPostgresDatabase(dsn string) (*SQLDatabase, error) {
	db, err := sqlx.Open("postgres", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %v", ErrStorageUnavailable, err)
	}
	return newSQLDatabase(db, dialectPostgres)
}

func newSQLDatabase(db *sqlx.DB, d dialect) (*SQLDatabase, error) {
	// pool sized for a small API process
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLDatabase{
		db:      db,
		dialect: d,
		log:     logger.Default().Named("sql-db"),
		clock:   newClock(),
	}
	if err := store.HealthCheck(); err != nil {
		db.Close()
		return nil, err
	}
	store.log.Info("database connection established", "dialect", string(d))
	return store, nil
}

// Migrate creates missing tables and seeds lookup tables when empty
func (s *SQLDatabase) Migrate(ctx context.Context) error {
	for _, table := range DefaultTables {
		ddl, err := s.dialect.createTableSQL(table)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: create %s: %v", ErrStorageUnavailable, table, err)
		}
	}

	seeds := map[string][]models.Record{
		models.TableTaskStatuses:   models.TaskStatusSeed,
		models.TableTaskPriorities: models.TaskPrioritySeed,
	}
	for table, seed := range seeds {
		existing, err := s.Select(ctx, table, nil, &SelectOptions{Limit: 1})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue
		}
		if err := s.Write(ctx, table, seed); err != nil {
			return err
		}
		s.log.Info("seeded table", "table", table, "rows", len(seed))
	}
	return nil
}

// Read returns every row ordered by id
func (s *SQLDatabase) Read(ctx context.Context, table string) ([]models.Record, error) {
	return s.Select(ctx, table, nil, nil)
}

// Write replaces the table content inside one transaction
func (s *SQLDatabase) Write(ctx context.Context, table string, records []models.Record) error {
	if err := checkTable(table); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return s.wrapError("begin", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.dialect.quote(table)); err != nil {
		return s.wrapError("clear", table, err)
	}
	for _, record := range records {
		columns, args := s.columnsFor(table, record, true)
		if len(columns) == 0 {
			continue
		}
		query := s.insertSQL(table, columns)
		if _, err := tx.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return s.wrapError("write", table, err)
		}
	}

	if s.dialect == dialectPostgres {
		// explicit ids do not advance the serial sequence
		resync := fmt.Sprintf(
			"SELECT setval(pg_get_serial_sequence('%s', 'id'), GREATEST(COALESCE(MAX(id), 0), 1), MAX(id) IS NOT NULL) FROM %s",
			table, s.dialect.quote(table))
		if _, err := tx.ExecContext(ctx, resync); err != nil {
			return s.wrapError("resync sequence", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.wrapError("commit", table, err)
	}
	return nil
}

// Select translates conditions into WHERE clauses; slice values become IN
func (s *SQLDatabase) Select(ctx context.Context, table string, conditions Conditions, opts *SelectOptions) ([]models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	where, args, err := s.whereClause(conditions, true)
	if err != nil {
		return nil, err
	}

	query := "SELECT * FROM " + s.dialect.quote(table) + where
	suffix, err := s.orderAndPage(opts)
	if err != nil {
		return nil, err
	}
	query += suffix

	if len(args) > 0 {
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
	}

	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, s.wrapError("select", table, err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, s.wrapError("scan", table, err)
		}
		records = append(records, s.toRecord(table, row))
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapError("select", table, err)
	}
	return records, nil
}

// Insert lets the database assign the id and returns the stored row
func (s *SQLDatabase) Insert(ctx context.Context, table string, fields models.Record) (models.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	record := fields.Clone()
	stamp := s.clock.stamp(time.Time{})
	record["created_at"] = stamp
	record["updated_at"] = stamp

	columns, args := s.columnsFor(table, record, false)
	query := s.insertSQL(table, columns)

	var id int64
	if s.dialect == dialectPostgres {
		err := s.db.QueryRowxContext(ctx, s.db.Rebind(query+" RETURNING id"), args...).Scan(&id)
		if err != nil {
			return nil, s.wrapError("insert", table, err)
		}
	} else {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, s.wrapError("insert", table, err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return nil, s.wrapError("insert", table, err)
		}
	}

	rows, err := s.Select(ctx, table, Conditions{"id": id}, nil)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: inserted %s row %d not found", ErrStorageUnavailable, table, id)
	}
	return rows[0], nil
}

// Update sets fields on rows equal on every condition and returns the match count
func (s *SQLDatabase) Update(ctx context.Context, table string, conditions Conditions, fields models.Record) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}

	record := fields.Clone()
	delete(record, "id")
	delete(record, "created_at")
	record["updated_at"] = s.clock.stamp(time.Time{})

	columns, setArgs := s.columnsFor(table, record, false)
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = s.dialect.quote(c) + " = ?"
	}

	where, whereArgs, err := s.whereClause(conditions, false)
	if err != nil {
		return 0, err
	}

	query := "UPDATE " + s.dialect.quote(table) + " SET " + strings.Join(sets, ", ") + where
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), append(setArgs, whereArgs...)...)
	if err != nil {
		return 0, s.wrapError("update", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, s.wrapError("update", table, err)
	}
	return int(affected), nil
}

// Delete removes rows equal on every condition
func (s *SQLDatabase) Delete(ctx context.Context, table string, conditions Conditions) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}

	where, args, err := s.whereClause(conditions, false)
	if err != nil {
		return 0, err
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind("DELETE FROM "+s.dialect.quote(table)+where), args...)
	if err != nil {
		return 0, s.wrapError("delete", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, s.wrapError("delete", table, err)
	}
	return int(affected), nil
}

// HealthCheck pings the database
func (s *SQLDatabase) HealthCheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping %s: %v", ErrStorageUnavailable, s.dialect, err)
	}
	return nil
}

// Close releases the connection pool
func (s *SQLDatabase) Close() error {
	return s.db.Close()
}

// whereClause builds " WHERE ..." with ? placeholders. When membership is
// false slice values are compared for equality like the file store does,
// which never matches a scalar column.
func (s *SQLDatabase) whereClause(conditions Conditions, membership bool) (string, []interface{}, error) {
	if len(conditions) == 0 {
		return "", nil, nil
	}

	fields := sortedKeys(conditions)
	clauses := make([]string, 0, len(fields))
	args := make([]interface{}, 0, len(fields))
	for _, field := range fields {
		if !identifierPattern.MatchString(field) {
			return "", nil, fmt.Errorf("%w: condition field %q", ErrInvalidQuery, field)
		}
		column := s.dialect.quote(field)
		value := conditions[field]

		if items, ok := sliceValues(value); ok {
			if !membership || len(items) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			normalized := make([]interface{}, len(items))
			for i, item := range items {
				normalized[i] = normalizeArg(item)
			}
			clauses = append(clauses, column+" IN (?)")
			args = append(args, normalized)
			continue
		}
		if value == nil {
			clauses = append(clauses, column+" IS NULL")
			continue
		}
		clauses = append(clauses, column+" = ?")
		args = append(args, normalizeArg(value))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (s *SQLDatabase) orderAndPage(opts *SelectOptions) (string, error) {
	if opts == nil {
		return " ORDER BY " + s.dialect.quote("id"), nil
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return "", fmt.Errorf("%w: negative limit or offset", ErrInvalidQuery)
	}

	var b strings.Builder
	if opts.OrderBy != "" {
		field, desc, err := parseOrderBy(opts.OrderBy)
		if err != nil {
			return "", err
		}
		direction := "ASC"
		if desc {
			direction = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s, %s", s.dialect.quote(field), direction, s.dialect.quote("id"))
	} else {
		b.WriteString(" ORDER BY " + s.dialect.quote("id"))
	}

	switch {
	case opts.Limit > 0:
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", opts.Limit, opts.Offset)
	case opts.Offset > 0 && s.dialect == dialectMySQL:
		// MySQL has no OFFSET without LIMIT
		fmt.Fprintf(&b, " LIMIT 18446744073709551615 OFFSET %d", opts.Offset)
	case opts.Offset > 0:
		fmt.Fprintf(&b, " OFFSET %d", opts.Offset)
	}
	return b.String(), nil
}

func (s *SQLDatabase) insertSQL(table string, columns []string) string {
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.quote(c)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

// columnsFor keeps the record fields that are columns of table, in schema order
func (s *SQLDatabase) columnsFor(table string, record models.Record, withID bool) ([]string, []interface{}) {
	schema := tableSchemas[table]
	columns := make([]string, 0, len(record))
	args := make([]interface{}, 0, len(record))
	for _, c := range schema {
		if c.kind == kindID && !withID {
			continue
		}
		value, ok := record[c.name]
		if !ok {
			continue
		}
		columns = append(columns, c.name)
		args = append(args, normalizeArg(value))
	}
	if len(columns) < len(record) {
		s.log.Debug("dropping fields without a column", "table", table, "fields", len(record), "columns", len(columns))
	}
	return columns, args
}

// toRecord converts driver values using the column kinds of table
func (s *SQLDatabase) toRecord(table string, row map[string]interface{}) models.Record {
	kinds := make(map[string]columnKind)
	for _, c := range tableSchemas[table] {
		kinds[c.name] = c.kind
	}

	record := make(models.Record, len(row))
	for name, value := range row {
		if b, ok := value.([]byte); ok {
			value = string(b)
		}
		if value == nil {
			record[name] = nil
			continue
		}
		switch kinds[name] {
		case kindID, kindInt, kindBigInt:
			if n, ok := models.ToInt64(value); ok {
				value = n
			}
		case kindBool:
			value = models.Record{"v": value}.Bool("v")
		}
		record[name] = value
	}
	return record
}

func sortedKeys(conditions Conditions) []string {
	keys := make([]string, 0, len(conditions))
	for k := range conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func normalizeArg(v interface{}) interface{} {
	switch value := v.(type) {
	case json.Number:
		if n, err := value.Int64(); err == nil {
			return n
		}
		if f, err := value.Float64(); err == nil {
			return f
		}
		return value.String()
	case map[string]interface{}, []interface{}:
		data, err := json.Marshal(value)
		if err != nil {
			return nil
		}
		return string(data)
	}
	return v
}

// wrapError maps driver errors onto the store sentinels
func (s *SQLDatabase) wrapError(op, table string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062:
			return fmt.Errorf("%w: %s: %s", ErrDuplicate, table, mysqlErr.Message)
		case 1054, 1146:
			return fmt.Errorf("%w: %s %s: %s", ErrInvalidQuery, op, table, mysqlErr.Message)
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s: %s", ErrDuplicate, table, pqErr.Message)
		case "42703", "42P01":
			return fmt.Errorf("%w: %s %s: %s", ErrInvalidQuery, op, table, pqErr.Message)
		}
	}

	s.log.Error("database operation failed", "op", op, "table", table, "error", err)
	return fmt.Errorf("%w: %s %s: %v", ErrStorageUnavailable, op, table, err)
}
