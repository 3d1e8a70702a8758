package database

import (
	"fmt"
	"strings"

	"teamboard-backend/pkg/models"
)

type columnKind int

const (
	kindID columnKind = iota
	kindInt
	kindBigInt
	kindString
	kindText
	kindBool
	kindStamp
)

type column struct {
	name     string
	kind     columnKind
	unique   bool
	notNull  bool
	defaultV string
}

// tableSchemas is the SQL layout of every known table. Timestamps are kept
// as ISO strings so both backends return the same values as the file store.
var tableSchemas = map[string][]column{
	models.TableTeams: {
		{name: "id", kind: kindID},
		{name: "name", kind: kindString, notNull: true},
		{name: "description", kind: kindText},
		{name: "owner_id", kind: kindInt},
		{name: "invite_code", kind: kindString, unique: true},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
	models.TableUsers: {
		{name: "id", kind: kindID},
		{name: "telegram_id", kind: kindBigInt, unique: true, notNull: true},
		{name: "username", kind: kindString},
		{name: "first_name", kind: kindString},
		{name: "last_name", kind: kindString},
		{name: "email", kind: kindString},
		{name: "phone", kind: kindString},
		{name: "position", kind: kindString},
		{name: "department", kind: kindString},
		{name: "company", kind: kindString},
		{name: "bio", kind: kindText},
		{name: "birthday", kind: kindString},
		{name: "avatar_url", kind: kindText},
		{name: "team_id", kind: kindInt},
		{name: "is_active", kind: kindBool, defaultV: "TRUE"},
		{name: "is_admin", kind: kindBool, defaultV: "FALSE"},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
	models.TableTaskStatuses: {
		{name: "id", kind: kindID},
		{name: "name", kind: kindString, notNull: true},
		{name: "color", kind: kindString},
		{name: "description", kind: kindText},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
	models.TableTaskPriorities: {
		{name: "id", kind: kindID},
		{name: "name", kind: kindString, notNull: true},
		{name: "color", kind: kindString},
		{name: "level", kind: kindInt},
		{name: "description", kind: kindText},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
	models.TableTasks: {
		{name: "id", kind: kindID},
		{name: "title", kind: kindString, notNull: true},
		{name: "description", kind: kindText},
		{name: "assigned_to", kind: kindInt},
		{name: "created_by", kind: kindInt, notNull: true},
		{name: "team_id", kind: kindInt},
		{name: "status_id", kind: kindInt, defaultV: "1"},
		{name: "priority_id", kind: kindInt, defaultV: "2"},
		{name: "due_date", kind: kindString},
		{name: "is_personal", kind: kindBool, defaultV: "FALSE"},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
	models.TableEmployeeNotes: {
		{name: "id", kind: kindID},
		{name: "employee_id", kind: kindInt, notNull: true},
		{name: "text", kind: kindText, notNull: true},
		{name: "created_by", kind: kindInt, notNull: true},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
	models.TableTaskComments: {
		{name: "id", kind: kindID},
		{name: "task_id", kind: kindInt, notNull: true},
		{name: "user_id", kind: kindInt, notNull: true},
		{name: "content", kind: kindText, notNull: true},
		{name: "created_at", kind: kindStamp},
		{name: "updated_at", kind: kindStamp},
	},
}

func (d dialect) columnType(c column) string {
	switch c.kind {
	case kindID:
		if d == dialectPostgres {
			return "BIGSERIAL PRIMARY KEY"
		}
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	case kindInt, kindBigInt:
		return "BIGINT"
	case kindString:
		return "VARCHAR(255)"
	case kindText:
		return "TEXT"
	case kindBool:
		return "BOOLEAN"
	case kindStamp:
		return "VARCHAR(32)"
	}
	return "TEXT"
}

// createTableSQL renders CREATE TABLE IF NOT EXISTS for a dialect
func (d dialect) createTableSQL(table string) (string, error) {
	columns, ok := tableSchemas[table]
	if !ok {
		return "", fmt.Errorf("%w: no schema for %q", ErrInvalidTable, table)
	}

	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		def := d.quote(c.name) + " " + d.columnType(c)
		if c.notNull {
			def += " NOT NULL"
		}
		if c.defaultV != "" {
			def += " DEFAULT " + c.defaultV
		}
		if c.unique {
			def += " UNIQUE"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", d.quote(table), strings.Join(defs, ",\n  ")), nil
}
