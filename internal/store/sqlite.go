package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
)

// Timestamps toggles automatic createdAt/updatedAt population on domain
// rows. Both default to off.
type Timestamps struct {
	CreatedAt bool
	UpdatedAt bool
}

const (
	colCreatedAt = "createdAt"
	colUpdatedAt = "updatedAt"
)

// SQLite is the production adapter. One table per registered schema key;
// WAL mode with a single writer, matching SQLite's concurrency model.
type SQLite struct {
	db         *sql.DB
	defs       map[string]schema.Definition
	timestamps Timestamps
}

// Open creates or opens a SQLite database at path.
//
// The database is configured with WAL journaling, NORMAL synchronous mode,
// a 5-second busy timeout, and foreign key enforcement. The connection
// pool is capped at one writer to avoid SQLITE_BUSY storms.
func Open(path string, ts Timestamps) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{
		db:         db,
		defs:       make(map[string]schema.Definition),
		timestamps: ts,
	}, nil
}

// Close closes the underlying connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func quoteIdent(name string) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

// RegisterSchema creates the backing table for a schema key if it does not
// exist. The id column comes from the definition's own "id" property when
// declared as a string (caller-assigned keys, used by the audit trail) and
// is an autoincrement integer otherwise.
func (s *SQLite) RegisterSchema(key string, def schema.Definition) error {
	table, err := quoteIdent(key)
	if err != nil {
		return fmt.Errorf("register schema: %w", err)
	}

	cols := []string{}
	if p, ok := def.Properties["id"]; ok && p.Type == schema.TypeString {
		cols = append(cols, `"id" TEXT PRIMARY KEY`)
	} else {
		cols = append(cols, `"id" INTEGER PRIMARY KEY AUTOINCREMENT`)
	}

	names := make([]string, 0, len(def.Properties))
	for name := range def.Properties {
		if name != "id" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		col, err := quoteIdent(name)
		if err != nil {
			return fmt.Errorf("register schema %q: %w", key, err)
		}
		cols = append(cols, col+" "+columnType(def.Properties[name].Type))
	}
	if s.timestamps.CreatedAt {
		cols = append(cols, `"`+colCreatedAt+`" TEXT`)
	}
	if s.timestamps.UpdatedAt {
		cols = append(cols, `"`+colUpdatedAt+`" TEXT`)
	}

	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(cols, ", "))
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("register schema %q: %w", key, err)
	}

	s.defs[key] = def
	return nil
}

func columnType(t schema.FieldType) string {
	switch t {
	case schema.TypeInteger, schema.TypeBoolean:
		return "INTEGER"
	default:
		// Strings as-is, objects and free-form JSON serialized.
		return "TEXT"
	}
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Commit() error   { return t.tx.Commit() }
func (t *sqliteTx) Rollback() error { return t.tx.Rollback() }

// Begin opens a transaction against the base connection.
func (s *SQLite) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// IsTransientError classifies SQLite lock contention as retryable.
func (s *SQLite) IsTransientError(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLite) ex(tx Tx) execer {
	if t, ok := tx.(*sqliteTx); ok && t != nil {
		return t.tx
	}
	return s.db
}

func (s *SQLite) def(key string) (schema.Definition, error) {
	def, ok := s.defs[key]
	if !ok {
		return schema.Definition{}, &schema.NotRegisteredError{Key: key}
	}
	return def, nil
}

// Insert persists values and returns the stored row.
func (s *SQLite) Insert(ctx context.Context, key string, values mutation.Instance, tx Tx) (mutation.Instance, error) {
	def, err := s.def(key)
	if err != nil {
		return nil, err
	}
	table, _ := quoteIdent(key)

	toWrite := values.Clone()
	now := time.Now().UTC().Format(time.RFC3339)
	if s.timestamps.CreatedAt {
		toWrite[colCreatedAt] = now
	}
	if s.timestamps.UpdatedAt {
		toWrite[colUpdatedAt] = now
	}

	cols, params, args, err := s.columnArgs(def, toWrite)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", key, err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("insert into %s: no writable fields", key)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(params, ", "))
	res, err := s.ex(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", key, err)
	}

	// Caller-assigned string ids are read back by value; integer ids by
	// the rowid the driver reports.
	if id, ok := toWrite["id"]; ok {
		return s.FindOne(ctx, key, mutation.Instance{"id": id}, tx)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert into %s: %w", key, err)
	}
	return s.FindOne(ctx, key, mutation.Instance{"id": id}, tx)
}

// Update applies a diff to the row with the given id and returns it.
func (s *SQLite) Update(ctx context.Context, key string, id any, diff mutation.Instance, tx Tx) (mutation.Instance, error) {
	def, err := s.def(key)
	if err != nil {
		return nil, err
	}
	table, _ := quoteIdent(key)

	toWrite := diff.Clone()
	delete(toWrite, "id")
	if s.timestamps.UpdatedAt {
		toWrite[colUpdatedAt] = time.Now().UTC().Format(time.RFC3339)
	}

	cols, _, args, err := s.columnArgs(def, toWrite)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
	if len(cols) == 0 {
		return s.FindOne(ctx, key, mutation.Instance{"id": id}, tx)
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = col + " = ?"
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE \"id\" = ?", table, strings.Join(sets, ", "))
	res, err := s.ex(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", key, err)
	}
	if affected == 0 {
		return nil, &NotFoundError{SchemaKey: key, Filter: mutation.Instance{"id": id}}
	}

	return s.FindOne(ctx, key, mutation.Instance{"id": id}, tx)
}

// Upsert updates the single row matching filter, inserting filter∪diff
// when nothing matches.
func (s *SQLite) Upsert(ctx context.Context, key string, filter, diff mutation.Instance, tx Tx) (mutation.Instance, error) {
	existing, err := s.FindOne(ctx, key, filter, tx)
	if err != nil {
		if IsNotFound(err) {
			return s.Insert(ctx, key, mutation.Merge(filter, diff), tx)
		}
		return nil, err
	}
	return s.Update(ctx, key, existing["id"], diff, tx)
}

// FindOne returns the single row matching the filter.
func (s *SQLite) FindOne(ctx context.Context, key string, filter mutation.Instance, tx Tx) (mutation.Instance, error) {
	rows, err := s.Find(ctx, key, filter, tx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{SchemaKey: key, Filter: filter}
	}
	return rows[0], nil
}

// Find returns every row matching the field-equality filter, in insertion
// order.
func (s *SQLite) Find(ctx context.Context, key string, filter mutation.Instance, tx Tx) ([]mutation.Instance, error) {
	def, err := s.def(key)
	if err != nil {
		return nil, err
	}
	table, _ := quoteIdent(key)

	where := ""
	args := []any{}
	if len(filter) > 0 {
		names := make([]string, 0, len(filter))
		for name := range filter {
			names = append(names, name)
		}
		sort.Strings(names)

		conds := make([]string, 0, len(names))
		for _, name := range names {
			col, err := quoteIdent(name)
			if err != nil {
				return nil, fmt.Errorf("find in %s: %w", key, err)
			}
			prop := def.Properties[name]
			arg, err := encodeValue(filter[name], prop.Type)
			if err != nil {
				return nil, fmt.Errorf("find in %s: %w", key, err)
			}
			conds = append(conds, col+" = ?")
			args = append(args, arg)
		}
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY rowid", table, where)
	result, err := s.ex(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", key, err)
	}
	defer result.Close()

	cols, err := result.Columns()
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", key, err)
	}

	var instances []mutation.Instance
	for result.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := result.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("find in %s: %w", key, err)
		}
		instances = append(instances, decodeRow(def, cols, raw))
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("find in %s: %w", key, err)
	}
	return instances, nil
}

// columnArgs converts an instance into parallel column/placeholder/arg
// slices, dropping fields the definition does not know. Column order is
// sorted for deterministic SQL.
func (s *SQLite) columnArgs(def schema.Definition, values mutation.Instance) ([]string, []string, []any, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		if _, known := def.Properties[name]; known || name == colCreatedAt || name == colUpdatedAt {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	cols := make([]string, 0, len(names))
	params := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		col, err := quoteIdent(name)
		if err != nil {
			return nil, nil, nil, err
		}
		prop := def.Properties[name]
		arg, err := encodeValue(values[name], prop.Type)
		if err != nil {
			return nil, nil, nil, err
		}
		cols = append(cols, col)
		params = append(params, "?")
		args = append(args, arg)
	}
	return cols, params, args, nil
}

// encodeValue maps an instance field to its column representation.
// Objects and free-form JSON are stored as canonical JSON text.
func encodeValue(v any, t schema.FieldType) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case schema.TypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return int64(1), nil
			}
			return int64(0), nil
		}
		return v, nil
	case schema.TypeObject, schema.TypeJSON:
		b, err := mutation.MarshalCanonical(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

// decodeRow converts raw driver values back into an Instance using the
// schema's declared types. Unknown columns (timestamps) pass through.
func decodeRow(def schema.Definition, cols []string, raw []any) mutation.Instance {
	instance := make(mutation.Instance, len(cols))
	for i, col := range cols {
		v := raw[i]
		if v == nil {
			continue
		}
		prop, known := def.Properties[col]
		if !known && col == "id" {
			prop = schema.Property{Type: schema.TypeInteger}
			known = true
		}
		if !known {
			instance[col] = normalizeScalar(v)
			continue
		}
		switch prop.Type {
		case schema.TypeBoolean:
			if n, ok := v.(int64); ok {
				instance[col] = n != 0
			} else {
				instance[col] = v
			}
		case schema.TypeObject, schema.TypeJSON:
			instance[col] = decodeJSONColumn(v)
		default:
			instance[col] = normalizeScalar(v)
		}
	}
	return instance
}

func normalizeScalar(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func decodeJSONColumn(v any) any {
	var text string
	switch t := v.(type) {
	case string:
		text = t
	case []byte:
		text = string(t)
	default:
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return text
	}
	return decoded
}
