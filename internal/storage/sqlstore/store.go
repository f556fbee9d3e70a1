// Package sqlstore implements repository.DocumentStore on a relational
// database. Each collection is a table of (id, data) rows where data holds
// the JSON document; queries compile to JSON path expressions so filters,
// ordering and paging run in the database.
package sqlstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"warden/internal/storage/codec"
	"warden/internal/storage/query"
	"warden/internal/storage/repository"
	"warden/pkg/platform/sentinel"
	"warden/pkg/platform/tx"
)

var tablePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Store is a table-backed DocumentStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// New binds a store to table, which must already exist (see the migrate
// package).
func New(db *sql.DB, dialect Dialect, table string) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: db is required")
	}
	if dialect != Postgres && dialect != SQLite {
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", dialect)
	}
	if !tablePattern.MatchString(table) {
		return nil, fmt.Errorf("sqlstore: invalid table name %q", table)
	}
	return &Store{db: db, dialect: dialect, table: `"` + table + `"`}, nil
}

func (s *Store) Backend() string { return string(s.dialect) }

func (s *Store) newCompiler() *compiler {
	return &compiler{dialect: s.dialect}
}

func (s *Store) upsertSQL(c *compiler, id string, data []byte) string {
	return `INSERT INTO ` + s.table + ` (id, data) VALUES (` + c.arg(id) + `, ` + s.jsonArg(c, data) + `)
		ON CONFLICT (id) DO UPDATE SET data = excluded.data`
}

// jsonArg binds data as a JSON value in the store's dialect.
func (s *Store) jsonArg(c *compiler, data []byte) string {
	if s.dialect == Postgres {
		return c.arg(string(data)) + "::jsonb"
	}
	return "json(" + c.arg(string(data)) + ")"
}

func (s *Store) Upsert(ctx context.Context, id string, doc codec.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	c := s.newCompiler()
	if _, err := tx.Exec(ctx, s.db).ExecContext(ctx, s.upsertSQL(c, id, data), c.args...); err != nil {
		return fmt.Errorf("upsert document %s: %w", id, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (codec.Document, error) {
	c := s.newCompiler()
	var data []byte
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT data FROM `+s.table+` WHERE id = `+c.arg(id), c.args...).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return decode(data)
}

func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	c := s.newCompiler()
	res, err := tx.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM `+s.table+` WHERE id = `+c.arg(id), c.args...)
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete document %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	c := s.newCompiler()
	var ok bool
	err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM `+s.table+` WHERE id = `+c.arg(id)+`)`, c.args...).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check document %s: %w", id, err)
	}
	return ok, nil
}

func (s *Store) Find(ctx context.Context, spec query.Spec) ([]query.Item, error) {
	if spec.Limit == 0 {
		return []query.Item{}, nil
	}
	stmt, args, err := s.selectSQL(spec)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Exec(ctx, s.db).QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("find documents: %w", err)
	}
	defer rows.Close()

	var out []query.Item
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", id, err)
		}
		out = append(out, query.Item{ID: id, Doc: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	if out == nil {
		out = []query.Item{}
	}
	return out, nil
}

// selectSQL compiles spec into a SELECT statement.
func (s *Store) selectSQL(spec query.Spec) (string, []any, error) {
	c := s.newCompiler()
	where, err := c.filter(spec.Filter)
	if err != nil {
		return "", nil, err
	}
	stmt := `SELECT id, data FROM ` + s.table + ` WHERE ` + where + c.orderBy(spec.Sorts, spec.Kinds) + c.page(spec.Skip, spec.Limit)
	return stmt, c.args, nil
}

func (s *Store) Count(ctx context.Context, spec query.Spec) (int64, error) {
	c := s.newCompiler()
	where, err := c.filter(spec.Filter)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Exec(ctx, s.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM `+s.table+` WHERE `+where, c.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// Apply runs the batch in one transaction.
func (s *Store) Apply(ctx context.Context, ops []repository.Op) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		for _, op := range ops {
			if err := s.applyOne(ctx, op); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) applyOne(ctx context.Context, op repository.Op) error {
	exec := tx.Exec(ctx, s.db)
	switch op.Kind {
	case repository.OpUpsert:
		return s.Upsert(ctx, op.ID, op.Doc)
	case repository.OpDelete:
		_, err := s.Delete(ctx, op.ID)
		return err
	case repository.OpInsert:
		data, err := json.Marshal(op.Doc)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", op.ID, err)
		}
		c := s.newCompiler()
		stmt := `INSERT INTO ` + s.table + ` (id, data) VALUES (` + c.arg(op.ID) + `, ` + s.jsonArg(c, data) + `)`
		if _, err := exec.ExecContext(ctx, stmt, c.args...); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("insert document %s: %w", op.ID, sentinel.ErrConflict)
			}
			return fmt.Errorf("insert document %s: %w", op.ID, err)
		}
		return nil
	case repository.OpUpdate:
		data, err := json.Marshal(op.Doc)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", op.ID, err)
		}
		c := s.newCompiler()
		stmt := `UPDATE ` + s.table + ` SET data = ` + s.jsonArg(c, data) + ` WHERE id = ` + c.arg(op.ID)
		res, err := exec.ExecContext(ctx, stmt, c.args...)
		if err != nil {
			return fmt.Errorf("update document %s: %w", op.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update document %s: %w", op.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("update document %s: %w", op.ID, sentinel.ErrNotFound)
		}
		return nil
	}
	return fmt.Errorf("unknown batch operation %q", op.Kind)
}

// isUniqueViolation recognizes primary-key conflicts from every supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func decode(data []byte) (codec.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return codec.Normalize(raw)
}
