package nbsim

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// object is a stored record body: scalar fields as written, references as
// integer IDs, tags as a list of tag IDs.
type object map[string]any

type record struct {
	ID   int
	Kind string
	Data object
}

// naturalKey is one uniqueness claim an object makes. Key is what is stored;
// Field and message describe the violation the way NetBox reports it.
type naturalKey struct {
	Key     string
	Field   string
	message func(owner int) string
}

// keyConflict lists the natural keys of a write that other objects already
// hold, with the holder of each.
type keyConflict struct {
	keys   []naturalKey
	owners []int
}

func (e *keyConflict) Error() string {
	return fmt.Sprintf("natural key %q held by object %d", e.keys[0].Key, e.owners[0])
}

// fields renders the conflict as NetBox field errors.
func (e *keyConflict) fields() map[string][]string {
	out := map[string][]string{}
	for i, k := range e.keys {
		out[k.Field] = append(out[k.Field], k.message(e.owners[i]))
	}
	return out
}

var errNoObject = errors.New("no such object")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type store struct {
	db *sql.DB
}

func (s *store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *store) insert(ctx context.Context, q querier, kind string, data object, keys []naturalKey) (int, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", kind, err)
	}
	res, err := q.ExecContext(ctx, "INSERT INTO objects (kind, data) VALUES (?, ?)", kind, string(body))
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", kind, err)
	}
	id64, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", kind, err)
	}
	id := int(id64)
	if err := s.claimKeys(ctx, q, kind, id, keys); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *store) update(ctx context.Context, q querier, rec *record, keys []naturalKey) error {
	body, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.Kind, err)
	}
	if _, err := q.ExecContext(ctx, "UPDATE objects SET data = ? WHERE id = ?", string(body), rec.ID); err != nil {
		return fmt.Errorf("update %s %d: %w", rec.Kind, rec.ID, err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM natural_keys WHERE object_id = ?", rec.ID); err != nil {
		return fmt.Errorf("update %s %d: %w", rec.Kind, rec.ID, err)
	}
	return s.claimKeys(ctx, q, rec.Kind, rec.ID, keys)
}

// claimKeys records keys for object id. Every key is tried so a conflict
// reports all taken keys, not just the first.
func (s *store) claimKeys(ctx context.Context, q querier, kind string, id int, keys []naturalKey) error {
	var conflict *keyConflict
	for _, k := range keys {
		_, err := q.ExecContext(ctx, "INSERT INTO natural_keys (kind, key, object_id) VALUES (?, ?, ?)", kind, k.Key, id)
		if err == nil {
			continue
		}
		if !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("claim key %q: %w", k.Key, err)
		}
		owner, _, lerr := s.keyOwner(ctx, q, kind, k.Key)
		if lerr != nil {
			return lerr
		}
		if conflict == nil {
			conflict = &keyConflict{}
		}
		conflict.keys = append(conflict.keys, k)
		conflict.owners = append(conflict.owners, owner)
	}
	if conflict != nil {
		return conflict
	}
	return nil
}

func (s *store) keyOwner(ctx context.Context, q querier, kind, key string) (int, bool, error) {
	var id int
	err := q.QueryRowContext(ctx, "SELECT object_id FROM natural_keys WHERE kind = ? AND key = ?", kind, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup key %q: %w", key, err)
	}
	return id, true, nil
}

func (s *store) get(ctx context.Context, q querier, id int) (*record, error) {
	var kind, body string
	err := q.QueryRowContext(ctx, "SELECT kind, data FROM objects WHERE id = ?", id).Scan(&kind, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoObject
	}
	if err != nil {
		return nil, fmt.Errorf("get object %d: %w", id, err)
	}
	data, err := decodeObject([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("decode object %d: %w", id, err)
	}
	return &record{ID: id, Kind: kind, Data: data}, nil
}

// getKind is get restricted to one kind.
func (s *store) getKind(ctx context.Context, q querier, kind string, id int) (*record, error) {
	rec, err := s.get(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != kind {
		return nil, errNoObject
	}
	return rec, nil
}

func (s *store) list(ctx context.Context, q querier, kind string) ([]record, error) {
	rows, err := q.QueryContext(ctx, "SELECT id, data FROM objects WHERE kind = ? ORDER BY id", kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var out []record
	for rows.Next() {
		var id int
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		data, err := decodeObject([]byte(body))
		if err != nil {
			return nil, fmt.Errorf("decode %s %d: %w", kind, id, err)
		}
		out = append(out, record{ID: id, Kind: kind, Data: data})
	}
	return out, rows.Err()
}

// countWhere counts objects of kind whose top-level JSON field equals value.
func (s *store) countWhere(ctx context.Context, q querier, kind string, match map[string]any) (int, error) {
	query := "SELECT COUNT(*) FROM objects WHERE kind = ?"
	args := []any{kind}
	for field, value := range match {
		query += " AND json_extract(data, ?) = ?"
		args = append(args, "$."+field, value)
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

func decodeObject(data []byte) (object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var o object
	if err := dec.Decode(&o); err != nil {
		return nil, err
	}
	return o, nil
}

// intOf reads an integer ID or number out of a decoded JSON value.
func intOf(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}

// text renders a scalar for key building and filter comparison.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}
