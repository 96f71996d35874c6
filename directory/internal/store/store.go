// Package store is the directory's data access layer over SQLite.
//
// Lookups return (nil, nil) when the row does not exist. Writes that must be
// atomic per resource go through Tx (see Begin); batch maintenance writes go
// through dbopen.RunTx.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/GGPrompts/vibe4vets-sub003/idgen"
)

// Store wraps the directory database.
type Store struct {
	DB    *sql.DB
	NewID idgen.Generator
	Now   func() time.Time
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, NewID: idgen.Default, Now: time.Now}
}

func (s *Store) nowMs() int64 { return s.Now().UnixMilli() }

// psql is the statement builder; SQLite takes "?" placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeList(s string) []string {
	var out []string
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
