package genie

import (
	"strconv"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// sqliteRecursive is SQLITE_RECURSIVE, which go-sqlite3 does not export.
const sqliteRecursive = 33

// tableAuthorizer is a SQLite authorizer that permits SELECT statements reading
// from a fixed set of tables and denies everything else. Denied actions are
// recorded so the caller can report them.
type tableAuthorizer struct {
	tables map[string]struct{}
	// ctes are common table expression names of the query being prepared.
	// SQLite reports reads of them only when no column is extracted.
	ctes map[string]struct{}

	mu     sync.Mutex
	denied []string
}

func newTableAuthorizer(tables []string, query string) *tableAuthorizer {
	a := &tableAuthorizer{tables: map[string]struct{}{}, ctes: map[string]struct{}{}}
	for _, t := range tables {
		a.tables[strings.ToLower(t)] = struct{}{}
	}
	for _, m := range cteName.FindAllStringSubmatch(query, -1) {
		a.ctes[strings.ToLower(m[1])] = struct{}{}
	}
	return a
}

func (a *tableAuthorizer) authorize(op int, arg1, arg2, _ string) int {
	switch op {
	case sqlite3.SQLITE_SELECT, sqlite3.SQLITE_FUNCTION, sqliteRecursive:
		return sqlite3.SQLITE_OK
	case sqlite3.SQLITE_READ:
		name := strings.ToLower(arg1)
		if _, ok := a.tables[name]; ok {
			return sqlite3.SQLITE_OK
		}
		if _, ok := a.ctes[name]; ok && arg2 == "" {
			return sqlite3.SQLITE_OK
		}
		a.deny("table " + arg1)
		return sqlite3.SQLITE_DENY
	default:
		a.deny("action " + actionName(op))
		return sqlite3.SQLITE_DENY
	}
}

func (a *tableAuthorizer) deny(what string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.denied = append(a.denied, what)
}

// Denied returns the first denied access, if any.
func (a *tableAuthorizer) Denied() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.denied) == 0 {
		return "", false
	}
	return a.denied[0], true
}

func actionName(op int) string {
	switch op {
	case sqlite3.SQLITE_INSERT:
		return "INSERT"
	case sqlite3.SQLITE_UPDATE:
		return "UPDATE"
	case sqlite3.SQLITE_DELETE:
		return "DELETE"
	case sqlite3.SQLITE_PRAGMA:
		return "PRAGMA"
	case sqlite3.SQLITE_TRANSACTION, sqlite3.SQLITE_SAVEPOINT:
		return "TRANSACTION"
	case sqlite3.SQLITE_ATTACH, sqlite3.SQLITE_DETACH:
		return "ATTACH"
	default:
		return "code " + strconv.Itoa(op)
	}
}

// setAuthorizer installs fn on the SQLite connection behind conn. A nil fn
// removes the authorizer.
func setAuthorizer(conn *sqlx.Conn, fn func(int, string, string, string) int) error {
	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*sqlite3.SQLiteConn)
		if !ok {
			return errors.Errorf("genie needs a sqlite3 connection, got %T", dc)
		}
		sc.RegisterAuthorizer(fn)
		return nil
	})
}
