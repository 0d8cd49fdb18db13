package genie

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsafeQuery is returned for generated SQL that is not a single read-only
// query over the allowed tables.
var ErrUnsafeQuery = errors.New("unsafe query")

var (
	fencePattern   = regexp.MustCompile("(?s)```(?:sql)?\\s*(.*?)```")
	stringLiteral  = regexp.MustCompile(`'(?:[^']|'')*'`)
	tableReference = regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z_][A-Za-z0-9_\.]*)`)
	cteName        = regexp.MustCompile(`(?i)(?:\bwith\s+(?:recursive\s+)?|,\s*)([A-Za-z_][A-Za-z0-9_]*)\s+as\s*\(`)
	systemTable    = regexp.MustCompile(`(?i)\bsqlite_[A-Za-z0-9_]*`)
	forbidden      = regexp.MustCompile(`(?i)\b(insert|update|delete|drop|alter|create|attach|detach|pragma|vacuum|reindex)\b|\breplace\s+into\b`)
)

// ExtractSQL pulls the query out of a model answer, accepting fenced code blocks.
func ExtractSQL(answer string) string {
	if m := fencePattern.FindStringSubmatch(answer); m != nil {
		answer = m[1]
	}
	return strings.TrimSpace(answer)
}

// CheckQuery accepts a single SELECT (or WITH ... SELECT) statement that only
// reads from allowed tables and returns it without a trailing semicolon. It is
// a fast lexical check; the engine enforces the table list again when SQLite
// prepares the statement.
func CheckQuery(query string, allowed []string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	q = strings.TrimSpace(q)
	if q == "" {
		return "", errors.Wrap(ErrUnsafeQuery, "empty query")
	}

	// literals may legitimately contain keywords and semicolons
	stripped := stringLiteral.ReplaceAllString(q, "''")
	if strings.Contains(stripped, ";") {
		return "", errors.Wrap(ErrUnsafeQuery, "multiple statements")
	}
	lower := strings.ToLower(stripped)
	if !strings.HasPrefix(lower, "select") && !strings.HasPrefix(lower, "with") {
		return "", errors.Wrap(ErrUnsafeQuery, "only SELECT queries are allowed")
	}
	if m := forbidden.FindString(stripped); m != "" {
		return "", errors.Wrapf(ErrUnsafeQuery, "keyword %s is not allowed", strings.ToUpper(m))
	}

	if m := systemTable.FindString(stripped); m != "" {
		return "", errors.Wrapf(ErrUnsafeQuery, "table %s is not available", m)
	}

	allow := map[string]struct{}{}
	for _, t := range allowed {
		allow[strings.ToLower(t)] = struct{}{}
	}
	for _, m := range cteName.FindAllStringSubmatch(stripped, -1) {
		allow[strings.ToLower(m[1])] = struct{}{}
	}
	for _, m := range tableReference.FindAllStringSubmatch(stripped, -1) {
		name := strings.ToLower(m[1])
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if _, ok := allow[name]; !ok {
			return "", errors.Wrapf(ErrUnsafeQuery, "table %s is not available", m[1])
		}
	}
	return q, nil
}
