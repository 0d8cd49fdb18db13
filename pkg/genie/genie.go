// Package genie answers natural language questions over the customer service
// tables by generating, checking and running read-only SQL.
package genie

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-go-golems/concierge/pkg/conversation"
	"github.com/go-go-golems/concierge/pkg/llm"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const sqlPrompt = `You translate questions about customer service data into SQLite queries.
Available tables:
%s
Write exactly one read-only SELECT statement that answers the question.
Answer with the SQL only, no explanation.`

const answerPrompt = `You answer questions about customer service data.
Use only the query result below. If it is empty, say that no matching data was found.
Question: %s
SQL: %s
Result (JSON rows): %s`

// Answer is the outcome of one question.
type Answer struct {
	Space    string           `json:"space"`
	Question string           `json:"question"`
	SQL      string           `json:"sql"`
	Rows     []map[string]any `json:"rows"`
	Text     string           `json:"text"`
}

// Space is a named set of tables. The engine only describes and reads the
// tables of its space.
type Space struct {
	ID     string
	Tables []string
}

type Engine struct {
	db      *sqlx.DB
	llm     llm.Engine
	space   Space
	maxRows int
}

type Option func(*Engine)

func WithMaxRows(n int) Option {
	return func(e *Engine) { e.maxRows = n }
}

func New(db *sqlx.DB, engine llm.Engine, space Space, opts ...Option) (*Engine, error) {
	if len(space.Tables) == 0 {
		return nil, errors.Errorf("genie space %q has no tables", space.ID)
	}
	e := &Engine{db: db, llm: engine, space: space, maxRows: 50}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Space() Space {
	return e.space
}

// Describe returns the CREATE statements of the allowed tables.
func (e *Engine) Describe(ctx context.Context) (string, error) {
	q, args, err := sqlx.In(`SELECT sql FROM sqlite_master WHERE type = 'table' AND name IN (?) ORDER BY name`, e.space.Tables)
	if err != nil {
		return "", errors.Wrap(err, "build schema query")
	}
	var stmts []string
	if err := e.db.SelectContext(ctx, &stmts, e.db.Rebind(q), args...); err != nil {
		return "", errors.Wrap(err, "read table schema")
	}
	if len(stmts) == 0 {
		return "", errors.Errorf("none of the tables %s exist", strings.Join(e.space.Tables, ", "))
	}
	return strings.Join(stmts, ";\n") + ";", nil
}

func (e *Engine) Ask(ctx context.Context, question string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}
	schema, err := e.Describe(ctx)
	if err != nil {
		return nil, err
	}

	msg, err := e.llm.Complete(ctx, conversation.Transcript{
		conversation.NewSystemMessage(fmt.Sprintf(sqlPrompt, schema)),
		conversation.NewUserMessage(question),
	}, nil, llm.WithToolChoice(llm.ToolChoiceNone))
	if err != nil {
		return nil, errors.Wrap(err, "generate sql")
	}
	query, err := CheckQuery(ExtractSQL(msg.Content), e.space.Tables)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("space", e.space.ID).Str("sql", query).Msg("genie generated query")

	rows, err := e.query(ctx, query)
	if err != nil {
		return nil, err
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return nil, errors.Wrap(err, "encode rows")
	}

	reply, err := e.llm.Complete(ctx, conversation.Transcript{
		conversation.NewSystemMessage(fmt.Sprintf(answerPrompt, question, query, rowsJSON)),
		conversation.NewUserMessage(question),
	}, nil, llm.WithToolChoice(llm.ToolChoiceNone))
	if err != nil {
		return nil, errors.Wrap(err, "phrase answer")
	}

	return &Answer{Space: e.space.ID, Question: question, SQL: query, Rows: rows, Text: strings.TrimSpace(reply.Content)}, nil
}

// query runs q on a dedicated connection whose authorizer only lets SQLite
// prepare reads of the space's tables.
func (e *Engine) query(ctx context.Context, q string) ([]map[string]any, error) {
	conn, err := e.db.Connx(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection")
	}
	defer func() { _ = conn.Close() }()

	auth := newTableAuthorizer(e.space.Tables, q)
	if err := setAuthorizer(conn, auth.authorize); err != nil {
		return nil, err
	}
	defer func() {
		if err := setAuthorizer(conn, nil); err != nil {
			log.Warn().Err(err).Msg("could not remove genie authorizer")
		}
	}()

	rs, err := conn.QueryxContext(ctx, q)
	if err != nil {
		if what, ok := auth.Denied(); ok {
			log.Warn().Str("space", e.space.ID).Str("sql", q).Str("denied", what).Msg("genie query rejected")
			return nil, errors.Wrapf(ErrUnsafeQuery, "%s is not available in space %s", what, e.space.ID)
		}
		return nil, errors.Wrap(err, "run generated sql")
	}
	defer func() { _ = rs.Close() }()

	out := []map[string]any{}
	for rs.Next() {
		if len(out) >= e.maxRows {
			break
		}
		row := map[string]any{}
		if err := rs.MapScan(row); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rs.Err(), "read rows")
}
