// Package sqlfuncs holds the customer service tables and the read-only SQL
// functions agents call as tools.
package sqlfuncs

import (
	"context"
	_ "embed"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const schema = `
CREATE TABLE IF NOT EXISTS cust_service_data (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	date_time         TEXT NOT NULL,
	name              TEXT NOT NULL,
	issue_category    TEXT NOT NULL,
	issue_description TEXT NOT NULL,
	resolution        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS cust_service_data_name ON cust_service_data(name);
CREATE TABLE IF NOT EXISTS policies (
	policy         TEXT PRIMARY KEY,
	policy_details TEXT NOT NULL,
	last_updated   TEXT NOT NULL
);
`

//go:embed fixtures/default.yaml
var defaultFixture []byte

// ServiceRequest is one row of cust_service_data.
type ServiceRequest struct {
	DateTime         string `db:"date_time" yaml:"date_time"`
	Name             string `db:"name" yaml:"name"`
	IssueCategory    string `db:"issue_category" yaml:"issue_category"`
	IssueDescription string `db:"issue_description" yaml:"issue_description"`
	Resolution       string `db:"resolution" yaml:"resolution"`
}

type Policy struct {
	Policy        string `db:"policy" json:"policy" yaml:"policy"`
	PolicyDetails string `db:"policy_details" json:"policy_details" yaml:"policy_details"`
	LastUpdated   string `db:"last_updated" json:"last_updated" yaml:"last_updated"`
}

// Fixture is the YAML seed format.
type Fixture struct {
	Requests []ServiceRequest `yaml:"cust_service_data"`
	Policies []Policy         `yaml:"policies"`
}

// Store wraps the SQLite database holding the customer service tables.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path. ":memory:" is allowed.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping database %s", path)
	}
	return &Store{db: db}, nil
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "migrate schema")
}

// LoadFixture reads a fixture file. An empty path returns the bundled sample data.
func LoadFixture(path string) (*Fixture, error) {
	data := defaultFixture
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read fixture %s", path)
		}
		data = b
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "decode fixture")
	}
	return &f, nil
}

// Seed replaces the table contents with the fixture rows.
func (s *Store) Seed(ctx context.Context, f *Fixture) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin seed")
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM cust_service_data`, `DELETE FROM policies`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "clear tables")
		}
	}
	for _, r := range f.Requests {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO cust_service_data (date_time, name, issue_category, issue_description, resolution)
			 VALUES (:date_time, :name, :issue_category, :issue_description, :resolution)`, r)
		if err != nil {
			return errors.Wrap(err, "insert service request")
		}
	}
	for _, p := range f.Policies {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO policies (policy, policy_details, last_updated) VALUES (:policy, :policy_details, :last_updated)`, p)
		if err != nil {
			return errors.Wrapf(err, "insert policy %s", p.Policy)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit seed")
	}
	log.Info().Int("requests", len(f.Requests)).Int("policies", len(f.Policies)).Msg("seeded database")
	return nil
}

// Interaction is the result row of get_latest_interaction.
type Interaction struct {
	PurchaseDate     string `db:"purchase_date" json:"purchase_date"`
	IssueCategory    string `db:"issue_category" json:"issue_category"`
	IssueDescription string `db:"issue_description" json:"issue_description"`
	Name             string `db:"name" json:"name"`
}

// LatestInteraction returns the most recent request, or an empty slice when
// the queue is empty.
func (s *Store) LatestInteraction(ctx context.Context) ([]Interaction, error) {
	rows := []Interaction{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT date(date_time) AS purchase_date, issue_category, issue_description, name
		FROM cust_service_data
		ORDER BY date_time DESC
		LIMIT 1`)
	return rows, errors.Wrap(err, "get_latest_interaction")
}

// ReturnPolicy returns the "Return Policy" row.
func (s *Store) ReturnPolicy(ctx context.Context) ([]Policy, error) {
	rows := []Policy{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT policy, policy_details, last_updated
		FROM policies
		WHERE policy = 'Return Policy'
		LIMIT 1`)
	return rows, errors.Wrap(err, "get_return_policy")
}

// RequestCount is one row of get_requests_history.
type RequestCount struct {
	Requests      int    `db:"requests" json:"requests"`
	IssueCategory string `db:"issue_category" json:"issue_category"`
}

// RequestsHistory counts a customer's requests per issue category.
func (s *Store) RequestsHistory(ctx context.Context, userName string) ([]RequestCount, error) {
	rows := []RequestCount{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT count(*) AS requests, issue_category
		FROM cust_service_data
		WHERE name = ?
		GROUP BY issue_category
		ORDER BY issue_category`, userName)
	return rows, errors.Wrap(err, "get_requests_history")
}
