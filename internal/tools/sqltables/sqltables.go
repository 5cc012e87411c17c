// Package sqltables implements the describe_tables and run_sql tools over a notebook's
// Postgres schema.
package sqltables

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Tool names.
const (
	DescribeToolName = "describe_tables"
	RunSQLToolName   = "run_sql"
)

const (
	defaultMaxRows          = 200
	defaultStatementTimeout = 15 * time.Second
)

var nonIdent = regexp.MustCompile(`[^a-z0-9_]+`)

// maxReadable keeps schema names within Postgres' 63 byte identifier limit.
const maxReadable = 50

// SchemaFor maps a notebook id to its Postgres schema: "nb_", the lowercased id with every
// run of other characters replaced by "_", then "_" and the first 8 hex digits of the id's
// sha256. The suffix keeps ids that sanitize alike (nb-1, nb_1) in separate schemas.
func SchemaFor(notebookID string) string {
	readable := nonIdent.ReplaceAllString(strings.ToLower(notebookID), "_")
	if len(readable) > maxReadable {
		readable = readable[:maxReadable]
	}
	sum := sha256.Sum256([]byte(notebookID))
	return "nb_" + readable + "_" + hex.EncodeToString(sum[:4])
}

// Tables serves the SQL tools from one connection pool.
type Tables struct {
	db               *sql.DB
	maxRows          int
	statementTimeout time.Duration
	schemaFor        func(string) string
	roleFor          func(string) string
	logger           *zap.Logger
}

// Option configures Tables.
type Option func(*Tables)

// WithMaxRows caps the rows run_sql returns.
func WithMaxRows(n int) Option {
	return func(t *Tables) {
		if n > 0 {
			t.maxRows = n
		}
	}
}

// WithStatementTimeout sets the per-statement server-side timeout.
func WithStatementTimeout(d time.Duration) Option {
	return func(t *Tables) {
		if d > 0 {
			t.statementTimeout = d
		}
	}
}

// WithSchemaResolver overrides SchemaFor.
func WithSchemaResolver(fn func(notebookID string) string) Option {
	return func(t *Tables) {
		if fn != nil {
			t.schemaFor = fn
		}
	}
}

// WithRoleResolver makes run_sql switch to a per-notebook role for the statement with
// SET LOCAL ROLE. The role must only be granted its own schema.
func WithRoleResolver(fn func(notebookID string) string) Option {
	return func(t *Tables) {
		t.roleFor = fn
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tables) {
		if l != nil {
			t.logger = l
		}
	}
}

// New returns the SQL tool set.
func New(db *sql.DB, opts ...Option) *Tables {
	t := &Tables{
		db:               db,
		maxRows:          defaultMaxRows,
		statementTimeout: defaultStatementTimeout,
		schemaFor:        SchemaFor,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}
