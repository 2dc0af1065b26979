package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/storage"
)

//go:embed migrations
var migrationFS embed.FS

const versionTable = "alembic_version"

// Revisions is the schema history of the service
var Revisions = []Revision{
	{ID: "0001_users_tokens"},
	{ID: "0002_rbac", DownRevision: "0001_users_tokens"},
	{ID: "0003_audit_logs", DownRevision: "0002_rbac"},
	{ID: "0004_roster", DownRevision: "0003_audit_logs"},
}

// Runner applies revisions to a database
type Runner struct {
	db     *storage.DB
	graph  *Graph
	logger logrus.FieldLogger
}

// Option configures a Runner
type Option func(*Runner)

// WithGraph replaces the built-in revision graph
func WithGraph(g *Graph) Option {
	return func(r *Runner) {
		r.graph = g
	}
}

// New creates a runner over the built-in revisions
func New(db *storage.DB, logger logrus.FieldLogger, opts ...Option) (*Runner, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	graph, err := NewGraph(Revisions)
	if err != nil {
		return nil, err
	}
	r := &Runner{db: db, graph: graph, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run upgrades to head, falling back to heads, and absorbs benign errors
func (r *Runner) Run(ctx context.Context) error {
	err := r.Upgrade(ctx, "head")
	if errors.Is(err, ErrMultipleHeads) {
		r.logger.Info("multiple migration heads present, upgrading to heads")
		err = r.Upgrade(ctx, "heads")
	}
	if err != nil && IsBenign(err) {
		r.logger.WithError(err).Info("database already at or past the target revision")
		return nil
	}
	return err
}

// Upgrade applies every revision needed to reach target. target is "head",
// "heads" or a revision id.
func (r *Runner) Upgrade(ctx context.Context, target string) error {
	targets, err := r.resolve(target)
	if err != nil {
		return err
	}
	if err := r.ensureVersionTable(ctx); err != nil {
		return err
	}

	current, err := r.versions(ctx)
	if err != nil {
		return err
	}
	applied := make(map[string]bool)
	for _, v := range current {
		path, err := r.graph.Path(v)
		if err != nil {
			return err
		}
		for _, rev := range path {
			applied[rev.ID] = true
		}
	}

	for _, t := range targets {
		path, err := r.graph.Path(t)
		if err != nil {
			return err
		}
		for _, rev := range path {
			if applied[rev.ID] {
				continue
			}
			start := time.Now()
			if err := r.apply(ctx, rev); err != nil {
				return fmt.Errorf("apply revision %s: %w", rev.ID, err)
			}
			applied[rev.ID] = true
			r.logger.WithFields(logrus.Fields{
				"revision":    rev.ID,
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("applied migration")
		}
	}
	return nil
}

// CurrentRevision returns the applied heads joined by commas, or an empty
// string when the database has never been migrated.
func (r *Runner) CurrentRevision(ctx context.Context) (string, error) {
	versions, err := r.versions(ctx)
	if err != nil {
		if storage.IsMissingTable(err) {
			return "", nil
		}
		return "", err
	}
	return strings.Join(versions, ","), nil
}

func (r *Runner) resolve(target string) ([]string, error) {
	switch target {
	case "head":
		heads := r.graph.Heads()
		if len(heads) > 1 {
			return nil, ErrMultipleHeads
		}
		return heads, nil
	case "heads":
		return r.graph.Heads(), nil
	default:
		if !r.graph.Has(target) {
			return nil, unknownRevision(target)
		}
		return []string{target}, nil
	}
}

func (r *Runner) ensureVersionTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS alembic_version (
		version_num VARCHAR(32) NOT NULL PRIMARY KEY
	)`)
	if err != nil {
		return fmt.Errorf("create %s: %w", versionTable, err)
	}
	return nil
}

func (r *Runner) versions(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT version_num FROM alembic_version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	sort.Strings(out)
	return out, rows.Err()
}

func (r *Runner) apply(ctx context.Context, rev Revision) error {
	body, err := r.sqlFor(rev)
	if err != nil {
		return err
	}
	return storage.WithTx(ctx, r.db, func(tx *storage.Tx) error {
		for _, stmt := range splitStatements(body) {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if rev.DownRevision != "" {
			if _, err := tx.ExecContext(ctx, "DELETE FROM alembic_version WHERE version_num = $1", rev.DownRevision); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO alembic_version (version_num) VALUES ($1)", rev.ID)
		return err
	})
}

func (r *Runner) sqlFor(rev Revision) (string, error) {
	dialect := string(r.db.Dialect())
	if body, ok := rev.SQL[dialect]; ok {
		return body, nil
	}
	data, err := migrationFS.ReadFile("migrations/" + dialect + "/" + rev.ID + ".sql")
	if err != nil {
		return "", fmt.Errorf("no %s migration for revision %s: %w", dialect, rev.ID, err)
	}
	return string(data), nil
}

// splitStatements splits SQL on semicolons outside single-quoted strings
func splitStatements(sql string) []string {
	var stmts []string
	var current strings.Builder
	inString := false
	for _, r := range sql {
		current.WriteRune(r)
		switch r {
		case '\'':
			inString = !inString
		case ';':
			if !inString {
				stmts = append(stmts, current.String())
				current.Reset()
			}
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		stmts = append(stmts, current.String())
	}
	return stmts
}

var benignFragments = []string{
	"already exists",
	"duplicate column",
	"index already exists",
	"table already exists",
	"can't locate revision identified",
	"no such revision or branch",
}

// IsBenign reports whether err means the schema is already at or past the
// requested state.
func IsBenign(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range benignFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
