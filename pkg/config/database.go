package config

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Database engines
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgresql"
)

// DatabaseSettings holds the resolved database target
type DatabaseSettings struct {
	Engine          string
	URL             string
	SQLitePath      string
	MaxOpenConns    int
	BackupAllowCopy bool
	Postgres        PostgresSettings
}

// PostgresSettings are the discrete postgres fields used to assemble a URL
type PostgresSettings struct {
	Host     string
	Port     int
	User     string
	Password string
	DB       string
	SSLMode  string
	Options  string
}

func loadDatabaseSettings(r *reader, mode ExecutionMode, root string) DatabaseSettings {
	d := DatabaseSettings{
		URL:             r.str("database_url"),
		SQLitePath:      r.str("sqlite_path"),
		MaxOpenConns:    r.integer("database_max_open_conns"),
		BackupAllowCopy: r.boolean("sqlite_backup_allow_copy"),
		Postgres: PostgresSettings{
			Host:     r.str("postgres_host"),
			Port:     r.integer("postgres_port"),
			User:     r.str("postgres_user"),
			Password: r.str("postgres_password"),
			DB:       r.str("postgres_db"),
			SSLMode:  r.str("postgres_sslmode"),
			Options:  r.str("postgres_options"),
		},
	}

	engine := r.oneOf("database_engine", EngineSQLite, EnginePostgres, "postgres")
	if engine == "postgres" {
		engine = EnginePostgres
	}
	hasPGCredentials := d.Postgres.User != "" && d.Postgres.Password != ""
	switch {
	case strings.HasPrefix(d.URL, "postgres://"), strings.HasPrefix(d.URL, "postgresql://"):
		engine = EnginePostgres
	case strings.HasPrefix(d.URL, "sqlite:"):
		engine = EngineSQLite
	case !r.isSet("database_engine") && hasPGCredentials:
		engine = EnginePostgres
	}
	d.Engine = engine

	switch engine {
	case EnginePostgres:
		if d.URL == "" {
			u, err := BuildPostgresURL(d.Postgres)
			if err != nil {
				r.fail(err)
			}
			d.URL = u
		}
	case EngineSQLite:
		if d.SQLitePath == "" && strings.HasPrefix(d.URL, "sqlite:") {
			d.SQLitePath = sqlitePathFromURL(d.URL)
		}
		if d.SQLitePath == "" {
			if mode == ModeDocker {
				d.SQLitePath = "/data/student_management.db"
			} else {
				d.SQLitePath = filepath.Join(root, "data", "student_management.db")
			}
		}
		if d.SQLitePath == ":memory:" {
			d.URL = "sqlite://:memory:"
			break
		}
		if !filepath.IsAbs(d.SQLitePath) {
			d.SQLitePath = filepath.Join(root, d.SQLitePath)
		}
		d.SQLitePath = filepath.Clean(d.SQLitePath)
		d.URL = "sqlite:///" + filepath.ToSlash(d.SQLitePath)
	}
	return d
}

// BuildPostgresURL assembles a connection URL with URL-encoded credentials
func BuildPostgresURL(pg PostgresSettings) (string, error) {
	if pg.Host == "" || pg.DB == "" {
		return "", fmt.Errorf("POSTGRES_HOST and POSTGRES_DB are required for the postgresql engine")
	}
	if pg.User == "" {
		return "", fmt.Errorf("POSTGRES_USER is required for the postgresql engine")
	}

	port := pg.Port
	if port == 0 {
		port = 5432
	}

	query := url.Values{}
	if pg.Options != "" {
		extra, err := url.ParseQuery(strings.TrimPrefix(pg.Options, "?"))
		if err != nil {
			return "", fmt.Errorf("invalid POSTGRES_OPTIONS: %w", err)
		}
		for k, vs := range extra {
			for _, v := range vs {
				query.Add(k, v)
			}
		}
	}
	if pg.SSLMode != "" {
		query.Set("sslmode", pg.SSLMode)
	}

	u := url.URL{
		Scheme:   "postgresql",
		Host:     net.JoinHostPort(pg.Host, strconv.Itoa(port)),
		Path:     "/" + pg.DB,
		RawQuery: query.Encode(),
	}
	if pg.Password != "" {
		u.User = url.UserPassword(pg.User, pg.Password)
	} else {
		u.User = url.User(pg.User)
	}
	return u.String(), nil
}

func sqlitePathFromURL(raw string) string {
	// sqlite:///relative.db and sqlite:////abs/path.db
	path := strings.TrimPrefix(raw, "sqlite:")
	path = strings.TrimPrefix(path, "//")
	if strings.HasPrefix(path, "//") {
		return path[1:]
	}
	return strings.TrimPrefix(path, "/")
}

// AllowedSQLiteRoots returns the directories a SQLite file may live in
func AllowedSQLiteRoots(mode ExecutionMode, projectRoot string) []string {
	roots := []string{filepath.Clean(projectRoot)}
	if mode == ModeDocker {
		roots = append(roots, "/data")
	}
	return roots
}

// validate rejects SQLite paths outside the allowed roots
func (d DatabaseSettings) validate(mode ExecutionMode, projectRoot string) error {
	switch d.Engine {
	case EnginePostgres:
		if d.URL == "" {
			return fmt.Errorf("DATABASE_URL could not be determined for the postgresql engine")
		}
		return nil
	case EngineSQLite:
		if d.SQLitePath == ":memory:" {
			return nil
		}
		for _, root := range AllowedSQLiteRoots(mode, projectRoot) {
			if withinRoot(root, d.SQLitePath) {
				return nil
			}
		}
		return fmt.Errorf("SQLite path %s is outside the allowed directories (%s)",
			d.SQLitePath, strings.Join(AllowedSQLiteRoots(mode, projectRoot), ", "))
	}
	return fmt.Errorf("unsupported DATABASE_ENGINE %q", d.Engine)
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
