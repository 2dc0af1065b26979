package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrBackupUnsupported is returned for engines without a built-in backup path
var ErrBackupUnsupported = errors.New("backup is only supported for sqlite databases")

// BackupSQLite writes a consistent snapshot of the database to dest using
// VACUUM INTO. When that fails and allowCopy is set, the database file is
// copied instead; the copy may be inconsistent while writers are active.
func BackupSQLite(ctx context.Context, db *DB, dest string, allowCopy bool) error {
	if db.Dialect() != DialectSQLite {
		return ErrBackupUnsupported
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("backup target %s already exists", dest)
	}

	_, err := db.ExecContext(ctx, "VACUUM INTO $1", dest)
	if err == nil {
		return nil
	}
	if !allowCopy {
		return fmt.Errorf("sqlite backup failed: %w", err)
	}

	src := db.SQLitePath()
	if src == "" || src == ":memory:" {
		return fmt.Errorf("sqlite backup failed and no database file to copy: %w", err)
	}
	if copyErr := copyFile(src, dest); copyErr != nil {
		return fmt.Errorf("sqlite backup copy fallback failed: %w", copyErr)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
