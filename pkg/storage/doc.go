// Package storage provides database access and object storage for the
// student management service.
//
// # Database
//
// Open returns a *DB for the configured engine. SQLite is the default
// engine and is opened with foreign keys, WAL journaling, a busy timeout
// and immediate transaction locking. PostgreSQL is opened through lib/pq.
//
// All SQL in the service uses $N placeholders, which both drivers accept.
// Timestamps are passed as UTC arguments rather than computed by the
// database so both engines store the same values.
//
//	db, err := storage.Open(ctx, settings.Database, profiler)
//	err = storage.WithTx(ctx, db, func(tx *storage.Tx) error {
//		_, err := tx.ExecContext(ctx, "UPDATE users SET is_active = $1 WHERE id = $2", false, id)
//		return err
//	})
//
// Every statement executed through DB or Tx is reported to the registered
// QueryHooks with its duration and error.
//
// # Object storage
//
// ObjectStore abstracts where generated export files live. FileSystemStore
// writes below a root directory; S3Store writes to a bucket through the AWS
// SDK and works with MinIO via a custom endpoint and path-style addressing.
//
// # Backup
//
// BackupSQLite snapshots a SQLite database with VACUUM INTO. A plain file
// copy is used as a fallback only when explicitly allowed, because copying
// a live WAL database can produce an inconsistent snapshot.
package storage
