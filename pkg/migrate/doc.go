// Package migrate applies the embedded schema revisions.
//
// Revisions form a graph where each revision names the revision it builds
// on. The applied heads are stored one per row in the alembic_version
// table, which keeps the schema state compatible with databases created by
// earlier deployments of the service.
//
// Run is what startup uses: it upgrades to the single head, falls back to
// all heads when the graph has branched, and treats errors that mean the
// database is already at or past the target as success.
package migrate
