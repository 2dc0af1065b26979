// Package roster manages students, courses and enrollments and produces
// CSV exports of the student list.
//
// Students and enrollments are soft deleted. An enrollment is unique per
// student and course; enrolling again after an unenroll reactivates the
// existing row instead of inserting a new one. Enrollment locks the student
// row (SELECT ... FOR UPDATE on PostgreSQL) so concurrent requests for the
// same student serialize; SQLite serializes writers on its own.
//
// Exports are written to the configured object store under exports/ with a
// ULID in the name, and old exports are pruned by the scheduler.
package roster
