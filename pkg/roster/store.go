package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/sms/pkg/storage"
)

const studentColumns = `id, student_id, first_name, last_name, email, is_active, created_at, updated_at, deleted_at`

// Store persists students, courses and enrollments
type Store struct {
	q storage.Querier
}

// NewStore creates a store on q
func NewStore(q storage.Querier) *Store {
	return &Store{q: q}
}

// With returns a store bound to q, typically a transaction
func (s *Store) With(q storage.Querier) *Store {
	return &Store{q: q}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanStudent(row rowScanner) (*Student, error) {
	var (
		st      Student
		email   sql.NullString
		deleted sql.NullTime
	)
	err := row.Scan(&st.ID, &st.StudentID, &st.FirstName, &st.LastName, &email,
		&st.IsActive, &st.CreatedAt, &st.UpdatedAt, &deleted)
	if err != nil {
		return nil, err
	}
	if email.Valid {
		st.Email = &email.String
	}
	if deleted.Valid {
		st.DeletedAt = &deleted.Time
	}
	return &st, nil
}

// CreateStudent inserts st and sets its ID and timestamps
func (s *Store) CreateStudent(ctx context.Context, st *Student) error {
	now := time.Now().UTC()
	st.CreatedAt, st.UpdatedAt, st.IsActive = now, now, true

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO students (student_id, first_name, last_name, email, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, st.StudentID, st.FirstName, st.LastName, st.Email, st.IsActive, now, now).Scan(&st.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrStudentConflict
		}
		return fmt.Errorf("failed to create student: %w", err)
	}
	return nil
}

// GetStudent returns a student that has not been deleted
func (s *Store) GetStudent(ctx context.Context, id int64) (*Student, error) {
	return s.getStudent(ctx, id, "")
}

// LockStudent is GetStudent taking a row lock where the dialect has them
func (s *Store) LockStudent(ctx context.Context, id int64) (*Student, error) {
	return s.getStudent(ctx, id, s.q.Dialect().ForUpdate())
}

func (s *Store) getStudent(ctx context.Context, id int64, suffix string) (*Student, error) {
	row := s.q.QueryRowContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE id = $1 AND deleted_at IS NULL"+suffix, id)
	st, err := scanStudent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStudentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student: %w", err)
	}
	return st, nil
}

// ListStudents returns a page of live students ordered by id
func (s *Store) ListStudents(ctx context.Context, skip, limit int) ([]Student, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE deleted_at IS NULL ORDER BY id LIMIT $1 OFFSET $2",
		limit, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	students := []Student{}
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, *st)
	}
	return students, rows.Err()
}

// CountStudents counts live students
func (s *Store) CountStudents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM students WHERE deleted_at IS NULL").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count students: %w", err)
	}
	return n, nil
}

// SoftDeleteStudent marks a student deleted and inactive
func (s *Store) SoftDeleteStudent(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		"UPDATE students SET deleted_at = $1, is_active = $2, updated_at = $1 WHERE id = $3 AND deleted_at IS NULL",
		now, false, id)
	if err != nil {
		return fmt.Errorf("failed to delete student: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// CreateCourse inserts c and sets its ID and timestamps
func (s *Store) CreateCourse(ctx context.Context, c *Course) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	err := s.q.QueryRowContext(ctx, `
		INSERT INTO courses (course_code, course_name, semester, credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, c.CourseCode, c.CourseName, c.Semester, c.Credits, now, now).Scan(&c.ID)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return ErrCourseConflict
		}
		return fmt.Errorf("failed to create course: %w", err)
	}
	return nil
}

// GetCourse returns a course that has not been deleted
func (s *Store) GetCourse(ctx context.Context, id int64) (*Course, error) {
	var c Course
	err := s.q.QueryRowContext(ctx, `
		SELECT id, course_code, course_name, semester, credits, created_at, updated_at
		FROM courses WHERE id = $1 AND deleted_at IS NULL
	`, id).Scan(&c.ID, &c.CourseCode, &c.CourseName, &c.Semester, &c.Credits, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &c, nil
}

// ListCourses returns all live courses ordered by code
func (s *Store) ListCourses(ctx context.Context) ([]Course, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, course_code, course_name, semester, credits, created_at, updated_at
		FROM courses WHERE deleted_at IS NULL ORDER BY course_code
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}
	defer rows.Close()

	courses := []Course{}
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.CourseCode, &c.CourseName, &c.Semester, &c.Credits, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// FindEnrollment returns the enrollment row for a pair, deleted or not,
// taking a row lock where the dialect has them. It returns nil when there
// is no row.
func (s *Store) FindEnrollment(ctx context.Context, studentID, courseID int64) (*Enrollment, error) {
	var (
		e       Enrollment
		deleted sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, enrolled_at, created_at, updated_at, deleted_at
		FROM enrollments WHERE student_id = $1 AND course_id = $2`+s.q.Dialect().ForUpdate(),
		studentID, courseID,
	).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.EnrolledAt, &e.CreatedAt, &e.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	if deleted.Valid {
		e.DeletedAt = &deleted.Time
	}
	return &e, nil
}

// InsertEnrollment creates a new enrollment row
func (s *Store) InsertEnrollment(ctx context.Context, e *Enrollment) error {
	now := time.Now().UTC()
	e.EnrolledAt, e.CreatedAt, e.UpdatedAt = now, now, now
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO enrollments (student_id, course_id, enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.StudentID, e.CourseID, now, now, now).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

// ReactivateEnrollment clears the deletion mark of an enrollment
func (s *Store) ReactivateEnrollment(ctx context.Context, e *Enrollment) error {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		"UPDATE enrollments SET deleted_at = NULL, enrolled_at = $1, updated_at = $1 WHERE id = $2", now, e.ID)
	if err != nil {
		return fmt.Errorf("failed to reactivate enrollment: %w", err)
	}
	e.DeletedAt = nil
	e.EnrolledAt, e.UpdatedAt = now, now
	return nil
}

// EachStudent calls fn for every live student ordered by id
func (s *Store) EachStudent(ctx context.Context, fn func(*Student) error) error {
	rows, err := s.q.QueryContext(ctx,
		"SELECT "+studentColumns+" FROM students WHERE deleted_at IS NULL ORDER BY id")
	if err != nil {
		return fmt.Errorf("failed to read students: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return fmt.Errorf("failed to scan student: %w", err)
		}
		if err := fn(st); err != nil {
			return err
		}
	}
	return rows.Err()
}
