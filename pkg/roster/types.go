package roster

import (
	"errors"
	"time"
)

// Student is an enrolled person. Deleted students keep their row with
// DeletedAt set.
type Student struct {
	ID        int64      `json:"id"`
	StudentID string     `json:"student_id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Email     *string    `json:"email"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Course is a taught course
type Course struct {
	ID         int64     `json:"id"`
	CourseCode string    `json:"course_code"`
	CourseName string    `json:"course_name"`
	Semester   string    `json:"semester"`
	Credits    int       `json:"credits"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Enrollment links a student to a course. There is at most one row per
// pair; unenrolling soft deletes it and enrolling again reactivates it.
type Enrollment struct {
	ID         int64      `json:"id"`
	StudentID  int64      `json:"student_id"`
	CourseID   int64      `json:"course_id"`
	EnrolledAt time.Time  `json:"enrolled_at"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// CreateStudentRequest is the body of POST /students/
type CreateStudentRequest struct {
	StudentID string  `json:"student_id" validate:"required,max=50"`
	FirstName string  `json:"first_name" validate:"required,max=100"`
	LastName  string  `json:"last_name" validate:"required,max=100"`
	Email     *string `json:"email" validate:"omitempty,email"`
}

// CreateCourseRequest is the body of POST /courses/
type CreateCourseRequest struct {
	CourseCode string `json:"course_code" validate:"required,max=50"`
	CourseName string `json:"course_name" validate:"required,max=200"`
	Semester   string `json:"semester" validate:"max=50"`
	Credits    int    `json:"credits" validate:"gte=0,lte=60"`
}

// EnrollRequest is the body of POST /enrollments
type EnrollRequest struct {
	StudentID int64 `json:"student_id" validate:"required,gt=0"`
	CourseID  int64 `json:"course_id" validate:"required,gt=0"`
}

// ExportResult describes a generated export file
type ExportResult struct {
	Filename string `json:"filename"`
	Rows     int    `json:"rows"`
}

var (
	ErrStudentNotFound = errors.New("student not found")
	ErrStudentConflict = errors.New("student already exists")
	ErrCourseNotFound  = errors.New("course not found")
	ErrCourseConflict  = errors.New("course already exists")
)
