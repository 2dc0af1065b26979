package roster

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/storage"
)

// ExportPrefix is the object key prefix of generated exports
const ExportPrefix = "exports/"

var exportName = regexp.MustCompile(`^students_[0-9A-HJKMNP-TV-Z]{26}\.csv$`)

var exportHeader = []string{"id", "student_id", "first_name", "last_name", "email", "is_active", "created_at"}

// Service implements roster operations on top of Store
type Service struct {
	db      *storage.DB
	store   *Store
	objects storage.ObjectStore
	audit   *audit.Service
	logger  logrus.FieldLogger
	now     func() time.Time
}

// NewService creates a roster service. objects may be nil, in which case
// exports are unavailable.
func NewService(db *storage.DB, objects storage.ObjectStore, auditSvc *audit.Service, logger logrus.FieldLogger) *Service {
	return &Service{
		db:      db,
		store:   NewStore(db),
		objects: objects,
		audit:   auditSvc,
		logger:  logger,
		now:     time.Now,
	}
}

// Store returns the underlying store
func (s *Service) Store() *Store {
	return s.store
}

// CreateStudent registers a new student
func (s *Service) CreateStudent(ctx context.Context, req CreateStudentRequest) (*Student, error) {
	st := &Student{
		StudentID: strings.TrimSpace(req.StudentID),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		st.Email = &email
	}
	if err := s.store.CreateStudent(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// CreateCourse registers a new course
func (s *Service) CreateCourse(ctx context.Context, req CreateCourseRequest) (*Course, error) {
	c := &Course{
		CourseCode: strings.ToUpper(strings.TrimSpace(req.CourseCode)),
		CourseName: strings.TrimSpace(req.CourseName),
		Semester:   strings.TrimSpace(req.Semester),
		Credits:    req.Credits,
	}
	if err := s.store.CreateCourse(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Enroll enrolls a student in a course. Enrolling twice is a no-op and
// enrolling after an unenroll reactivates the old row. created reports
// whether the enrollment became active because of this call. The student
// row is locked for the duration so concurrent enrollments of the same
// student serialize.
func (s *Service) Enroll(ctx context.Context, r *http.Request, studentID, courseID int64) (e *Enrollment, created bool, err error) {
	err = storage.WithTx(ctx, s.db, func(tx *storage.Tx) error {
		store := s.store.With(tx)
		if _, err := store.LockStudent(ctx, studentID); err != nil {
			return err
		}
		if _, err := store.GetCourse(ctx, courseID); err != nil {
			return err
		}

		existing, err := store.FindEnrollment(ctx, studentID, courseID)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			e = &Enrollment{StudentID: studentID, CourseID: courseID}
			if err := store.InsertEnrollment(ctx, e); err != nil {
				return err
			}
			created = true
		case existing.DeletedAt != nil:
			if err := store.ReactivateEnrollment(ctx, existing); err != nil {
				return err
			}
			e, created = existing, true
		default:
			e = existing
			return nil
		}

		s.audit.LogTx(ctx, tx, r, audit.Entry{
			Action:     audit.ActionCreate,
			Resource:   audit.ResourceEnrollment,
			ResourceID: strconv.FormatInt(e.ID, 10),
			Details:    map[string]interface{}{"student_id": studentID, "course_id": courseID},
			Success:    true,
		})
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return e, created, nil
}

// ExportStudents writes every live student to a CSV object and records a
// BULK_EXPORT audit entry
func (s *Service) ExportStudents(ctx context.Context, r *http.Request) (*ExportResult, error) {
	if s.objects == nil {
		return nil, fmt.Errorf("export storage is not configured")
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	rows := 0
	err := s.store.EachStudent(ctx, func(st *Student) error {
		email := ""
		if st.Email != nil {
			email = *st.Email
		}
		rows++
		return w.Write([]string{
			strconv.FormatInt(st.ID, 10),
			st.StudentID,
			st.FirstName,
			st.LastName,
			email,
			strconv.FormatBool(st.IsActive),
			st.CreatedAt.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode export: %w", err)
	}

	filename := "students_" + ulid.MustNew(ulid.Timestamp(s.now()), rand.Reader).String() + ".csv"
	if err := s.objects.PutObject(ctx, ExportPrefix+filename, &buf, "text/csv"); err != nil {
		s.audit.Log(ctx, r, audit.Entry{
			Action:       audit.ActionBulkExport,
			Resource:     audit.ResourceExport,
			Details:      map[string]interface{}{"filename": filename},
			ErrorMessage: err.Error(),
		})
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	s.audit.Log(ctx, r, audit.Entry{
		Action:     audit.ActionBulkExport,
		Resource:   audit.ResourceExport,
		ResourceID: filename,
		Details:    map[string]interface{}{"filename": filename, "rows": rows, "entity": "students"},
		Success:    true,
	})
	s.logger.WithFields(logrus.Fields{"filename": filename, "rows": rows}).Info("student export generated")
	return &ExportResult{Filename: filename, Rows: rows}, nil
}

// OpenExport opens a previously generated export. Only names produced by
// ExportStudents are accepted.
func (s *Service) OpenExport(ctx context.Context, filename string) (io.ReadCloser, error) {
	if s.objects == nil || !exportName.MatchString(filename) {
		return nil, storage.ErrNotFound
	}
	return s.objects.GetObject(ctx, ExportPrefix+filename)
}
