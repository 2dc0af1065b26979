package roster

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/httputil"
	"github.com/platinummonkey/sms/pkg/storage"
)

// Permissions used by the roster routes
const (
	PermissionStudentsRead   = "students.read"
	PermissionStudentsCreate = "students.create"
	PermissionStudentsUpdate = "students.update"
	PermissionStudentsDelete = "students.delete"
	PermissionCoursesRead    = "courses.read"
	PermissionCoursesCreate  = "courses.create"
	PermissionExports        = "exports.generate"

	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handlers provides HTTP handlers for students, courses, enrollments and
// exports
type Handlers struct {
	svc   *Service
	audit *audit.Service
}

// NewHandlers creates new roster handlers
func NewHandlers(svc *Service, auditSvc *audit.Service) *Handlers {
	return &Handlers{svc: svc, audit: auditSvc}
}

// RegisterRoutes registers roster routes on the /api/v1 subrouter. List
// and create routes answer with and without the trailing slash.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	for _, p := range []string{"/students", "/students/"} {
		router.Handle(p, guard.Protect(PermissionStudentsRead, h.listStudents)).Methods(http.MethodGet)
		router.Handle(p, guard.Protect(PermissionStudentsCreate, h.createStudent)).Methods(http.MethodPost)
	}
	router.Handle("/students/{id:[0-9]+}", guard.Protect(PermissionStudentsRead, h.getStudent)).Methods(http.MethodGet)
	router.Handle("/students/{id:[0-9]+}", guard.Protect(PermissionStudentsDelete, h.deleteStudent)).Methods(http.MethodDelete)

	for _, p := range []string{"/courses", "/courses/"} {
		router.Handle(p, guard.Protect(PermissionCoursesRead, h.listCourses)).Methods(http.MethodGet)
		router.Handle(p, guard.Protect(PermissionCoursesCreate, h.createCourse)).Methods(http.MethodPost)
	}
	router.Handle("/courses/{id:[0-9]+}", guard.Protect(PermissionCoursesRead, h.getCourse)).Methods(http.MethodGet)

	router.Handle("/enrollments", guard.Protect(PermissionStudentsUpdate, h.enroll)).Methods(http.MethodPost)

	router.Handle("/exports/students", guard.Protect(PermissionExports, h.exportStudents)).Methods(http.MethodPost)
	router.Handle("/exports/{filename}", guard.Protect(PermissionExports, h.downloadExport)).Methods(http.MethodGet)
}

func (h *Handlers) listStudents(w http.ResponseWriter, r *http.Request) {
	params, err := httputil.ParsePageParams(r, defaultPageSize, maxPageSize)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	total, err := h.svc.Store().CountStudents(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	students, err := h.svc.Store().ListStudents(r.Context(), params.Skip, params.Limit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, httputil.NewPage(students, total, params))
}

func (h *Handlers) createStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateStudentRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	st, err := h.svc.CreateStudent(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionCreate,
		Resource:   audit.ResourceStudent,
		ResourceID: strconv.FormatInt(st.ID, 10),
		Details:    map[string]interface{}{"student_id": st.StudentID},
		Success:    true,
	})
	_ = httputil.WriteCreated(w, st)
}

func (h *Handlers) getStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	st, err := h.svc.Store().GetStudent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, st)
}

func (h *Handlers) deleteStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.Store().SoftDeleteStudent(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionDelete,
		Resource:   audit.ResourceStudent,
		ResourceID: strconv.FormatInt(id, 10),
		Success:    true,
	})
	httputil.WriteNoContent(w)
}

func (h *Handlers) listCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.svc.Store().ListCourses(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, courses)
}

func (h *Handlers) createCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCourse(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionCreate,
		Resource:   audit.ResourceCourse,
		ResourceID: strconv.FormatInt(c.ID, 10),
		Details:    map[string]interface{}{"course_code": c.CourseCode},
		Success:    true,
	})
	_ = httputil.WriteCreated(w, c)
}

func (h *Handlers) getCourse(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	c, err := h.svc.Store().GetCourse(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, c)
}

// enroll handles POST /enrollments. A new or reactivated enrollment answers
// 201; an existing one answers 200 with the same row.
func (h *Handlers) enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	e, created, err := h.svc.Enroll(r.Context(), r, req.StudentID, req.CourseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if created {
		_ = httputil.WriteCreated(w, e)
		return
	}
	_ = httputil.WriteSuccess(w, e)
}

func (h *Handlers) exportStudents(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ExportStudents(r.Context(), r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, res)
}

func (h *Handlers) downloadExport(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	body, err := h.svc.OpenExport(r.Context(), filename)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, mapError(err))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrStudentNotFound):
		return httputil.NotFound(httputil.CodeStudentNotFound, "errors.student_not_found").Wrap(err)
	case errors.Is(err, ErrStudentConflict):
		return httputil.Conflict(httputil.CodeStudentConflict, "errors.student_conflict").Wrap(err)
	case errors.Is(err, ErrCourseNotFound):
		return httputil.NotFound(httputil.CodeCourseNotFound, "errors.course_not_found").Wrap(err)
	case errors.Is(err, ErrCourseConflict):
		return httputil.Conflict(httputil.HTTPCode(http.StatusConflict), "errors.course_conflict").Wrap(err)
	case errors.Is(err, storage.ErrNotFound):
		return httputil.NotFound(httputil.HTTPCode(http.StatusNotFound), "errors.export_not_found").Wrap(err)
	}
	return err
}
