package audit

import (
	"context"
	"strings"
	"time"

	"github.com/platinummonkey/sms/pkg/contextkeys"
)

// Action is what happened
type Action string

const (
	ActionCreate           Action = "CREATE"
	ActionUpdate           Action = "UPDATE"
	ActionDelete           Action = "DELETE"
	ActionView             Action = "VIEW"
	ActionLogin            Action = "LOGIN"
	ActionLogout           Action = "LOGOUT"
	ActionLoginFailed      Action = "LOGIN_FAILED"
	ActionTokenRefresh     Action = "TOKEN_REFRESH"
	ActionPasswordChange   Action = "PASSWORD_CHANGE"
	ActionPasswordReset    Action = "PASSWORD_RESET"
	ActionPermissionGrant  Action = "PERMISSION_GRANT"
	ActionPermissionRevoke Action = "PERMISSION_REVOKE"
	ActionRoleAssign       Action = "ROLE_ASSIGN"
	ActionRoleRevoke       Action = "ROLE_REVOKE"
	ActionBulkImport       Action = "BULK_IMPORT"
	ActionBulkExport       Action = "BULK_EXPORT"
)

var actions = map[Action]bool{
	ActionCreate: true, ActionUpdate: true, ActionDelete: true, ActionView: true,
	ActionLogin: true, ActionLogout: true, ActionLoginFailed: true, ActionTokenRefresh: true,
	ActionPasswordChange: true, ActionPasswordReset: true,
	ActionPermissionGrant: true, ActionPermissionRevoke: true,
	ActionRoleAssign: true, ActionRoleRevoke: true,
	ActionBulkImport: true, ActionBulkExport: true,
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	return actions[a]
}

// Resource is what it happened to
type Resource string

const (
	ResourceUser       Resource = "USER"
	ResourceAuth       Resource = "AUTH"
	ResourceRole       Resource = "ROLE"
	ResourcePermission Resource = "PERMISSION"
	ResourceStudent    Resource = "STUDENT"
	ResourceCourse     Resource = "COURSE"
	ResourceEnrollment Resource = "ENROLLMENT"
	ResourceExport     Resource = "EXPORT"
	ResourceAuditLog   Resource = "AUDIT_LOG"
	ResourceSystem     Resource = "SYSTEM"
)

var resources = map[Resource]bool{
	ResourceUser: true, ResourceAuth: true, ResourceRole: true, ResourcePermission: true,
	ResourceStudent: true, ResourceCourse: true, ResourceEnrollment: true,
	ResourceExport: true, ResourceAuditLog: true, ResourceSystem: true,
}

// Valid reports whether r is a known resource
func (r Resource) Valid() bool {
	return resources[r]
}

// ParseAction normalizes a query value such as "bulk_export"
func ParseAction(s string) Action {
	return Action(strings.ToUpper(strings.TrimSpace(s)))
}

// ParseResource normalizes a query value such as "student"
func ParseResource(s string) Resource {
	return Resource(strings.ToUpper(strings.TrimSpace(s)))
}

// Log is one persisted audit entry
type Log struct {
	ID           int64                  `json:"id"`
	Action       Action                 `json:"action"`
	Resource     Resource               `json:"resource"`
	ResourceID   *string                `json:"resource_id"`
	UserID       *int64                 `json:"user_id"`
	UserEmail    *string                `json:"user_email"`
	IPAddress    *string                `json:"ip_address"`
	UserAgent    *string                `json:"user_agent"`
	Details      map[string]interface{} `json:"details"`
	Success      bool                   `json:"success"`
	ErrorMessage *string                `json:"error_message"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Entry is what callers supply to Service.Log. Actor and request fields are
// filled in by the service.
type Entry struct {
	Action     Action
	Resource   Resource
	ResourceID string
	Details    map[string]interface{}
	Success    bool
	// ErrorMessage is stored for failed actions. It must not contain secrets.
	ErrorMessage string

	// UserID and UserEmail override the request principal, e.g. for a
	// login where nobody is authenticated yet.
	UserID    *int64
	UserEmail string
}

// Actor is implemented by the authenticated principal stored in the
// request context
type Actor interface {
	ActorID() int64
	ActorEmail() string
}

func actorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextkeys.PrincipalKey).(Actor)
	return a, ok && a != nil
}

// SearchFilter selects audit entries. Nil and empty fields do not filter.
type SearchFilter struct {
	UserID     *int64
	Action     Action
	Resource   Resource
	ResourceID string
	StartTime  *time.Time
	EndTime    *time.Time
	Success    *bool

	Skip  int
	Limit int
}

// ExportFormat is the format of an audit export
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)
