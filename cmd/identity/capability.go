package identity

import (
	"strings"
)

// Role is the closed set of caller roles.
type Role string

const (
	RoleStudent Role = "student"
	RoleFaculty Role = "faculty"
	RoleAdmin   Role = "admin"
)

// Action names a single capability checked at the service boundary.
type Action string

const (
	ActionSessionCreate   Action = "session.create"
	ActionSessionManage   Action = "session.manage"
	ActionSessionView     Action = "session.view"
	ActionAttendanceScan  Action = "attendance.scan"
	ActionAttendanceView  Action = "attendance.view"
	ActionAttendanceClose Action = "attendance.close"
	ActionDeviceRegister  Action = "device.register"
	ActionDeviceView      Action = "device.view"
	ActionDeviceFlag      Action = "device.flag"
	ActionOverrideCreate  Action = "override.create"
	ActionOverrideView    Action = "override.view"
	ActionOverrideDecide  Action = "override.decide"
	ActionRosterView      Action = "roster.view"
	ActionRosterManage    Action = "roster.manage"
)

type actionSet map[Action]struct{}

func newActionSet(actions ...Action) actionSet {
	s := make(actionSet, len(actions))
	for _, a := range actions {
		s[a] = struct{}{}
	}
	return s
}

// capabilities is the single source of truth for role permissions.
var capabilities = map[Role]actionSet{
	RoleStudent: newActionSet(
		ActionAttendanceScan,
		ActionDeviceRegister,
		ActionDeviceView,
	),
	RoleFaculty: newActionSet(
		ActionSessionCreate,
		ActionSessionManage,
		ActionSessionView,
		ActionAttendanceView,
		ActionAttendanceClose,
		ActionDeviceFlag,
		ActionOverrideCreate,
		ActionOverrideView,
		ActionRosterView,
	),
	RoleAdmin: newActionSet(
		ActionSessionView,
		ActionAttendanceView,
		ActionDeviceView,
		ActionDeviceFlag,
		ActionOverrideView,
		ActionOverrideDecide,
		ActionRosterView,
		ActionRosterManage,
	),
}

// ParseRole maps a claim value to a Role. Unknown roles are rejected.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := capabilities[r]; !ok {
		return "", OpError{Op: "identity.ParseRole", Kind: ErrInvalidInput, Msg: "unknown role"}
	}
	return r, nil
}

// Can reports whether the role includes action.
func (r Role) Can(a Action) bool {
	set, ok := capabilities[r]
	if !ok {
		return false
	}
	_, ok = set[a]
	return ok
}

// Principal is an authenticated caller.
type Principal struct {
	UserID string
	Role   Role
}

// Authorize returns nil when the principal may perform action, otherwise a ForbiddenError.
func (p Principal) Authorize(op string, a Action) error {
	if strings.TrimSpace(p.UserID) == "" {
		return OpError{Op: op, Kind: ErrUnauthenticated}
	}
	if !p.Role.Can(a) {
		return ForbiddenError{Op: op, Role: p.Role, Action: a}
	}
	return nil
}
