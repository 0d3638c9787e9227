package rbac

import "fmt"

// 角色常量
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleUser   = "user"
)

// Identity is what the auth layer knows about the caller.
type Identity struct {
	UserID   int
	Username string
	Role     string
}

// Capability answers every authorization question for one caller. It is built
// once per request from the token and consulted before any service or engine
// call.
type Capability interface {
	Role() string
	UserID() int

	CanCreateProject() bool
	CanDeleteProject() bool
	CanAssign() bool
	CanListUsers() bool
	CanReplayEvents() bool
	// UpdatableFields lists the project columns this caller may change.
	UpdatableFields() []string

	// assignedUserID is nil for an unassigned project.
	CanView(assignedUserID *int) bool
	CanTransition(assignedUserID *int) bool
	CanManageDependencies(assignedUserID *int) bool

	// OwnerScope returns the user id listings must be filtered to, if any.
	OwnerScope() (int, bool)
}

// UnknownRoleError 表示 token 中的角色无法识别
type UnknownRoleError struct {
	Role string
}

func (e *UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %q", e.Role)
}

// ValidRole reports whether role names one of the three capability variants.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleEditor, RoleUser:
		return true
	}
	return false
}

// For resolves the capability variant for an identity.
func For(id Identity) (Capability, error) {
	switch id.Role {
	case RoleAdmin:
		return Admin{id: id.UserID}, nil
	case RoleEditor:
		return Editor{id: id.UserID}, nil
	case RoleUser:
		return User{id: id.UserID}, nil
	default:
		return nil, &UnknownRoleError{Role: id.Role}
	}
}

// Admin assigns projects to users and operates the event outbox.
type Admin struct{ id int }

func (a Admin) Role() string { return RoleAdmin }
func (a Admin) UserID() int { return a.id }
func (Admin) CanCreateProject() bool { return false }
func (Admin) CanDeleteProject() bool { return false }
func (Admin) CanAssign() bool { return true }
func (Admin) CanListUsers() bool { return true }
func (Admin) CanReplayEvents() bool { return true }
func (Admin) UpdatableFields() []string { return []string{"assigned_user_id"} }
func (Admin) CanView(*int) bool { return true }
func (Admin) CanTransition(*int) bool { return false }
func (Admin) CanManageDependencies(*int) bool { return false }
func (Admin) OwnerScope() (int, bool) { return 0, false }

// Editor owns project content: create, edit, delete.
type Editor struct{ id int }

func (e Editor) Role() string { return RoleEditor }
func (e Editor) UserID() int { return e.id }
func (Editor) CanCreateProject() bool { return true }
func (Editor) CanDeleteProject() bool { return true }
func (Editor) CanAssign() bool { return false }
func (Editor) CanListUsers() bool { return true }
func (Editor) CanReplayEvents() bool { return false }
func (Editor) CanView(*int) bool { return true }
func (Editor) CanTransition(*int) bool { return false }
func (Editor) CanManageDependencies(*int) bool { return false }
func (Editor) OwnerScope() (int, bool) { return 0, false }

func (Editor) UpdatableFields() []string {
	return []string{"title", "description", "distance", "project_id", "status"}
}

// User works the projects assigned to them.
type User struct{ id int }

func (u User) Role() string { return RoleUser }
func (u User) UserID() int { return u.id }
func (User) CanCreateProject() bool { return false }
func (User) CanDeleteProject() bool { return false }
func (User) CanAssign() bool { return false }
func (User) CanListUsers() bool { return false }
func (User) CanReplayEvents() bool { return false }
func (User) UpdatableFields() []string { return nil }
func (u User) OwnerScope() (int, bool) { return u.id, true }

func (u User) CanView(assignedUserID *int) bool {
	return u.owns(assignedUserID)
}

func (u User) CanTransition(assignedUserID *int) bool {
	return u.owns(assignedUserID)
}

func (u User) CanManageDependencies(assignedUserID *int) bool {
	return u.owns(assignedUserID)
}

func (u User) owns(assignedUserID *int) bool {
	return assignedUserID != nil && *assignedUserID == u.id
}

// Allows reports whether field is in the capability's updatable set.
func Allows(c Capability, field string) bool {
	for _, f := range c.UpdatableFields() {
		if f == field {
			return true
		}
	}
	return false
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID int
	Action string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}
