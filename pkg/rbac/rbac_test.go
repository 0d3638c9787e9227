package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v int) *int { return &v }

func TestForResolvesVariant(t *testing.T) {
	for _, role := range []string{RoleAdmin, RoleEditor, RoleUser} {
		c, err := For(Identity{UserID: 3, Role: role})
		require.NoError(t, err)
		assert.Equal(t, role, c.Role())
		assert.Equal(t, 3, c.UserID())
	}

	_, err := For(Identity{UserID: 3, Role: "root"})
	var unknown *UnknownRoleError
	assert.ErrorAs(t, err, &unknown)
	assert.False(t, ValidRole("root"))
}

func TestWorkflowAccessIsOwnerOnly(t *testing.T) {
	owner, _ := For(Identity{UserID: 7, Role: RoleUser})
	other, _ := For(Identity{UserID: 8, Role: RoleUser})
	admin, _ := For(Identity{UserID: 1, Role: RoleAdmin})
	editor, _ := For(Identity{UserID: 2, Role: RoleEditor})

	assigned := ptr(7)

	assert.True(t, owner.CanTransition(assigned))
	assert.True(t, owner.CanManageDependencies(assigned))
	assert.False(t, other.CanTransition(assigned))
	assert.False(t, owner.CanTransition(nil))
	assert.False(t, admin.CanTransition(assigned))
	assert.False(t, editor.CanManageDependencies(assigned))

	assert.True(t, admin.CanView(assigned))
	assert.True(t, editor.CanView(nil))
	assert.False(t, other.CanView(assigned))
}

func TestRoleCapabilities(t *testing.T) {
	admin, _ := For(Identity{UserID: 1, Role: RoleAdmin})
	editor, _ := For(Identity{UserID: 2, Role: RoleEditor})
	user, _ := For(Identity{UserID: 3, Role: RoleUser})

	assert.True(t, admin.CanAssign())
	assert.True(t, admin.CanReplayEvents())
	assert.False(t, admin.CanCreateProject())

	assert.True(t, editor.CanCreateProject())
	assert.True(t, editor.CanDeleteProject())
	assert.False(t, editor.CanAssign())

	assert.False(t, user.CanListUsers())
	id, scoped := user.OwnerScope()
	assert.True(t, scoped)
	assert.Equal(t, 3, id)
	_, scoped = editor.OwnerScope()
	assert.False(t, scoped)
}

func TestAllows(t *testing.T) {
	admin, _ := For(Identity{Role: RoleAdmin})
	editor, _ := For(Identity{Role: RoleEditor})
	user, _ := For(Identity{Role: RoleUser})

	assert.True(t, Allows(admin, "assigned_user_id"))
	assert.False(t, Allows(admin, "title"))
	assert.True(t, Allows(editor, "title"))
	assert.False(t, Allows(editor, "assigned_user_id"))
	assert.False(t, Allows(user, "title"))
}
