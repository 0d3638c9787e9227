package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLocal(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GIN_MODE", "")
	cfg, err := LoadFrom("local", ".")
	require.NoError(t, err)

	assert.Equal(t, "local-dev-secret", cfg.JWT.Secret)
	assert.Equal(t, []int{3}, cfg.Workflow.GatingMilestones)
	assert.Equal(t, []int{6}, cfg.Workflow.TerminalMilestones)
	assert.Len(t, cfg.Workflow.Milestones, 6)
	assert.Equal(t, "debug", cfg.Server.Mode)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "secret is required")

	cfg.JWT.Secret = "x"
	require.NoError(t, cfg.Validate())

	cfg.Workflow.Milestones = []CatalogMilestone{{ID: 1, Sequence: 1}, {ID: 1, Sequence: 2}}
	assert.Error(t, cfg.Validate())

	cfg.Workflow.Milestones = []CatalogMilestone{{ID: 2, Sequence: 0}}
	assert.Error(t, cfg.Validate())
}
