package mq

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRouterDispatch(t *testing.T) {
	var got []string
	r := NewRouter(zap.NewNop()).
		Register("milestone.advanced", func(_ context.Context, key string, data json.RawMessage) error {
			got = append(got, key+":"+string(data))
			return nil
		})

	require.NoError(t, r.Handle(context.Background(), "milestone.advanced", json.RawMessage(`{}`)))
	assert.Equal(t, []string{"milestone.advanced:{}"}, got)

	// unknown keys are acked
	assert.NoError(t, r.Handle(context.Background(), "project.renamed", nil))
	assert.ElementsMatch(t, []string{"milestone.advanced"}, r.RoutingKeys())
}

func TestRouterRecoversPanic(t *testing.T) {
	r := NewRouter(zap.NewNop()).
		Register("dependency.cleared", func(context.Context, string, json.RawMessage) error {
			panic("boom")
		})

	err := r.Handle(context.Background(), "dependency.cleared", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
