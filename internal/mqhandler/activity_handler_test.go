package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "milestone-tracker/contracts/mq"
	"milestone-tracker/internal/model"
)

type memActivity struct {
	rows map[string]model.ProjectActivity
	err  error
}

func (m *memActivity) Insert(_ context.Context, a *model.ProjectActivity) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.rows[a.DedupKey]; ok {
		return false, nil
	}
	m.rows[a.DedupKey] = *a
	return true, nil
}

type countInvalidator struct{ n int }

func (c *countInvalidator) InvalidateDashboard(context.Context) error {
	c.n++
	return nil
}

type memDeduper struct {
	seen     map[string]bool
	released int
}

func (d *memDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, handler, key string) {
	delete(d.seen, handler+":"+key)
	d.released++
}

type memRetries struct{ counts map[string]int64 }

func (r *memRetries) IncrementAndGet(_ context.Context, key string) (int64, error) {
	r.counts[key]++
	return r.counts[key], nil
}

func (r *memRetries) Reset(_ context.Context, key string) error {
	delete(r.counts, key)
	return nil
}

type dlqMessage struct {
	routingKey string
	cause      string
}

type memDLQ struct{ messages []dlqMessage }

func (d *memDLQ) PublishToDLQ(routingKey string, _ []byte, originalError, _ string) error {
	d.messages = append(d.messages, dlqMessage{routingKey, originalError})
	return nil
}

type handlerFixture struct {
	h        *ActivityHandler
	activity *memActivity
	cache    *countInvalidator
	deduper  *memDeduper
	retries  *memRetries
	dlq      *memDLQ
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		activity: &memActivity{rows: map[string]model.ProjectActivity{}},
		cache:    &countInvalidator{},
		deduper:  &memDeduper{seen: map[string]bool{}},
		retries:  &memRetries{counts: map[string]int64{}},
		dlq:      &memDLQ{},
	}
	f.h = NewActivityHandler(f.activity, f.cache, f.deduper, f.retries, f.dlq, 2, zap.NewNop())
	return f
}

func advancedEvent(t *testing.T) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.MilestoneAdvancedPayload{
		ProjectID:          5,
		ProjectMilestoneID: 11,
		MilestoneID:        2,
		MilestoneName:      "Design",
		OccurredAt:         time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		TraceID:            "t-1",
	})
	require.NoError(t, err)
	return raw
}

func TestMilestoneAdvancedRecorded(t *testing.T) {
	f := newHandlerFixture()
	ctx := context.Background()

	require.NoError(t, f.h.Handle(ctx, mqcontracts.RoutingMilestoneAdvanced, advancedEvent(t)))
	require.Len(t, f.activity.rows, 1)
	row := f.activity.rows["milestone.advanced:11"]
	assert.Equal(t, 5, row.ProjectID)
	require.NotNil(t, row.MilestoneID)
	assert.Equal(t, 2, *row.MilestoneID)
	assert.Contains(t, row.Message, "Design")
	assert.Equal(t, 1, f.cache.n)

	// redelivery is dropped by the deduper
	require.NoError(t, f.h.Handle(ctx, mqcontracts.RoutingMilestoneAdvanced, advancedEvent(t)))
	assert.Len(t, f.activity.rows, 1)
	assert.Equal(t, 1, f.cache.n)
}

func TestDependencyClearedRecorded(t *testing.T) {
	f := newHandlerFixture()
	raw, err := json.Marshal(mqcontracts.DependencyClearedPayload{ProjectID: 5, DependencyID: 1})
	require.NoError(t, err)

	require.NoError(t, f.h.Handle(context.Background(), mqcontracts.RoutingDependencyCleared, raw))
	row, ok := f.activity.rows["dependency.cleared:5:1"]
	require.True(t, ok)
	assert.Equal(t, "Dependency 1 cleared", row.Message)
}

func TestBadPayloadDeadLettered(t *testing.T) {
	f := newHandlerFixture()
	err := f.h.Handle(context.Background(), mqcontracts.RoutingMilestoneAdvanced, json.RawMessage(`{"project_id": "x"}`))
	assert.NoError(t, err)
	require.Len(t, f.dlq.messages, 1)
	assert.Empty(t, f.activity.rows)
}

func TestUnknownRoutingKeyAcked(t *testing.T) {
	f := newHandlerFixture()
	assert.NoError(t, f.h.Handle(context.Background(), "project.renamed", json.RawMessage(`{}`)))
	assert.Empty(t, f.dlq.messages)
}

func TestRetryableErrorRequeuedThenDeadLettered(t *testing.T) {
	f := newHandlerFixture()
	f.activity.err = &pgconn.PgError{Code: "40001"}
	ctx := context.Background()
	raw := advancedEvent(t)

	// maxRetries is 2: two nacks, then the third attempt goes to the DLQ
	assert.Error(t, f.h.Handle(ctx, mqcontracts.RoutingMilestoneAdvanced, raw))
	assert.Error(t, f.h.Handle(ctx, mqcontracts.RoutingMilestoneAdvanced, raw))
	assert.Empty(t, f.dlq.messages)

	assert.NoError(t, f.h.Handle(ctx, mqcontracts.RoutingMilestoneAdvanced, raw))
	require.Len(t, f.dlq.messages, 1)
	assert.Equal(t, 3, f.deduper.released)
	assert.Empty(t, f.retries.counts)
}

func TestPermanentErrorDeadLetteredImmediately(t *testing.T) {
	f := newHandlerFixture()
	f.activity.err = errors.New("something odd")

	assert.NoError(t, f.h.Handle(context.Background(), mqcontracts.RoutingMilestoneAdvanced, advancedEvent(t)))
	require.Len(t, f.dlq.messages, 1)
	assert.Equal(t, "something odd", f.dlq.messages[0].cause)
}
