package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"milestone-tracker/pkg/circuitbreaker"
	"milestone-tracker/pkg/trace"
)

type fakeStore struct {
	mu      sync.Mutex
	pending []*Event
	sent    []int64
	failed  []int64
}

func (s *fakeStore) ClaimPending(_ context.Context, limit int, _ time.Duration) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) < limit {
		limit = len(s.pending)
	}
	out := s.pending[:limit]
	s.pending = s.pending[limit:]
	return out, nil
}

func (s *fakeStore) MarkAsSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, id)
	return nil
}

func (s *fakeStore) MarkAsFailed(_ context.Context, id int64, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}

type published struct {
	routingKey string
	traceID    string
	body       json.RawMessage
}

type fakePublisher struct {
	fail map[string]error
	out  []published
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if err := p.fail[routingKey]; err != nil {
		return err
	}
	p.out = append(p.out, published{routingKey, trace.FromContext(ctx), payload.(json.RawMessage)})
	return nil
}

func event(id int64, key, payload string) *Event {
	return &Event{ID: id, RoutingKey: key, Payload: json.RawMessage(payload), Status: StatusPending}
}

func TestDispatchOnce_PublishesAndMarksSent(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		event(1, "milestone.advanced", `{"project_id":1,"trace_id":"abc"}`),
		event(2, "dependency.cleared", `{"project_id":1}`),
	}}
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, zap.NewNop())

	n := d.DispatchOnce(context.Background())
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.sent)
	require.Len(t, pub.out, 2)
	assert.Equal(t, "abc", pub.out[0].traceID)
	assert.Equal(t, "", pub.out[1].traceID)
	assert.JSONEq(t, `{"project_id":1}`, string(pub.out[1].body))
}

func TestDispatchOnce_FailureMarksFailed(t *testing.T) {
	store := &fakeStore{pending: []*Event{
		event(1, "milestone.advanced", `{}`),
		event(2, "dependency.attached", `{}`),
	}}
	pub := &fakePublisher{fail: map[string]error{"milestone.advanced": errors.New("channel closed")}}
	d := NewDispatcher(store, pub, zap.NewNop())

	n := d.DispatchOnce(context.Background())
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.failed)
	assert.Equal(t, []int64{2}, store.sent)
}

func TestDispatchOnce_OpenBreakerDefersBatch(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 4; i++ {
		store.pending = append(store.pending, event(i, "milestone.advanced", `{}`))
	}
	pub := &fakePublisher{fail: map[string]error{"milestone.advanced": errors.New("broker down")}}
	breaker := circuitbreaker.New("test", circuitbreaker.Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		OpenTimeout:         time.Hour,
		HalfOpenMaxRequests: 1,
	})
	d := NewDispatcher(store, pub, zap.NewNop()).WithBreaker(breaker)

	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	// 两次真实失败后熔断，剩下的不计失败
	assert.Equal(t, []int64{1, 2}, store.failed)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	store.pending = []*Event{event(5, "milestone.advanced", `{}`)}
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	assert.Len(t, store.pending, 1, "open breaker should skip claiming")
}
