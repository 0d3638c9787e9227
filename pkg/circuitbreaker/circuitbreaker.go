package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常放行
	StateOpen                  // 直接拒绝
	StateHalfOpen              // 放少量探测请求
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type Config struct {
	// 连续失败多少次后打开
	FailureThreshold int
	// 半开状态下连续成功多少次后关闭
	SuccessThreshold int
	// 打开多久后进入半开
	OpenTimeout time.Duration
	// 半开状态下同时在途的最大探测数
	HalfOpenMaxRequests int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// Breaker guards calls to the message broker from the outbox dispatcher.
type Breaker struct {
	name   string
	config Config
	now    func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inFlight  int
	openedAt  time.Time

	onStateChange func(name string, from, to State)
}

func New(name string, config Config) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  StateClosed,
	}
}

// OnStateChange registers a callback invoked with the lock held; keep it cheap.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) *Breaker {
	b.onStateChange = fn
	return b
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refresh()
	switch b.state {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.inFlight >= b.config.HalfOpenMaxRequests {
			return ErrOpen
		}
	}
	b.inFlight++
	return nil
}

func (b *Breaker) after(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inFlight--
	switch b.state {
	case StateClosed:
		if ok {
			b.failures = 0
			return
		}
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !ok {
			b.transition(StateOpen)
			return
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(StateClosed)
		}
	}
}

// refresh moves an expired open breaker to half-open.
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.OpenTimeout {
		b.transition(StateHalfOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if to == StateOpen {
		b.openedAt = b.now()
	}
	if from != to && b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
