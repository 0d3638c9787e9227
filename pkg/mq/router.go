package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Router 按 routing key 把消息分发给对应的 handler，本身也是一个 MessageHandler
type Router struct {
	routes map[string]MessageHandler
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		routes: make(map[string]MessageHandler),
		logger: logger,
	}
}

func (r *Router) Register(routingKey string, h MessageHandler) *Router {
	r.routes[routingKey] = h
	return r
}

// RoutingKeys 返回已注册的 routing key，用于绑定队列
func (r *Router) RoutingKeys() []string {
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	return keys
}

// Handle 没有 handler 的消息直接 ack，避免反复重投
func (r *Router) Handle(ctx context.Context, routingKey string, data json.RawMessage) (err error) {
	h, ok := r.routes[routingKey]
	if !ok {
		r.logger.Warn("No handler for routing key", zap.String("routing_key", routingKey))
		return nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler for %s panicked: %v", routingKey, rec)
		}
	}()
	return h(ctx, routingKey, data)
}
