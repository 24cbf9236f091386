package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/beacon/internal/lifecycle"
	"github.com/alfredjeanlab/beacon/internal/listener"
	"github.com/alfredjeanlab/beacon/internal/model"
)

// demoEventType is the event type the built-in demo tasks report under.
const demoEventType = "demo"

// demoListeners is merged into the listener mapping when serve --demo is set.
var demoListeners = map[string]string{demoEventType: listener.KindSend}

// defineDemoTasks registers tasks that exercise every lifecycle transition
// without external dependencies.
//
//	demo.countdown  steps=N interval=D  progress in N equal steps, then success
//	demo.fail       reason=S            fails immediately with reason
func defineDemoTasks(r *lifecycle.Runner) error {
	if err := r.Define(lifecycle.TaskSpec{
		Name:            "demo.countdown",
		EventType:       demoEventType,
		RoutingStrategy: "user.id",
		Run:             countdown,
	}); err != nil {
		return err
	}
	return r.Define(lifecycle.TaskSpec{
		Name:            "demo.fail",
		EventType:       demoEventType,
		RoutingStrategy: "user.id",
		Run: func(_ context.Context, _ *lifecycle.Event, req *model.Request) (any, error) {
			reason, _ := req.Args["reason"].(string)
			if reason == "" {
				reason = "demo failure"
			}
			return nil, &lifecycle.TaskError{Result: map[string]string{"reason": reason}, Err: errors.New(reason)}
		},
	})
}

func countdown(ctx context.Context, ev *lifecycle.Event, req *model.Request) (any, error) {
	steps := 10
	if v, ok := req.Args["steps"].(float64); ok && v >= 1 {
		steps = int(v)
	}
	interval := time.Second
	if v, ok := req.Args["interval"].(string); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, &lifecycle.TaskError{Result: "invalid interval", Err: fmt.Errorf("interval: %w", err)}
		}
		interval = d
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		ev.IncrementProgress(ctx, 100/float64(steps))
	}
	return map[string]int{"steps": steps}, nil
}
