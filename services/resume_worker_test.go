package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krshsl/mockprep/queue"
	ws "github.com/krshsl/mockprep/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closingConsumer behaves like a broker whose delivery channel keeps closing.
type closingConsumer struct {
	calls atomic.Int32
}

func (c *closingConsumer) ConsumeResumeJobs(context.Context, int, queue.ResumeJobHandler) error {
	c.calls.Add(1)
	return errors.New("rabbitmq delivery channel closed")
}

func newFastResumeWorker(consumer ResumeJobConsumer, workers int) *ResumeWorker {
	w := NewResumeWorker(consumer, &ResumeService{}, workers)
	w.minBackoff, w.maxBackoff = time.Millisecond, 5*time.Millisecond
	return w
}

func TestResumeWorker_RestartsStoppedConsumers(t *testing.T) {
	consumer := &closingConsumer{}
	w := newFastResumeWorker(consumer, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return consumer.calls.Load() >= 6 }, 2*time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("worker returned early: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestServerStart_SurvivesResumeConsumerFailures(t *testing.T) {
	consumer := &closingConsumer{}
	s := &Server{
		config:       &Config{Server: ServerConfig{Port: "0", ShutdownTimeout: time.Second}},
		hub:          ws.NewHub(),
		tracker:      NewSessionTracker(nil, nil, time.Hour),
		resumeWorker: newFastResumeWorker(consumer, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return consumer.calls.Load() >= 3 }, 2*time.Second, time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("server stopped because the consumer failed: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
