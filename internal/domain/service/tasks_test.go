package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskQueue(t *testing.T) {
	t.Run("submitted tasks run", func(t *testing.T) {
		q := NewTaskQueue(10, nil)
		var ran atomic.Int32

		for i := 0; i < 5; i++ {
			if !q.Submit(func(ctx context.Context) { ran.Add(1) }) {
				t.Fatal("Submit rejected with free capacity")
			}
		}
		q.Close()

		if got := ran.Load(); got != 5 {
			t.Errorf("expected 5 tasks run, got %d", got)
		}
	})

	t.Run("full queue drops and counts", func(t *testing.T) {
		q := NewTaskQueue(1, nil)
		defer q.Close()

		block := make(chan struct{})
		started := make(chan struct{})
		q.Submit(func(ctx context.Context) {
			close(started)
			<-block
		})
		<-started

		// 队列容量1: 第一个占满, 第二个被丢弃
		q.Submit(func(ctx context.Context) {})
		accepted := q.Submit(func(ctx context.Context) {})

		if accepted {
			t.Error("expected drop when queue full")
		}
		if q.Dropped() != 1 {
			t.Errorf("expected 1 dropped, got %d", q.Dropped())
		}
		close(block)
	})

	t.Run("panicking task does not kill the drain loop", func(t *testing.T) {
		q := NewTaskQueue(10, nil)
		var ran atomic.Int32

		q.Submit(func(ctx context.Context) { panic("boom") })
		q.Submit(func(ctx context.Context) { ran.Add(1) })
		q.Close()

		if ran.Load() != 1 {
			t.Error("task after panic did not run")
		}
	})

	t.Run("submit after close rejected", func(t *testing.T) {
		q := NewTaskQueue(10, nil)
		q.Close()

		if q.Submit(func(ctx context.Context) {}) {
			t.Error("expected Submit to fail after Close")
		}
	})

	t.Run("close waits for inflight task", func(t *testing.T) {
		q := NewTaskQueue(10, nil)
		var done atomic.Bool

		q.Submit(func(ctx context.Context) {
			time.Sleep(50 * time.Millisecond)
			done.Store(true)
		})
		q.Close()

		if !done.Load() {
			t.Error("Close returned before task finished")
		}
	})
}
