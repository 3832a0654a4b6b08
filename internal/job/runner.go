/*
Copyright 2025 The KCP Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/etlify/etlify-go/internal/cache"
)

// Handler runs a Task. Its error only decides retry/exhaustion; it is
// responsible for recording its own outcome (SyncState, audit log) before
// returning.
type Handler func(ctx context.Context, task Task) error

// Runner is a fixed-size worker pool draining a Queue, applying the
// enqueue-dedup and fixed-delay-retry policy around Handler.
type Runner struct {
	Queue        Queue
	Cache        cache.Store
	Handler      Handler
	Workers      int
	LockTTL      time.Duration
	RetryDelay   time.Duration
	PollInterval time.Duration
	Logger       *zap.SugaredLogger

	wg sync.WaitGroup
}

func (r *Runner) workers() int {
	if r.Workers <= 0 {
		return 1
	}
	return r.Workers
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval <= 0 {
		return 50 * time.Millisecond
	}
	return r.PollInterval
}

// Enqueue pushes task onto the Queue unless an attempt for the same
// (record, CRM) is already pending, per the EnqueueLock's TTL.
func (r *Runner) Enqueue(ctx context.Context, task Task) (bool, error) {
	ttlSeconds := int(r.LockTTL.Seconds())
	acquired, err := r.Cache.SetIfAbsent(ctx, task.LockKey(), ttlSeconds)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	if err := r.Queue.Push(task); err != nil {
		_ = r.Cache.Delete(ctx, task.LockKey())
		return false, err
	}
	return true, nil
}

// Run blocks until ctx is cancelled, running Workers goroutines that each
// poll the Queue and invoke Handler.
func (r *Runner) Run(ctx context.Context) {
	for i := 0; i < r.workers(); i++ {
		r.wg.Add(1)
		go r.loop(ctx)
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, ok, err := r.Queue.Pop()
			if err != nil {
				r.logf("job queue pop failed: %v", err)
				continue
			}
			if !ok {
				continue
			}
			r.process(ctx, task)
		}
	}
}

// process runs one attempt and clears task's EnqueueLock on every path --
// success, permanent failure, or a scheduled retry -- but not at the same
// instant: on success or exhaustion the lock releases immediately; on a
// scheduled retry it stays held through the wait and the retried attempt,
// whose own process call releases it (or it is released when ctx is
// cancelled before the retry is pushed), so a fresh external enqueue for the
// same (record, CRM) is dropped for the whole retry cycle.
func (r *Runner) process(ctx context.Context, task Task) {
	err := r.Handler(ctx, task)
	if err == nil {
		_ = r.Cache.Delete(ctx, task.LockKey())
		return
	}

	if task.Attempt >= task.MaxAttempts {
		r.logf("task %s for %s/%d@%s exhausted %d attempts: %v", task.ID, task.Ref.ResourceType, task.Ref.ResourceID, task.CRMName, task.MaxAttempts, err)
		_ = r.Cache.Delete(ctx, task.LockKey())
		return
	}

	next := task
	next.Attempt++

	go func() {
		timer := time.NewTimer(r.RetryDelay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			_ = r.Cache.Delete(ctx, task.LockKey())
			return
		case <-timer.C:
		}

		// The original EnqueueLock is still held at this point and stays
		// held for the retried attempt -- push directly instead of going
		// through Enqueue, which would try (and fail) to acquire the same
		// key again. Only a failed push releases it here.
		if err := r.Queue.Push(next); err != nil {
			r.logf("failed to requeue task %s for retry: %v", task.ID, err)
			_ = r.Cache.Delete(ctx, task.LockKey())
		}
	}()
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logger == nil {
		return
	}
	r.Logger.Infof(format, args...)
}
