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

// Package redisqueue is the distributed job.Queue, backed by a Redis list:
// Push does LPUSH, Pop does a non-blocking RPOP, matching the producer/
// consumer direction so the oldest task is popped first.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/etlify/etlify-go/internal/job"
)

// Queue wraps a *redis.Client, pushing and popping job.Task JSON under one
// list key.
type Queue struct {
	client *redis.Client
	key    string
	// opTimeout bounds each individual Redis call; Push/Pop are called
	// from a tight worker loop and must not block indefinitely on a
	// hung connection.
	opTimeout time.Duration
}

// New returns a Queue storing tasks under the Redis list key.
func New(client *redis.Client, key string) *Queue {
	return &Queue{client: client, key: key, opTimeout: 5 * time.Second}
}

func (q *Queue) Push(task job.Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), q.opTimeout)
	defer cancel()

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("redisqueue: marshal task: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("redisqueue: lpush: %w", err)
	}
	return nil
}

func (q *Queue) Pop() (job.Task, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.opTimeout)
	defer cancel()

	result, err := q.client.RPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return job.Task{}, false, nil
	}
	if err != nil {
		return job.Task{}, false, fmt.Errorf("redisqueue: rpop: %w", err)
	}

	var task job.Task
	if err := json.Unmarshal([]byte(result), &task); err != nil {
		return job.Task{}, false, fmt.Errorf("redisqueue: unmarshal task: %w", err)
	}
	return task, true, nil
}

var _ job.Queue = (*Queue)(nil)
