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

// Package chanqueue is the single-process job.Queue: a buffered channel.
// It does not survive a process restart; use job/redisqueue for that.
package chanqueue

import (
	"fmt"

	"github.com/etlify/etlify-go/internal/job"
)

// Queue is a fixed-capacity, in-memory job.Queue.
type Queue struct {
	tasks chan job.Task
}

// New returns a Queue that can hold up to capacity pending tasks.
func New(capacity int) *Queue {
	return &Queue{tasks: make(chan job.Task, capacity)}
}

func (q *Queue) Push(task job.Task) error {
	select {
	case q.tasks <- task:
		return nil
	default:
		return fmt.Errorf("chanqueue: queue is full (capacity %d)", cap(q.tasks))
	}
}

func (q *Queue) Pop() (job.Task, bool, error) {
	select {
	case task := <-q.tasks:
		return task, true, nil
	default:
		return job.Task{}, false, nil
	}
}

var _ job.Queue = (*Queue)(nil)
