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

// Package job is the asynchronous execution layer sitting in front of the
// Synchronizer: a Queue carries Tasks between an enqueue call and a worker
// pool, and JobRunner applies the at-most-once-enqueued, fixed-delay-retry
// semantics every Task needs regardless of which Queue backend carries it.
package job

import (
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/etlify/etlify-go"
)

// Task is one unit of work: sync record Ref against CRMName.
type Task struct {
	ID          string           `json:"id"`
	Ref         etlify.RecordRef `json:"ref"`
	CRMName     string           `json:"crm_name"`
	Attempt     int              `json:"attempt"`
	MaxAttempts int              `json:"max_attempts"`
	EnqueuedAt  time.Time        `json:"enqueued_at"`
}

// NewTask builds a Task with a fresh id and Attempt 1.
func NewTask(ref etlify.RecordRef, crmName string, maxAttempts int) Task {
	return Task{
		ID:          uuid.NewString(),
		Ref:         ref,
		CRMName:     crmName,
		Attempt:     1,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now(),
	}
}

// LockKey is the cache.Store key this Task dedups on: one pending attempt
// per (record, CRM), independent of Attempt number. The "enqueue_lock:v2"
// segment versions the key shape so a future change to it doesn't collide
// with locks a previous binary already set.
func (t Task) LockKey() string {
	return "enqueue_lock:v2:" + t.Ref.ResourceType + ":" + strconv.FormatInt(t.Ref.ResourceID, 10) + ":" + t.CRMName
}

// Queue is the transport a JobRunner pulls Tasks from. Implementations are
// not expected to block on Pop -- an empty queue returns (Task{}, false, nil)
// immediately, and the runner owns the idle-poll interval.
type Queue interface {
	Push(task Task) error
	Pop() (Task, bool, error)
}
