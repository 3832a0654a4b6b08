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

package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// WorkerOptions are the flags the etlify-worker binary runs with.
type WorkerOptions struct {
	DatabaseURL string
	RedisURL    string

	WorkerCount int
	QueueName   string

	BatchInterval  time.Duration
	BatchSize      int
	MaxSyncErrors  int
	JobMaxAttempts int
	JobRetryDelay  time.Duration
	JobLockTTL     time.Duration

	Development bool
}

// NewDefaultOptions returns a WorkerOptions with the worker binary's flag
// defaults. Apart from WorkerCount (4 here, 1 when the Engine is left to
// default it), each value matches the default the Engine applies on its own.
func NewDefaultOptions() WorkerOptions {
	return WorkerOptions{
		WorkerCount:    4,
		QueueName:      "etlify:sync",
		BatchInterval:  15 * time.Minute,
		BatchSize:      500,
		MaxSyncErrors:  5,
		JobMaxAttempts: 3,
		JobRetryDelay:  time.Minute,
		JobLockTTL:     15 * time.Minute,
	}
}

func (opts *WorkerOptions) AddPFlags(flags *pflag.FlagSet) {
	flags.StringVar(&opts.DatabaseURL, "database-url", opts.DatabaseURL, "Postgres connection string for the SyncState/pending-dependency store.")
	flags.StringVar(&opts.RedisURL, "redis-url", opts.RedisURL, "Redis connection string for the job queue and enqueue-dedup cache. Empty uses the in-process defaults instead.")

	flags.IntVar(&opts.WorkerCount, "worker-count", opts.WorkerCount, "Number of goroutines draining the job queue in parallel.")
	flags.StringVar(&opts.QueueName, "queue-name", opts.QueueName, "Name of the Redis list backing the job queue. Ignored when --redis-url is empty.")

	flags.DurationVar(&opts.BatchInterval, "batch-interval", opts.BatchInterval, "How often to run a full BatchSync pass across every registered binding.")
	flags.IntVar(&opts.BatchSize, "batch-size", opts.BatchSize, "Number of stale ids fetched per Stale Finder query page.")
	flags.IntVar(&opts.MaxSyncErrors, "max-sync-errors", opts.MaxSyncErrors, "Consecutive sync errors after which a record is excluded from the Stale Finder until a later successful or skipped sync resets its error count.")
	flags.IntVar(&opts.JobMaxAttempts, "job-max-attempts", opts.JobMaxAttempts, "Maximum attempts for a single job before it is abandoned.")
	flags.DurationVar(&opts.JobRetryDelay, "job-retry-delay", opts.JobRetryDelay, "Fixed delay between a failed job attempt and its retry.")
	flags.DurationVar(&opts.JobLockTTL, "job-lock-ttl", opts.JobLockTTL, "TTL on the enqueue-dedup lock for a (record, CRM) pair.")

	flags.BoolVar(&opts.Development, "development", opts.Development, "Use a human-readable development logger instead of the production JSON logger.")
}

// Validate reports the one flag combination that can't be expressed as
// a flag default.
func (opts *WorkerOptions) Validate() error {
	if opts.DatabaseURL == "" {
		return fmt.Errorf("--database-url is required")
	}
	return nil
}
