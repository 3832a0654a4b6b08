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

// Command etlify-worker drains the job queue and runs the periodic
// BatchSync sweep. It does not itself know about any particular model;
// bindings and adapters are registered by the embedding application
// before calling Run -- see RegisterBindings below for the extension
// point a real deployment replaces.
package main

import (
	"context"
	golog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/etlify/etlify-go/internal/batch"
	"github.com/etlify/etlify-go/internal/cache"
	"github.com/etlify/etlify-go/internal/cache/lrustore"
	"github.com/etlify/etlify-go/internal/cache/redisstore"
	"github.com/etlify/etlify-go/internal/engine"
	"github.com/etlify/etlify-go/internal/job"
	"github.com/etlify/etlify-go/internal/job/chanqueue"
	"github.com/etlify/etlify-go/internal/job/redisqueue"
	"github.com/etlify/etlify-go/internal/options"
	"github.com/etlify/etlify-go/internal/stale"
	"github.com/etlify/etlify-go/internal/store/pgstore"
	"github.com/etlify/etlify-go/internal/version"
)

func main() {
	opts := options.NewDefaultOptions()
	opts.AddPFlags(pflag.CommandLine)
	pflag.Parse()

	if err := opts.Validate(); err != nil {
		golog.Fatalf("invalid command line: %v", err)
	}

	log := newLogger(opts.Development)
	defer func() { _ = log.Sync() }()
	sugar := log.Sugar()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, sugar, opts); err != nil {
		sugar.Fatalw("etlify-worker has encountered an error", zap.Error(err))
	}
}

func newLogger(development bool) *zap.Logger {
	if development {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}

func run(ctx context.Context, log *zap.SugaredLogger, opts options.WorkerOptions) error {
	v := version.NewAppVersion()
	log.Infow("starting etlify-worker", "version", v.GitVersion)

	pool, err := pgxpool.New(ctx, opts.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pgstore.Migrate(ctx, pool); err != nil {
		return err
	}
	s := pgstore.New(pool)
	staleFinder := stale.New(pool)

	var cacheStore cache.Store
	var jobQueue job.Queue
	if opts.RedisURL != "" {
		redisOpts, err := redis.ParseURL(opts.RedisURL)
		if err != nil {
			return err
		}
		client := redis.NewClient(redisOpts)
		cacheStore = redisstore.New(client, "etlify:")
		jobQueue = redisqueue.New(client, opts.QueueName)
		log.Infow("using redis-backed queue and cache", "queue", opts.QueueName)
	} else {
		cacheStore = lrustore.New(100_000, opts.JobLockTTL)
		jobQueue = chanqueue.New(10_000)
		log.Info("no --redis-url given, using in-process queue and cache (single replica only)")
	}

	e := engine.New(s, cacheStore, jobQueue, staleFinder, engine.Config{
		MaxSyncErrors:  opts.MaxSyncErrors,
		JobMaxAttempts: opts.JobMaxAttempts,
		JobLockTTL:     opts.JobLockTTL,
		JobRetryDelay:  opts.JobRetryDelay,
		JobWorkers:     opts.WorkerCount,
		Logger:         log,
	})

	RegisterBindings(e)

	sched := cron.New()
	if _, err := sched.AddFunc("@every "+opts.BatchInterval.String(), func() {
		stats, err := e.RunBatch(ctx, batch.Options{BatchSize: opts.BatchSize, Async: true})
		if err != nil {
			log.Errorw("batch sync run failed", zap.Error(err))
			return
		}
		log.Infow("batch sync run complete", "total", stats.Total, "errors", stats.Errors, "per_model", stats.PerModel)
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	log.Infow("etlify-worker started", "workers", opts.WorkerCount, "batch_interval", opts.BatchInterval)
	e.Run(ctx)
	return nil
}

// RegisterBindings is the extension point a real deployment replaces with
// its own RegisterAdapter/RegisterBinding calls. It is deliberately a
// no-op here: this binary has no models of its own.
func RegisterBindings(e *engine.Engine) {}
