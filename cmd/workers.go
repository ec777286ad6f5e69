/*
Copyright 2024 Blnk Finance Authors.

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

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/blnkfinance/disburse"
	"github.com/blnkfinance/disburse/config"
	redis_db "github.com/blnkfinance/disburse/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// initializeQueues weights the queues the workers listen on. Webhooks drain first so partners hear
// about outcomes promptly; scheduled jobs only fan out work.
func initializeQueues(cfg *config.Configuration) map[string]int {
	return map[string]int{
		cfg.Queue.WebhookQueue:  3,
		cfg.Queue.RetryQueue:    2,
		cfg.Queue.ScheduleQueue: 1,
	}
}

func initializeWorkerServer(conf *config.Configuration, queues map[string]int) (*asynq.Server, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(connOpt, asynq.Config{
		Concurrency: 4,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logrus.WithField("task", task.Type()).WithError(err).Error("task failed")
		}),
	}), nil
}

// initializeScheduler registers the funds queue processor and the balance monitor on their cron specs.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(connOpt, &asynq.SchedulerOpts{})
	for _, periodic := range disburse.PeriodicTasks(conf) {
		entryID, err := scheduler.Register(periodic.Cronspec, periodic.Task, periodic.Opts...)
		if err != nil {
			return nil, fmt.Errorf("error scheduling %s: %v", periodic.Task.Type(), err)
		}
		logrus.WithFields(logrus.Fields{"task": periodic.Task.Type(), "cron": periodic.Cronspec, "entry_id": entryID}).Info("periodic task registered")
	}
	return scheduler, nil
}

func startMonitoring(conf *config.Configuration) error {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return err
	}
	h := asynqmon.New(asynqmon.Options{
		RootPath:     "/monitoring",
		RedisConnOpt: connOpt,
	})

	go func() {
		monitoringAddr := fmt.Sprintf(":%s", conf.Queue.MonitoringPort)
		log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
		if err := http.ListenAndServe(monitoringAddr, h); err != nil {
			log.Fatalf("could not start asynqmon server: %v", err)
		}
	}()
	return nil
}

// workerCommands defines the "workers" command: the task server, the periodic scheduler and the monitoring UI.
func workerCommands(app *disburseInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start disburse workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			conf := app.cnf

			shutdown, err := initializeTracing(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			defer func() {
				if err := shutdown(ctx); err != nil {
					log.Printf("Error during shutdown: %v", err)
				}
			}()

			srv, err := initializeWorkerServer(conf, initializeQueues(conf))
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			app.disburse.RegisterHandlers(mux)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			if err := scheduler.Start(); err != nil {
				log.Fatalf("could not start scheduler: %v", err)
			}
			defer scheduler.Shutdown()

			if err := startMonitoring(conf); err != nil {
				log.Fatal(err)
			}

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
