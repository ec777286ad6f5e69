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

package disburse

import (
	"context"
	"encoding/json"
	"log"

	"github.com/blnkfinance/disburse/config"
	redis_db "github.com/blnkfinance/disburse/internal/redis-db"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Task types handled by the workers.
const (
	TaskProcessFundsQueue = "disburse:funds_queue:process"
	TaskCheckBalances     = "disburse:balance_monitor:check"
	TaskPartnerWebhook    = "disburse:partner_webhook"
)

// Queue enqueues background work on asynq.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
	conf      config.QueueConfig
}

// NewQueue connects an asynq client and inspector to the configured redis.
func NewQueue(conf *config.Configuration) (*Queue, error) {
	connOpt, err := redis_db.AsynqConnOpt(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	return &Queue{
		Client:    asynq.NewClient(connOpt),
		Inspector: asynq.NewInspector(connOpt),
		conf:      conf.Queue,
	}, nil
}

func (q *Queue) Close() error {
	if err := q.Inspector.Close(); err != nil {
		logrus.Error(err)
	}
	return q.Client.Close()
}

// EnqueueWebhook schedules delivery of a partner webhook. The webhook id doubles as the task id,
// so a repeated enqueue of the same event is dropped by asynq.
func (q *Queue) EnqueueWebhook(ctx context.Context, hook PartnerWebhook) error {
	payload, err := json.Marshal(hook)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskPartnerWebhook, payload,
		asynq.TaskID(hook.WebhookID),
		asynq.Queue(q.conf.WebhookQueue),
		asynq.MaxRetry(5),
	)
	info, err := q.Client.EnqueueContext(ctx, task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook %s for partner %s", hook.Event, hook.PartnerID)
	return nil
}

// PeriodicTask is a cron-scheduled task registered by the worker scheduler.
type PeriodicTask struct {
	Cronspec string
	Task     *asynq.Task
	Opts     []asynq.Option
}

// PeriodicTasks returns the funds queue processor and the balance monitor schedules.
func PeriodicTasks(conf *config.Configuration) []PeriodicTask {
	return []PeriodicTask{
		{
			Cronspec: conf.Queue.ProcessCron,
			Task:     asynq.NewTask(TaskProcessFundsQueue, nil),
			Opts:     []asynq.Option{asynq.Queue(conf.Queue.RetryQueue), asynq.MaxRetry(0)},
		},
		{
			Cronspec: conf.BalanceMonitor.Cron,
			Task:     asynq.NewTask(TaskCheckBalances, nil),
			Opts:     []asynq.Option{asynq.Queue(conf.Queue.ScheduleQueue), asynq.MaxRetry(0)},
		},
	}
}

// HandleFundsQueueTask runs one pass of the insufficient-funds queue processor.
func (d *Disburse) HandleFundsQueueTask(ctx context.Context, _ *asynq.Task) error {
	summary, err := d.ProcessDueItems(ctx)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"processed":   summary.Processed,
		"rescheduled": summary.Rescheduled,
		"exhausted":   summary.Exhausted,
		"failed":      summary.Failed,
	}).Info("funds queue pass complete")
	return nil
}

// HandleBalanceCheckTask runs the balance monitor. An empty payload checks every due partner.
func (d *Disburse) HandleBalanceCheckTask(ctx context.Context, t *asynq.Task) error {
	var trigger MonitorTrigger
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &trigger); err != nil {
			return err
		}
	}
	_, err := d.CheckBalances(ctx, trigger)
	return err
}

// RegisterHandlers attaches every task handler to mux.
func (d *Disburse) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskProcessFundsQueue, d.HandleFundsQueueTask)
	mux.HandleFunc(TaskCheckBalances, d.HandleBalanceCheckTask)
	mux.HandleFunc(TaskPartnerWebhook, ProcessPartnerWebhook)
}
