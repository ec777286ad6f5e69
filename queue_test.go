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
	"testing"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/model"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPeriodicTasks(t *testing.T) {
	cnf := &config.Configuration{}
	config.MockConfig(cnf)

	tasks := PeriodicTasks(cnf)
	require.Len(t, tasks, 2)
	assert.Equal(t, TaskProcessFundsQueue, tasks[0].Task.Type())
	assert.Equal(t, cnf.Queue.ProcessCron, tasks[0].Cronspec)
	assert.Equal(t, TaskCheckBalances, tasks[1].Task.Type())
	assert.Equal(t, cnf.BalanceMonitor.Cron, tasks[1].Cronspec)
}

func TestHandleFundsQueueTask(t *testing.T) {
	env := newTestEngine(t)
	env.ds.On("GetExhaustedQueueItems", mock.Anything, mock.Anything, queueBatchSize).Return([]model.QueueItem{}, nil)
	env.ds.On("GetDueQueueItems", mock.Anything, mock.Anything, queueBatchSize).Return([]model.QueueItem{}, nil)

	require.NoError(t, env.d.HandleFundsQueueTask(context.Background(), asynq.NewTask(TaskProcessFundsQueue, nil)))
	env.ds.AssertExpectations(t)
}

func TestRegisterHandlers(t *testing.T) {
	env := newTestEngine(t)
	mux := asynq.NewServeMux()
	env.d.RegisterHandlers(mux)

	for _, typ := range []string{TaskProcessFundsQueue, TaskCheckBalances, TaskPartnerWebhook} {
		_, pattern := mux.Handler(asynq.NewTask(typ, nil))
		assert.Equal(t, typ, pattern)
	}
}
