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
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/blnkfinance/disburse/model"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventForStatus(t *testing.T) {
	assert.Equal(t, "disbursement.success", eventForStatus(model.StatusSuccess))
	assert.Equal(t, "disbursement.queued", eventForStatus(model.StatusQueued))
	assert.Equal(t, "disbursement.timeout", eventForStatus(model.StatusTimeout))
	assert.Equal(t, "disbursement.unknown", eventForStatus(model.DisbursementStatus("paused")))
}

func TestNotifyPartner_EnqueuesOncePerEvent(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	partner.WebhookURL = "https://partner.test/hooks"
	disbursement := &model.Disbursement{DisbursementID: "dsb_w1", PartnerID: partner.PartnerID, Amount: decimal.NewFromInt(100), Status: model.StatusSuccess}

	env.d.notifyPartner(context.Background(), partner, disbursement)
	env.d.notifyPartner(context.Background(), partner, disbursement)

	tasks, err := env.d.queue.Inspector.ListPendingTasks(env.d.cnf.Queue.WebhookQueue)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskPartnerWebhook, tasks[0].Type)
	assert.Equal(t, "dsb_w1:disbursement.success", tasks[0].ID)

	var hook PartnerWebhook
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &hook))
	assert.Equal(t, partner.WebhookURL, hook.URL)
	assert.Equal(t, "disbursement.success", hook.Event)
}

func TestNotifyPartner_SkipsWithoutURL(t *testing.T) {
	env := newTestEngine(t)
	partner := testPartner()
	env.d.notifyPartner(context.Background(), partner, &model.Disbursement{DisbursementID: "dsb_w2", Status: model.StatusFailed})

	tasks, err := env.d.queue.Inspector.ListPendingTasks(env.d.cnf.Queue.WebhookQueue)
	if err == nil {
		assert.Empty(t, tasks)
	}
}

func TestProcessPartnerWebhook(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	hook := PartnerWebhook{
		WebhookID: "dsb_w3:disbursement.failed",
		PartnerID: "p1",
		URL:       "https://partner.test/hooks",
		Event:     "disbursement.failed",
		Data:      json.RawMessage(`{"disbursement_id":"dsb_w3","status":"failed"}`),
		CreatedAt: time.Now(),
	}
	httpmock.RegisterResponder(http.MethodPost, hook.URL, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "disbursement.failed", req.Header.Get("X-Disburse-Event"))
		assert.Equal(t, hook.WebhookID, req.Header.Get("X-Disburse-Webhook-Id"))
		body, _ := io.ReadAll(req.Body)
		assert.JSONEq(t, `{"event":"disbursement.failed","data":{"disbursement_id":"dsb_w3","status":"failed"}}`, string(body))
		return httpmock.NewStringResponse(http.StatusOK, `{"ok":true}`), nil
	})

	payload, err := json.Marshal(hook)
	require.NoError(t, err)
	require.NoError(t, ProcessPartnerWebhook(context.Background(), asynq.NewTask(TaskPartnerWebhook, payload)))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestProcessPartnerWebhook_RetriesOnFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, "https://partner.test/down", httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))
	payload, err := json.Marshal(PartnerWebhook{WebhookID: "w", URL: "https://partner.test/down", Event: "disbursement.success", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	assert.Error(t, ProcessPartnerWebhook(context.Background(), asynq.NewTask(TaskPartnerWebhook, payload)))
}
