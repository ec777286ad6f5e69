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
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/blnkfinance/disburse/internal/request"
	"github.com/blnkfinance/disburse/model"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

var webhookClient = &http.Client{Timeout: 15 * time.Second}

// PartnerWebhook is a disbursement event delivered to a partner's webhook URL.
type PartnerWebhook struct {
	WebhookID string          `json:"webhook_id"`
	PartnerID string          `json:"partner_id"`
	URL       string          `json:"url"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

type webhookBody struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// eventForStatus maps a disbursement status to the webhook event name.
func eventForStatus(status model.DisbursementStatus) string {
	switch status {
	case model.StatusQueued:
		return "disbursement.queued"
	case model.StatusAccepted:
		return "disbursement.accepted"
	case model.StatusSuccess:
		return "disbursement.success"
	case model.StatusFailed:
		return "disbursement.failed"
	case model.StatusTimeout:
		return "disbursement.timeout"
	case model.StatusRejected:
		return "disbursement.rejected"
	default:
		return "disbursement.unknown"
	}
}

// notifyPartner enqueues a webhook for the disbursement's current status. Partners without a webhook URL are skipped.
// Delivery problems are logged and never affect the disbursement.
func (d *Disburse) notifyPartner(ctx context.Context, partner *model.Partner, disbursement *model.Disbursement) {
	if partner == nil {
		p, err := d.datasource.GetPartner(ctx, disbursement.PartnerID)
		if err != nil {
			logrus.WithError(err).WithField("partner_id", disbursement.PartnerID).Error("webhook skipped: partner lookup failed")
			return
		}
		partner = p
	}
	if partner.WebhookURL == "" || d.queue == nil {
		return
	}

	data, err := json.Marshal(disbursement)
	if err != nil {
		logrus.Error(err)
		return
	}
	event := eventForStatus(disbursement.Status)
	hook := PartnerWebhook{
		WebhookID: fmt.Sprintf("%s:%s", disbursement.DisbursementID, event),
		PartnerID: partner.PartnerID,
		URL:       partner.WebhookURL,
		Event:     event,
		Data:      data,
		CreatedAt: d.now(),
	}
	if err := d.queue.EnqueueWebhook(ctx, hook); err != nil {
		logrus.WithError(err).WithField("disbursement_id", disbursement.DisbursementID).Error("failed to enqueue partner webhook")
	}
}

// ProcessPartnerWebhook delivers a queued partner webhook. A returned error makes asynq retry the task.
func ProcessPartnerWebhook(ctx context.Context, task *asynq.Task) error {
	var hook PartnerWebhook
	if err := json.Unmarshal(task.Payload(), &hook); err != nil {
		log.Printf("Error unmarshaling task payload: %v", err)
		return err
	}
	log.Printf("Processing webhook: %+v\n", hook.Event)

	payload, err := request.ToJsonReq(webhookBody{Event: hook.Event, Data: hook.Data})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, payload)
	if err != nil {
		return err
	}
	req.Header.Set("X-Disburse-Event", hook.Event)
	req.Header.Set("X-Disburse-Webhook-Id", hook.WebhookID)

	if _, err := request.Call(webhookClient, req, nil); err != nil {
		logrus.WithError(err).WithField("webhook_id", hook.WebhookID).Warn("partner webhook delivery failed")
		return err
	}
	return nil
}
