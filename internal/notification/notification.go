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

package notification

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/request"
	"github.com/sirupsen/logrus"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

type Field struct {
	Name  string
	Value string
}

// Message is an operator-facing alert. Rendering is left to the Notifier.
type Message struct {
	Title    string
	Severity Severity
	Fields   []Field
	Time     time.Time
}

// Notifier delivers operator alerts such as persistence incidents and low-balance warnings.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// SlackNotifier posts messages to a Slack incoming webhook. An empty URL turns it into a no-op.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string, client *http.Client) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, client: client}
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

func slackMessage(msg Message) slackPayload {
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	fields := []slackText{
		{Type: "mrkdwn", Text: fmt.Sprintf("*Severity:*\n%s", msg.Severity)},
	}
	for _, f := range msg.Fields {
		fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*%s:*\n%s", f.Name, f.Value)})
	}
	fields = append(fields, slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Time:*\n%s", msg.Time.Format(time.RFC822))})

	return slackPayload{Blocks: []slackBlock{
		{Type: "header", Text: &slackText{Type: "plain_text", Text: msg.Title, Emoji: true}},
		{Type: "section", Fields: fields},
	}}
}

func (s *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := request.ToJsonReq(slackMessage(msg))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, payload)
	if err != nil {
		return err
	}

	_, err = request.Call(s.client, req, nil)
	return err
}

// NotifyError reports an unexpected system error through the configured Slack webhook, asynchronously.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			logrus.Error(err)
			return
		}

		notifier := NewSlackNotifier(conf.Notification.Slack.WebhookUrl, nil)
		msg := Message{
			Title:    "Error From Disburse 🐞",
			Severity: SeverityCritical,
			Fields:   []Field{{Name: "Error", Value: systemError.Error()}},
		}
		if err := notifier.Notify(context.Background(), msg); err != nil {
			logrus.Error(err)
		}
	}(systemError)
}
