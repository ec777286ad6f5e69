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
	"embed"
	"net/http"
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/database"
	"github.com/blnkfinance/disburse/internal/cache"
	redlock "github.com/blnkfinance/disburse/internal/lock"
	"github.com/blnkfinance/disburse/internal/notification"
	"github.com/blnkfinance/disburse/internal/provider"
	redis_db "github.com/blnkfinance/disburse/internal/redis-db"
	"github.com/blnkfinance/disburse/internal/vault"
	"github.com/blnkfinance/disburse/model"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("disburse.service")

//go:embed sql/*.sql
var SQLFiles embed.FS

// Gateway is the provider boundary used by the service.
type Gateway interface {
	GetAccessToken(ctx context.Context, creds model.PartnerCredentials) (string, error)
	SubmitPayment(ctx context.Context, token string, payment provider.PaymentRequest) (*provider.PaymentResponse, error)
	QueryBalance(ctx context.Context, token string, query provider.BalanceQuery) (*provider.PaymentResponse, error)
}

// InflightLocker guards one idempotency key while its provider call is outstanding.
type InflightLocker interface {
	Acquire(ctx context.Context, partnerID, clientRequestID string, ttl time.Duration) (func(context.Context) error, error)
}

// Disburse is the disbursement engine: guard, funds queue, orchestrator, reconciler and balance monitor.
type Disburse struct {
	datasource database.IDataSource
	gateway    Gateway
	locks      InflightLocker
	queue      *Queue
	vault      *vault.Vault
	notifier   notification.Notifier
	redis      redis.UniversalClient
	cnf        *config.Configuration
	location   *time.Location
	now        func() time.Time
}

type options struct {
	httpClient *http.Client
	notifier   notification.Notifier
	now        func() time.Time
}

// Option customises a Disburse built by NewDisburse.
type Option func(*options)

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithNotifier replaces the Slack notifier built from configuration.
func WithNotifier(n notification.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithClock overrides the wall clock, mostly for window and backoff tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewDisburse wires the engine from the loaded configuration.
//
// Parameters:
// - db database.IDataSource: The datasource for database operations.
// - opts ...Option: Optional overrides.
//
// Returns:
// - *Disburse: The engine.
// - error: An error if redis, the vault or the queue cannot be initialised.
func NewDisburse(db database.IDataSource, opts ...Option) (*Disburse, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	redisClient, err := redis_db.NewRedisClient([]string{cnf.Redis.Dns}, cnf.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}

	v, err := vault.New(cnf.Vault.Passphrase, cnf.Vault.Salt, cnf.Vault.Iterations)
	if err != nil {
		return nil, err
	}

	queue, err := NewQueue(cnf)
	if err != nil {
		return nil, err
	}

	location, err := time.LoadLocation(cnf.Guard.Timezone)
	if err != nil {
		return nil, err
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = notification.NewSlackNotifier(cnf.Notification.Slack.WebhookUrl, nil)
	}

	tokens := cache.NewCache(redisClient.Client(), time.Minute)
	gateway := provider.NewClient(provider.ConfigFrom(cnf), tokens, o.httpClient)

	return &Disburse{
		datasource: db,
		gateway:    gateway,
		locks:      redlock.NewInflightLocks(redisClient.Client()),
		queue:      queue,
		vault:      v,
		notifier:   notifier,
		redis:      redisClient.Client(),
		cnf:        cnf,
		location:   location,
		now:        o.now,
	}, nil
}

// Close releases the queue client.
func (d *Disburse) Close() error {
	if d.queue == nil {
		return nil
	}
	return d.queue.Close()
}

// Datasource exposes the repository to the API layer for partner authentication.
func (d *Disburse) Datasource() database.IDataSource {
	return d.datasource
}

// startOfDay is local midnight of t in the guard timezone.
func (d *Disburse) startOfDay(t time.Time) time.Time {
	local := t.In(d.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.location)
}
