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

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5001"

	EnvironmentSandbox    = "sandbox"
	EnvironmentProduction = "production"

	defaultSandboxURL       = "https://sandbox.safaricom.co.ke"
	defaultProductionURL    = "https://api.safaricom.co.ke"
	defaultVaultSalt        = "disburse-credential-vault-v1"
	defaultVaultIterations  = 100000
	defaultTimezone         = "Africa/Nairobi"
	defaultMinAmount        = 10
	defaultMaxAmount        = 150000
	defaultMaxRetries       = 3
	defaultTokenBufferSec   = 60
	defaultHTTPTimeoutSec   = 30
	defaultCheckIntervalMin = 30
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"DISBURSE_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"DISBURSE_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"DISBURSE_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"DISBURSE_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"DISBURSE_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"DISBURSE_SERVER_PORT"`
	// TrustedProxies lists the proxy addresses or CIDRs allowed to set X-Forwarded-For. Empty trusts none.
	TrustedProxies []string `json:"trusted_proxies" envconfig:"DISBURSE_SERVER_TRUSTED_PROXIES"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"DISBURSE_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"DISBURSE_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"DISBURSE_REDIS_SKIP_TLS_VERIFY"`
}

// ProviderConfig describes how to reach the mobile-money provider.
type ProviderConfig struct {
	Environment        string `json:"environment" envconfig:"DISBURSE_PROVIDER_ENVIRONMENT"`
	SandboxURL         string `json:"sandbox_url" envconfig:"DISBURSE_PROVIDER_SANDBOX_URL"`
	ProductionURL      string `json:"production_url" envconfig:"DISBURSE_PROVIDER_PRODUCTION_URL"`
	ResultURL          string `json:"result_url" envconfig:"DISBURSE_PROVIDER_RESULT_URL"`
	TimeoutURL         string `json:"timeout_url" envconfig:"DISBURSE_PROVIDER_TIMEOUT_URL"`
	BalanceResultURL   string `json:"balance_result_url" envconfig:"DISBURSE_PROVIDER_BALANCE_RESULT_URL"`
	BalanceTimeoutURL  string `json:"balance_timeout_url" envconfig:"DISBURSE_PROVIDER_BALANCE_TIMEOUT_URL"`
	CommandID          string `json:"command_id" envconfig:"DISBURSE_PROVIDER_COMMAND_ID"`
	HTTPTimeoutSec     int    `json:"http_timeout_sec" envconfig:"DISBURSE_PROVIDER_HTTP_TIMEOUT_SEC"`
	TokenBufferSeconds int    `json:"token_buffer_seconds" envconfig:"DISBURSE_PROVIDER_TOKEN_BUFFER_SECONDS"`
}

// BaseURL returns the provider base URL for the configured environment.
func (p ProviderConfig) BaseURL() string {
	if p.Environment == EnvironmentProduction {
		return p.ProductionURL
	}
	return p.SandboxURL
}

type VaultConfig struct {
	Passphrase             string `json:"passphrase" envconfig:"DISBURSE_VAULT_PASSPHRASE"`
	Salt                   string `json:"salt" envconfig:"DISBURSE_VAULT_SALT"`
	Iterations             int    `json:"iterations" envconfig:"DISBURSE_VAULT_ITERATIONS"`
	AllowPlaintextFallback *bool  `json:"allow_plaintext_fallback" envconfig:"DISBURSE_VAULT_ALLOW_PLAINTEXT_FALLBACK"`
}

// SharedCredentialConfig holds the credential set used by partners that opted into shared credentials.
type SharedCredentialConfig struct {
	ConsumerKey        string `json:"consumer_key" envconfig:"DISBURSE_SHARED_CONSUMER_KEY"`
	ConsumerSecret     string `json:"consumer_secret" envconfig:"DISBURSE_SHARED_CONSUMER_SECRET"`
	SecurityCredential string `json:"security_credential" envconfig:"DISBURSE_SHARED_SECURITY_CREDENTIAL"`
	InitiatorName      string `json:"initiator_name" envconfig:"DISBURSE_SHARED_INITIATOR_NAME"`
	ShortCode          string `json:"short_code" envconfig:"DISBURSE_SHARED_SHORT_CODE"`
}

type GuardConfig struct {
	// TrustedOrigins lists "<partner_id>:<channel>" pairs that skip the fraud window and daily limit checks.
	TrustedOrigins []string `json:"trusted_origins" envconfig:"DISBURSE_GUARD_TRUSTED_ORIGINS"`
	Timezone       string   `json:"timezone" envconfig:"DISBURSE_GUARD_TIMEZONE"`
}

type LimitsConfig struct {
	MinAmount int64 `json:"min_amount" envconfig:"DISBURSE_LIMITS_MIN_AMOUNT"`
	MaxAmount int64 `json:"max_amount" envconfig:"DISBURSE_LIMITS_MAX_AMOUNT"`
}

type QueueConfig struct {
	RetryQueue       string `json:"retry_queue" envconfig:"DISBURSE_QUEUE_RETRY_QUEUE"`
	WebhookQueue     string `json:"webhook_queue" envconfig:"DISBURSE_QUEUE_WEBHOOK_QUEUE"`
	ScheduleQueue    string `json:"schedule_queue" envconfig:"DISBURSE_QUEUE_SCHEDULE_QUEUE"`
	MaxRetries       int    `json:"max_retries" envconfig:"DISBURSE_QUEUE_MAX_RETRIES"`
	ProcessCron      string `json:"process_cron" envconfig:"DISBURSE_QUEUE_PROCESS_CRON"`
	MonitoringPort   string `json:"monitoring_port" envconfig:"DISBURSE_QUEUE_MONITORING_PORT"`
	InflightLockSecs int    `json:"inflight_lock_secs" envconfig:"DISBURSE_QUEUE_INFLIGHT_LOCK_SECS"`
}

type BalanceMonitorConfig struct {
	Cron                 string `json:"cron" envconfig:"DISBURSE_BALANCE_MONITOR_CRON"`
	DefaultIntervalMin   int    `json:"default_interval_min" envconfig:"DISBURSE_BALANCE_MONITOR_DEFAULT_INTERVAL_MIN"`
	AlertCooldownMinutes int    `json:"alert_cooldown_minutes" envconfig:"DISBURSE_BALANCE_MONITOR_ALERT_COOLDOWN_MINUTES"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"DISBURSE_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"DISBURSE_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"DISBURSE_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"DISBURSE_SLACK_WEBHOOK_URL"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type Configuration struct {
	ProjectName       string                 `json:"project_name" envconfig:"DISBURSE_PROJECT_NAME"`
	Server            ServerConfig           `json:"server"`
	DataSource        DataSourceConfig       `json:"data_source"`
	Redis             RedisConfig            `json:"redis"`
	Provider          ProviderConfig         `json:"provider"`
	Vault             VaultConfig            `json:"vault"`
	SharedCredentials SharedCredentialConfig `json:"shared_credentials"`
	Guard             GuardConfig            `json:"guard"`
	Limits            LimitsConfig           `json:"limits"`
	Queue             QueueConfig            `json:"queue"`
	BalanceMonitor    BalanceMonitorConfig   `json:"balance_monitor"`
	Notification      Notification           `json:"notification"`
	RateLimit         RateLimitConfig        `json:"rate_limit"`
	EnableTelemetry   bool                   `json:"enable_telemetry" envconfig:"DISBURSE_ENABLE_TELEMETRY"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("disburse", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called disburse.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Disburse Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	if cnf.Vault.Passphrase == "" {
		log.Println("Error: Vault passphrase is empty. It's a required field.")
		return errors.New("vault passphrase is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.applyDefaults()

	if cnf.Provider.Environment != EnvironmentSandbox && cnf.Provider.Environment != EnvironmentProduction {
		return errors.New("provider environment must be either sandbox or production")
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// applyDefaults fills every optional setting that was left empty.
func (cnf *Configuration) applyDefaults() {
	if cnf.Provider.Environment == "" {
		cnf.Provider.Environment = EnvironmentSandbox
	}
	if cnf.Provider.SandboxURL == "" {
		cnf.Provider.SandboxURL = defaultSandboxURL
	}
	if cnf.Provider.ProductionURL == "" {
		cnf.Provider.ProductionURL = defaultProductionURL
	}
	if cnf.Provider.CommandID == "" {
		cnf.Provider.CommandID = "BusinessPayment"
	}
	if cnf.Provider.HTTPTimeoutSec == 0 {
		cnf.Provider.HTTPTimeoutSec = defaultHTTPTimeoutSec
	}
	if cnf.Provider.TokenBufferSeconds == 0 {
		cnf.Provider.TokenBufferSeconds = defaultTokenBufferSec
	}

	if cnf.Vault.Salt == "" {
		cnf.Vault.Salt = defaultVaultSalt
	}
	if cnf.Vault.Iterations < defaultVaultIterations {
		cnf.Vault.Iterations = defaultVaultIterations
	}
	if cnf.Vault.AllowPlaintextFallback == nil {
		allow := true
		cnf.Vault.AllowPlaintextFallback = &allow
		log.Println("Warning: plaintext credential fallback not configured. Keeping it enabled for legacy partners.")
	}

	if cnf.Guard.Timezone == "" {
		cnf.Guard.Timezone = defaultTimezone
	}

	if cnf.Limits.MinAmount == 0 {
		cnf.Limits.MinAmount = defaultMinAmount
	}
	if cnf.Limits.MaxAmount == 0 {
		cnf.Limits.MaxAmount = defaultMaxAmount
	}

	if cnf.Queue.RetryQueue == "" {
		cnf.Queue.RetryQueue = "disbursement_retry"
	}
	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = "partner_webhooks"
	}
	if cnf.Queue.ScheduleQueue == "" {
		cnf.Queue.ScheduleQueue = "scheduled_jobs"
	}
	if cnf.Queue.MaxRetries == 0 {
		cnf.Queue.MaxRetries = defaultMaxRetries
	}
	if cnf.Queue.ProcessCron == "" {
		cnf.Queue.ProcessCron = "@every 1m"
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5004"
	}
	if cnf.Queue.InflightLockSecs == 0 {
		cnf.Queue.InflightLockSecs = 120
	}

	if cnf.BalanceMonitor.Cron == "" {
		cnf.BalanceMonitor.Cron = "@every 5m"
	}
	if cnf.BalanceMonitor.DefaultIntervalMin == 0 {
		cnf.BalanceMonitor.DefaultIntervalMin = defaultCheckIntervalMin
	}
	if cnf.BalanceMonitor.AlertCooldownMinutes == 0 {
		cnf.BalanceMonitor.AlertCooldownMinutes = 60
	}
}

// PlaintextFallbackEnabled reports whether legacy plaintext credentials may be used when vault decryption fails.
func (cnf *Configuration) PlaintextFallbackEnabled() bool {
	return cnf.Vault.AllowPlaintextFallback == nil || *cnf.Vault.AllowPlaintextFallback
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	mockConfig.applyDefaults()
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
