// Package provider talks to the mobile-money provider's OAuth, B2C and account balance APIs.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blnkfinance/disburse/config"
	"github.com/blnkfinance/disburse/internal/cache"
	"github.com/blnkfinance/disburse/internal/request"
	"github.com/blnkfinance/disburse/model"
	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	paymentPath = "/mpesa/b2c/v3/paymentrequest"
	balancePath = "/mpesa/accountbalance/v1/query"
)

type Config struct {
	BaseURL           string
	ResultURL         string
	TimeoutURL        string
	BalanceResultURL  string
	BalanceTimeoutURL string
	CommandID         string
	HTTPTimeout       time.Duration
	TokenBuffer       time.Duration
	TokenRetries      uint64
}

// ConfigFrom maps the service configuration onto the gateway configuration.
func ConfigFrom(cnf *config.Configuration) Config {
	p := cnf.Provider
	return Config{
		BaseURL:           p.BaseURL(),
		ResultURL:         p.ResultURL,
		TimeoutURL:        p.TimeoutURL,
		BalanceResultURL:  p.BalanceResultURL,
		BalanceTimeoutURL: p.BalanceTimeoutURL,
		CommandID:         p.CommandID,
		HTTPTimeout:       time.Duration(p.HTTPTimeoutSec) * time.Second,
		TokenBuffer:       time.Duration(p.TokenBufferSeconds) * time.Second,
		TokenRetries:      3,
	}
}

// Client is safe for concurrent use.
type Client struct {
	cfg        Config
	http       *http.Client
	tokens     cache.Cache
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// NewClient builds a gateway client. tokens holds access tokens keyed per credential set.
func NewClient(cfg Config, tokens cache.Cache, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: tokens,
		now:    time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return b
		},
	}
}

func tokenCacheKey(consumerKey string) string {
	sum := sha256.Sum256([]byte(consumerKey))
	return "provider:token:" + hex.EncodeToString(sum[:])
}

// GetAccessToken returns a cached token for creds or fetches a new one.
// Transient network failures are retried with exponential backoff; provider refusals are not.
func (c *Client) GetAccessToken(ctx context.Context, creds model.PartnerCredentials) (string, error) {
	key := tokenCacheKey(creds.ConsumerKey)

	var cached cachedToken
	if err := c.tokens.Get(ctx, key, &cached); err == nil && cached.Token != "" && c.now().Unix() < cached.ExpiresAt {
		return cached.Token, nil
	} else if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		logrus.WithError(err).Warn("token cache read failed")
	}

	var token tokenResponse
	operation := func() error {
		var err error
		token, err = c.fetchToken(ctx, creds)
		if err != nil && !errors.Is(err, ErrNetwork) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.cfg.TokenRetries), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return "", err
	}

	expiresIn, err := strconv.Atoi(strings.TrimSpace(token.ExpiresIn))
	if err != nil {
		return "", fmt.Errorf("%w: invalid expires_in %q", ErrMalformedResponse, token.ExpiresIn)
	}

	ttl := time.Duration(expiresIn)*time.Second - c.cfg.TokenBuffer
	if ttl > 0 {
		entry := cachedToken{Token: token.AccessToken, ExpiresAt: c.now().Add(ttl).Unix()}
		if err := c.tokens.Set(ctx, key, entry, ttl); err != nil {
			logrus.WithError(err).Warn("token cache write failed")
		}
	}
	return token.AccessToken, nil
}

func (c *Client) fetchToken(ctx context.Context, creds model.PartnerCredentials) (tokenResponse, error) {
	var token tokenResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return token, err
	}
	req.Header.Set("Authorization", "Basic "+request.BasicAuth(creds.ConsumerKey, creds.ConsumerSecret))

	if _, err := request.Call(c.http, req, &token); err != nil {
		return token, classify(err)
	}
	if token.AccessToken == "" {
		return token, fmt.Errorf("%w: empty access token", ErrMalformedResponse)
	}
	return token, nil
}

// SubmitPayment sends one B2C payment. It is never retried here: a repeated submission could pay twice.
// The request runs detached from ctx cancellation so a caller going away cannot abort it mid-flight.
func (c *Client) SubmitPayment(ctx context.Context, token string, payment PaymentRequest) (*PaymentResponse, error) {
	commandID := payment.CommandID
	if commandID == "" {
		commandID = c.cfg.CommandID
	}
	body := b2cRequest{
		OriginatorConversationID: payment.OriginatorConversationID,
		InitiatorName:            payment.InitiatorName,
		SecurityCredential:       payment.SecurityCredential,
		CommandID:                commandID,
		Amount:                   payment.Amount.StringFixed(0),
		PartyA:                   payment.ShortCode,
		PartyB:                   payment.MSISDN,
		Remarks:                  payment.Remarks,
		QueueTimeOutURL:          c.cfg.TimeoutURL,
		ResultURL:                c.cfg.ResultURL,
		Occasion:                 payment.Occasion,
	}
	return c.post(context.WithoutCancel(ctx), paymentPath, token, body)
}

// QueryBalance requests an asynchronous account balance report.
func (c *Client) QueryBalance(ctx context.Context, token string, query BalanceQuery) (*PaymentResponse, error) {
	body := balanceRequest{
		OriginatorConversationID: query.OriginatorConversationID,
		Initiator:                query.InitiatorName,
		SecurityCredential:       query.SecurityCredential,
		CommandID:                "AccountBalance",
		PartyA:                   query.ShortCode,
		IdentifierType:           "4",
		Remarks:                  query.Remarks,
		QueueTimeOutURL:          c.cfg.BalanceTimeoutURL,
		ResultURL:                c.cfg.BalanceResultURL,
	}
	return c.post(ctx, balancePath, token, body)
}

func (c *Client) post(ctx context.Context, path, token string, body interface{}) (*PaymentResponse, error) {
	payload, err := request.ToJsonReq(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	var resp PaymentResponse
	if _, err := request.Call(c.http, req, &resp); err != nil {
		return nil, classify(err)
	}

	if resp.ResponseCode == "" || resp.ConversationID == "" {
		return nil, fmt.Errorf("%w: missing response code or conversation id", ErrMalformedResponse)
	}
	if !resp.Accepted() {
		return nil, &RejectionError{StatusCode: http.StatusOK, Code: resp.ResponseCode, Description: resp.ResponseDescription}
	}
	return &resp, nil
}

// classify maps transport, status and decoding failures onto the gateway's error kinds.
func classify(err error) error {
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		var body errorResponse
		if json.Unmarshal(statusErr.Body, &body) == nil && body.ErrorCode != "" {
			return &RejectionError{StatusCode: statusErr.StatusCode, Code: body.ErrorCode, Description: body.ErrorMessage}
		}
		return &RejectionError{
			StatusCode:  statusErr.StatusCode,
			Code:        fmt.Sprintf("HTTP_%d", statusErr.StatusCode),
			Description: http.StatusText(statusErr.StatusCode),
		}
	}

	var decodeErr *request.DecodeError
	if errors.As(err, &decodeErr) {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr.Err)
	}

	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
