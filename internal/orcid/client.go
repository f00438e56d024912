package orcid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/example/orcid-service/internal/domain"
	pkglog "github.com/example/orcid-service/pkg/log"
)

const (
	mimeJSON      = "application/json"
	mimeOrcidJSON = "application/vnd.orcid+json"

	errInvalidGrant = "invalid_grant"
)

// TokenResponse is the decoded body of a successful token exchange.
type TokenResponse struct {
	Orcid        string
	Name         string
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresIn    int64
}

// APIError is a non-success response from an ORCID record endpoint.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orcid api status %d: %s", e.Status, e.Body)
}

// ExchangeError carries the registry status behind a failed token exchange.
type ExchangeError struct {
	Status int
	Code   string
	Err    error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("orcid token exchange (status %d, code %q): %v", e.Status, e.Code, e.Err)
}

func (e *ExchangeError) Unwrap() error { return e.Err }

type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	version   string
	endpoints func(domain.APIType) Endpoints
	logger    pkglog.Logger
}

type Option func(*Client)

func WithEndpoints(fn func(domain.APIType) Endpoints) Option {
	return func(c *Client) { c.endpoints = fn }
}

func WithVersion(v string) Option {
	return func(c *Client) { c.version = v }
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst) }
}

func WithLogger(logger pkglog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: timeout, Transport: acceptJSON{base: http.DefaultTransport}},
		limiter:   rate.NewLimiter(rate.Inf, 1),
		version:   "v3.0",
		endpoints: DefaultEndpoints,
		logger:    pkglog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoints(t domain.APIType) Endpoints { return c.endpoints(t) }

func (c *Client) oauthConfig(jctx *domain.Context, redirectURL string) *oauth2.Config {
	ep := c.endpoints(jctx.OrcidAPIType)
	return &oauth2.Config{
		ClientID:     jctx.OrcidClientID,
		ClientSecret: jctx.OrcidClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{Scope(jctx.OrcidAPIType)},
		Endpoint: oauth2.Endpoint{
			AuthURL:   ep.Site + "/oauth/authorize",
			TokenURL:  ep.Site + "/oauth/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizeURL is where the person is sent to grant access.
func (c *Client) AuthorizeURL(jctx *domain.Context, redirectURL, state string) string {
	return c.oauthConfig(jctx, redirectURL).AuthCodeURL(state)
}

// ExchangeCode trades a single-use authorization code for token material.
// It is never retried: replaying a code can only yield invalid_grant.
func (c *Client) ExchangeCode(ctx context.Context, jctx *domain.Context, redirectURL, code string) (*TokenResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ExchangeError{Err: fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)}
	}
	var status int
	hc := &http.Client{Timeout: c.http.Timeout, Transport: tokenStatus{base: c.http.Transport, status: &status}}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	tok, err := c.oauthConfig(jctx, redirectURL).Exchange(ctx, code)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			if rerr.Response != nil {
				status = rerr.Response.StatusCode
			}
			if rerr.ErrorCode == errInvalidGrant {
				return nil, &ExchangeError{Status: status, Code: rerr.ErrorCode, Err: domain.ErrInvalidGrant}
			}
			return nil, &ExchangeError{Status: status, Code: rerr.ErrorCode, Err: domain.ErrHandshakeFailed}
		}
		return nil, &ExchangeError{Status: status, Err: fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)}
	}

	out := &TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    tok.ExpiresIn,
	}
	out.Orcid, _ = tok.Extra("orcid").(string)
	out.Name, _ = tok.Extra("name").(string)
	out.Scope, _ = tok.Extra("scope").(string)
	if out.Orcid == "" || out.ExpiresIn <= 0 {
		return nil, &ExchangeError{Status: http.StatusOK, Err: fmt.Errorf("%w: token response lacks orcid or expires_in", domain.ErrHandshakeFailed)}
	}
	return out, nil
}

// FetchProfile reads the person and employment sections of a record.
func (c *Client) FetchProfile(ctx context.Context, jctx *domain.Context, orcid, accessToken string) (*Profile, error) {
	var person personJSON
	if err := c.get(ctx, jctx, orcid, "person", accessToken, &person); err != nil {
		return nil, fmt.Errorf("fetch person: %w", err)
	}
	var employments employmentsJSON
	if err := c.get(ctx, jctx, orcid, "employments", accessToken, &employments); err != nil {
		return nil, fmt.Errorf("fetch employments: %w", err)
	}
	return newProfile(orcid, person, employments), nil
}

// Create writes a new work or peer review on the record and returns its put-code.
func (c *Client) Create(ctx context.Context, jctx *domain.Context, kind domain.DepositKind, orcid, accessToken string, payload json.RawMessage) (string, error) {
	res, err := c.write(ctx, http.MethodPost, c.activityURL(jctx, orcid, kind, ""), accessToken, payload)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		return "", apiError(res)
	}
	putCode := path.Base(strings.TrimRight(res.Header.Get("Location"), "/"))
	if putCode == "" || putCode == "." || putCode == "/" {
		return "", fmt.Errorf("orcid create: missing put-code in Location header")
	}
	return putCode, nil
}

// Update replaces an existing item identified by its put-code.
func (c *Client) Update(ctx context.Context, jctx *domain.Context, kind domain.DepositKind, orcid, accessToken, putCode string, payload json.RawMessage) error {
	body, err := withPutCode(payload, putCode)
	if err != nil {
		return err
	}
	res, err := c.write(ctx, http.MethodPut, c.activityURL(jctx, orcid, kind, putCode), accessToken, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return apiError(res)
	}
	return nil
}

func (c *Client) activityURL(jctx *domain.Context, orcid string, kind domain.DepositKind, putCode string) string {
	section := "work"
	if kind == domain.DepositReview {
		section = "peer-review"
	}
	u := fmt.Sprintf("%s/%s/%s/%s", c.endpoints(jctx.OrcidAPIType).API, c.version, orcid, section)
	if putCode != "" {
		u += "/" + putCode
	}
	return u
}

func (c *Client) write(ctx context.Context, method, url, accessToken string, payload []byte) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mimeOrcidJSON)
	req.Header.Set("Accept", mimeOrcidJSON)
	return c.bearer(ctx, accessToken).Do(req)
}

func (c *Client) get(ctx context.Context, jctx *domain.Context, orcid, section, accessToken string, out interface{}) error {
	url := fmt.Sprintf("%s/%s/%s/%s", c.endpoints(jctx.OrcidAPIType).API, c.version, orcid, section)
	client := c.bearer(ctx, accessToken)
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			aerr := apiError(res)
			if res.StatusCode < 500 && res.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(aerr)
			}
			return aerr
		}
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	return backoff.RetryNotify(op, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Str("section", section).Dur("wait", wait).Msg("orcid read retry")
	})
}

func (c *Client) bearer(ctx context.Context, accessToken string) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
}

func apiError(res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &APIError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
}

// withPutCode stamps the put-code into an update body, as the registry requires.
func withPutCode(payload json.RawMessage, putCode string) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if n, err := strconv.ParseInt(putCode, 10, 64); err == nil {
		doc["put-code"] = n
	} else {
		doc["put-code"] = putCode
	}
	return json.Marshal(doc)
}

// acceptJSON asks the registry for JSON unless the caller chose otherwise.
type acceptJSON struct {
	base http.RoundTripper
}

func (t acceptJSON) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("Accept", mimeJSON)
	return t.base.RoundTrip(r)
}

// tokenStatus records the token endpoint status and rejects any 2xx other
// than 200, which oauth2 would otherwise accept.
type tokenStatus struct {
	base   http.RoundTripper
	status *int
}

func (t tokenStatus) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	*t.status = res.StatusCode
	if res.StatusCode != http.StatusOK && res.StatusCode < http.StatusMultipleChoices && res.StatusCode >= http.StatusOK {
		_ = res.Body.Close()
		return nil, fmt.Errorf("token endpoint answered %d, want 200", res.StatusCode)
	}
	return res, nil
}
