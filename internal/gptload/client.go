// Package gptload talks to the gpt-load admin API and reads its group state.
package gptload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nulzo/gptload-sync/internal/httpclient"
	"github.com/nulzo/gptload-sync/internal/retry"
	"go.uber.org/zap"
)

// API is the set of gpt-load operations the sync engine depends on.
type API interface {
	Health(ctx context.Context) error
	ListGroups(ctx context.Context) ([]Group, error)
	GetSubGroups(ctx context.Context, aggregateID int) ([]SubGroup, error)
	CreateGroup(ctx context.Context, req GroupRequest) (int, error)
	UpdateGroup(ctx context.Context, id int, req GroupRequest) error
	DeleteGroup(ctx context.Context, id int) error
	AddSubGroups(ctx context.Context, aggregateID int, members []SubGroupWeight) error
	RemoveSubGroup(ctx context.Context, aggregateID, subGroupID int) error
	AddKeys(ctx context.Context, groupID int, keys []string) error
}

// Observer is notified after every remote call with its operation name and outcome.
type Observer func(op string, err error)

type Client struct {
	baseURL  string
	authKey  string
	http     httpclient.HTTPClient
	policy   retry.Policy
	logger   *zap.Logger
	observer Observer
}

type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(c httpclient.HTTPClient) Option {
	return func(cl *Client) { cl.http = c }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observer = o }
}

func NewClient(baseURL, authKey string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		authKey: authKey,
		http:    &http.Client{Timeout: timeout},
		policy:  retry.DefaultPolicy(),
		logger:  logger.With(zap.String("component", "gptload")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL is the gpt-load root the client talks to, without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs one API request under the retry policy and unwraps the response envelope.
func (c *Client) call(ctx context.Context, op, method, path string, body, out any) error {
	policy := c.policy
	policy.Notify = func(err error, wait time.Duration) {
		c.logger.Warn("gpt-load call failed, retrying",
			zap.String("op", op),
			zap.Duration("backoff", wait),
			zap.Error(err))
	}

	_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.do(ctx, op, method, path, body, out)
	})

	if c.observer != nil {
		c.observer(op, err)
	}
	if err != nil {
		c.logger.Error("gpt-load call failed", zap.String("op", op), zap.String("path", path), zap.Error(err))
	}
	return err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var raw json.RawMessage
	err := httpclient.SendRequest(ctx, c.http, httpclient.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: map[string]string{"X-Api-Key": c.authKey},
		Body:    body,
	}, &raw)

	var upstream *httpclient.UpstreamError
	if errors.As(err, &upstream) {
		apiErr := &APIError{Op: op, StatusCode: upstream.StatusCode, Message: string(upstream.Body)}
		var env envelope
		if json.Unmarshal(upstream.Body, &env) == nil && env.Message != "" {
			apiErr.Code = codeString(env.Code)
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if err != nil {
		return err
	}

	data, err := unwrap(op, raw)
	if err != nil || out == nil || len(data) == 0 {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadResponse, op, err)
	}
	return nil
}

// unwrap returns the data field of a {code, message, data} envelope. Payloads that
// are not enveloped are returned as-is.
func unwrap(op string, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Code == nil {
		return trimmed, nil
	}
	if code := codeString(env.Code); code != "0" {
		return nil, &APIError{Op: op, Code: code, Message: env.Message}
	}
	return env.Data, nil
}

func codeString(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}

func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, "health", http.MethodGet, "/health", nil, nil)
}

func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := c.call(ctx, "list_groups", http.MethodGet, "/api/groups", nil, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (c *Client) GetSubGroups(ctx context.Context, aggregateID int) ([]SubGroup, error) {
	var subs []SubGroup
	path := fmt.Sprintf("/api/groups/%d/sub-groups", aggregateID)
	if err := c.call(ctx, "get_sub_groups", http.MethodGet, path, nil, &subs); err != nil {
		return nil, err
	}
	return subs, nil
}

func (c *Client) CreateGroup(ctx context.Context, req GroupRequest) (int, error) {
	var created struct {
		ID int `json:"id"`
	}
	if err := c.call(ctx, "create_group", http.MethodPost, "/api/groups", req, &created); err != nil {
		return 0, err
	}
	if created.ID == 0 {
		return 0, fmt.Errorf("%w: create_group %q returned no id", ErrBadResponse, req.Name)
	}
	c.logger.Info("created group", zap.String("group", req.Name), zap.Int("id", created.ID))
	return created.ID, nil
}

func (c *Client) UpdateGroup(ctx context.Context, id int, req GroupRequest) error {
	return c.call(ctx, "update_group", http.MethodPut, fmt.Sprintf("/api/groups/%d", id), req, nil)
}

func (c *Client) DeleteGroup(ctx context.Context, id int) error {
	return c.call(ctx, "delete_group", http.MethodDelete, fmt.Sprintf("/api/groups/%d", id), nil, nil)
}

func (c *Client) AddSubGroups(ctx context.Context, aggregateID int, members []SubGroupWeight) error {
	if len(members) == 0 {
		return nil
	}
	path := fmt.Sprintf("/api/groups/%d/sub-groups", aggregateID)
	return c.call(ctx, "add_sub_groups", http.MethodPost, path, addSubGroupsRequest{SubGroups: members}, nil)
}

func (c *Client) RemoveSubGroup(ctx context.Context, aggregateID, subGroupID int) error {
	path := fmt.Sprintf("/api/groups/%d/sub-groups/%d", aggregateID, subGroupID)
	return c.call(ctx, "remove_sub_group", http.MethodDelete, path, nil, nil)
}

func (c *Client) AddKeys(ctx context.Context, groupID int, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	body := addKeysRequest{GroupID: groupID, KeysText: strings.Join(keys, "\n")}
	return c.call(ctx, "add_keys", http.MethodPost, "/api/keys/add-multiple", body, nil)
}
