// Package rest talks to the CRM over its REST API. It implements the entity
// store, task and notification delegates of the action executor.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dukex/crmflow/pkg/actions"
	"github.com/dukex/crmflow/pkg/delegates"
	"github.com/dukex/crmflow/pkg/models"
)

const name = "crm"

var ErrBaseURL = errors.New("crm api url is required")

type Config struct {
	BaseURL string
	Token   string
	// PageSize bounds each entity listing request.
	PageSize int
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func New(cfg Config, client *http.Client, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrBaseURL
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}

	if client == nil {
		client = delegates.NewClient(0)
	}

	return &Client{cfg: cfg, http: client, logger: logger.With("module", "crm_rest")}, nil
}

func (c *Client) tenantURL(tenantID string, parts ...string) string {
	var b strings.Builder

	b.WriteString(c.cfg.BaseURL)
	b.WriteString("/tenants/")
	b.WriteString(url.PathEscape(tenantID))

	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}

	return b.String()
}

// do sends a JSON request and decodes the JSON response into out when out is
// not nil.
func (c *Client) do(ctx context.Context, op, method, target, idempotencyKey string, in, out any) error {
	var body io.Reader

	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return actions.Permanent(name, op, err)
		}

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return actions.Permanent(name, op, err)
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	if idempotencyKey != "" {
		req.Header.Set(delegates.IdempotencyHeader, idempotencyKey)
	}

	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return delegates.TransportError(name, op, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "crm request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if err := delegates.CheckStatus(name, op, resp); err != nil {
		return err
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return actions.Transient(name, op, fmt.Errorf("decode response: %w", err))
	}

	return nil
}

func notFound(err error, entityID string) error {
	if delegates.IsStatus(err, http.StatusNotFound) {
		return actions.Permanent(name, "get-entity", fmt.Errorf("%s: %w", entityID, actions.ErrEntityNotFound))
	}

	return err
}

func (c *Client) GetEntity(ctx context.Context, tenantID, entityID string) (*models.Entity, error) {
	var entity models.Entity

	err := c.do(ctx, "get-entity", http.MethodGet, c.tenantURL(tenantID, "entities", entityID), "", nil, &entity)
	if err != nil {
		return nil, notFound(err, entityID)
	}

	if entity.TenantID == "" {
		entity.TenantID = tenantID
	}

	return &entity, nil
}

type entityPage struct {
	Items      []*models.Entity `json:"items"`
	NextCursor string           `json:"next_cursor"`
}

// ListEntities follows the cursor until the CRM reports no further page.
func (c *Client) ListEntities(ctx context.Context, tenantID string, kind models.EntityKind) ([]*models.Entity, error) {
	var (
		out    []*models.Entity
		cursor string
	)

	for {
		query := url.Values{}
		query.Set("kind", string(kind))
		query.Set("limit", strconv.Itoa(c.cfg.PageSize))

		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var page entityPage

		target := c.tenantURL(tenantID, "entities") + "?" + query.Encode()
		if err := c.do(ctx, "list-entities", http.MethodGet, target, "", nil, &page); err != nil {
			return nil, err
		}

		for _, entity := range page.Items {
			if entity.TenantID == "" {
				entity.TenantID = tenantID
			}
		}

		out = append(out, page.Items...)

		if page.NextCursor == "" || page.NextCursor == cursor {
			return out, nil
		}

		cursor = page.NextCursor
	}
}

type mutationResult struct {
	Event *models.DomainEvent `json:"event"`
}

// ApplyMutation posts the change and returns the domain event the CRM
// produced for it, if any.
func (c *Client) ApplyMutation(ctx context.Context, mutation models.Mutation) (*models.DomainEvent, error) {
	var result mutationResult

	target := c.tenantURL(mutation.TenantID, "entities", mutation.EntityID, "mutations")
	if err := c.do(ctx, string(mutation.Kind), http.MethodPost, target, "", mutation, &result); err != nil {
		return nil, notFound(err, mutation.EntityID)
	}

	return result.Event, nil
}

type taskRequest struct {
	EntityID    string            `json:"entity_id"`
	EntityKind  models.EntityKind `json:"entity_kind"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Assignee    string            `json:"assignee"`
	DueDate     *time.Time        `json:"due_date,omitempty"`
	Priority    string            `json:"priority,omitempty"`
}

type created struct {
	ID string `json:"id"`
}

// CreateTask forwards the idempotency key so that a retried step does not
// create a second task.
func (c *Client) CreateTask(ctx context.Context, task actions.Task) (string, error) {
	req := taskRequest{
		EntityID:    task.EntityID,
		EntityKind:  task.EntityKind,
		Title:       task.Title,
		Description: task.Description,
		Assignee:    task.Assignee,
		Priority:    task.Priority,
	}

	if !task.DueDate.IsZero() {
		due := task.DueDate
		req.DueDate = &due
	}

	var out created
	if err := c.do(ctx, "create-task", http.MethodPost, c.tenantURL(task.TenantID, "tasks"), task.IdempotencyKey, req, &out); err != nil {
		return "", err
	}

	return out.ID, nil
}

type notificationRequest struct {
	UserIDs []string `json:"user_ids"`
	Title   string   `json:"title,omitempty"`
	Message string   `json:"message"`
}

func (c *Client) Notify(ctx context.Context, n actions.Notification) error {
	return c.do(ctx, "notify", http.MethodPost, c.tenantURL(n.TenantID, "notifications"), n.IdempotencyKey,
		notificationRequest{UserIDs: n.UserIDs, Title: n.Title, Message: n.Message}, nil)
}
