// Package sanity writes mirror documents through the Sanity mutations API.
package sanity

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
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/resilience"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

// DefaultAPIVersion is the dated API version used when none is configured.
const DefaultAPIVersion = "2023-05-03"

// ErrNotConfigured is returned when the project, dataset or token is missing.
var ErrNotConfigured = errors.New("sanity project, dataset and token are required")

// Config holds document store credentials.
type Config struct {
	ProjectID  string
	Dataset    string
	Token      string
	APIVersion string
	// BaseURL overrides https://<project>.api.sanity.io.
	BaseURL string
	Timeout time.Duration
	Breaker resilience.BreakerConfig
}

// Client implements domain.DocumentStore.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
	logger     *slog.Logger
}

// NewClient creates a document store client.
func NewClient(cfg Config, logger *slog.Logger, metrics observability.Metrics) (*Client, error) {
	if cfg.ProjectID == "" || cfg.Dataset == "" || cfg.Token == "" {
		return nil, ErrNotConfigured
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("https://%s.api.sanity.io", cfg.ProjectID)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker = resilience.DefaultBreakerConfig()
	}
	cfg.Breaker.IsSuccessful = isRejected

	return &Client{
		endpoint: fmt.Sprintf("%s/v%s/data/mutate/%s",
			strings.TrimRight(cfg.BaseURL, "/"), strings.TrimPrefix(cfg.APIVersion, "v"), url.PathEscape(cfg.Dataset)),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    resilience.NewBreaker[struct{}]("sanity", cfg.Breaker, logger, metrics),
		logger:     logger,
	}, nil
}

type mutation struct {
	Patch patchMutation `json:"patch"`
}

type patchMutation struct {
	ID  string        `json:"id"`
	Set domain.Fields `json:"set"`
}

// rejection is a non-2xx answer from the API.
type rejection struct {
	status  int
	message string
}

func (r *rejection) Error() string {
	return fmt.Sprintf("sanity responded %d: %s", r.status, r.message)
}

// Patch sets fields on an existing document and commits immediately.
func (c *Client) Patch(ctx context.Context, documentID string, fields domain.Fields, visibility domain.Visibility) error {
	if visibility == "" {
		visibility = domain.VisibilityAsync
	}
	body, err := json.Marshal(struct {
		Mutations []mutation `json:"mutations"`
	}{
		Mutations: []mutation{{Patch: patchMutation{ID: documentID, Set: fields}}},
	})
	if err != nil {
		return &domain.DocumentStoreError{DocumentID: documentID, Err: err}
	}

	query := url.Values{}
	query.Set("returnIds", "true")
	query.Set("visibility", string(visibility))
	target := c.endpoint + "?" + query.Encode()

	_, err = resilience.Execute(c.breaker, func() (struct{}, error) {
		return struct{}{}, c.post(ctx, target, body)
	})
	if err != nil {
		return &domain.DocumentStoreError{DocumentID: documentID, Err: err}
	}

	c.logger.DebugContext(ctx, "mirror document patched",
		"document_id", documentID, "visibility", visibility, "fields", len(fields))
	return nil
}

func (c *Client) post(ctx context.Context, target string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return responseError(resp)
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error struct {
			Description string `json:"description"`
		} `json:"error"`
		Message string `json:"message"`
	}
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &payload) == nil {
		switch {
		case payload.Error.Description != "":
			message = payload.Error.Description
		case payload.Message != "":
			message = payload.Message
		}
	}
	return &rejection{status: resp.StatusCode, message: message}
}

// isRejected reports 4xx answers other than rate limiting. They describe the
// request, not the health of the API, so they do not trip the breaker.
func isRejected(err error) bool {
	var r *rejection
	return errors.As(err, &r) &&
		r.status >= http.StatusBadRequest &&
		r.status < http.StatusInternalServerError &&
		r.status != http.StatusTooManyRequests
}

var _ domain.DocumentStore = (*Client)(nil)
