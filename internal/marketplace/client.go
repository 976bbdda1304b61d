package marketplace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/syncerr"
)

// Client is the HTTP implementation of API.
type Client struct {
	http         *resty.Client
	baseURL      string
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewClient builds a client from the marketplace configuration.
func NewClient(cfg config.MarketplaceConfig) *Client {
	httpClient := resty.New()
	httpClient.SetTimeout(cfg.RequestTimeout)
	httpClient.SetHeader("Accept", "application/json")

	return &Client{
		http:         httpClient,
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		tokenURL:     cfg.TokenURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
	}
}

// New returns the live client, or the deterministic offline implementation
// when mock mode is configured.
func New(cfg config.MarketplaceConfig) API {
	if cfg.MockMode {
		return NewMock(cfg.MockItemCount)
	}
	return NewClient(cfg)
}

func (c *Client) ListPage(ctx context.Context, token string, page, pageSize int) (Page, error) {
	var out Page
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParams(map[string]string{
			"page":  strconv.Itoa(page),
			"limit": strconv.Itoa(pageSize),
		}).
		SetResult(&out).
		Get(c.baseURL + "/sell/catalog/v1/items")
	if err := classify(ctx, resp, err, "list catalog page"); err != nil {
		return Page{}, err
	}
	return out, nil
}

func (c *Client) GetDetail(ctx context.Context, token, itemID string) (ItemRecord, error) {
	var out ItemRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("itemId", itemID).
		SetResult(&out).
		Get(c.baseURL + "/sell/catalog/v1/items/{itemId}")
	if err := classify(ctx, resp, err, "get item "+itemID); err != nil {
		return ItemRecord{}, err
	}
	return out, nil
}

func (c *Client) CreateTask(ctx context.Context, token, reportType string) (string, error) {
	var out struct {
		TaskID string `json:"taskId"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(map[string]string{"feedType": reportType, "schemaVersion": "1.0"}).
		SetResult(&out).
		Post(c.baseURL + "/sell/feed/v1/inventory_task")
	if err := classify(ctx, resp, err, "create export task"); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		// Some deployments only return the task URL in the Location header
		if loc := resp.Header().Get("Location"); loc != "" {
			out.TaskID = loc[strings.LastIndex(loc, "/")+1:]
		}
	}
	if out.TaskID == "" {
		return "", syncerr.New(syncerr.KindTaskFailed, "export task created without an id")
	}
	return out.TaskID, nil
}

func (c *Client) GetTaskStatus(ctx context.Context, token, taskID string) (TaskStatus, error) {
	var out TaskStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetPathParam("taskId", taskID).
		SetResult(&out).
		Get(c.baseURL + "/sell/feed/v1/inventory_task/{taskId}")
	if err := classify(ctx, resp, err, "get export task "+taskID); err != nil {
		return TaskStatus{}, err
	}
	if out.TaskID == "" {
		out.TaskID = taskID
	}
	return out, nil
}

// Download streams the export payload. The caller must close the reader.
func (c *Client) Download(ctx context.Context, token, location string) (io.ReadCloser, error) {
	url := location
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		url = c.baseURL + "/" + strings.TrimLeft(location, "/")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Accept", "application/octet-stream").
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return nil, classify(ctx, resp, err, "download export")
	}
	body := resp.RawBody()
	if resp.StatusCode() >= 300 {
		_ = body.Close()
		return nil, classify(ctx, resp, nil, "download export")
	}
	return body, nil
}

// Refresh exchanges a refresh token at the OAuth token endpoint.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenGrant, error) {
	var out TokenGrant
	var oauthErr struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		}).
		SetResult(&out).
		SetError(&oauthErr).
		Post(c.tokenURL)
	if err == nil && resp.StatusCode() == http.StatusBadRequest && oauthErr.Error == "invalid_grant" {
		return TokenGrant{}, syncerr.New(syncerr.KindAuth, "refresh token rejected: "+oauthErr.Description)
	}
	if err := classify(ctx, resp, err, "refresh access token"); err != nil {
		return TokenGrant{}, err
	}
	if out.AccessToken == "" {
		return TokenGrant{}, syncerr.New(syncerr.KindAuth, "token endpoint returned no access token")
	}
	return out, nil
}

// classify maps transport errors and HTTP status classes onto syncerr kinds.
func classify(ctx context.Context, resp *resty.Response, err error, op string) error {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return syncerr.Wrap(syncerr.KindTransient, op+": request timed out", err)
		}
		return syncerr.Wrap(syncerr.KindTransient, op, err)
	}

	status := resp.StatusCode()
	switch {
	case status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return syncerr.New(syncerr.KindAuth, fmt.Sprintf("%s: unauthorized (%d)", op, status))
	case status == http.StatusNotFound:
		return syncerr.New(syncerr.KindNotFound, op+": not found")
	case status == http.StatusTooManyRequests:
		return &syncerr.Error{
			Kind:       syncerr.KindTransient,
			Message:    op + ": rate limited",
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
		}
	case status >= 500:
		return syncerr.New(syncerr.KindTransient, fmt.Sprintf("%s: server error (%d)", op, status))
	default:
		return syncerr.New(syncerr.KindInvalidRecord, fmt.Sprintf("%s: unexpected status %d", op, status))
	}
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
