package marketplace

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sellerpulse/backend/internal/config"
	"github.com/sellerpulse/backend/internal/syncerr"
)

func newTestClient(srv *httptest.Server) *Client {
	return NewClient(config.MarketplaceConfig{
		APIBaseURL:     srv.URL,
		TokenURL:       srv.URL + "/oauth/token",
		ClientID:       "app",
		ClientSecret:   "secret",
		RequestTimeout: 5 * time.Second,
	})
}

func TestListPageAndDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sell/catalog/v1/items":
			if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("limit") != "100" {
				t.Errorf("unexpected query %s", r.URL.RawQuery)
			}
			_, _ = io.WriteString(w, `{"items":[{"itemId":"X1"},{"itemId":"X2"}],"totalPages":3}`)
		case "/sell/catalog/v1/items/X1":
			_, _ = io.WriteString(w, `{"itemId":"X1","title":"Lamp","price":"19.99","currency":"USD","viewCount":12,"watchCount":3}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()

	page, err := c.ListPage(ctx, "tok", 2, 100)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if page.TotalPages != 3 || len(page.Items) != 2 || page.Items[1].ItemID != "X2" {
		t.Fatalf("unexpected page %+v", page)
	}

	item, err := c.GetDetail(ctx, "tok", "X1")
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if item.Title != "Lamp" || item.Price.String() != "19.99" || item.ViewCount != 12 {
		t.Fatalf("unexpected item %+v", item)
	}

	if _, err := c.GetDetail(ctx, "tok", "gone"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := c.ListPage(ctx, "bad", 1, 100); !errors.Is(err, syncerr.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sell/catalog/v1/items/limited":
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case "/sell/catalog/v1/items/broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)

	_, err := c.GetDetail(context.Background(), "tok", "limited")
	if !errors.Is(err, syncerr.ErrTransient) {
		t.Fatalf("429 should be transient, got %v", err)
	}
	if got := syncerr.RetryAfterOf(err); got != 7*time.Second {
		t.Fatalf("RetryAfter = %v", got)
	}

	if _, err := c.GetDetail(context.Background(), "tok", "broken"); !errors.Is(err, syncerr.ErrTransient) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
}

func TestNetworkFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(srv)
	srv.Close()

	if _, err := c.ListPage(context.Background(), "tok", 1, 10); !errors.Is(err, syncerr.ErrTransient) {
		t.Fatalf("connection refused should be transient, got %v", err)
	}
}

func TestRefresh(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "app" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("refresh_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"token revoked"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"new-access","expires_in":7200}`)
	}))
	defer srv.Close()

	c := newTestClient(srv)

	grant, err := c.Refresh(context.Background(), "good")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if grant.AccessToken != "new-access" || grant.ExpiresIn != 7200 {
		t.Fatalf("unexpected grant %+v", grant)
	}

	if _, err := c.Refresh(context.Background(), "revoked"); !errors.Is(err, syncerr.ErrAuth) {
		t.Fatalf("invalid_grant should be an auth error, got %v", err)
	}
}

func TestExportTaskFlow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sell/feed/v1/inventory_task":
			w.Header().Set("Location", "/sell/feed/v1/inventory_task/task-9")
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/sell/feed/v1/inventory_task/task-9":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"status":"COMPLETED","resultLocation":"files/task-9.tsv.gz"}`)
		case r.URL.Path == "/files/task-9.tsv.gz":
			gz := gzip.NewWriter(w)
			_, _ = io.WriteString(gz, "itemId\ttitle\nA\tLamp\n")
			_ = gz.Close()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx := context.Background()

	taskID, err := c.CreateTask(ctx, "tok", "LMS_ACTIVE_INVENTORY_REPORT")
	if err != nil || taskID != "task-9" {
		t.Fatalf("CreateTask = %q, %v", taskID, err)
	}
	status, err := c.GetTaskStatus(ctx, "tok", taskID)
	if err != nil || status.Status != TaskCompleted || status.TaskID != "task-9" {
		t.Fatalf("GetTaskStatus = %+v, %v", status, err)
	}

	body, err := c.Download(ctx, "tok", status.ResultLocation)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer body.Close()
	gz, err := gzip.NewReader(body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	data, _ := io.ReadAll(gz)
	if !strings.Contains(string(data), "A\tLamp") {
		t.Fatalf("unexpected payload %q", data)
	}

	if _, err := c.Download(ctx, "tok", "files/missing"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMockIsDeterministic(t *testing.T) {
	m := NewMock(5)
	ctx := context.Background()

	page, err := m.ListPage(ctx, "tok", 2, 2)
	if err != nil || page.TotalPages != 3 || len(page.Items) != 2 || page.Items[0].ItemID != "MOCK-00003" {
		t.Fatalf("unexpected mock page %+v %v", page, err)
	}

	a, _ := m.GetDetail(ctx, "tok", "MOCK-00003")
	b, _ := m.GetDetail(ctx, "tok", "MOCK-00003")
	if a.Title != b.Title || !a.Price.Equal(b.Price) || a.ViewCount != b.ViewCount {
		t.Fatal("mock detail must be stable within a day")
	}
	if _, err := m.GetDetail(ctx, "tok", "MOCK-00099"); !errors.Is(err, syncerr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	taskID, _ := m.CreateTask(ctx, "tok", "LMS_ACTIVE_INVENTORY_REPORT")
	first, _ := m.GetTaskStatus(ctx, "tok", taskID)
	second, _ := m.GetTaskStatus(ctx, "tok", taskID)
	if first.Status != TaskProcessing || second.Status != TaskCompleted {
		t.Fatalf("unexpected task progression %s -> %s", first.Status, second.Status)
	}

	body, err := m.Download(ctx, "tok", second.ResultLocation)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	defer body.Close()
	gz, err := gzip.NewReader(body)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	r := csv.NewReader(gz)
	r.Comma = '\t'
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("read tsv: %v", err)
	}
	if len(rows) != 6 || rows[0][0] != "itemId" || rows[5][0] != "MOCK-00005" {
		t.Fatalf("unexpected feed rows %v", rows)
	}
}

func TestMockPriceDriftsWithDay(t *testing.T) {
	m := NewMock(1)
	ctx := context.Background()

	m.now = func() time.Time { return time.Unix(0, 0) }
	first, err := m.GetDetail(ctx, "tok", "MOCK-00001")
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	m.now = func() time.Time { return time.Unix(86400, 0) }
	second, _ := m.GetDetail(ctx, "tok", "MOCK-00001")

	if got := second.Price.Sub(first.Price).String(); got != "0.25" {
		t.Fatalf("day-over-day price drift = %s", got)
	}
	if first.Price.IntPart() < 5 || first.Price.IntPart() > 101 {
		t.Fatalf("price out of range: %s", first.Price)
	}
}
