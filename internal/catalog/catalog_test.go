package catalog

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/haraj-adan/chatsync/internal/gateway"
)

type staticToken struct{ token string }

func (s *staticToken) Token() string     { return s.token }
func (s *staticToken) SetToken(t string) { s.token = t }
func (s *staticToken) ClearToken()       { s.token = "" }

type request struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// recorder serves canned replies per "METHOD path" and records requests.
type recorder struct {
	mu       sync.Mutex
	requests []request
	replies  map[string]interface{}
}

func (r *recorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	r.requests = append(r.requests, request{req.Method, req.URL.Path, req.URL.RawQuery, string(body)})
	reply, ok := r.replies[req.Method+" "+req.URL.Path]
	r.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": map[string]string{"message": "not found"}})
		return
	}
	_ = json.NewEncoder(w).Encode(reply)
}

func (r *recorder) last() request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

func newCatalog(t *testing.T, replies map[string]interface{}) (*Catalog, *recorder) {
	t.Helper()
	rec := &recorder{replies: replies}
	srv := httptest.NewServer(rec)
	t.Cleanup(srv.Close)
	cfg := gateway.DefaultConfig()
	cfg.BaseURL = srv.URL + "/api/v1"
	cfg.Timeout = 2 * time.Second
	return New(gateway.New(cfg, &staticToken{token: "tok"})), rec
}

func TestListAds(t *testing.T) {
	c, rec := newCatalog(t, map[string]interface{}{
		"GET /api/v1/ads/paginate": map[string]interface{}{
			"data": []map[string]interface{}{{"id": 1, "title": "Camry"}, {"id": 2, "title": "Hilux"}},
			"meta": map[string]interface{}{"total": 12, "page": 2},
		},
	})

	page, err := c.Ads.List(context.Background(), ListParams{Page: 2, Limit: 2, Search: "to", FilterBy: "title"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Items) != 2 || page.Items[1].Title != "Hilux" || page.Total != 12 {
		t.Errorf("unexpected page %+v", page)
	}
	if q := rec.last().Query; q != "filterBy=title&limit=2&page=2&search=to" {
		t.Errorf("unexpected query %q", q)
	}
	if c.Ads.Total() != 12 || c.Ads.Page() != 2 || len(c.Ads.Items()) != 2 {
		t.Error("collection should keep the loaded page")
	}
}

func TestSearchNeedsFilter(t *testing.T) {
	c, rec := newCatalog(t, map[string]interface{}{
		"GET /api/v1/banners/paginate": map[string]interface{}{"data": []interface{}{}, "meta": map[string]interface{}{"total": 0}},
	})
	if _, err := c.Banners.List(context.Background(), ListParams{Search: "x"}); err != nil {
		t.Fatal(err)
	}
	if q := rec.last().Query; q != "limit=10&page=1" {
		t.Errorf("search without filter should be dropped, got %q", q)
	}
}

func TestCategoryParentFilter(t *testing.T) {
	c, rec := newCatalog(t, map[string]interface{}{
		"GET /api/v1/categories/paginate": map[string]interface{}{
			"data": []map[string]interface{}{{"id": 4, "name": "Cars", "parentId": nil}},
			"meta": map[string]interface{}{"total": 1, "page": 1},
		},
	})
	ctx := context.Background()

	page, err := c.Categories.List(ctx, RootCategories())
	if err != nil {
		t.Fatal(err)
	}
	if page.Items[0].ParentID != nil {
		t.Error("root category should have no parent")
	}
	if q := rec.last().Query; q != "limit=10&page=1&parentId=null" {
		t.Errorf("unexpected query %q", q)
	}

	p := ChildCategories(4)
	p.Page = 3
	if _, err := c.Categories.List(ctx, p); err != nil {
		t.Fatal(err)
	}
	if q := rec.last().Query; q != "limit=10&page=3&parentId=4" {
		t.Errorf("unexpected query %q", q)
	}
}

func TestListFailureKeepsPage(t *testing.T) {
	c, _ := newCatalog(t, map[string]interface{}{
		"GET /api/v1/users/paginate": map[string]interface{}{
			"data": []map[string]interface{}{{"id": 1, "name": "Omar"}},
			"meta": map[string]interface{}{"total": 1},
		},
	})
	ctx := context.Background()
	if _, err := c.Users.List(ctx, ListParams{}); err != nil {
		t.Fatal(err)
	}
	c.Users.base = "/missing"
	if _, err := c.Users.List(ctx, ListParams{}); err == nil {
		t.Fatal("expected error")
	}
	if items := c.Users.Items(); len(items) != 1 || items[0].Name != "Omar" {
		t.Errorf("previous page should survive, got %+v", items)
	}
	if c.Users.Loading() {
		t.Error("loading flag should clear")
	}
}

func TestTransactionDetails(t *testing.T) {
	c, rec := newCatalog(t, map[string]interface{}{
		"GET /api/v1/wallet-transactions/9": map[string]interface{}{
			"data": map[string]interface{}{"id": 9, "amount": 150.5, "wallet": map[string]interface{}{"id": 3}},
		},
	})
	tx, err := c.Transactions.Details(context.Background(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if tx.ID != 9 || tx.Amount != 150.5 || len(tx.Wallet) == 0 {
		t.Errorf("unexpected transaction %+v", tx)
	}
	if q := rec.last().Query; q != "includes=transactionType%2Cwallet" {
		t.Errorf("unexpected query %q", q)
	}
}

func TestDepositStatusChange(t *testing.T) {
	c, rec := newCatalog(t, map[string]interface{}{
		"PATCH /api/v1/wallet-deposits-requests/5/change-status": map[string]interface{}{"data": map[string]interface{}{"id": 5}},
	})
	ctx := context.Background()

	if err := c.Deposits.ChangeStatus(ctx, 5, StatusApproved, 80); err != nil {
		t.Fatal(err)
	}
	var body StatusChange
	if err := json.Unmarshal([]byte(rec.last().Body), &body); err != nil {
		t.Fatal(err)
	}
	if body.Status != StatusApproved || body.CustomAmount != 80 {
		t.Errorf("unexpected body %+v", body)
	}

	if err := c.Deposits.ChangeStatus(ctx, 5, StatusRejected, 80); err != nil {
		t.Fatal(err)
	}
	if got := rec.last().Body; got != `{"status":"rejected"}` {
		t.Errorf("custom amount should only accompany approval, got %s", got)
	}

	n := len(rec.requests)
	if err := c.Deposits.ChangeStatus(ctx, 5, "pending", 0); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
	if err := c.Deposits.ChangeStatus(ctx, 0, StatusApproved, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus for id 0, got %v", err)
	}
	if len(rec.requests) != n {
		t.Error("invalid decisions must not reach the server")
	}
}

func TestCreateUpdateDelete(t *testing.T) {
	c, rec := newCatalog(t, map[string]interface{}{
		"POST /api/v1/banners":     map[string]interface{}{"data": map[string]interface{}{"id": 1}},
		"PATCH /api/v1/banners/1":  map[string]interface{}{"data": map[string]interface{}{"id": 1}},
		"DELETE /api/v1/banners/1": map[string]interface{}{"data": nil},
	})
	ctx := context.Background()
	if _, err := c.Banners.Create(ctx, Banner{Image: "a.png"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Banners.Update(ctx, 1, map[string]string{"title": "New"}); err != nil {
		t.Fatal(err)
	}
	if err := c.Banners.Delete(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Banners.Delete(ctx, 2); err == nil {
		t.Error("expected error for missing record")
	}
	if r := rec.last(); r.Method != http.MethodDelete || r.Path != "/api/v1/banners/2" {
		t.Errorf("unexpected request %+v", r)
	}
}

func TestStatistics(t *testing.T) {
	c, _ := newCatalog(t, map[string]interface{}{
		"GET /api/v1/admin/statistics/dashboard": map[string]interface{}{
			"data": map[string]interface{}{"usersCount": 120, "adsCount": 33},
		},
	})
	s, err := c.Statistics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(s["usersCount"]) != "120" {
		t.Errorf("unexpected statistics %v", s)
	}
}
