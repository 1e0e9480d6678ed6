package dealflowsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsHeadersAndDecodes(t *testing.T) {
	var gotAuth, gotOperator, gotPath, gotQuery string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOperator = r.Header.Get("X-Operator-Id")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/actions/delete_deal":
			w.Write([]byte(`{"action":"delete_deal","message":"🗑️ Deal \"X\" deleted from pipeline.","approved":true}`))
		case "/v0/proposals/p1/confirm":
			w.Write([]byte(`{"id":"p1","kind":"close_deal","state":"confirmed","params":{},"resolved_by":"dana"}`))
		default:
			w.Write([]byte(`{"items":[{"id":"deal_1","name":"Cloud Migration","stage":"qualified","value":75000}]}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/v0/")
	c.BearerToken = "tok"
	c.OperatorID = "dana"
	ctx := context.Background()

	deals, err := c.ListDeals(ctx, "qualified")
	if err != nil {
		t.Fatalf("list deals: %v", err)
	}
	if len(deals) != 1 || deals[0].Name != "Cloud Migration" || gotPath != "/v0/deals" || gotQuery != "stage=qualified" {
		t.Fatalf("unexpected deals %+v path=%s query=%s", deals, gotPath, gotQuery)
	}
	if gotAuth != "Bearer tok" || gotOperator != "dana" {
		t.Fatalf("missing headers: auth=%q operator=%q", gotAuth, gotOperator)
	}

	res, err := c.InvokeAction(ctx, "delete_deal", map[string]string{"dealName": "X"}, true)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if gotQuery != "wait=true" || gotBody["dealName"] != "X" {
		t.Fatalf("unexpected request query=%s body=%v", gotQuery, gotBody)
	}
	if res.Approved == nil || !*res.Approved {
		t.Fatalf("expected approved result: %+v", res)
	}

	p, err := c.ResolveProposal(ctx, "p1", true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p.State != "confirmed" || p.ResolvedBy != "dana" {
		t.Fatalf("unexpected proposal: %+v", p)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"already_resolved","message":"proposal already resolved"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ResolveProposal(context.Background(), "p1", false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "already_resolved" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestListNotificationsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"items":[{"seq":7,"kind":"deal.won","message":"Deal closed as Won! 🎉","celebrate":true}],"next_cursor":"7"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListNotifications(context.Background(), 1, "9", "deal.won")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if gotQuery != "cursor=9&kind=deal.won&limit=1" {
		t.Fatalf("query = %s", gotQuery)
	}
	if len(page.Items) != 1 || !page.Items[0].Celebrate || page.NextCursor != "7" {
		t.Fatalf("unexpected page: %+v", page)
	}
}
