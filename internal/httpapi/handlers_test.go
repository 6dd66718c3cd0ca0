package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"condoflow.io/internal/magiccode"
	"condoflow.io/internal/store/memory"
	"condoflow.io/internal/workflow"
)

type apiClient struct {
	baseURL    string
	client     *http.Client
	store      *memory.Store
	adminToken string
	t          *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := memory.New()
	codes, err := magiccode.NewService(store, magiccode.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("magiccode service: %v", err)
	}
	wf := workflow.NewService(store, codes, workflow.WithLogger(zap.NewNop()))
	admin := NewAdminAuth("test-secret", time.Hour)

	api := New(wf, codes, store, admin, ReadyProbe{}, Config{
		Version:        "test",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
	}, zap.NewNop())

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	token, _, err := admin.IssueToken("admin-1")
	if err != nil {
		t.Fatalf("issue admin token: %v", err)
	}

	return &apiClient{
		baseURL:    srv.URL,
		client:     srv.Client(),
		store:      store,
		adminToken: token,
		t:          t,
	}
}

func (c *apiClient) do(method, path string, body any, asAdmin bool) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if asAdmin {
		req.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func TestHealthz(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/healthz", nil, false)
	requireStatus(t, resp, http.StatusOK)

	var body map[string]any
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/admin/assistances", map[string]any{}, false)
	requireStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodPost, c.baseURL+"/v1/admin/assistances", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer not-a-token")
	got, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	requireStatus(t, got, http.StatusUnauthorized)
	got.Body.Close()
}

func TestSupplierPortalFlow(t *testing.T) {
	c := newTestAPI(t)

	// Admin registers the supplier and the ticket, then issues a code.
	var supplier magiccode.Supplier
	resp := c.do(http.MethodPost, "/v1/admin/suppliers", map[string]string{
		"name":  "Aqua Plumbing",
		"email": "crew@aquaplumbing.example",
	}, true)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &supplier)

	var assistance assistanceResponse
	resp = c.do(http.MethodPost, "/v1/admin/assistances", map[string]any{
		"building_id":       "b-12",
		"intervention_type": "plumbing",
		"supplier_id":       supplier.ID,
		"priority":          "urgent",
		"description":       "leak in basement",
	}, true)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &assistance)
	if assistance.Status != "pending" {
		t.Fatalf("new assistance status = %s", assistance.Status)
	}

	var issued issueCodeResponse
	resp = c.do(http.MethodPost, "/v1/admin/suppliers/"+supplier.ID+"/codes", nil, true)
	requireStatus(t, resp, http.StatusCreated)
	decodeBody(t, resp, &issued)
	if issued.Code == "" {
		t.Fatal("expected a raw code in the issue response")
	}

	// First portal visit binds the code to the open ticket.
	var session sessionResponse
	resp = c.do(http.MethodPost, "/v1/portal/session", map[string]string{"code": issued.Code}, false)
	requireStatus(t, resp, http.StatusOK)
	decodeBody(t, resp, &session)
	if session.AssistanceID != assistance.ID {
		t.Fatalf("session bound to %s, want %s", session.AssistanceID, assistance.ID)
	}

	resp = c.do(http.MethodPost, "/v1/portal/accept", map[string]string{"code": issued.Code}, false)
	requireStatus(t, resp, http.StatusOK)
	var accepted assistanceResponse
	decodeBody(t, resp, &accepted)
	if accepted.Status != "accepted" {
		t.Fatalf("status after accept = %s", accepted.Status)
	}

	resp = c.do(http.MethodPost, "/v1/portal/start", map[string]string{"code": issued.Code}, false)
	requireStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/portal/complete", map[string]string{"code": issued.Code}, false)
	requireStatus(t, resp, http.StatusOK)
	var completed assistanceResponse
	decodeBody(t, resp, &completed)
	if completed.Status != "completed" {
		t.Fatalf("status after complete = %s", completed.Status)
	}

	// Replaying the accept against a completed ticket conflicts.
	resp = c.do(http.MethodPost, "/v1/portal/accept", map[string]string{"code": issued.Code}, false)
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestPortalAuthErrorsStayVague(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/portal/session", map[string]string{"code": "wrong"}, false)
	requireStatus(t, resp, http.StatusUnauthorized)

	var body map[string]any
	decodeBody(t, resp, &body)
	if body["error"] != "invalid or expired access code" {
		t.Fatalf("leaked failure detail: %v", body["error"])
	}
}

func TestDeclineWithoutReason(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/portal/decline", map[string]string{"code": "whatever"}, false)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestSubmitQuotationRejectsNonPositiveAmount(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/portal/quotations", map[string]any{
		"code":         "whatever",
		"amount_cents": 0,
	}, false)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestGetUnknownAssistance(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodGet, "/v1/admin/assistances/nope", nil, true)
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestRejectUnknownBodyField(t *testing.T) {
	c := newTestAPI(t)
	resp := c.do(http.MethodPost, "/v1/admin/assistances", map[string]any{
		"building_id": "b-1",
		"surprise":    true,
	}, true)
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}
