package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/cuidalink/service-registry/internal/app"
	"github.com/cuidalink/service-registry/internal/app/domain/token"
)

func newTestHandler(t *testing.T, variant token.Variant) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{Variant: variant}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { application.Stop(context.Background()) })
	return NewHandler(application)
}

func marshal(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func do(t *testing.T, h http.Handler, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, body)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func TestHandlerFullLifecycle(t *testing.T) {
	handler := newTestHandler(t, token.VariantFull)

	resp := do(t, handler, http.MethodPut, "/uris/2", marshal(t, map[string]string{"uri": "ipfs://matched"}))
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 configure uri, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/services", marshal(t, map[string]string{"recipient": "alice"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		ID    uint64 `json:"id"`
		State int    `json:"state"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal created token: %v", err)
	}
	if created.ID != 0 || created.State != 1 {
		t.Fatalf("unexpected created token: %+v", created)
	}

	resp = do(t, handler, http.MethodPost, "/services/0/companion", marshal(t, map[string]string{"companion": "bob"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 assign, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 2}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 matched, got %d: %s", resp.Code, resp.Body.String())
	}
	var matched struct {
		URI string `json:"uri"`
	}
	json.Unmarshal(resp.Body.Bytes(), &matched)
	if matched.URI != "ipfs://matched" {
		t.Errorf("expected matched uri applied, got %q", matched.URI)
	}

	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 3}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 completed, got %d", resp.Code)
	}

	// Payment before rating is a failed precondition.
	resp = do(t, handler, http.MethodPost, "/services/0/pay", nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 pay before rated, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 4, "rating": 5}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 rated, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodGet, "/services/0/rating", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 rating, got %d", resp.Code)
	}
	var rated struct {
		Rating int `json:"rating"`
	}
	json.Unmarshal(resp.Body.Bytes(), &rated)
	if rated.Rating != 5 {
		t.Errorf("expected rating 5, got %d", rated.Rating)
	}

	resp = do(t, handler, http.MethodPost, "/services/0/pay", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 paid, got %d: %s", resp.Code, resp.Body.String())
	}
	var paid struct {
		EvidenceOf uint64 `json:"evidence_of"`
	}
	json.Unmarshal(resp.Body.Bytes(), &paid)
	if paid.EvidenceOf != 1 {
		t.Fatalf("expected evidence id 1, got %d", paid.EvidenceOf)
	}

	resp = do(t, handler, http.MethodGet, "/services/1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 evidence lookup, got %d", resp.Code)
	}
	var evidence struct {
		Evidence bool `json:"evidence"`
		Rating   int  `json:"rating"`
	}
	json.Unmarshal(resp.Body.Bytes(), &evidence)
	if !evidence.Evidence || evidence.Rating != 5 {
		t.Errorf("unexpected evidence token: %+v", evidence)
	}

	resp = do(t, handler, http.MethodGet, "/services/1/owner", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 owner, got %d", resp.Code)
	}
	var owner struct {
		Owner string `json:"owner"`
	}
	json.Unmarshal(resp.Body.Bytes(), &owner)
	if owner.Owner != "bob" {
		t.Errorf("expected evidence owned by bob, got %q", owner.Owner)
	}

	resp = do(t, handler, http.MethodGet, "/wallets/bob/stats", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 stats, got %d", resp.Code)
	}
	var stats struct {
		Total int `json:"total"`
		Paid  int `json:"paid"`
	}
	json.Unmarshal(resp.Body.Bytes(), &stats)
	if stats.Total != 1 || stats.Paid != 1 {
		t.Errorf("unexpected bob stats: %+v", stats)
	}

	resp = do(t, handler, http.MethodGet, "/wallets/alice/balance", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 balance, got %d", resp.Code)
	}
	var balance struct {
		Balance int `json:"balance"`
	}
	json.Unmarshal(resp.Body.Bytes(), &balance)
	if balance.Balance != 1 {
		t.Errorf("expected alice to hold 1 token, got %d", balance.Balance)
	}

	resp = do(t, handler, http.MethodGet, "/services/0/events", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 events, got %d", resp.Code)
	}
	var evts []map[string]any
	json.Unmarshal(resp.Body.Bytes(), &evts)
	if len(evts) == 0 {
		t.Error("expected recorded events for token 0")
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	handler := newTestHandler(t, token.VariantFull)

	// Unknown token.
	resp := do(t, handler, http.MethodGet, "/services/99", nil)
	if resp.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.Code)
	}

	do(t, handler, http.MethodPost, "/services", marshal(t, map[string]string{"recipient": "alice"}))

	// Skipping transition.
	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 3}))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for skip, got %d", resp.Code)
	}

	// Out-of-range ordinal.
	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 9}))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown ordinal, got %d", resp.Code)
	}

	// Invalid rating.
	do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 2}))
	do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 3}))
	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 4, "rating": 7}))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for invalid rating, got %d", resp.Code)
	}

	// Empty recipient.
	resp = do(t, handler, http.MethodPost, "/services", marshal(t, map[string]string{"recipient": ""}))
	if resp.Code != http.StatusConflict {
		t.Errorf("expected 409 for empty recipient, got %d", resp.Code)
	}

	// Malformed body.
	resp = do(t, handler, http.MethodPost, "/services", bytes.NewReader([]byte("{not json")))
	if resp.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", resp.Code)
	}
}

func TestHandlerSimplifiedLifecycle(t *testing.T) {
	handler := newTestHandler(t, token.VariantSimplified)

	resp := do(t, handler, http.MethodPost, "/services", marshal(t, map[string]string{"recipient": "alice"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 create, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/services/0/companion", marshal(t, map[string]string{"companion": "bob"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 assign, got %d: %s", resp.Code, resp.Body.String())
	}
	var tok struct {
		State int `json:"state"`
	}
	json.Unmarshal(resp.Body.Bytes(), &tok)
	if tok.State != 2 {
		t.Errorf("expected matched after assignment, got state %d", tok.State)
	}

	resp = do(t, handler, http.MethodGet, "/services/0/owner", nil)
	var owner struct {
		Owner string `json:"owner"`
	}
	json.Unmarshal(resp.Body.Bytes(), &owner)
	if owner.Owner != "bob" {
		t.Errorf("expected owner bob after assignment, got %q", owner.Owner)
	}

	resp = do(t, handler, http.MethodPost, "/services/0/finalize", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 finalize, got %d: %s", resp.Code, resp.Body.String())
	}
	json.Unmarshal(resp.Body.Bytes(), &tok)
	if tok.State != 3 {
		t.Errorf("expected finished, got state %d", tok.State)
	}

	// Paid does not exist in this variant.
	resp = do(t, handler, http.MethodPost, "/services/0/state", marshal(t, map[string]int{"state": 5}))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for out-of-variant state, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/health", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 health, got %d", resp.Code)
	}
	var health map[string]string
	json.Unmarshal(resp.Body.Bytes(), &health)
	if health["variant"] != "simplified" {
		t.Errorf("expected simplified variant in health, got %q", health["variant"])
	}
}
