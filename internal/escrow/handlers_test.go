package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	h := NewHandler(f.svc)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterProtectedRoutes(v1)
	return r, f
}

func do(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type holdResponse struct {
	Escrow struct {
		Status       string `json:"status"`
		Resolution   string `json:"resolution"`
		RefundAmount string `json:"refundAmount"`
		DisputeOpen  bool   `json:"disputeOpen"`
	} `json:"escrow"`
}

func decodeHold(t *testing.T, w *httptest.ResponseRecorder) holdResponse {
	t.Helper()
	var resp holdResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHandler_CheckInCheckOutReleases(t *testing.T) {
	r, f := setupTestRouter(t)
	f.open(t, "bk-1", "1000")

	w := do(r, "POST", "/v1/escrow/bk-1/check-in", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = do(r, "POST", "/v1/escrow/bk-1/check-out", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeHold(t, w); got.Escrow.Status != "released" || got.Escrow.Resolution != ResolutionConditionsMet {
		t.Errorf("unexpected hold %+v", got.Escrow)
	}

	w = do(r, "GET", "/v1/escrow?status=released", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("expected 1 released hold, got %d", list.Count)
	}
}

// staleStore reports every update as lost to a concurrent writer.
type staleStore struct{ *MemoryStore }

func (staleStore) Update(context.Context, *Hold) error { return ErrStaleHold }

func TestHandler_ConcurrentChangeIsConflict(t *testing.T) {
	r, f := setupTestRouter(t)
	f.open(t, "bk-1", "1000")
	f.svc.store = staleStore{f.store}

	w := do(r, "POST", "/v1/escrow/bk-1/check-in", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	hold, err := f.store.Get(context.Background(), "bk-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if hold.Conditions.CheckInConfirmed {
		t.Error("check-in recorded despite the conflict")
	}
}

func TestHandler_GetNotFound(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := do(r, "GET", "/v1/escrow/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_ListRejectsUnknownStatus(t *testing.T) {
	r, _ := setupTestRouter(t)
	w := do(r, "GET", "/v1/escrow?status=lost", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandler_DisputeAndResolve(t *testing.T) {
	r, f := setupTestRouter(t)
	f.open(t, "bk-1", "1000")

	w := do(r, "POST", "/v1/escrow/bk-1/dispute", map[string]string{"raisedBy": "guest-1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d", w.Code)
	}

	w = do(r, "POST", "/v1/escrow/bk-1/resolve", map[string]string{"outcome": "release"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without open dispute, got %d", w.Code)
	}

	w = do(r, "POST", "/v1/escrow/bk-1/dispute", map[string]string{"raisedBy": "guest-1", "reason": "no hot water"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !decodeHold(t, w).Escrow.DisputeOpen {
		t.Error("expected dispute to be open")
	}

	w = do(r, "POST", "/v1/escrow/bk-1/resolve", map[string]string{"outcome": "split"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad outcome, got %d", w.Code)
	}

	w = do(r, "POST", "/v1/escrow/bk-1/resolve", map[string]string{"outcome": "refund"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeHold(t, w); got.Escrow.Status != "refunded" || got.Escrow.RefundAmount != "1000" {
		t.Errorf("unexpected hold %+v", got.Escrow)
	}
}

func TestHandler_Cancel(t *testing.T) {
	r, f := setupTestRouter(t)
	f.open(t, "bk-1", "1000")

	w := do(r, "POST", "/v1/escrow/bk-1/cancel", map[string]string{"reason": "trip postponed"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeHold(t, w); got.Escrow.RefundAmount != "800" {
		t.Errorf("expected refund 800, got %s", got.Escrow.RefundAmount)
	}

	w = do(r, "POST", "/v1/escrow/bk-1/cancel", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", w.Code)
	}

	hold, err := f.svc.Get(context.Background(), "bk-1")
	if err != nil {
		t.Fatal(err)
	}
	if hold.CancelReason != "trip postponed" {
		t.Errorf("expected reason recorded, got %q", hold.CancelReason)
	}
}
