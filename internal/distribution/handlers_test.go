package distribution

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(newTestLedger())

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	h.RegisterProtectedRoutes(v1)
	return r
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

func TestHandler_RegisterAndPreview(t *testing.T) {
	r := setupTestRouter()

	w := do(r, "GET", "/v1/distribution/rules", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before registration, got %d", w.Code)
	}

	w = do(r, "PUT", "/v1/distribution/rules", map[string]any{
		"rules": []map[string]any{
			{"stakeholderId": "host", "role": "host", "percentage": "75", "walletReference": "host@upi"},
			{"stakeholderId": "community", "role": "community", "percentage": "25", "walletReference": "fund@upi"},
		},
		"penaltyStakeholderId": "community",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = do(r, "POST", "/v1/distribution/preview", map[string]string{"amount": "999.99"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Amount string `json:"amount"`
		Shares []struct {
			StakeholderID string `json:"stakeholderId"`
			Amount        string `json:"amount"`
		} `json:"shares"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Shares) != 2 {
		t.Fatalf("expected 2 shares, got %d", len(resp.Shares))
	}
	// 999.99 * 25% = 249.9975 -> 249.99; host absorbs the remainder.
	if resp.Shares[0].Amount != "750" || resp.Shares[1].Amount != "249.99" {
		t.Errorf("unexpected shares %+v", resp.Shares)
	}

	w = do(r, "GET", "/v1/distribution/rules/1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for version 1, got %d", w.Code)
	}
}

func TestHandler_RejectsInvalidRules(t *testing.T) {
	r := setupTestRouter()

	w := do(r, "PUT", "/v1/distribution/rules", map[string]any{
		"rules": []map[string]any{
			{"stakeholderId": "host", "percentage": "90", "walletReference": "host@upi"},
		},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_PreviewValidation(t *testing.T) {
	r := setupTestRouter()

	w := do(r, "POST", "/v1/distribution/preview", map[string]string{"amount": "-3"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = do(r, "GET", "/v1/distribution/rules/abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
