package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS_Headers(t *testing.T) {
	reached := 0
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached++
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		method      string
		path        string
		wantStatus  int
		wantReached bool
	}{
		{http.MethodGet, "/api/messages/TestClient", http.StatusOK, true},
		{http.MethodPost, "/api/dms/webhook", http.StatusOK, true},
		{http.MethodOptions, "/api/messages", http.StatusNoContent, false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			reached = 0
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", "https://chat.example.com")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantStatus)
			}
			if (reached > 0) != tt.wantReached {
				t.Errorf("handler reached = %v, want %v", reached > 0, tt.wantReached)
			}

			want := map[string]string{
				"Access-Control-Allow-Origin":   "*",
				"Access-Control-Allow-Methods":  corsAllowMethods,
				"Access-Control-Allow-Headers":  corsAllowHeaders,
				"Access-Control-Expose-Headers": RequestIDHeader,
			}
			for k, v := range want {
				if got := w.Header().Get(k); got != v {
					t.Errorf("%s = %q, want %q", k, got, v)
				}
			}
		})
	}
}
