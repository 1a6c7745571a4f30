package whatthefee

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lnswap/swapd/internal/chain"
)

func fakeServer(t *testing.T, body feeCurveResponse) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("c") == "" {
			t.Error("expected cache-busting query param c")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func sampleCurve() feeCurveResponse {
	return feeCurveResponse{
		Index:   []int32{1, 6, 144, 288},
		Columns: []string{"0.5", "0.8", "0.95"},
		Data: [][]int32{
			{700, 650, 600},
			{600, 550, 500},
			{400, 350, 300},
			{300, 250, 200},
		},
	}
}

func TestEstimateFee_Unavailable_BeforeFirstFetch(t *testing.T) {
	e := NewEstimator("http://example.invalid", 288, nil)
	if _, err := e.EstimateFee(context.Background(), 6); err != chain.ErrFeeUnavailable {
		t.Errorf("EstimateFee() error = %v, want ErrFeeUnavailable", err)
	}
}

func TestEstimateFee_ReturnsDecodedRate(t *testing.T) {
	srv := fakeServer(t, sampleCurve())
	defer srv.Close()

	e := NewEstimator(srv.URL, 288, srv.Client())
	if err := e.refresh(context.Background()); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}

	est, err := e.EstimateFee(context.Background(), 144)
	if err != nil {
		t.Fatalf("EstimateFee() error = %v", err)
	}
	if est.SatPerKw <= 0 {
		t.Errorf("SatPerKw = %d, want > 0", est.SatPerKw)
	}
}

func TestEstimateFee_StaleCacheRejected(t *testing.T) {
	srv := fakeServer(t, sampleCurve())
	defer srv.Close()

	e := NewEstimator(srv.URL, 288, srv.Client())
	if err := e.refresh(context.Background()); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}

	e.mu.Lock()
	e.cache.fetchedAt = time.Now().Add(-721 * time.Second)
	e.mu.Unlock()

	if _, err := e.EstimateFee(context.Background(), 6); err != chain.ErrFeeUnavailable {
		t.Errorf("EstimateFee() error = %v, want ErrFeeUnavailable", err)
	}
}

func TestNearestIndex(t *testing.T) {
	index := []int32{1, 6, 144, 288}
	tests := []struct {
		target int32
		want   int
	}{
		{1, 0},
		{5, 1},
		{150, 2},
		{1000, 3},
	}
	for _, tt := range tests {
		if got := nearestIndex(index, tt.target); got != tt.want {
			t.Errorf("nearestIndex(%v, %d) = %d, want %d", index, tt.target, got, tt.want)
		}
	}
}

func TestNearestColumn(t *testing.T) {
	columns := []string{"0.5", "0.8", "0.95"}
	got, err := nearestColumn(columns, 0.82)
	if err != nil {
		t.Fatalf("nearestColumn() error = %v", err)
	}
	if got != 1 {
		t.Errorf("nearestColumn() = %d, want 1", got)
	}
}

func TestNearestColumn_ParseError(t *testing.T) {
	if _, err := nearestColumn([]string{"not-a-number"}, 0.5); err == nil {
		t.Error("expected parse error")
	}
}
