// Package whatthefee implements chain.FeeEstimator against the whatthefee.io
// fee curve: a matrix indexed by confirmation target (rows) and certainty
// (columns), refreshed on a poll loop and cached with a staleness bound.
package whatthefee

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lnswap/swapd/internal/chain"
	"github.com/lnswap/swapd/internal/config"
)

// feeCurveResponse mirrors the whatthefee.io /data.json shape: a row index of
// confirmation targets, a column header of certainty values (as strings), and
// a data matrix of encoded rates.
type feeCurveResponse struct {
	Index   []int32    `json:"index"`
	Columns []string   `json:"columns"`
	Data    [][]int32  `json:"data"`
}

type cachedResponse struct {
	fetchedAt time.Time
	body      feeCurveResponse
}

// Estimator polls whatthefee.io's fee curve and answers EstimateFee from the
// most recently cached response, refusing to answer once that response is
// older than config.FeeCurveStalenessSeconds.
type Estimator struct {
	url      string
	lockTime int32
	client   *http.Client
	limiter  *rate.Limiter

	mu    sync.RWMutex
	cache *cachedResponse
}

// NewEstimator creates an Estimator for the given fee curve URL. lockTime is
// the swap's refund timelock in blocks — it is fixed at construction because
// the certainty column only makes sense relative to one lock time, matching
// how whatthefee.io's upstream client is wired (one estimator instance per
// configured lock time, not a per-call parameter).
func NewEstimator(feeURL string, lockTime int32, client *http.Client) *Estimator {
	if client == nil {
		client = http.DefaultClient
	}
	return &Estimator{
		url:      feeURL,
		lockTime: lockTime,
		client:   client,
		// Burst(1) keeps the poll loop from hammering whatthefee.io if a
		// caller also forces an out-of-band refresh.
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Run polls the fee curve every 60 seconds until ctx is cancelled. The first
// fetch happens synchronously so a freshly started estimator can answer
// EstimateFee immediately.
func (e *Estimator) Run(ctx context.Context) error {
	if err := e.refresh(ctx); err != nil {
		slog.Error("whatthefee: initial fee curve fetch failed", "error", err)
	}

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := e.refresh(ctx); err != nil {
				slog.Error("whatthefee: fee curve refresh failed, keeping stale cache", "error", err)
			}
		}
	}
}

func (e *Estimator) refresh(ctx context.Context) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := e.fetch(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.cache = &cachedResponse{fetchedAt: time.Now(), body: body}
	e.mu.Unlock()

	slog.Debug("whatthefee: fee curve refreshed", "rows", len(body.Index), "columns", len(body.Columns))
	return nil
}

func (e *Estimator) fetch(ctx context.Context) (feeCurveResponse, error) {
	u, err := url.Parse(e.url)
	if err != nil {
		return feeCurveResponse{}, fmt.Errorf("whatthefee: parse url: %w", err)
	}
	// Cache-bust on a 300-second boundary so CDN-fronted responses still
	// refresh roughly every 5 minutes without us hammering with a unique
	// query string on every request.
	bucket := (time.Now().Unix() / 300) * 300
	q := u.Query()
	q.Set("c", strconv.FormatInt(bucket, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return feeCurveResponse{}, fmt.Errorf("whatthefee: build request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return feeCurveResponse{}, fmt.Errorf("whatthefee: fetch fee curve: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feeCurveResponse{}, fmt.Errorf("whatthefee: unexpected status %d", resp.StatusCode)
	}

	var body feeCurveResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return feeCurveResponse{}, fmt.Errorf("whatthefee: decode response: %w", err)
	}
	return body, nil
}

// EstimateFee implements chain.FeeEstimator. It looks up the row nearest
// confTarget and the column nearest the certainty implied by lockTime and
// confTarget, decodes the cell as a log-scaled sat/vbyte rate, and converts
// to sat/kw.
func (e *Estimator) EstimateFee(ctx context.Context, confTarget int32) (chain.FeeEstimate, error) {
	e.mu.RLock()
	cached := e.cache
	e.mu.RUnlock()

	if cached == nil {
		return chain.FeeEstimate{}, chain.ErrFeeUnavailable
	}
	if time.Since(cached.fetchedAt) > config.FeeCurveStalenessSeconds*time.Second {
		return chain.FeeEstimate{}, chain.ErrFeeUnavailable
	}

	body := cached.body
	if len(body.Index) == 0 || len(body.Columns) == 0 {
		return chain.FeeEstimate{}, chain.ErrFeeUnavailable
	}

	rowIndex := nearestIndex(body.Index, confTarget)

	certainty := 0.5 + ((float64(e.lockTime)-float64(confTarget))/float64(e.lockTime))/2.0
	columnIndex, err := nearestColumn(body.Columns, certainty)
	if err != nil {
		return chain.FeeEstimate{}, fmt.Errorf("whatthefee: %w", err)
	}

	if rowIndex >= len(body.Data) {
		return chain.FeeEstimate{}, chain.ErrFeeUnavailable
	}
	row := body.Data[rowIndex]
	if columnIndex >= len(row) {
		return chain.FeeEstimate{}, chain.ErrFeeUnavailable
	}

	encodedRate := float64(row[columnIndex])
	satPerVByte := math.Exp(encodedRate / config.FeeCurveVByteRateDivisor)
	satPerKw := int64(satPerVByte * config.FeeCurveSatPerVByteScale)

	return chain.FeeEstimate{SatPerKw: satPerKw}, nil
}

// nearestIndex finds the row whose confirmation target is closest to target.
func nearestIndex(index []int32, target int32) int {
	best := 0
	bestDiff := abs32(index[0] - target)
	for i, v := range index[1:] {
		if d := abs32(v - target); d < bestDiff {
			best = i + 1
			bestDiff = d
		}
	}
	return best
}

// nearestColumn finds the column whose parsed certainty is closest to target.
func nearestColumn(columns []string, target float64) (int, error) {
	best := 0
	bestVal, err := strconv.ParseFloat(columns[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse column %q: %w", columns[0], err)
	}
	bestDiff := math.Abs(bestVal - target)

	for i, raw := range columns[1:] {
		val, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, fmt.Errorf("parse column %q: %w", raw, err)
		}
		if d := math.Abs(val - target); d < bestDiff {
			best = i + 1
			bestDiff = d
		}
	}
	return best, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
