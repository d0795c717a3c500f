package server

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"PMMEngine/internal/core"
	"PMMEngine/internal/event"
	"PMMEngine/internal/observability"
	"PMMEngine/internal/state"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
)

type httpAPI struct {
	pools   PoolReader
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PoolView is the JSON shape of a pool on the query API.
type PoolView struct {
	PoolID        uuid.UUID      `json:"pool_id"`
	Sequence      int64          `json:"sequence"`
	PriceSequence int64          `json:"price_sequence"`
	TotalShares   uint64         `json:"total_shares"`
	State         state.PMMState `json:"state"`
	MidPrice      string         `json:"mid_price,omitempty"`
	StateHash     string         `json:"state_hash"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// QuoteView is the JSON shape of a priced, unapplied trade.
type QuoteView struct {
	PoolID    uuid.UUID `json:"pool_id"`
	Side      string    `json:"side"`
	AmountIn  uint64    `json:"amount_in"`
	AmountOut uint64    `json:"amount_out"`
	Regime    string    `json:"regime"`
	Sequence  int64     `json:"as_of_sequence"`
}

func newPoolView(p *core.Pool) PoolView {
	v := PoolView{
		PoolID:        p.ID,
		Sequence:      p.Sequence,
		PriceSequence: p.PriceSequence,
		TotalShares:   p.TotalShares,
		State:         p.State,
		StateHash:     hex.EncodeToString(p.StateHash[:]),
		UpdatedAt:     p.UpdatedAt,
	}
	// A balanced pool, empty or not, quotes the market price. Only a surplus
	// state whose curve cannot be evaluated drops the field.
	if mid, err := p.State.MidPrice(); err == nil {
		v.MidPrice = mid.String()
	}
	return v
}

func (a *httpAPI) register(mux *runtime.ServeMux) error {
	routes := []struct {
		pattern  string
		endpoint string
		h        runtime.HandlerFunc
	}{
		{"/v1/pools", "list_pools", a.listPools},
		{"/v1/pools/{pool_id}", "get_pool", a.getPool},
		{"/v1/pools/{pool_id}/mid-price", "mid_price", a.midPrice},
		{"/v1/pools/{pool_id}/quote", "quote", a.quote},
	}
	for _, r := range routes {
		if err := mux.HandlePath(http.MethodGet, r.pattern, a.instrument(r.endpoint, r.h)); err != nil {
			return fmt.Errorf("register %s: %w", r.pattern, err)
		}
	}
	return nil
}

func (a *httpAPI) listPools(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	pools, err := a.pools.Pools(r.Context())
	if err != nil {
		a.writeError(w, err)
		return
	}
	views := make([]PoolView, 0, len(pools))
	for _, p := range pools {
		views = append(views, newPoolView(p))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pools": views})
}

func (a *httpAPI) getPool(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := poolIDParam(params)
	if err != nil {
		a.writeError(w, err)
		return
	}
	p, err := a.pools.Pool(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(p))
}

func (a *httpAPI) midPrice(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := poolIDParam(params)
	if err != nil {
		a.writeError(w, err)
		return
	}
	mid, err := a.pools.MidPrice(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"pool_id":   id.String(),
		"mid_price": mid.String(),
	})
}

// quote handles GET /v1/pools/{pool_id}/quote?side=sell_base&amount=10.
func (a *httpAPI) quote(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := poolIDParam(params)
	if err != nil {
		a.writeError(w, err)
		return
	}
	q := r.URL.Query()
	sideName := q.Get("side")
	side := event.SideFromCommandType(event.CommandTypeFromSubject(sideName))
	if side == event.SideUnknown {
		a.writeError(w, fmt.Errorf("side %q: %w", sideName, errBadRequest))
		return
	}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil || amount == 0 {
		a.writeError(w, fmt.Errorf("amount %q: %w", q.Get("amount"), errBadRequest))
		return
	}

	p, err := a.pools.Pool(r.Context(), id)
	if err != nil {
		a.writeError(w, err)
		return
	}
	res, err := a.pools.Quote(r.Context(), id, side, amount)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuoteView{
		PoolID:    id,
		Side:      sideName,
		AmountIn:  res.AmountIn,
		AmountOut: res.AmountOut,
		Regime:    res.Regime.String(),
		Sequence:  p.Sequence,
	})
}

func poolIDParam(params map[string]string) (uuid.UUID, error) {
	id, err := uuid.Parse(params["pool_id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("pool_id: %v: %w", err, errBadRequest)
	}
	return id, nil
}

func (a *httpAPI) writeError(w http.ResponseWriter, err error) {
	code := httpStatus(err)
	if code == http.StatusInternalServerError {
		a.logger.Error().Err(err).Msg("query failed")
	}
	body := map[string]interface{}{"error": err.Error()}
	if c := state.Code(err); c != state.CodeUnknown {
		body["code"] = state.CodeName(c)
	}
	writeJSON(w, code, body)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (a *httpAPI) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	if a.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, params)
		a.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		a.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
