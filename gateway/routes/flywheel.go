package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"lendfarm/core"
	"lendfarm/crypto"
	"lendfarm/gateway/middleware"
	"lendfarm/native/flywheel"
	"lendfarm/storage/eventlog"
)

var errMissingCaller = errors.New("authenticated caller required")

// flywheelRoutes serves reward projections, claims and the event history.
type flywheelRoutes struct {
	exec   Executor
	events EventQuerier
	logger *slog.Logger
}

func (fr *flywheelRoutes) mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/markets", fr.listMarkets)
	r.Get("/pools", fr.listPools)
	r.Post("/pending", fr.pending)
	r.Post("/undistributed", fr.undistributed)
	r.Get("/events", fr.listEvents)
	r.With(auth).Post("/claim", fr.claim)
}

// parseStream accepts "native", "native:<token>" or "guest:<pool>:<token>".
func parseStream(raw string, nativeToken crypto.Address) (flywheel.StreamID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "native" {
		return flywheel.NativeStream(nativeToken), nil
	}
	parts := strings.Split(raw, ":")
	switch {
	case parts[0] == "native" && len(parts) == 2:
		token, err := crypto.DecodeAddress(parts[1])
		if err != nil {
			return flywheel.StreamID{}, fmt.Errorf("stream token: %w", err)
		}
		return flywheel.NativeStream(token), nil
	case parts[0] == "guest" && len(parts) == 3:
		pool, err := crypto.DecodeAddress(parts[1])
		if err != nil {
			return flywheel.StreamID{}, fmt.Errorf("stream pool: %w", err)
		}
		token, err := crypto.DecodeAddress(parts[2])
		if err != nil {
			return flywheel.StreamID{}, fmt.Errorf("stream token: %w", err)
		}
		return flywheel.GuestStream(pool, token), nil
	default:
		return flywheel.StreamID{}, fmt.Errorf("invalid stream %q", raw)
	}
}

type marketView struct {
	Market      crypto.Address `json:"market"`
	Rate        amount         `json:"rate"`
	Emission    amount         `json:"emissionPerBlock"`
	SupplyIndex amount         `json:"supplyIndex"`
	SupplyBlock uint64         `json:"supplyBlock"`
	BorrowIndex amount         `json:"borrowIndex"`
	BorrowBlock uint64         `json:"borrowBlock"`
}

type marketsResponse struct {
	Stream  string       `json:"stream"`
	Pool    string       `json:"pool"`
	Height  uint64       `json:"height"`
	Markets []marketView `json:"markets"`
}

func (fr *flywheelRoutes) listMarkets(w http.ResponseWriter, r *http.Request) {
	stream, err := parseStream(r.URL.Query().Get("stream"), fr.exec.Config().NativeToken)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	pool := stream.Pool
	if raw := strings.TrimSpace(r.URL.Query().Get("pool")); raw != "" {
		if pool, err = crypto.DecodeAddress(raw); err != nil {
			writeBadRequest(w, fmt.Errorf("pool: %w", err))
			return
		}
	}
	if pool.IsZero() {
		writeBadRequest(w, errors.New("pool is required"))
		return
	}
	if !stream.IsNative() && stream.Pool != pool {
		writeBadRequest(w, fmt.Errorf("guest stream belongs to pool %s", stream.Pool))
		return
	}
	var resp marketsResponse
	err = fr.exec.View(func(e *core.Engines) error {
		markets, err := e.Flywheel.Markets(stream, pool)
		if err != nil {
			return err
		}
		resp = marketsResponse{Stream: stream.String(), Pool: pool.String(), Height: e.Flywheel.BlockHeight(), Markets: make([]marketView, 0, len(markets))}
		for _, market := range markets {
			state, err := e.Flywheel.MarketState(stream, pool, market)
			if err != nil {
				return err
			}
			if state == nil {
				continue
			}
			emission, err := e.Flywheel.MarketRate(stream, pool, market)
			if err != nil {
				return err
			}
			resp.Markets = append(resp.Markets, marketView{
				Market:      market,
				Rate:        newAmount(state.Rate),
				Emission:    newAmount(emission),
				SupplyIndex: newAmount(state.SupplyIndex),
				SupplyBlock: state.SupplyBlock,
				BorrowIndex: newAmount(state.BorrowIndex),
				BorrowBlock: state.BorrowBlock,
			})
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type poolView struct {
	Pool    crypto.Address   `json:"pool"`
	Lending bool             `json:"lending"`
	Markets []crypto.Address `json:"markets"`
	Tokens  []crypto.Address `json:"tokens"`
}

type poolsResponse struct {
	Height      uint64     `json:"height"`
	NativeSpeed amount     `json:"nativeSpeed"`
	TotalWeight amount     `json:"totalWeight"`
	Pools       []poolView `json:"pools"`
}

func (fr *flywheelRoutes) listPools(w http.ResponseWriter, r *http.Request) {
	var resp poolsResponse
	err := fr.exec.View(func(e *core.Engines) error {
		speed, err := e.Flywheel.NativeSpeed()
		if err != nil {
			return err
		}
		total, err := e.Flywheel.TotalWeight()
		if err != nil {
			return err
		}
		pools, err := e.Flywheel.Pools()
		if err != nil {
			return err
		}
		resp = poolsResponse{
			Height:      e.Flywheel.BlockHeight(),
			NativeSpeed: newAmount(speed),
			TotalWeight: newAmount(total),
			Pools:       make([]poolView, 0, len(pools)),
		}
		native := e.Flywheel.NativeStreamID()
		for _, pool := range pools {
			lendingPool, err := e.Flywheel.IsLendingPool(pool)
			if err != nil {
				return err
			}
			markets, err := e.Flywheel.Markets(native, pool)
			if err != nil {
				return err
			}
			tokens, err := e.Flywheel.Tokens(pool)
			if err != nil {
				return err
			}
			resp.Pools = append(resp.Pools, poolView{Pool: pool, Lending: lendingPool, Markets: markets, Tokens: tokens})
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type scopeRequest struct {
	Pool    crypto.Address   `json:"pool"`
	Markets []crypto.Address `json:"markets,omitempty"`
}

func toScopes(in []scopeRequest) []flywheel.ClaimScope {
	if len(in) == 0 {
		return nil
	}
	out := make([]flywheel.ClaimScope, 0, len(in))
	for _, scope := range in {
		out = append(out, flywheel.ClaimScope{Pool: scope.Pool, Markets: scope.Markets})
	}
	return out
}

type pendingRequest struct {
	Account crypto.Address `json:"account"`
	Stream  string         `json:"stream"`
	Pools   []scopeRequest `json:"pools"`
	Supply  bool           `json:"supply"`
	Borrow  bool           `json:"borrow"`
}

type pendingResponse struct {
	Stream        string `json:"stream"`
	Height        uint64 `json:"height"`
	Stored        amount `json:"stored"`
	Undistributed amount `json:"undistributed"`
	Total         amount `json:"total"`
}

func (fr *flywheelRoutes) pending(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Account.IsZero() {
		writeBadRequest(w, errors.New("account is required"))
		return
	}
	stream, err := parseStream(req.Stream, fr.exec.Config().NativeToken)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var resp pendingResponse
	err = fr.exec.View(func(e *core.Engines) error {
		projection, err := e.Flywheel.PendingAmount(req.Account, stream, toScopes(req.Pools), req.Supply, req.Borrow)
		if err != nil {
			return err
		}
		resp = pendingResponse{
			Stream:        stream.String(),
			Height:        e.Flywheel.BlockHeight(),
			Stored:        newAmount(projection.Stored),
			Undistributed: newAmount(projection.Undistributed),
			Total:         newAmount(projection.Total),
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type undistributedRequest struct {
	Account crypto.Address `json:"account"`
	Stream  string         `json:"stream"`
	Pool    crypto.Address `json:"pool"`
	Supply  bool           `json:"supply"`
	Borrow  bool           `json:"borrow"`
}

type marketAmount struct {
	Market crypto.Address `json:"market"`
	Amount amount         `json:"amount"`
}

type undistributedResponse struct {
	Stream  string         `json:"stream"`
	Height  uint64         `json:"height"`
	Markets []marketAmount `json:"markets"`
}

func (fr *flywheelRoutes) undistributed(w http.ResponseWriter, r *http.Request) {
	var req undistributedRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Account.IsZero() || req.Pool.IsZero() {
		writeBadRequest(w, errors.New("account and pool are required"))
		return
	}
	stream, err := parseStream(req.Stream, fr.exec.Config().NativeToken)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var resp undistributedResponse
	err = fr.exec.View(func(e *core.Engines) error {
		markets, err := e.Flywheel.Markets(stream, req.Pool)
		if err != nil {
			return err
		}
		amounts, err := e.Flywheel.UndistributedByPool(req.Account, stream, req.Pool, req.Supply, req.Borrow)
		if err != nil {
			return err
		}
		resp = undistributedResponse{Stream: stream.String(), Height: e.Flywheel.BlockHeight(), Markets: make([]marketAmount, 0, len(amounts))}
		for i, value := range amounts {
			resp.Markets = append(resp.Markets, marketAmount{Market: markets[i], Amount: newAmount(value)})
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type claimRequest struct {
	Account   crypto.Address `json:"account"`
	Recipient crypto.Address `json:"recipient"`
	Streams   []string       `json:"streams"`
	Pools     []scopeRequest `json:"pools"`
	Supply    bool           `json:"supply"`
	Borrow    bool           `json:"borrow"`
}

type claimResult struct {
	Stream     string `json:"stream"`
	Accrued    amount `json:"accrued"`
	Claimed    amount `json:"claimed"`
	NotClaimed amount `json:"notClaimed"`
}

type claimResponse struct {
	Height  uint64        `json:"height"`
	Results []claimResult `json:"results"`
}

func (fr *flywheelRoutes) claim(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}
	var req claimRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.Account.IsZero() {
		req.Account = caller
	}
	if len(req.Streams) == 0 {
		req.Streams = []string{"native"}
	}

	nativeToken := fr.exec.Config().NativeToken
	streams := make([]flywheel.StreamID, 0, len(req.Streams))
	for _, raw := range req.Streams {
		stream, err := parseStream(raw, nativeToken)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		streams = append(streams, stream)
	}

	var results []flywheel.ClaimResult
	err := fr.exec.Apply(r.Context(), "claim", func(e *core.Engines) error {
		var err error
		results, err = e.Flywheel.Claim(flywheel.ClaimRequest{
			Caller:    caller,
			Account:   req.Account,
			Recipient: req.Recipient,
			Streams:   streams,
			Scopes:    toScopes(req.Pools),
			Supply:    req.Supply,
			Borrow:    req.Borrow,
		})
		return err
	})
	if err != nil {
		fr.logger.Info("claim rejected",
			slog.String("account", req.Account.String()),
			slog.String("caller", caller.String()),
			slog.Any("error", err))
		writeEngineError(w, err)
		return
	}
	resp := claimResponse{Height: fr.exec.Height(), Results: make([]claimResult, 0, len(results))}
	for _, result := range results {
		resp.Results = append(resp.Results, claimResult{
			Stream:     result.Stream.String(),
			Accrued:    newAmount(result.Accrued),
			Claimed:    newAmount(result.Claimed),
			NotClaimed: newAmount(result.NotClaimed),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	Events []eventlog.Entry `json:"events"`
}

func (fr *flywheelRoutes) listEvents(w http.ResponseWriter, r *http.Request) {
	if fr.events == nil {
		writeJSONError(w, http.StatusNotFound, errors.New("event history disabled"))
		return
	}
	query := r.URL.Query()
	filter := eventlog.Filter{
		Account: strings.TrimSpace(query.Get("account")),
		Type:    strings.TrimSpace(query.Get("type")),
	}
	if raw := query.Get("from"); raw != "" {
		from, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeBadRequest(w, fmt.Errorf("from: %w", err))
			return
		}
		filter.FromHeight = from
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeBadRequest(w, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		filter.Limit = limit
	}
	entries, err := fr.events.Query(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: entries})
}
