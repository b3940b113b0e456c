package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"lendfarm/core"
	"lendfarm/crypto"
	"lendfarm/gateway/middleware"
	"lendfarm/native/flywheel"
	"lendfarm/native/lending"
)

// PauseControl toggles module pauses at runtime.
type PauseControl interface {
	Set(module string, paused bool)
	IsPaused(module string) bool
}

// adminRoutes carry the governance surface. Every call runs as one executor
// action with the token subject as caller, so the engines keep enforcing
// their own admin, pool admin and factory checks.
type adminRoutes struct {
	exec   Executor
	pauses PauseControl
	logger *slog.Logger
}

// validator is implemented by admin requests with field level checks.
type validator interface {
	validate() error
}

type adminResponse struct {
	Height uint64 `json:"height"`
}

// run decodes body, validates it and applies fn as the named action.
func (ar *adminRoutes) run(w http.ResponseWriter, r *http.Request, name string, body interface{}, fn func(caller crypto.Address, e *core.Engines) error) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}
	if err := decodeRequest(r, body); err != nil {
		writeBadRequest(w, err)
		return
	}
	if v, ok := body.(validator); ok {
		if err := v.validate(); err != nil {
			writeBadRequest(w, err)
			return
		}
	}
	var height uint64
	err := ar.exec.Apply(r.Context(), name, func(e *core.Engines) error {
		if err := fn(caller, e); err != nil {
			return err
		}
		height = e.Flywheel.BlockHeight()
		return nil
	})
	if err != nil {
		ar.logger.Info("admin action rejected",
			slog.String("action", name),
			slog.String("caller", caller.String()),
			slog.Any("error", err))
		writeEngineError(w, err)
		return
	}
	ar.logger.Info("admin action applied",
		slog.String("action", name),
		slog.String("caller", caller.String()),
		slog.Uint64("height", height))
	writeJSON(w, http.StatusOK, adminResponse{Height: height})
}

func toInts(values []amount) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = v.Int
	}
	return out
}

func requireAmounts(field string, values []amount) error {
	for i, v := range values {
		if v.Int == nil {
			return fmt.Errorf("%s[%d] is required", field, i)
		}
	}
	return nil
}

type weightsRequest struct {
	Pool    crypto.Address   `json:"pool"`
	Markets []crypto.Address `json:"markets"`
	Weights []amount         `json:"weights"`
}

func (req *weightsRequest) validate() error {
	if req.Pool.IsZero() {
		return errors.New("pool is required")
	}
	if len(req.Markets) != len(req.Weights) {
		return errors.New("markets and weights differ in length")
	}
	return requireAmounts("weights", req.Weights)
}

func (ar *adminRoutes) setWeights(w http.ResponseWriter, r *http.Request) {
	var req weightsRequest
	ar.run(w, r, "admin.weights", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Flywheel.SetWeights(caller, req.Pool, req.Markets, toInts(req.Weights))
	})
}

type speedsRequest struct {
	Pool    crypto.Address   `json:"pool"`
	Token   crypto.Address   `json:"token"`
	Markets []crypto.Address `json:"markets"`
	Speeds  []amount         `json:"speeds"`
}

func (req *speedsRequest) validate() error {
	if req.Pool.IsZero() || req.Token.IsZero() {
		return errors.New("pool and token are required")
	}
	if len(req.Markets) != len(req.Speeds) {
		return errors.New("markets and speeds differ in length")
	}
	return requireAmounts("speeds", req.Speeds)
}

func (ar *adminRoutes) setSpeeds(w http.ResponseWriter, r *http.Request) {
	var req speedsRequest
	ar.run(w, r, "admin.speeds", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Flywheel.SetSpeeds(caller, req.Pool, req.Token, req.Markets, toInts(req.Speeds))
	})
}

type farmRequest struct {
	Pool  crypto.Address `json:"pool"`
	Token crypto.Address `json:"token"`
	Start uint64         `json:"start"`
	End   uint64         `json:"end"`
}

func (req *farmRequest) validate() error {
	if req.Pool.IsZero() || req.Token.IsZero() {
		return errors.New("pool and token are required")
	}
	return nil
}

func (ar *adminRoutes) setFarm(w http.ResponseWriter, r *http.Request) {
	var req farmRequest
	ar.run(w, r, "admin.farm", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Flywheel.SetTokenFarm(caller, req.Pool, req.Token, req.Start, req.End)
	})
}

type nativeSpeedRequest struct {
	Speed amount `json:"speed"`
}

func (req *nativeSpeedRequest) validate() error {
	if req.Speed.Int == nil {
		return errors.New("speed is required")
	}
	return nil
}

func (ar *adminRoutes) setNativeSpeed(w http.ResponseWriter, r *http.Request) {
	var req nativeSpeedRequest
	ar.run(w, r, "admin.native_speed", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Flywheel.SetNativeSpeed(caller, req.Speed.Int)
	})
}

type grantRequest struct {
	Stream    string         `json:"stream,omitempty"`
	Recipient crypto.Address `json:"recipient"`
	Amount    amount         `json:"amount"`
}

func (req *grantRequest) validate() error {
	if req.Amount.Int == nil {
		return errors.New("amount is required")
	}
	return nil
}

func (ar *adminRoutes) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	ar.run(w, r, "admin.grant", &req, func(caller crypto.Address, e *core.Engines) error {
		stream, err := parseStream(req.Stream, e.Flywheel.Config().NativeToken)
		if err != nil {
			return fmt.Errorf("%w: %v", flywheel.ErrInvalidStream, err)
		}
		return e.Flywheel.Grant(caller, stream, req.Recipient, req.Amount.Int)
	})
}

type delegateRequest struct {
	Delegate crypto.Address `json:"delegate"`
	Allowed  bool           `json:"allowed"`
}

func (req *delegateRequest) validate() error {
	if req.Delegate.IsZero() {
		return errors.New("delegate is required")
	}
	return nil
}

func (ar *adminRoutes) setDelegate(w http.ResponseWriter, r *http.Request) {
	var req delegateRequest
	ar.run(w, r, "admin.delegate", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Flywheel.SetDelegate(caller, req.Delegate, req.Allowed)
	})
}

type createPoolRequest struct {
	Pool  crypto.Address `json:"pool"`
	Admin crypto.Address `json:"admin"`
}

func (req *createPoolRequest) validate() error {
	if req.Pool.IsZero() || req.Admin.IsZero() {
		return errors.New("pool and admin are required")
	}
	return nil
}

func (ar *adminRoutes) createPool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	ar.run(w, r, "lending.create_pool", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Ledger.CreatePool(caller, req.Pool, req.Admin)
	})
}

type listMarketRequest struct {
	Pool   crypto.Address `json:"pool"`
	Market crypto.Address `json:"market"`
}

func (req *listMarketRequest) validate() error {
	if req.Pool.IsZero() || req.Market.IsZero() {
		return errors.New("pool and market are required")
	}
	return nil
}

func (ar *adminRoutes) listMarket(w http.ResponseWriter, r *http.Request) {
	var req listMarketRequest
	ar.run(w, r, "lending.list_market", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Ledger.ListMarket(caller, req.Pool, req.Market)
	})
}

type upgradeRequest struct {
	Pool crypto.Address `json:"pool"`
}

func (req *upgradeRequest) validate() error {
	if req.Pool.IsZero() {
		return errors.New("pool is required")
	}
	return nil
}

func (ar *adminRoutes) upgrade(w http.ResponseWriter, r *http.Request) {
	var req upgradeRequest
	ar.run(w, r, "lending.upgrade", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Ledger.UpgradeToLending(caller, req.Pool)
	})
}

type interestRequest struct {
	Pool   crypto.Address `json:"pool"`
	Market crypto.Address `json:"market"`
	Index  amount         `json:"borrowIndex"`
}

func (req *interestRequest) validate() error {
	if req.Pool.IsZero() || req.Market.IsZero() {
		return errors.New("pool and market are required")
	}
	if req.Index.Int == nil {
		return errors.New("borrowIndex is required")
	}
	return nil
}

func (ar *adminRoutes) accrueInterest(w http.ResponseWriter, r *http.Request) {
	var req interestRequest
	ar.run(w, r, "lending.accrue_interest", &req, func(caller crypto.Address, e *core.Engines) error {
		return e.Ledger.AccrueInterest(caller, req.Pool, req.Market, req.Index.Int)
	})
}

type pauseRequest struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

type pauseResponse struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

// setPause flips a module pause. Pauses live outside the store, so only the
// flywheel admin may toggle them and the toggle is not an executor action.
func (ar *adminRoutes) setPause(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
		return
	}
	if ar.pauses == nil {
		writeJSONError(w, http.StatusServiceUnavailable, errors.New("pause control unavailable"))
		return
	}
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	module := strings.ToLower(strings.TrimSpace(req.Module))
	switch module {
	case flywheel.ModuleName, lending.ModuleName:
	default:
		writeBadRequest(w, fmt.Errorf("unknown module %q", req.Module))
		return
	}
	if caller != ar.exec.Config().Admin {
		writeEngineError(w, flywheel.ErrUnauthorized)
		return
	}
	ar.pauses.Set(module, req.Paused)
	ar.logger.Warn("module pause updated",
		slog.String("module", module),
		slog.Bool("paused", req.Paused),
		slog.String("caller", caller.String()))
	writeJSON(w, http.StatusOK, pauseResponse{Module: module, Paused: ar.pauses.IsPaused(module)})
}
