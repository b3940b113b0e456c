package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lendfarm/core"
	"lendfarm/crypto"
	"lendfarm/gateway/middleware"
)

// lendingRoutes exposes the pool ledger. Every mutation runs the reward hooks
// inside the same executor action.
type lendingRoutes struct {
	exec   Executor
	logger *slog.Logger
}

func (lr *lendingRoutes) mount(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Get("/pools/{pool}", lr.getPool)
	r.Post("/positions/get", lr.getPosition)
	r.Group(func(sr chi.Router) {
		sr.Use(auth)
		sr.Post("/supply", lr.action("mint"))
		sr.Post("/withdraw", lr.action("redeem"))
		sr.Post("/borrow", lr.action("borrow"))
		sr.Post("/repay", lr.action("repay"))
		sr.Post("/transfer", lr.action("transfer"))
	})
}

type lendingMarketView struct {
	Market       crypto.Address `json:"market"`
	TotalSupply  amount         `json:"totalSupply"`
	TotalBorrows amount         `json:"totalBorrows"`
	BorrowIndex  amount         `json:"borrowIndex"`
}

type lendingPoolResponse struct {
	Pool    crypto.Address      `json:"pool"`
	Admin   crypto.Address      `json:"admin"`
	Lending bool                `json:"lending"`
	Markets []lendingMarketView `json:"markets"`
}

func (lr *lendingRoutes) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := crypto.DecodeAddress(chi.URLParam(r, "pool"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("pool: %w", err))
		return
	}
	var resp lendingPoolResponse
	err = lr.exec.View(func(e *core.Engines) error {
		record, err := e.Ledger.Pool(pool)
		if err != nil {
			return err
		}
		resp = lendingPoolResponse{Pool: pool, Admin: record.Admin, Lending: record.Lending, Markets: make([]lendingMarketView, 0, len(record.Markets))}
		for _, market := range record.Markets {
			state, err := e.Ledger.Market(pool, market)
			if err != nil {
				return err
			}
			resp.Markets = append(resp.Markets, lendingMarketView{
				Market:       market,
				TotalSupply:  newAmount(state.TotalSupply),
				TotalBorrows: newAmount(state.TotalBorrows),
				BorrowIndex:  newAmount(state.BorrowIndex),
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

type positionRequest struct {
	Pool    crypto.Address `json:"pool"`
	Market  crypto.Address `json:"market"`
	Account crypto.Address `json:"account"`
}

type positionResponse struct {
	Supply amount `json:"supply"`
	Borrow amount `json:"borrow"`
}

func (lr *lendingRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	var resp positionResponse
	err := lr.exec.View(func(e *core.Engines) error {
		supply, err := e.Ledger.SupplyBalance(req.Pool, req.Market, req.Account)
		if err != nil {
			return err
		}
		borrow, err := e.Ledger.BorrowBalanceStored(req.Pool, req.Market, req.Account)
		if err != nil {
			return err
		}
		resp = positionResponse{Supply: newAmount(supply), Borrow: newAmount(borrow)}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type lendingActionRequest struct {
	Pool   crypto.Address `json:"pool"`
	Market crypto.Address `json:"market"`
	To     crypto.Address `json:"to,omitempty"`
	Amount amount         `json:"amount"`
}

type lendingActionResponse struct {
	Height uint64 `json:"height"`
	Supply amount `json:"supply"`
	Borrow amount `json:"borrow"`
}

func (lr *lendingRoutes) action(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFromContext(r.Context())
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, errMissingCaller)
			return
		}
		var req lendingActionRequest
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		if req.Amount.Int == nil {
			writeBadRequest(w, errors.New("amount is required"))
			return
		}
		if name == "transfer" && req.To.IsZero() {
			writeBadRequest(w, errors.New("to is required"))
			return
		}
		var resp lendingActionResponse
		err := lr.exec.Apply(r.Context(), "lending."+name, func(e *core.Engines) error {
			var err error
			switch name {
			case "mint":
				err = e.Ledger.Mint(req.Pool, req.Market, caller, req.Amount.Int)
			case "redeem":
				err = e.Ledger.Redeem(req.Pool, req.Market, caller, req.Amount.Int)
			case "borrow":
				err = e.Ledger.Borrow(req.Pool, req.Market, caller, req.Amount.Int)
			case "repay":
				err = e.Ledger.Repay(req.Pool, req.Market, caller, req.Amount.Int)
			case "transfer":
				err = e.Ledger.Transfer(req.Pool, req.Market, caller, req.To, req.Amount.Int)
			default:
				err = fmt.Errorf("unsupported lending action %q", name)
			}
			if err != nil {
				return err
			}
			supply, err := e.Ledger.SupplyBalance(req.Pool, req.Market, caller)
			if err != nil {
				return err
			}
			borrow, err := e.Ledger.BorrowBalanceStored(req.Pool, req.Market, caller)
			if err != nil {
				return err
			}
			resp = lendingActionResponse{Height: e.Flywheel.BlockHeight(), Supply: newAmount(supply), Borrow: newAmount(borrow)}
			return nil
		})
		if err != nil {
			lr.logger.Debug("lending action rejected",
				slog.String("action", name),
				slog.String("account", caller.String()),
				slog.Any("error", err))
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
