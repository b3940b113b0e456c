package routes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"

	"lendfarm/core"
	corestate "lendfarm/core/state"
	nativecommon "lendfarm/native/common"
	"lendfarm/native/flywheel"
	"lendfarm/native/lending"
)

const requestLimit = 1 << 20 // 1 MiB

func decodeRequest(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	body, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, fmt.Errorf("marshal response: %w", err))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := http.StatusText(status)
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		message = strings.TrimSpace(err.Error())
	}
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeEngineError maps engine sentinels to HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, flywheel.ErrUnauthorized), errors.Is(err, lending.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, flywheel.ErrNotParticipatingPool),
		errors.Is(err, flywheel.ErrMarketNotListed),
		errors.Is(err, flywheel.ErrTokenNotAdded),
		errors.Is(err, lending.ErrPoolNotFound),
		errors.Is(err, lending.ErrMarketNotListed),
		errors.Is(err, corestate.ErrTokenNotRegistered):
		return http.StatusNotFound
	case errors.Is(err, flywheel.ErrAlreadyLending),
		errors.Is(err, flywheel.ErrWindowActive),
		errors.Is(err, lending.ErrPoolExists),
		errors.Is(err, lending.ErrMarketListed),
		errors.Is(err, lending.ErrAlreadyLending):
		return http.StatusConflict
	case errors.Is(err, flywheel.ErrInvalidRecipient),
		errors.Is(err, flywheel.ErrInvalidStream),
		errors.Is(err, flywheel.ErrLengthMismatch),
		errors.Is(err, flywheel.ErrWindowInvalid),
		errors.Is(err, flywheel.ErrWindowStartPast),
		errors.Is(err, flywheel.ErrNegativeValue),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrInvalidIndex),
		errors.Is(err, lending.ErrBorrowDisabled):
		return http.StatusBadRequest
	case errors.Is(err, flywheel.ErrInsufficientGrant),
		errors.Is(err, flywheel.ErrOverflow),
		errors.Is(err, lending.ErrInsufficientBalance),
		errors.Is(err, lending.ErrRepayExceedsDebt),
		errors.Is(err, corestate.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, nativecommon.ErrModulePaused), errors.Is(err, core.ErrExecutorClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// amount is a non-negative integer carried as a decimal string in JSON.
type amount struct {
	*big.Int
}

func newAmount(v *big.Int) amount {
	if v == nil {
		return amount{big.NewInt(0)}
	}
	return amount{new(big.Int).Set(v)}
}

func (a amount) MarshalJSON() ([]byte, error) {
	if a.Int == nil {
		return []byte(`"0"`), nil
	}
	return json.Marshal(a.Int.String())
}

func (a *amount) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("amount must be a decimal string")
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("amount must not be negative")
	}
	a.Int = value
	return nil
}
