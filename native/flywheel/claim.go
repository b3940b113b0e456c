package flywheel

import (
	"log/slog"
	"math/big"

	"lendfarm/crypto"
)

// Claim settles the requested markets for the account and pays each stream's
// whole pending balance to the recipient. A stream whose distributor cannot
// cover the balance pays nothing and keeps the balance owed.
func (e *Engine) Claim(req ClaimRequest) ([]ClaimResult, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if e.bank == nil {
		return nil, ErrNilBank
	}
	recipient, err := e.authorizeClaim(req)
	if err != nil {
		return nil, err
	}
	for _, stream := range req.Streams {
		if err := e.validStream(stream); err != nil {
			return nil, err
		}
	}

	results := make([]ClaimResult, 0, len(req.Streams))
	for _, stream := range req.Streams {
		if req.Supply || req.Borrow {
			targets, err := e.claimTargets(stream, req.Scopes)
			if err != nil {
				return nil, err
			}
			for _, target := range targets {
				for _, side := range Sides(req.Supply, req.Borrow) {
					if err := e.accrue(stream, target.Pool, target.Market, side); err != nil {
						return nil, err
					}
					if _, err := e.distribute(stream, target.Pool, target.Market, side, req.Account, nil); err != nil {
						return nil, err
					}
				}
			}
		}
		result, err := e.settle(stream, req.Account, recipient)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (e *Engine) authorizeClaim(req ClaimRequest) (crypto.Address, error) {
	if req.Account.IsZero() || req.Caller.IsZero() {
		return crypto.Address{}, ErrUnauthorized
	}
	delegate, err := e.state.GetDelegate(req.Caller)
	if err != nil {
		return crypto.Address{}, err
	}
	if req.Caller != req.Account && !delegate {
		return crypto.Address{}, ErrUnauthorized
	}
	recipient := req.Recipient
	if recipient.IsZero() {
		recipient = req.Account
	}
	if recipient != req.Account && !delegate {
		return crypto.Address{}, ErrInvalidRecipient
	}
	return recipient, nil
}

// claimTargets expands scopes into the markets to settle for the stream.
// Guest streams only consider scopes naming their own pool.
func (e *Engine) claimTargets(stream StreamID, scopes []ClaimScope) ([]MarketRef, error) {
	if len(scopes) == 0 {
		if stream.IsNative() {
			pools, err := e.Pools()
			if err != nil {
				return nil, err
			}
			for _, pool := range pools {
				scopes = append(scopes, ClaimScope{Pool: pool})
			}
		} else {
			scopes = []ClaimScope{{Pool: stream.Pool}}
		}
	}
	seen := make(map[MarketRef]struct{})
	var targets []MarketRef
	for _, scope := range scopes {
		if !stream.IsNative() && scope.Pool != stream.Pool {
			continue
		}
		markets := scope.Markets
		if markets == nil {
			registered, err := e.Markets(stream, scope.Pool)
			if err != nil {
				return nil, err
			}
			markets = registered
		}
		for _, market := range markets {
			ref := MarketRef{Pool: scope.Pool, Market: market}
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}
			targets = append(targets, ref)
		}
	}
	return targets, nil
}

// settle pays the stored pending balance if the distributor can cover all
// of it.
func (e *Engine) settle(stream StreamID, account, recipient crypto.Address) (ClaimResult, error) {
	pending, err := e.loadPending(stream, account)
	if err != nil {
		return ClaimResult{}, err
	}
	result := ClaimResult{
		Stream:     stream,
		Accrued:    copyBigInt(pending),
		Claimed:    big.NewInt(0),
		NotClaimed: big.NewInt(0),
	}
	outcome := "empty"
	if pending.Sign() > 0 {
		from := e.distributor(stream)
		balance, err := e.bank.Balance(stream.Token, from)
		if err != nil {
			return ClaimResult{}, err
		}
		if balance.Cmp(pending) >= 0 {
			if err := e.bank.Transfer(stream.Token, from, recipient, pending); err != nil {
				return ClaimResult{}, err
			}
			if err := e.state.PutPending(stream, account, big.NewInt(0)); err != nil {
				return ClaimResult{}, err
			}
			result.Claimed = copyBigInt(pending)
			outcome = "paid"
		} else {
			result.NotClaimed = copyBigInt(pending)
			outcome = "unfunded"
			e.logger.Warn("flywheel claim unfunded",
				slog.String("stream", stream.String()),
				slog.String("account", account.String()),
				slog.String("pending", pending.String()),
				slog.String("available", balance.String()))
		}
	}
	e.metrics.ObserveClaim(stream.Kind.String(), outcome, result.Claimed)
	e.emit(NewClaimedEvent(account, recipient, result))
	return result, nil
}
