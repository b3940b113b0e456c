package flywheel

import (
	"fmt"
	"log/slog"
	"math/big"

	"lendfarm/crypto"
)

// SetWeights assigns native-stream weights to markets of a pool. Every market
// of the stream is accrued under the current weights before any weight
// changes, because the total weight scales every market's rate.
func (e *Engine) SetWeights(caller, pool crypto.Address, markets []crypto.Address, weights []*big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	if !e.ledger.IsParticipatingPool(pool) {
		return ErrNotParticipatingPool
	}
	if len(markets) != len(weights) {
		return ErrLengthMismatch
	}
	for i, market := range markets {
		if !e.ledger.IsMarketListed(pool, market) {
			return fmt.Errorf("%w: %s", ErrMarketNotListed, market)
		}
		if _, err := toWord(weights[i]); err != nil {
			return err
		}
	}

	if err := e.accrueAllNative(); err != nil {
		return err
	}

	native, err := e.loadNative()
	if err != nil {
		return err
	}
	record, err := e.loadPool(pool)
	if err != nil {
		return err
	}
	if !record.Registered {
		record.Registered = true
		native.Pools = append(native.Pools, pool)
		e.emit(NewPoolRegisteredEvent(pool))
	}

	stream := e.NativeStreamID()
	oldTotal := copyBigInt(native.TotalWeight)
	total := copyBigInt(native.TotalWeight)
	for i, market := range markets {
		weight := copyBigInt(weights[i])
		key := MarketKey{Stream: stream, Pool: pool, Market: market}
		current, err := e.state.GetMarketState(key)
		if err != nil {
			return err
		}
		oldWeight := big.NewInt(0)
		if current == nil {
			if err := e.registerNativeMarket(pool, market, record, weight); err != nil {
				return err
			}
		} else {
			oldWeight = copyBigInt(current.Rate)
			next := current.Clone()
			next.Rate = weight
			if err := e.state.PutMarketState(key, next); err != nil {
				return err
			}
		}
		if total, err = checkedSub(total, oldWeight); err != nil {
			return err
		}
		if total, err = checkedAdd(total, weight); err != nil {
			return err
		}
		e.emit(NewWeightUpdatedEvent(pool, market, oldWeight, weight))
	}

	native.TotalWeight = total
	if err := e.state.PutPool(pool, record); err != nil {
		return err
	}
	if err := e.state.PutNative(native); err != nil {
		return err
	}
	e.emit(NewTotalWeightUpdatedEvent(oldTotal, total))
	e.logger.Info("flywheel weights updated",
		slog.String("pool", pool.String()),
		slog.Int("markets", len(markets)),
		slog.String("totalWeight", total.String()))
	return nil
}

// SetNativeSpeed changes the weighted stream's emission per block after
// settling every market under the old speed.
func (e *Engine) SetNativeSpeed(caller crypto.Address, speed *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	if speed == nil || speed.Sign() < 0 {
		return ErrNegativeValue
	}
	if _, err := toWord(speed); err != nil {
		return err
	}
	if err := e.accrueAllNative(); err != nil {
		return err
	}
	native, err := e.loadNative()
	if err != nil {
		return err
	}
	old := copyBigInt(native.Speed)
	native.Speed = copyBigInt(speed)
	if err := e.state.PutNative(native); err != nil {
		return err
	}
	e.emit(NewSpeedUpdatedEvent(old, speed))
	e.logger.Info("flywheel native speed updated",
		slog.String("old", old.String()),
		slog.String("new", speed.String()))
	return nil
}

// UpgradeLendingPool opens the borrow side of a pool's native markets. Only
// the factory may call it, once per pool. Guest streams keep their borrow
// clocks.
func (e *Engine) UpgradeLendingPool(caller, pool crypto.Address) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.cfg.Factory {
		return ErrUnauthorized
	}
	return e.upgradeLending(pool)
}

func (e *Engine) upgradeLending(pool crypto.Address) error {
	record, err := e.loadPool(pool)
	if err != nil {
		return err
	}
	if record.Lending {
		return ErrAlreadyLending
	}
	record.Lending = true
	stream := e.NativeStreamID()
	for _, market := range record.Markets {
		key := MarketKey{Stream: stream, Pool: pool, Market: market}
		current, err := e.state.GetMarketState(key)
		if err != nil {
			return err
		}
		if current == nil {
			continue
		}
		next := current.Clone()
		next.BorrowBlock = e.blockHeight
		if err := e.state.PutMarketState(key, next); err != nil {
			return err
		}
	}
	if err := e.state.PutPool(pool, record); err != nil {
		return err
	}
	e.emit(NewLendingUpgradedEvent(pool))
	e.logger.Info("flywheel pool upgraded to lending", slog.String("pool", pool.String()))
	return nil
}

// SetTokenFarm opens or reopens the emission window of a guest token in a
// pool. A window can only be replaced once the previous one has ended;
// existing markets settle up to the old end and restart at the new start.
func (e *Engine) SetTokenFarm(caller, pool, token crypto.Address, start, end uint64) error {
	if err := e.guard(); err != nil {
		return err
	}
	if !e.ledger.IsParticipatingPool(pool) {
		return ErrNotParticipatingPool
	}
	if caller != e.ledger.PoolAdmin(pool) {
		return ErrUnauthorized
	}
	if end < start {
		return ErrWindowInvalid
	}
	now := e.blockHeight
	if start < now {
		return ErrWindowStartPast
	}
	farm, err := e.state.GetTokenFarm(pool, token)
	if err != nil {
		return err
	}
	if farm != nil && now <= farm.EndBlock {
		return ErrWindowActive
	}

	stream := GuestStream(pool, token)
	var oldStart, oldEnd uint64
	if farm == nil {
		farm = &TokenFarm{}
		tokens, err := e.state.GetPoolTokens(pool)
		if err != nil {
			return err
		}
		if !containsAddress(tokens, token) {
			if err := e.state.PutPoolTokens(pool, append(append([]crypto.Address(nil), tokens...), token)); err != nil {
				return err
			}
		}
	} else {
		farm = farm.Clone()
		oldStart, oldEnd = farm.StartBlock, farm.EndBlock
		for _, market := range farm.Markets {
			if err := e.accrueMarket(stream, pool, market); err != nil {
				return err
			}
			key := MarketKey{Stream: stream, Pool: pool, Market: market}
			current, err := e.state.GetMarketState(key)
			if err != nil {
				return err
			}
			if current == nil {
				continue
			}
			next := current.Clone()
			next.SupplyBlock = start
			next.BorrowBlock = start
			if err := e.state.PutMarketState(key, next); err != nil {
				return err
			}
		}
	}
	farm.StartBlock = start
	farm.EndBlock = end
	if err := e.state.PutTokenFarm(pool, token, farm); err != nil {
		return err
	}
	e.emit(NewFarmUpdatedEvent(stream, oldStart, oldEnd, start, end))
	e.logger.Info("flywheel token farm updated",
		slog.String("stream", stream.String()),
		slog.Uint64("start", start),
		slog.Uint64("end", end))
	return nil
}

// SetSpeeds assigns absolute per-block speeds to markets of a guest stream.
// Each market is accrued under its old speed first.
func (e *Engine) SetSpeeds(caller, pool, token crypto.Address, markets []crypto.Address, speeds []*big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.ledger.PoolAdmin(pool) {
		return ErrUnauthorized
	}
	farm, err := e.state.GetTokenFarm(pool, token)
	if err != nil {
		return err
	}
	if farm == nil {
		return ErrTokenNotAdded
	}
	if len(markets) != len(speeds) {
		return ErrLengthMismatch
	}
	for i, market := range markets {
		if !e.ledger.IsMarketListed(pool, market) {
			return fmt.Errorf("%w: %s", ErrMarketNotListed, market)
		}
		if _, err := toWord(speeds[i]); err != nil {
			return err
		}
	}

	farm = farm.Clone()
	stream := GuestStream(pool, token)
	for i, market := range markets {
		speed := copyBigInt(speeds[i])
		key := MarketKey{Stream: stream, Pool: pool, Market: market}
		current, err := e.state.GetMarketState(key)
		if err != nil {
			return err
		}
		oldSpeed := big.NewInt(0)
		if current == nil {
			if err := e.registerTokenMarket(stream, market, farm, speed); err != nil {
				return err
			}
		} else {
			if err := e.accrueMarket(stream, pool, market); err != nil {
				return err
			}
			current, err = e.state.GetMarketState(key)
			if err != nil {
				return err
			}
			oldSpeed = copyBigInt(current.Rate)
			next := current.Clone()
			next.Rate = speed
			if err := e.state.PutMarketState(key, next); err != nil {
				return err
			}
		}
		e.emit(NewTokenSpeedUpdatedEvent(stream, market, oldSpeed, speed))
	}
	if err := e.state.PutTokenFarm(pool, token, farm); err != nil {
		return err
	}
	e.logger.Info("flywheel token speeds updated",
		slog.String("stream", stream.String()),
		slog.Int("markets", len(markets)))
	return nil
}

// Grant transfers reward tokens out of a stream's distributor outside the
// accrual accounting. Unlike a claim it fails when the distributor is short.
func (e *Engine) Grant(caller crypto.Address, stream StreamID, recipient crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.bank == nil {
		return ErrNilBank
	}
	if err := e.validStream(stream); err != nil {
		return err
	}
	if caller != e.streamAdmin(stream) {
		return ErrUnauthorized
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return ErrNegativeValue
	}
	from := e.distributor(stream)
	balance, err := e.bank.Balance(stream.Token, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientGrant
	}
	if amount.Sign() > 0 {
		if err := e.bank.Transfer(stream.Token, from, recipient, amount); err != nil {
			return err
		}
	}
	e.emit(NewGrantedEvent(stream, recipient, amount))
	e.logger.Info("flywheel grant",
		slog.String("stream", stream.String()),
		slog.String("recipient", recipient.String()),
		slog.String("amount", amount.String()))
	return nil
}

// SetDelegate allows or revokes an account's right to claim for others.
func (e *Engine) SetDelegate(caller, delegate crypto.Address, allowed bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	if caller != e.cfg.Admin {
		return ErrUnauthorized
	}
	if err := e.state.PutDelegate(delegate, allowed); err != nil {
		return err
	}
	e.emit(NewDelegateUpdatedEvent(delegate, allowed))
	return nil
}
