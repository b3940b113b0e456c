package flywheel

import (
	"math/big"
	"strconv"

	"lendfarm/core/types"
	"lendfarm/crypto"
)

const (
	EventTypePoolRegistered     = "flywheel.pool_registered"
	EventTypeMarketRegistered   = "flywheel.market_registered"
	EventTypeWeightUpdated      = "flywheel.weight_updated"
	EventTypeTotalWeightUpdated = "flywheel.total_weight_updated"
	EventTypeSpeedUpdated       = "flywheel.speed_updated"
	EventTypeTokenSpeedUpdated  = "flywheel.token_speed_updated"
	EventTypeFarmUpdated        = "flywheel.farm_updated"
	EventTypeLendingUpgraded    = "flywheel.lending_upgraded"
	EventTypeDistributed        = "flywheel.distributed"
	EventTypeClaimed            = "flywheel.claimed"
	EventTypeGranted            = "flywheel.granted"
	EventTypeDelegateUpdated    = "flywheel.delegate_updated"
)

// NewPoolRegisteredEvent is emitted the first time a pool joins the native
// stream.
func NewPoolRegisteredEvent(pool crypto.Address) *types.Event {
	return &types.Event{
		Type:       EventTypePoolRegistered,
		Attributes: map[string]string{"pool": pool.String()},
	}
}

// NewMarketRegisteredEvent is emitted when a market joins a stream.
func NewMarketRegisteredEvent(stream StreamID, pool, market crypto.Address) *types.Event {
	attrs := streamAttributes(stream)
	attrs["pool"] = pool.String()
	attrs["market"] = market.String()
	return &types.Event{Type: EventTypeMarketRegistered, Attributes: attrs}
}

func NewWeightUpdatedEvent(pool, market crypto.Address, oldWeight, newWeight *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWeightUpdated,
		Attributes: map[string]string{
			"pool":      pool.String(),
			"market":    market.String(),
			"oldWeight": formatAmount(oldWeight),
			"newWeight": formatAmount(newWeight),
		},
	}
}

func NewTotalWeightUpdatedEvent(oldTotal, newTotal *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTotalWeightUpdated,
		Attributes: map[string]string{
			"oldTotalWeight": formatAmount(oldTotal),
			"newTotalWeight": formatAmount(newTotal),
		},
	}
}

func NewSpeedUpdatedEvent(oldSpeed, newSpeed *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSpeedUpdated,
		Attributes: map[string]string{
			"oldSpeed": formatAmount(oldSpeed),
			"newSpeed": formatAmount(newSpeed),
		},
	}
}

func NewTokenSpeedUpdatedEvent(stream StreamID, market crypto.Address, oldSpeed, newSpeed *big.Int) *types.Event {
	attrs := streamAttributes(stream)
	attrs["market"] = market.String()
	attrs["oldSpeed"] = formatAmount(oldSpeed)
	attrs["newSpeed"] = formatAmount(newSpeed)
	return &types.Event{Type: EventTypeTokenSpeedUpdated, Attributes: attrs}
}

func NewFarmUpdatedEvent(stream StreamID, oldStart, oldEnd, newStart, newEnd uint64) *types.Event {
	attrs := streamAttributes(stream)
	attrs["oldStart"] = strconv.FormatUint(oldStart, 10)
	attrs["oldEnd"] = strconv.FormatUint(oldEnd, 10)
	attrs["newStart"] = strconv.FormatUint(newStart, 10)
	attrs["newEnd"] = strconv.FormatUint(newEnd, 10)
	return &types.Event{Type: EventTypeFarmUpdated, Attributes: attrs}
}

func NewLendingUpgradedEvent(pool crypto.Address) *types.Event {
	return &types.Event{
		Type:       EventTypeLendingUpgraded,
		Attributes: map[string]string{"pool": pool.String()},
	}
}

// NewDistributedEvent records a settlement of one side of one market for an
// account, including first-touch settlements that credit nothing.
func NewDistributedEvent(stream StreamID, pool, market crypto.Address, side Side, account crypto.Address, delta, index *big.Int) *types.Event {
	attrs := streamAttributes(stream)
	attrs["pool"] = pool.String()
	attrs["market"] = market.String()
	attrs["side"] = side.String()
	attrs["account"] = account.String()
	attrs["delta"] = formatAmount(delta)
	attrs["index"] = formatAmount(index)
	return &types.Event{Type: EventTypeDistributed, Attributes: attrs}
}

func NewClaimedEvent(account, recipient crypto.Address, result ClaimResult) *types.Event {
	attrs := streamAttributes(result.Stream)
	attrs["account"] = account.String()
	attrs["recipient"] = recipient.String()
	attrs["accrued"] = formatAmount(result.Accrued)
	attrs["claimed"] = formatAmount(result.Claimed)
	attrs["notClaimed"] = formatAmount(result.NotClaimed)
	return &types.Event{Type: EventTypeClaimed, Attributes: attrs}
}

func NewGrantedEvent(stream StreamID, recipient crypto.Address, amount *big.Int) *types.Event {
	attrs := streamAttributes(stream)
	attrs["recipient"] = recipient.String()
	attrs["amount"] = formatAmount(amount)
	return &types.Event{Type: EventTypeGranted, Attributes: attrs}
}

func NewDelegateUpdatedEvent(delegate crypto.Address, allowed bool) *types.Event {
	return &types.Event{
		Type: EventTypeDelegateUpdated,
		Attributes: map[string]string{
			"delegate": delegate.String(),
			"allowed":  strconv.FormatBool(allowed),
		},
	}
}

func streamAttributes(stream StreamID) map[string]string {
	attrs := map[string]string{
		"stream": stream.Kind.String(),
		"token":  stream.Token.String(),
	}
	if !stream.IsNative() {
		attrs["streamPool"] = stream.Pool.String()
	}
	return attrs
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
