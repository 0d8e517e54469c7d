package systems

import "math"

// EnergyRequest records one exchange attempt between two agents.
type EnergyRequest struct {
	Requester string
	Provider  string
	Amount    float64
	Tick      int64
	Completed bool
	Cancelled bool
}

// RequestEnergy returns how much the provider can give without changing its
// state: min(amount, provider energy), or 0 for an inactive provider.
func RequestEnergy(provider Agent, amount float64) float64 {
	if !provider.Life.Active || provider.Life.Expired || amount <= 0 {
		return 0
	}
	return math.Max(0, math.Min(amount, provider.Energy.Value))
}

// ConfirmEnergyTransfer deducts amount from the provider, clamped at zero.
// A provider drained to zero expires when energy is one of its expiration
// causes. Returns true if the provider expired.
func ConfirmEnergyTransfer(provider Agent, amount float64, events LifecycleEvents) bool {
	if amount <= 0 {
		return false
	}
	provider.Energy.Value = math.Max(0, provider.Energy.Value-amount)
	if provider.Energy.Value <= 0 && provider.Life.ExpireFromEnergy {
		return Expire(provider, events)
	}
	return false
}

// Exchange runs one request/confirm cycle. The requester asks for
// min(exchange rate, headroom); a positive answer is credited to the
// requester and confirmed on the provider. providerEvents receives the
// provider's expiration, which may belong to another population.
func Exchange(tick int64, requester, provider Agent, providerEvents LifecycleEvents) EnergyRequest {
	req := EnergyRequest{
		Requester: requester.ID,
		Provider:  provider.ID,
		Tick:      tick,
		Amount:    math.Min(requester.Energy.ExchangeRate, requester.Energy.Headroom()),
	}
	if !requester.Life.Active || req.Amount <= 0 {
		req.Amount = 0
		req.Cancelled = true
		return req
	}

	received := RequestEnergy(provider, req.Amount)
	if received <= 0 {
		req.Amount = 0
		req.Cancelled = true
		return req
	}

	requester.Energy.Value = math.Min(requester.Energy.Max, requester.Energy.Value+received)
	ConfirmEnergyTransfer(provider, received, providerEvents)
	req.Amount = received
	req.Completed = true
	return req
}
