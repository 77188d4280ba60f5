package events

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType Type
	version   int
}

// DecoderRegistry resolves a typed, validated payload for a (type, version)
// pair. The projector dispatches on the tag rather than structural
// inspection.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
}

func (r *DecoderRegistry) Register(eventType Type, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType Type, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
}

var validate = validator.New()

func decodeInto[T any](payload json.RawMessage) (any, error) {
	var value T
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, err
	}
	if err := validate.Struct(value); err != nil {
		return nil, err
	}
	return value, nil
}

// DefaultRegistry returns a registry with every current payload schema
// registered at version 1. Monetary payloads additionally require a positive
// amount and rate, which struct tags cannot express for decimals.
func DefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	r.Register(TypeCustomerCreated, 1, decodeInto[CustomerCreated])
	r.Register(TypeCustomerUpdated, 1, decodeInto[CustomerUpdated])
	r.Register(TypeDebtCreated, 1, func(payload json.RawMessage) (any, error) {
		value, err := decodeInto[DebtCreated](payload)
		if err != nil {
			return nil, err
		}
		typed := value.(DebtCreated)
		if err := requirePositiveMoney(typed.AmountUSD, typed.Rate); err != nil {
			return nil, err
		}
		return typed, nil
	})
	r.Register(TypeDebtPaymentAdded, 1, func(payload json.RawMessage) (any, error) {
		value, err := decodeInto[DebtPaymentAdded](payload)
		if err != nil {
			return nil, err
		}
		typed := value.(DebtPaymentAdded)
		if err := requirePositiveMoney(typed.AmountUSD, typed.Rate); err != nil {
			return nil, err
		}
		return typed, nil
	})
	r.Register(TypeDebtNoteChanged, 1, decodeInto[DebtNoteChanged])
	return r
}

func requirePositiveMoney(amount decimal.Decimal, rate RateSnapshot) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	if rate.Rate.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("rate must be positive, got %s", rate.Rate)
	}
	if rate.RateFetchedAt.IsZero() {
		return fmt.Errorf("rate_fetched_at is required")
	}
	return nil
}
