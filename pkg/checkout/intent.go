package checkout

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/keygate/checkout/pkg/principal"
	"github.com/shopspring/decimal"
)

// ErrInvalidIntent is returned for intents that cannot start a payment
var ErrInvalidIntent = errors.New("invalid payment intent")

var validate = validator.New()

// Intent is what the host wants paid: an amount of the destination currency
// credited to a destination ledger account, paid with the source currency
type Intent struct {
	DestinationAmount    decimal.Decimal `json:"destination_amount"`
	DestinationCurrency  string          `json:"destination_currency" validate:"required,alphanum,max=16"`
	SourceCurrency       string          `json:"source_currency" validate:"omitempty,alphanum,max=16"`
	DestinationAccountID string          `json:"destination_account_id" validate:"required,max=63"`
}

// IntentUpdate changes the amount or currencies of a running payment.
// Empty fields keep their current value.
type IntentUpdate struct {
	DestinationAmount   *decimal.Decimal `json:"destination_amount,omitempty"`
	DestinationCurrency string           `json:"destination_currency,omitempty" validate:"omitempty,alphanum,max=16"`
	SourceCurrency      string           `json:"source_currency,omitempty" validate:"omitempty,alphanum,max=16"`
}

// normalize validates the intent against the token the route spends. The
// source currency defaults to that token and must equal it.
func (i Intent) normalize(sourceToken string) (Intent, error) {
	if err := validate.Struct(i); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if !i.DestinationAmount.IsPositive() {
		return Intent{}, fmt.Errorf("%w: destination amount must be positive", ErrInvalidIntent)
	}
	if _, err := principal.ToBytes32(i.DestinationAccountID); err != nil {
		return Intent{}, fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}

	i.DestinationCurrency = strings.ToUpper(i.DestinationCurrency)
	sourceToken = strings.ToUpper(sourceToken)
	if i.SourceCurrency == "" {
		i.SourceCurrency = sourceToken
	}
	i.SourceCurrency = strings.ToUpper(i.SourceCurrency)
	if i.SourceCurrency != sourceToken {
		return Intent{}, fmt.Errorf("%w: source currency %s does not match the spent token %s", ErrInvalidIntent, i.SourceCurrency, sourceToken)
	}
	return i, nil
}

// apply returns the intent with the update merged in
func (i Intent) apply(update IntentUpdate, sourceToken string) (Intent, error) {
	if err := validate.Struct(update); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if update.DestinationAmount != nil {
		i.DestinationAmount = *update.DestinationAmount
	}
	if update.DestinationCurrency != "" {
		i.DestinationCurrency = update.DestinationCurrency
	}
	if update.SourceCurrency != "" {
		i.SourceCurrency = update.SourceCurrency
	}
	return i.normalize(sourceToken)
}
