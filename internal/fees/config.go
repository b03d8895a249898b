// Package fees estimates processing fees for payment transactions.
//
// Fees are best-effort approximations from a configured rate table, not the
// processor's ledger. The rate model sits behind the Estimator interface so a
// settlement-backed implementation can replace it.
//
// Example usage:
//
//	cfg := fees.DefaultConfig()
//	cfg.VATOnFeesPct = 19
//
//	est, err := fees.NewEstimator(cfg)
//	breakdown, err := est.Estimate(fees.Request{
//		Gross:    decimal.RequireFromString("89.99"),
//		Currency: "EUR",
//		Gateway:  fees.GatewayPlatform,
//	})
package fees

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Well-known gateway keys. Any other key may be configured.
const (
	GatewayPlatform       = "platform_payments"
	GatewayExternalPayPal = "external_paypal"
	GatewayOther          = "other"
)

// Rate is a percentage plus fixed fee. Pct is expressed in percent (2.9 means 2.9%).
type Rate struct {
	Pct   float64 `json:"pct" mapstructure:"pct" validate:"gte=0,lte=100"`
	Fixed float64 `json:"fixed" mapstructure:"fixed" validate:"gte=0"`
}

// GatewayRate is the default rate of a gateway with optional per-method overrides
type GatewayRate struct {
	Pct     float64         `json:"pct" mapstructure:"pct" validate:"gte=0,lte=100"`
	Fixed   float64         `json:"fixed" mapstructure:"fixed" validate:"gte=0"`
	Methods map[string]Rate `json:"methods,omitempty" mapstructure:"methods" validate:"dive"`
}

// Config is the fee rate table
type Config struct {
	// Gateways maps a gateway key to its rate
	Gateways map[string]GatewayRate `json:"gateways" mapstructure:"gateways" validate:"required,min=1,dive"`

	// ConversionPct is charged on the absolute gross when the transaction
	// currency differs from the destination currency
	ConversionPct float64 `json:"conversion_pct" mapstructure:"conversion_pct" validate:"gte=0,lte=100"`

	// VATOnFeesPct taxes processing and conversion fees where the jurisdiction requires it
	VATOnFeesPct float64 `json:"vat_on_fees_pct" mapstructure:"vat_on_fees_pct" validate:"gte=0,lte=100"`

	// DestinationCurrency is the payout currency; empty disables conversion
	DestinationCurrency string `json:"destination_currency" mapstructure:"destination_currency"`

	// ExchangeRates maps a source currency to its rate into DestinationCurrency
	ExchangeRates map[string]float64 `json:"exchange_rates,omitempty" mapstructure:"exchange_rates" validate:"dive,gt=0"`

	// Fallback is used for gateways without a configured rate. Nil means
	// unknown gateways are an error.
	Fallback *Rate `json:"fallback,omitempty" mapstructure:"fallback"`
}

// DefaultConfig returns the published rates: 2.9% + 0.30 for the platform's
// own processor and 3.4% + 0.30 for external PayPal. Manual and cash
// payments routed to "other" carry no processor fee. No destination currency
// is set, so nothing is converted until one is configured.
func DefaultConfig() *Config {
	return &Config{
		Gateways: map[string]GatewayRate{
			GatewayPlatform:       {Pct: 2.9, Fixed: 0.30},
			GatewayExternalPayPal: {Pct: 3.4, Fixed: 0.30},
			GatewayOther:          {Pct: 0, Fixed: 0},
		},
		ConversionPct:       1.5,
		VATOnFeesPct:        0,
		DestinationCurrency: "",
		ExchangeRates:       map[string]float64{},
	}
}

// Validate checks if the fee configuration is valid
func (c *Config) Validate() error {
	if len(c.Gateways) == 0 {
		return fmt.Errorf("at least one gateway rate must be configured")
	}

	for _, key := range c.GatewayKeys() {
		gw := c.Gateways[key]
		if err := (Rate{Pct: gw.Pct, Fixed: gw.Fixed}).validate(); err != nil {
			return fmt.Errorf("gateway %s: %w", key, err)
		}
		for method, r := range gw.Methods {
			if err := r.validate(); err != nil {
				return fmt.Errorf("gateway %s method %s: %w", key, method, err)
			}
		}
	}

	if c.ConversionPct < 0 || c.ConversionPct > 100 {
		return fmt.Errorf("conversion pct must be between 0 and 100: %f", c.ConversionPct)
	}
	if c.VATOnFeesPct < 0 || c.VATOnFeesPct > 100 {
		return fmt.Errorf("vat on fees pct must be between 0 and 100: %f", c.VATOnFeesPct)
	}
	for currency, rate := range c.ExchangeRates {
		if rate <= 0 {
			return fmt.Errorf("exchange rate for %s must be positive: %f", currency, rate)
		}
	}
	if c.Fallback != nil {
		if err := c.Fallback.validate(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}

	return nil
}

func (r Rate) validate() error {
	if r.Pct < 0 || r.Pct > 100 {
		return fmt.Errorf("pct must be between 0 and 100: %f", r.Pct)
	}
	if r.Fixed < 0 {
		return fmt.Errorf("fixed fee cannot be negative: %f", r.Fixed)
	}
	return nil
}

// GatewayKeys returns the configured gateway keys in sorted order
func (c *Config) GatewayKeys() []string {
	keys := make([]string, 0, len(c.Gateways))
	for k := range c.Gateways {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone creates a deep copy of the fee configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}

	clone := &Config{
		Gateways:            make(map[string]GatewayRate, len(c.Gateways)),
		ConversionPct:       c.ConversionPct,
		VATOnFeesPct:        c.VATOnFeesPct,
		DestinationCurrency: c.DestinationCurrency,
		ExchangeRates:       make(map[string]float64, len(c.ExchangeRates)),
	}
	for k, gw := range c.Gateways {
		methods := make(map[string]Rate, len(gw.Methods))
		for m, r := range gw.Methods {
			methods[m] = r
		}
		clone.Gateways[k] = GatewayRate{Pct: gw.Pct, Fixed: gw.Fixed, Methods: methods}
	}
	for k, v := range c.ExchangeRates {
		clone.ExchangeRates[k] = v
	}
	if c.Fallback != nil {
		fb := *c.Fallback
		clone.Fallback = &fb
	}
	return clone
}

// rateFor resolves the rate for a gateway and method: method override first,
// then the gateway default, then the fallback.
func (c *Config) rateFor(gateway, method string) (Rate, bool) {
	if gw, ok := c.Gateways[gateway]; ok {
		if r, ok := gw.Methods[strings.ToLower(method)]; ok {
			return r, true
		}
		return Rate{Pct: gw.Pct, Fixed: gw.Fixed}, true
	}
	if c.Fallback != nil {
		return *c.Fallback, true
	}
	return Rate{}, false
}

// exchangeRate returns the configured rate from currency into the destination
func (c *Config) exchangeRate(currency string) (decimal.Decimal, bool) {
	for k, v := range c.ExchangeRates {
		if strings.EqualFold(k, currency) {
			return decimal.NewFromFloat(v), true
		}
	}
	return decimal.Zero, false
}

// String returns a human-readable description of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("FeeConfig{Gateways: %s, Conversion: %.2f%%, VAT: %.2f%%, Destination: %s}",
		strings.Join(c.GatewayKeys(), ","), c.ConversionPct, c.VATOnFeesPct, c.DestinationCurrency)
}
