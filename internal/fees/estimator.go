package fees

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"commerce-reconciliation-service/internal/models"
)

var hundred = decimal.NewFromInt(100)

// UnknownGatewayError is returned when a gateway has no configured rate and no
// fallback exists.
type UnknownGatewayError struct {
	Gateway string
}

func (e *UnknownGatewayError) Error() string {
	return fmt.Sprintf("no fee rate configured for gateway '%s'", e.Gateway)
}

// MissingExchangeRateError is returned when a conversion is needed but no rate
// was supplied on the transaction or in configuration.
type MissingExchangeRateError struct {
	From string
	To   string
}

func (e *MissingExchangeRateError) Error() string {
	return fmt.Sprintf("no exchange rate from %s to %s", e.From, e.To)
}

// Request describes one fee estimation
type Request struct {
	Gross               decimal.Decimal
	Currency            string
	Gateway             string
	PaymentMethod       string
	DestinationCurrency string
	ExchangeRate        decimal.NullDecimal
}

// Estimator turns a gross amount into an estimated fee breakdown
type Estimator interface {
	Estimate(req Request) (models.FeeBreakdown, error)
}

// RateTableEstimator estimates fees from a static rate table. It is pure:
// the same request always yields the same breakdown.
type RateTableEstimator struct {
	config *Config
}

// NewEstimator validates cfg and returns a rate table estimator
func NewEstimator(cfg *Config) (*RateTableEstimator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fee configuration: %w", err)
	}
	return &RateTableEstimator{config: cfg.Clone()}, nil
}

// Estimate computes the breakdown. Components are computed on the absolute
// gross, rounded to cents, then given the sign of the gross.
func (e *RateTableEstimator) Estimate(req Request) (models.FeeBreakdown, error) {
	destination := req.DestinationCurrency
	if destination == "" {
		destination = e.config.DestinationCurrency
	}
	converting := destination != "" && req.Currency != "" && !strings.EqualFold(destination, req.Currency)

	if req.Gross.IsZero() {
		out := models.ZeroFees(decimal.Zero)
		out.SettlementCurrency = settlementCurrency(req.Currency, destination, converting)
		if converting {
			out.ConvertedNet = decimal.NewNullDecimal(decimal.Zero)
		}
		return out, nil
	}

	rate, ok := e.config.rateFor(req.Gateway, req.PaymentMethod)
	if !ok {
		return models.FeeBreakdown{}, &UnknownGatewayError{Gateway: req.Gateway}
	}

	abs := req.Gross.Abs()
	processing := abs.Mul(percent(rate.Pct)).Add(decimal.NewFromFloat(rate.Fixed)).Round(2)

	conversion := decimal.Zero
	if converting {
		conversion = abs.Mul(percent(e.config.ConversionPct)).Round(2)
	}

	vat := processing.Add(conversion).Mul(percent(e.config.VATOnFeesPct)).Round(2)

	if req.Gross.IsNegative() {
		processing = processing.Neg()
		conversion = conversion.Neg()
		vat = vat.Neg()
	}
	total := processing.Add(conversion).Add(vat)
	net := req.Gross.Sub(total)

	out := models.FeeBreakdown{
		ProcessingFee:         processing,
		CurrencyConversionFee: conversion,
		VATOnFees:             vat,
		TotalFee:              total,
		NetAmount:             net,
		SettlementCurrency:    settlementCurrency(req.Currency, destination, converting),
	}

	if converting {
		fx := req.ExchangeRate
		if !fx.Valid {
			configured, ok := e.config.exchangeRate(req.Currency)
			if !ok {
				return models.FeeBreakdown{}, &MissingExchangeRateError{From: req.Currency, To: destination}
			}
			fx = decimal.NewNullDecimal(configured)
		}
		out.ExchangeRate = fx
		out.ConvertedNet = decimal.NewNullDecimal(net.Mul(fx.Decimal).Round(2))
	}

	return out, nil
}

// ForTransaction estimates fees for a transaction. Only settled money-moving
// transactions are charged; authorizations, voids, pending and failed
// transactions carry a zero breakdown so their net equals their gross.
func ForTransaction(est Estimator, tx *models.Transaction) (models.FeeBreakdown, error) {
	if !tx.IsSettled() {
		return models.ZeroFees(tx.GrossAmount), nil
	}
	return est.Estimate(Request{
		Gross:         tx.GrossAmount,
		Currency:      tx.Currency,
		Gateway:       tx.Gateway,
		PaymentMethod: tx.PaymentMethod,
		ExchangeRate:  tx.ExchangeRate,
	})
}

func percent(pct float64) decimal.Decimal {
	return decimal.NewFromFloat(pct).Div(hundred)
}

func settlementCurrency(currency, destination string, converting bool) string {
	if converting {
		return strings.ToUpper(destination)
	}
	return strings.ToUpper(currency)
}
