package models

import "github.com/shopspring/decimal"

// FeeType selects how a late fee or prepayment charge is computed.
type FeeType string

const (
	FeeTypeFixed FeeType = "fixed"
	// FeeTypePercentage charges a percentage of the basis amount.
	FeeTypePercentage FeeType = "percentage"
	// FeeTypePercentageOfOutstanding and FeeTypePercentageOfPrepaid are
	// accepted for prepayment charges and resolve to the same computation as
	// FeeTypePercentage: a percentage of the outstanding principal.
	FeeTypePercentageOfOutstanding FeeType = "percentage_of_outstanding"
	FeeTypePercentageOfPrepaid     FeeType = "percentage_of_prepaid"
)

// Valid reports whether t is a known fee type.
func (t FeeType) Valid() bool {
	switch t {
	case FeeTypeFixed, FeeTypePercentage, FeeTypePercentageOfOutstanding, FeeTypePercentageOfPrepaid:
		return true
	}
	return false
}

// IsPercentage reports whether the fee is a percentage of a basis amount.
func (t FeeType) IsPercentage() bool {
	return t == FeeTypePercentage || t == FeeTypePercentageOfOutstanding || t == FeeTypePercentageOfPrepaid
}

// PenaltyConfig controls late fees on overdue installments.
type PenaltyConfig struct {
	LateFeeType     FeeType         `json:"late_fee_type,omitempty"`
	LateFeeValue    decimal.Decimal `json:"late_fee_value"`
	GracePeriodDays int             `json:"grace_period_days"`
}

// PrepaymentConfig controls early foreclosure.
type PrepaymentConfig struct {
	AllowPrepayment    bool            `json:"allow_prepayment"`
	LockInPeriodMonths int             `json:"lock_in_period_months"`
	FeeType            FeeType         `json:"fee_type,omitempty"`
	FeeValue           decimal.Decimal `json:"fee_value"`
}

// Product is a loan product as published by the catalog.
type Product struct {
	Code                 string           `json:"code"`
	Name                 string           `json:"name"`
	MinPrincipal         decimal.Decimal  `json:"min_principal"`
	MaxPrincipal         decimal.Decimal  `json:"max_principal"`
	AnnualRate           decimal.Decimal  `json:"annual_rate"`
	MinTenureMonths      int              `json:"min_tenure_months"`
	MaxTenureMonths      int              `json:"max_tenure_months"`
	DefaultTenureMonths  int              `json:"default_tenure_months"`
	ProcessingFeePercent decimal.Decimal  `json:"processing_fee_percent"`
	Penalty              PenaltyConfig    `json:"penalty"`
	Prepayment           PrepaymentConfig `json:"prepayment"`
}
