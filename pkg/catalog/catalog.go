// Package catalog loads loan product terms from a TOML file.
//
//	[[product]]
//	code = "PL"
//	name = "Personal loan"
//	min_principal = 10000
//	max_principal = 500000
//	annual_rate = 12.0
//	min_tenure_months = 6
//	max_tenure_months = 24
//	default_tenure_months = 12
//	processing_fee_percent = 1.0
//
//	[product.penalty]
//	late_fee_type = "fixed"
//	late_fee_value = 500
//	grace_period_days = 5
//
//	[product.prepayment]
//	allow = true
//	lock_in_months = 3
//	fee_type = "percentage"
//	fee_value = 2
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

type file struct {
	Products []product `toml:"product"`
}

type product struct {
	Code                 string     `toml:"code"`
	Name                 string     `toml:"name"`
	MinPrincipal         float64    `toml:"min_principal"`
	MaxPrincipal         float64    `toml:"max_principal"`
	AnnualRate           float64    `toml:"annual_rate"`
	MinTenureMonths      int        `toml:"min_tenure_months"`
	MaxTenureMonths      int        `toml:"max_tenure_months"`
	DefaultTenureMonths  int        `toml:"default_tenure_months"`
	ProcessingFeePercent float64    `toml:"processing_fee_percent"`
	Penalty              penalty    `toml:"penalty"`
	Prepayment           prepayment `toml:"prepayment"`
}

type penalty struct {
	LateFeeType     string  `toml:"late_fee_type"`
	LateFeeValue    float64 `toml:"late_fee_value"`
	GracePeriodDays int     `toml:"grace_period_days"`
}

type prepayment struct {
	Allow        bool    `toml:"allow"`
	LockInMonths int     `toml:"lock_in_months"`
	FeeType      string  `toml:"fee_type"`
	FeeValue     float64 `toml:"fee_value"`
}

// FileCatalog is a read-only product catalog loaded once at startup.
type FileCatalog struct {
	products map[string]*models.Product
}

// Load reads and validates the catalog at path.
func Load(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a TOML catalog. Unknown keys are rejected so that typos in
// fee settings do not silently fall back to zero.
func Parse(data []byte) (*FileCatalog, error) {
	var f file
	meta, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown catalog keys: %s", strings.Join(keys, ", "))
	}

	c := &FileCatalog{products: make(map[string]*models.Product, len(f.Products))}
	for i, p := range f.Products {
		prod, err := p.toModel()
		if err != nil {
			return nil, fmt.Errorf("product %d (%q): %w", i+1, p.Code, err)
		}
		if _, dup := c.products[prod.Code]; dup {
			return nil, fmt.Errorf("duplicate product code %q", prod.Code)
		}
		c.products[prod.Code] = prod
	}
	return c, nil
}

// Product returns a copy of the product with the given code.
func (c *FileCatalog) Product(_ context.Context, code string) (*models.Product, error) {
	p, ok := c.products[code]
	if !ok {
		return nil, apperr.NotFound("product %q not found", code)
	}
	cp := *p
	return &cp, nil
}

// Codes lists the product codes in sorted order.
func (c *FileCatalog) Codes() []string {
	codes := make([]string, 0, len(c.products))
	for code := range c.products {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (p product) toModel() (*models.Product, error) {
	code := strings.TrimSpace(p.Code)
	switch {
	case code == "":
		return nil, fmt.Errorf("code is required")
	case p.AnnualRate < 0:
		return nil, fmt.Errorf("annual_rate must not be negative")
	case p.MinPrincipal < 0 || (p.MaxPrincipal > 0 && p.MaxPrincipal < p.MinPrincipal):
		return nil, fmt.Errorf("principal bounds %v-%v are invalid", p.MinPrincipal, p.MaxPrincipal)
	case p.DefaultTenureMonths <= 0:
		return nil, fmt.Errorf("default_tenure_months must be positive")
	case p.MinTenureMonths > 0 && p.DefaultTenureMonths < p.MinTenureMonths,
		p.MaxTenureMonths > 0 && p.DefaultTenureMonths > p.MaxTenureMonths:
		return nil, fmt.Errorf("default tenure %d is outside %d-%d", p.DefaultTenureMonths, p.MinTenureMonths, p.MaxTenureMonths)
	case p.ProcessingFeePercent < 0 || p.Penalty.LateFeeValue < 0 || p.Prepayment.FeeValue < 0:
		return nil, fmt.Errorf("fees must not be negative")
	case p.Penalty.GracePeriodDays < 0 || p.Prepayment.LockInMonths < 0:
		return nil, fmt.Errorf("grace period and lock-in must not be negative")
	}

	lateFee, err := feeType(p.Penalty.LateFeeType)
	if err != nil {
		return nil, fmt.Errorf("penalty: %w", err)
	}
	prepayFee, err := feeType(p.Prepayment.FeeType)
	if err != nil {
		return nil, fmt.Errorf("prepayment: %w", err)
	}

	return &models.Product{
		Code:                 code,
		Name:                 p.Name,
		MinPrincipal:         decimal.NewFromFloat(p.MinPrincipal),
		MaxPrincipal:         decimal.NewFromFloat(p.MaxPrincipal),
		AnnualRate:           decimal.NewFromFloat(p.AnnualRate),
		MinTenureMonths:      p.MinTenureMonths,
		MaxTenureMonths:      p.MaxTenureMonths,
		DefaultTenureMonths:  p.DefaultTenureMonths,
		ProcessingFeePercent: decimal.NewFromFloat(p.ProcessingFeePercent),
		Penalty: models.PenaltyConfig{
			LateFeeType:     lateFee,
			LateFeeValue:    decimal.NewFromFloat(p.Penalty.LateFeeValue),
			GracePeriodDays: p.Penalty.GracePeriodDays,
		},
		Prepayment: models.PrepaymentConfig{
			AllowPrepayment:    p.Prepayment.Allow,
			LockInPeriodMonths: p.Prepayment.LockInMonths,
			FeeType:            prepayFee,
			FeeValue:           decimal.NewFromFloat(p.Prepayment.FeeValue),
		},
	}, nil
}

// feeType defaults an empty type to fixed.
func feeType(s string) (models.FeeType, error) {
	if s == "" {
		return models.FeeTypeFixed, nil
	}
	t := models.FeeType(strings.ToLower(s))
	if !t.Valid() {
		return "", fmt.Errorf("unknown fee type %q", s)
	}
	return t, nil
}
