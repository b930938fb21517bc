package ledger

import (
	"fmt"
	"math"
	"time"

	"github.com/mcclellann/loanledger/pkg/apperr"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

// ErrInvalidTerms is returned when loan terms cannot produce a schedule.
var ErrInvalidTerms = &apperr.Error{Kind: apperr.KindValidation, Msg: "invalid loan terms"}

// Terms are the inputs to schedule generation. StartDate is the due date of
// the first installment; later installments fall due monthly after it.
type Terms struct {
	Principal    decimal.Decimal
	AnnualRate   decimal.Decimal
	TenureMonths int
	StartDate    time.Time
}

// ComputeEMI returns the equated monthly installment rounded to 2 decimals:
// P·r·(1+r)^N / ((1+r)^N − 1) with r = R/12/100, or P/N for zero interest.
func ComputeEMI(principal, annualRate decimal.Decimal, tenureMonths int) (decimal.Decimal, error) {
	if !principal.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: principal must be positive", ErrInvalidTerms)
	}
	if tenureMonths <= 0 {
		return decimal.Zero, fmt.Errorf("%w: tenure must be at least one month", ErrInvalidTerms)
	}
	if annualRate.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: annual rate must not be negative", ErrInvalidTerms)
	}

	var emi decimal.Decimal
	if annualRate.IsZero() {
		emi = principal.Div(decimal.NewFromInt(int64(tenureMonths))).Round(2)
	} else {
		// The power term is computed in float64; the result is brought back to
		// decimal and rounded before any money arithmetic uses it.
		r := monthlyRate(annualRate).InexactFloat64()
		factor := math.Pow(1+r, float64(tenureMonths))
		value := principal.InexactFloat64() * r * factor / (factor - 1)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return decimal.Zero, fmt.Errorf("%w: EMI is not finite", ErrInvalidTerms)
		}
		emi = decimal.NewFromFloat(value).Round(2)
	}

	if !emi.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: EMI rounds to %s", ErrInvalidTerms, emi.StringFixed(2))
	}
	return emi, nil
}

// BuildSchedule computes the EMI and the declining-balance installment
// schedule. The final installment takes whatever principal is left so the
// schedule ends at exactly zero.
func BuildSchedule(t Terms) ([]models.Installment, decimal.Decimal, error) {
	if t.StartDate.IsZero() {
		return nil, decimal.Zero, fmt.Errorf("%w: repayment start date is required", ErrInvalidTerms)
	}
	emi, err := ComputeEMI(t.Principal, t.AnnualRate, t.TenureMonths)
	if err != nil {
		return nil, decimal.Zero, err
	}

	rate := monthlyRate(t.AnnualRate)
	balance := t.Principal
	installments := make([]models.Installment, 0, t.TenureMonths)

	for k := 1; k <= t.TenureMonths; k++ {
		interest := round2(balance.Mul(rate))
		principal := emi.Sub(interest)
		if principal.IsNegative() {
			principal = decimal.Zero
		}
		if principal.GreaterThan(balance) || k == t.TenureMonths {
			principal = balance
		}
		balance = balance.Sub(principal)

		installments = append(installments, models.Installment{
			Number:       k,
			DueDate:      addMonths(t.StartDate, k-1),
			PrincipalDue: principal,
			InterestDue:  interest,
			PenaltyDue:   decimal.Zero,
			Status:       models.InstallmentPending,
		})
	}

	return installments, emi, nil
}
