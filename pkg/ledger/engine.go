package ledger

import (
	"fmt"
	"strings"
	"time"
)

// SettlementPolicy decides how an installment covered partly by payments and
// partly by waivers is classified.
type SettlementPolicy string

const (
	// SettlementMajority reads Waived when waived amounts exceed paid amounts.
	SettlementMajority SettlementPolicy = "majority"
	SettlementPaid     SettlementPolicy = "paid"
	SettlementWaived   SettlementPolicy = "waived"
)

// ParseSettlementPolicy accepts the policy names used in configuration.
func ParseSettlementPolicy(s string) (SettlementPolicy, error) {
	switch p := SettlementPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return SettlementMajority, nil
	case SettlementMajority, SettlementPaid, SettlementWaived:
		return p, nil
	default:
		return "", fmt.Errorf("unknown settlement policy %q", s)
	}
}

// DefaultQuoteValidity is how long a foreclosure quote is advertised as valid.
const DefaultQuoteValidity = 24 * time.Hour

// Engine holds the pure ledger computations. It never touches storage; every
// method mutates only the ledger it is handed.
type Engine struct {
	Settlement    SettlementPolicy
	QuoteValidity time.Duration
}

// NewEngine returns an engine with the default policies.
func NewEngine() Engine {
	return Engine{
		Settlement:    SettlementMajority,
		QuoteValidity: DefaultQuoteValidity,
	}
}
