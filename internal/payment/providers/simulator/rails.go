package simulator

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BalanceFunc reports a simulated account balance, nil when unsupported.
type BalanceFunc func(accountID string) *decimal.Decimal

// Rail describes one simulated payment method. A zero Settlement settles
// synchronously.
type Rail struct {
	Code       string
	Settlement time.Duration
	Balance    BalanceFunc
}

func Card() Rail {
	return Rail{Code: "card", Balance: noBalance}
}

func Mpesa() Rail {
	return Rail{Code: "mpesa", Settlement: 10 * time.Second, Balance: fixedBalance("1234.56")}
}

func EcoCash() Rail {
	return Rail{Code: "ecocash", Settlement: 8 * time.Second, Balance: fixedBalance("2000.00")}
}

func Eft() Rail {
	return Rail{Code: "eft", Settlement: 20 * time.Second, Balance: fixedBalance("5000.00")}
}

func Cpay() Rail {
	return Rail{Code: "cpay", Settlement: 8 * time.Second, Balance: hashedBalance(5000, 50)}
}

func Khetsi() Rail {
	return Rail{Code: "khetsi", Settlement: 8 * time.Second, Balance: hashedBalance(8000, 75)}
}

// Rails returns every simulated rail keyed by code.
func Rails() map[string]Rail {
	out := make(map[string]Rail)
	for _, r := range []Rail{Card(), Mpesa(), EcoCash(), Eft(), Cpay(), Khetsi()} {
		out[r.Code] = r
	}
	return out
}

func noBalance(string) *decimal.Decimal { return nil }

func fixedBalance(v string) BalanceFunc {
	amount := decimal.RequireFromString(v)
	return func(string) *decimal.Decimal {
		b := amount
		return &b
	}
}

// hashedBalance derives a stable balance in [floor, floor+spread/100).
func hashedBalance(spread uint32, floor int64) BalanceFunc {
	return func(accountID string) *decimal.Decimal {
		if strings.TrimSpace(accountID) == "" {
			return nil
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(accountID))
		cents := int64(h.Sum32() % spread)
		b := decimal.New(cents, -2).Add(decimal.NewFromInt(floor))
		return &b
	}
}
