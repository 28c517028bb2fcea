package domain

import (
	"math"
	"strings"
)

// Board identifies the exchange segment a security trades on.
// The segment determines the daily price limit.
type Board string

const (
	BoardMain    Board = "main"     // Shanghai/Shenzhen main board, ±10%
	BoardSTAR    Board = "star"     // STAR market (688), ±20%
	BoardChiNext Board = "chinext"  // ChiNext (300/301), ±20%
	BoardBeijing Board = "beijing"  // Beijing exchange, ±30%
	BoardUnknown Board = "unknown"
)

const (
	// PriceEpsilon is the tolerance when comparing a price against the limit ceiling
	PriceEpsilon = 0.001
	// ChangePctEpsilon is the tolerance when comparing change_pct against the board limit
	ChangePctEpsilon = 0.002
)

// BoardOf derives the board from a security code prefix. Prefixes are
// derived, never stored.
func BoardOf(code string) Board {
	switch {
	case hasAnyPrefix(code, "600", "601", "603", "605", "000", "001"):
		return BoardMain
	case strings.HasPrefix(code, "688"):
		return BoardSTAR
	case hasAnyPrefix(code, "300", "301"):
		return BoardChiNext
	case hasAnyPrefix(code, "920"), hasAnyPrefix(code, "43", "83", "87"):
		return BoardBeijing
	default:
		return BoardUnknown
	}
}

// LimitPct returns the board's fractional daily price limit
func (b Board) LimitPct() float64 {
	switch b {
	case BoardSTAR, BoardChiNext:
		return 0.20
	case BoardBeijing:
		return 0.30
	default:
		return 0.10
	}
}

// LimitUpCeiling computes the exchange-rounded daily upper price limit
func LimitUpCeiling(code string, prevClose float64) float64 {
	limit := BoardOf(code).LimitPct()
	return math.Round(prevClose*(1+limit)*100) / 100
}

// LimitDownFloor computes the exchange-rounded daily lower price limit
func LimitDownFloor(code string, prevClose float64) float64 {
	limit := BoardOf(code).LimitPct()
	return math.Round(prevClose*(1-limit)*100) / 100
}

// AtLimitUp reports whether a price sits at (or within PriceEpsilon of)
// the daily ceiling for the given code.
func AtLimitUp(code string, price, prevClose float64) bool {
	if prevClose <= 0 {
		return false
	}
	return price >= LimitUpCeiling(code, prevClose)-PriceEpsilon
}

// AtLimitDown reports whether a price sits at the daily floor
func AtLimitDown(code string, price, prevClose float64) bool {
	if prevClose <= 0 {
		return false
	}
	return price <= LimitDownFloor(code, prevClose)+PriceEpsilon
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
