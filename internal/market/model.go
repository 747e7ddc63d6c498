package market

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Money is stored as int64 micros: 1_000_000 micros = 1 currency unit.
	MicrosPerUnit = int64(1_000_000)

	StartingBudgetMicros = int64(5_000_000) * MicrosPerUnit

	MaxSquadSize = 25
	MinSquadSize = 15

	// Offers below 95% of the asking price are rejected. Kept as an integer
	// ratio so the comparison never touches floating point.
	floorPriceNum = int64(19)
	floorPriceDen = int64(20)
)

type Position string

const (
	Goalkeeper Position = "Goalkeeper"
	Defender   Position = "Defender"
	Midfielder Position = "Midfielder"
	Attacker   Position = "Attacker"
)

func ParsePosition(s string) (Position, error) {
	switch Position(strings.TrimSpace(s)) {
	case Goalkeeper, Defender, Midfielder, Attacker:
		return Position(strings.TrimSpace(s)), nil
	}
	return "", fmt.Errorf("unknown position %q", s)
}

var (
	// ErrNotEligible is the single business-rejection outcome callers see.
	// Specific reasons wrap it so logs and tests can tell them apart.
	ErrNotEligible = errors.New("purchase not eligible")

	ErrPlayerNotFound  = fmt.Errorf("%w: player not found", ErrNotEligible)
	ErrPlayerNotListed = fmt.Errorf("%w: player is not listed", ErrNotEligible)
	ErrAlreadyOwned    = fmt.Errorf("%w: buyer already owns this player", ErrNotEligible)
	ErrNoTeam          = fmt.Errorf("%w: buyer has no team", ErrNotEligible)
	ErrSellerAtFloor   = fmt.Errorf("%w: seller roster at minimum size", ErrNotEligible)
	ErrBuyerAtCap      = fmt.Errorf("%w: buyer roster at maximum size", ErrNotEligible)
	ErrBudgetExceeded  = fmt.Errorf("%w: offer exceeds buyer budget", ErrNotEligible)
	ErrBelowFloorPrice = fmt.Errorf("%w: offer below asking price floor", ErrNotEligible)
	ErrListingConflict = fmt.Errorf("%w: player not found or not owned by caller", ErrNotEligible)

	// ErrTxConflict means the transaction kept losing lock races; callers may
	// retry the whole purchase from scratch.
	ErrTxConflict = errors.New("transaction conflict, retry")

	ErrInvalidPrice = errors.New("price must be a positive amount")
)

func UnitsToMicros(v int64) int64 {
	return v * MicrosPerUnit
}

// FormatMicros renders micros as a decimal string without float rounding.
func FormatMicros(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / MicrosPerUnit
	frac := v % MicrosPerUnit
	if frac == 0 {
		return fmt.Sprintf("%s%d", sign, whole)
	}
	s := fmt.Sprintf("%06d", frac)
	s = strings.TrimRight(s, "0")
	return fmt.Sprintf("%s%d.%s", sign, whole, s)
}

// ParseMoney converts a decimal string like "95000" or "1250.50" to micros
// using integer arithmetic only. At most six fractional digits are accepted.
func ParseMoney(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '+' || s[0] == '-' {
		neg = s[0] == '-'
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("malformed amount %q", s)
	}
	if len(frac) > 6 {
		return 0, fmt.Errorf("amount %q has more than 6 decimal places", s)
	}
	var micros int64
	for _, c := range whole {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		d := int64(c - '0')
		if micros > (1<<63-1-d)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		micros = micros*10 + d
	}
	if micros > (1<<63-1)/MicrosPerUnit {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	micros *= MicrosPerUnit
	scale := MicrosPerUnit / 10
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed amount %q", s)
		}
		micros += int64(c-'0') * scale
		scale /= 10
	}
	if neg {
		micros = -micros
	}
	return micros, nil
}

// MeetsFloorPrice reports whether an offer clears the 95%-of-ask floor.
// Exactly 95% is acceptable. The floor is ceil(ask*19/20), computed in pieces
// because askMicros*19 can exceed int64 for asks ParseMoney still accepts.
func MeetsFloorPrice(offerMicros, askMicros int64) bool {
	floor := askMicros/floorPriceDen*floorPriceNum +
		(askMicros%floorPriceDen*floorPriceNum+floorPriceDen-1)/floorPriceDen
	return offerMicros >= floor
}

// lockOrder returns the two team ids in ascending order. Every transfer locks
// team rows in this order so that overlapping transfers can never deadlock.
func lockOrder(a, b int64) (int64, int64) {
	if a < b {
		return a, b
	}
	return b, a
}

// validatePurchase applies the post-lock business checks against the frozen
// view of both teams and the player. It returns the first violated rule.
func validatePurchase(buyerTeamID, buyerBudget, buyerCount int64, sellerTeamID, sellerCount int64, p lockedPlayer, offerMicros int64) error {
	if !p.IsListed || p.PriceMicros == nil {
		return ErrPlayerNotListed
	}
	if p.TeamID != sellerTeamID {
		// Player moved between the advisory read and the locks.
		return ErrPlayerNotListed
	}
	if p.TeamID == buyerTeamID {
		return ErrAlreadyOwned
	}
	if sellerCount <= MinSquadSize {
		return ErrSellerAtFloor
	}
	if buyerCount >= MaxSquadSize {
		return ErrBuyerAtCap
	}
	if buyerBudget < offerMicros {
		return ErrBudgetExceeded
	}
	if !MeetsFloorPrice(offerMicros, *p.PriceMicros) {
		return ErrBelowFloorPrice
	}
	return nil
}
