package zpay32

import (
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
)

// PicoBTC is the unit the amount of an invoice is expressed in: one
// trillionth (10^-12) of a bitcoin. It is the smallest amount the
// human-readable part can represent.
type PicoBTC uint64

const (
	// picoPerBtc is the number of pico-units in 1 BTC, the implicit
	// multiplier when the amount carries no multiplier letter.
	picoPerBtc PicoBTC = 1e12

	// picoPerSatoshi is the number of pico-units in one satoshi.
	picoPerSatoshi PicoBTC = 1e4
)

// amountUnit ties a multiplier letter to its pico-unit factor. The
// table is ordered from the largest factor to the smallest, the order
// encoding walks to find the shortest rendering.
type amountUnit struct {
	letter string
	factor PicoBTC
}

var amountUnits = []amountUnit{
	{letter: "", factor: picoPerBtc},
	{letter: "m", factor: 1e9},
	{letter: "u", factor: 1e6},
	{letter: "n", factor: 1e3},
	{letter: "p", factor: 1},
}

// ToSatoshis converts the amount to whole satoshis, truncating any
// sub-satoshi remainder.
func (p PicoBTC) ToSatoshis() btcutil.Amount {
	return btcutil.Amount(p / picoPerSatoshi)
}

// String returns the amount suffixed with its unit.
func (p PicoBTC) String() string {
	return fmt.Sprintf("%d pBTC", uint64(p))
}

// decodeAmount converts the amount part of the human-readable part,
// a run of decimal digits followed by an optional multiplier letter,
// into pico-units.
func decodeAmount(amount string) (PicoBTC, error) {
	if amount == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrMalformedPrefix)
	}

	digits := amount
	factor := picoPerBtc
	if last := amount[len(amount)-1]; last >= 'a' && last <= 'z' {
		unit, ok := multiplierFactor(last)
		if !ok {
			return 0, fmt.Errorf("%w: unknown multiplier %c",
				ErrInvalidAmount, last)
		}
		factor = unit
		digits = amount[:len(amount)-1]
	}

	if digits == "" {
		return 0, fmt.Errorf("%w: multiplier without digits",
			ErrMalformedPrefix)
	}

	value, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedPrefix, err)
	}
	if value == 0 {
		return 0, fmt.Errorf("%w: amount must be positive",
			ErrInvalidAmount)
	}
	if value > uint64(^PicoBTC(0))/uint64(factor) {
		return 0, fmt.Errorf("%w: amount out of range", ErrInvalidAmount)
	}

	return PicoBTC(value) * factor, nil
}

// encodeAmount converts the amount to the shortest digits+multiplier
// rendering: the largest factor dividing the amount exactly wins.
func encodeAmount(amount PicoBTC) (string, error) {
	if amount == 0 {
		return "", fmt.Errorf("%w: amount must be positive",
			ErrInvalidAmount)
	}

	for _, unit := range amountUnits {
		if amount%unit.factor != 0 {
			continue
		}
		return strconv.FormatUint(uint64(amount/unit.factor), 10) +
			unit.letter, nil
	}

	// The table ends with a factor of 1, so some entry always divides.
	return "", fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
}

func multiplierFactor(letter byte) (PicoBTC, bool) {
	for _, unit := range amountUnits[1:] {
		if unit.letter[0] == letter {
			return unit.factor, true
		}
	}
	return 0, false
}
