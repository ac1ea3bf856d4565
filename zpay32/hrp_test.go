package zpay32

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

// TestParseHRP checks the tokenizer over the full prefix grammar,
// including the error taxonomy for malformed inputs.
func TestParseHRP(t *testing.T) {
	tests := []struct {
		hrp    string
		net    *chaincfg.Params
		amount PicoBTC // 0 means no amount expected
		err    error
	}{
		{hrp: "lnbc", net: &chaincfg.MainNetParams},
		{hrp: "lntb", net: &chaincfg.TestNet3Params},
		{hrp: "lnbcrt", net: &chaincfg.RegressionNetParams},
		{hrp: "lnsb", net: &chaincfg.SimNetParams},

		{hrp: "lnbc2500u", net: &chaincfg.MainNetParams,
			amount: 2500000000},
		{hrp: "lnbcrt1n", net: &chaincfg.RegressionNetParams,
			amount: 1000},
		{hrp: "lntb20m", net: &chaincfg.TestNet3Params,
			amount: 20000000000},
		{hrp: "lnbc1p", net: &chaincfg.MainNetParams, amount: 1},
		// No multiplier letter means whole bitcoins.
		{hrp: "lnbc9", net: &chaincfg.MainNetParams,
			amount: 9000000000000},

		{hrp: "bc", err: ErrMalformedPrefix},
		{hrp: "ln", err: ErrMalformedPrefix},
		{hrp: "ln1bc", err: ErrMalformedPrefix},
		{hrp: "lnxy", err: ErrUnknownNetwork},
		// The multiplier letter of a digit-less amount is consumed
		// into the network tag.
		{hrp: "lnbcm", err: ErrUnknownNetwork},
		{hrp: "lnbc2500x", err: ErrInvalidAmount},
		{hrp: "lnbc0u", err: ErrInvalidAmount},
		{hrp: "lnbc2+00u", err: ErrMalformedPrefix},
		{hrp: "lnbc25m0", err: ErrMalformedPrefix},
	}

	for _, test := range tests {
		net, amount, err := parseHRP(test.hrp)
		if test.err != nil {
			if !errors.Is(err, test.err) {
				t.Fatalf("hrp %q: got error %v, expected %v",
					test.hrp, err, test.err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("hrp %q: unable to parse: %v", test.hrp, err)
		}
		if net != test.net {
			t.Fatalf("hrp %q: got net %v, expected %v", test.hrp,
				net.Name, test.net.Name)
		}
		if test.amount == 0 {
			if amount != nil {
				t.Fatalf("hrp %q: got amount %v, expected none",
					test.hrp, *amount)
			}
			continue
		}
		if amount == nil || *amount != test.amount {
			t.Fatalf("hrp %q: got amount %v, expected %v", test.hrp,
				amount, test.amount)
		}
	}
}

// TestEncodeAmount checks that encoding picks the shortest rendering,
// with the highest-value multiplier winning ties.
func TestEncodeAmount(t *testing.T) {
	tests := []struct {
		amount  PicoBTC
		encoded string
	}{
		{amount: 2500000000, encoded: "2500u"},
		{amount: 1, encoded: "1p"},
		{amount: 1000, encoded: "1n"},
		{amount: 1000000, encoded: "1u"},
		{amount: 1000000000, encoded: "1m"},
		{amount: 1000000000000, encoded: "1"},
		{amount: 2400, encoded: "2400p"},
		{amount: 20000000000, encoded: "20m"},
		{amount: 2001000, encoded: "2001n"},
	}

	for _, test := range tests {
		encoded, err := encodeAmount(test.amount)
		if err != nil {
			t.Fatalf("amount %d: unable to encode: %v", test.amount,
				err)
		}
		if encoded != test.encoded {
			t.Fatalf("amount %d: encoded as %q, expected %q",
				test.amount, encoded, test.encoded)
		}

		// The rendering must decode back to the same value.
		decoded, err := decodeAmount(encoded)
		if err != nil {
			t.Fatalf("amount %q: unable to decode: %v", encoded, err)
		}
		if decoded != test.amount {
			t.Fatalf("amount %q: decoded as %d, expected %d",
				encoded, decoded, test.amount)
		}
	}

	if _, err := encodeAmount(0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount encoding zero")
	}
}

// TestEncodeHRP checks the full prefix rendering on mainnet with an
// amount and on regtest without one, and that missing net params are
// refused.
func TestEncodeHRP(t *testing.T) {
	amount := PicoBTC(2500000000)

	hrp, err := encodeHRP(&chaincfg.MainNetParams, &amount)
	if err != nil {
		t.Fatalf("unable to encode hrp: %v", err)
	}
	if hrp != "lnbc2500u" {
		t.Fatalf("encoded hrp %q, expected lnbc2500u", hrp)
	}

	hrp, err = encodeHRP(&chaincfg.RegressionNetParams, nil)
	if err != nil {
		t.Fatalf("unable to encode hrp: %v", err)
	}
	if hrp != "lnbcrt" {
		t.Fatalf("encoded hrp %q, expected lnbcrt", hrp)
	}

	if _, err := encodeHRP(nil, nil); err == nil {
		t.Fatalf("expected error encoding hrp without net params")
	}
}
