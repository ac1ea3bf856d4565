package zpay32

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// bech32Nets maps the network tag of the human-readable part to the
// chain parameters of that network.
var bech32Nets = map[string]*chaincfg.Params{
	chaincfg.MainNetParams.Bech32HRPSegwit:       &chaincfg.MainNetParams,
	chaincfg.TestNet3Params.Bech32HRPSegwit:      &chaincfg.TestNet3Params,
	chaincfg.RegressionNetParams.Bech32HRPSegwit: &chaincfg.RegressionNetParams,
	chaincfg.SimNetParams.Bech32HRPSegwit:        &chaincfg.SimNetParams,
}

// parseHRP tokenizes and validates the human-readable part of an
// invoice: "ln", a network tag, and an optional amount. The tokenizer
// runs first and splits the string on character classes alone; the
// resulting tokens are then validated against the network table and
// the multiplier table. A nil amount means the invoice doesn't specify
// one.
func parseHRP(hrp string) (*chaincfg.Params, *PicoBTC, error) {
	if !strings.HasPrefix(hrp, "ln") {
		return nil, nil, fmt.Errorf("%w: prefix should be \"ln\"",
			ErrMalformedPrefix)
	}

	// The network tag is the run of lowercase letters following "ln",
	// ending at the first non-letter or at the end of the string. Note
	// that an amount always starts with a digit, so its multiplier
	// letter can never be consumed here.
	rest := hrp[2:]
	split := len(rest)
	for i := 0; i < len(rest); i++ {
		if rest[i] >= 'a' && rest[i] <= 'z' {
			continue
		}
		split = i
		break
	}
	netTag, amountTok := rest[:split], rest[split:]

	if netTag == "" {
		return nil, nil, fmt.Errorf("%w: missing network tag",
			ErrMalformedPrefix)
	}
	net, ok := bech32Nets[netTag]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, netTag)
	}

	if amountTok == "" {
		return net, nil, nil
	}

	// The amount token must be digits followed by at most one trailing
	// lowercase letter. Anything else is a malformed prefix, caught
	// here before the amount itself is interpreted.
	digits := amountTok
	if last := amountTok[len(amountTok)-1]; last >= 'a' && last <= 'z' {
		digits = amountTok[:len(amountTok)-1]
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return nil, nil, fmt.Errorf("%w: unexpected character %q",
				ErrMalformedPrefix, digits[i])
		}
	}

	amount, err := decodeAmount(amountTok)
	if err != nil {
		return nil, nil, err
	}

	return net, &amount, nil
}

// encodeHRP is the inverse of parseHRP, rendering the human-readable
// part for the passed network and optional amount.
func encodeHRP(net *chaincfg.Params, amount *PicoBTC) (string, error) {
	if net == nil {
		return "", fmt.Errorf("net params not set")
	}
	if _, ok := bech32Nets[net.Bech32HRPSegwit]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownNetwork,
			net.Bech32HRPSegwit)
	}

	hrp := "ln" + net.Bech32HRPSegwit
	if amount != nil {
		am, err := encodeAmount(*amount)
		if err != nil {
			return "", err
		}
		hrp += am
	}

	return hrp, nil
}
