package zpay32

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
)

// FieldType is the 5-bit type tag of a tagged invoice field.
type FieldType byte

// The currently defined field types. The field name is the character
// representing that 5-bit value in the bech32 string.
const (
	// FieldTypeP is the field containing the payment hash.
	FieldTypeP FieldType = 1

	// FieldTypeR contains extra routing information.
	FieldTypeR FieldType = 3

	// FieldTypeX contains the expiry in seconds of the invoice.
	FieldTypeX FieldType = 6

	// FieldTypeF contains a fallback on-chain address.
	FieldTypeF FieldType = 9

	// FieldTypeD contains a short description of the payment.
	FieldTypeD FieldType = 13

	// FieldTypeN contains the pubkey of the target node.
	FieldTypeN FieldType = 19

	// FieldTypeH contains the hash of a description of the payment.
	FieldTypeH FieldType = 23

	// FieldTypeC contains an optional requested final CLTV delta.
	FieldTypeC FieldType = 24
)

// TaggedField is a single typed entry in the data section of an
// invoice. The slice of fields held by an Invoice preserves the wire
// order, and entries the decoder could not interpret are retained as
// UnknownField values at their original position.
//
// The interface is sealed: the set of variants is fixed by the
// encoding, so outside packages can only use the types defined here.
type TaggedField interface {
	// Type returns the 5-bit type tag of the field.
	Type() FieldType

	// dataWordLen returns the number of 5-bit groups the field's value
	// occupies on the wire.
	dataWordLen() int

	// encodeData writes the field's value, without the type and length
	// prefix, to the passed stream.
	encodeData(w *wordStream) error
}

// PaymentHash is the 'p' field: the payment hash to be used for a
// payment to this invoice.
type PaymentHash [32]byte

// Type returns the type tag of the field.
func (p PaymentHash) Type() FieldType { return FieldTypeP }

func (p PaymentHash) dataWordLen() int { return hashBase32Len }

func (p PaymentHash) encodeData(w *wordStream) error {
	return w.writeBytes(p[:], true)
}

// Description is the 'd' field: a short UTF-8 description of the
// purpose of the payment.
type Description string

// Type returns the type tag of the field.
func (d Description) Type() FieldType { return FieldTypeD }

func (d Description) dataWordLen() int { return bytesToWords(len(d)) }

func (d Description) encodeData(w *wordStream) error {
	return w.writeBytes([]byte(d), true)
}

// DescriptionHash is the 'h' field: the SHA-256 hash of a description
// of the purpose of the payment.
type DescriptionHash [32]byte

// Type returns the type tag of the field.
func (h DescriptionHash) Type() FieldType { return FieldTypeH }

func (h DescriptionHash) dataWordLen() int { return hashBase32Len }

func (h DescriptionHash) encodeData(w *wordStream) error {
	return w.writeBytes(h[:], true)
}

// Expiry is the 'x' field: the timespan after its timestamp for which
// the invoice is valid.
type Expiry time.Duration

// Type returns the type tag of the field.
func (x Expiry) Type() FieldType { return FieldTypeX }

func (x Expiry) dataWordLen() int {
	return uintToWords(uint64(time.Duration(x).Seconds()))
}

func (x Expiry) encodeData(w *wordStream) error {
	seconds := uint64(time.Duration(x).Seconds())
	return w.writeUintBE(seconds, uintToWords(seconds))
}

// MinFinalCLTVExpiry is the 'c' field: the minimum delta, in blocks,
// the creator of the invoice expects for the final HTLC extended to
// it.
type MinFinalCLTVExpiry uint64

// Type returns the type tag of the field.
func (c MinFinalCLTVExpiry) Type() FieldType { return FieldTypeC }

func (c MinFinalCLTVExpiry) dataWordLen() int {
	return uintToWords(uint64(c))
}

func (c MinFinalCLTVExpiry) encodeData(w *wordStream) error {
	return w.writeUintBE(uint64(c), uintToWords(uint64(c)))
}

// PayeeNode is the 'n' field: the pubkey of the target node. When
// present, the decoder verifies the signature against it instead of
// recovering the pubkey from the signature.
type PayeeNode struct {
	// PubKey is the public key of the target node.
	PubKey *btcec.PublicKey
}

// Type returns the type tag of the field.
func (n PayeeNode) Type() FieldType { return FieldTypeN }

func (n PayeeNode) dataWordLen() int { return pubKeyBase32Len }

func (n PayeeNode) encodeData(w *wordStream) error {
	if n.PubKey == nil {
		return fmt.Errorf("no payee pubkey set")
	}
	return w.writeBytes(n.PubKey.SerializeCompressed(), true)
}

// FallbackAddr is the 'f' field: an on-chain address that can be used
// for payment in case the Lightning payment fails.
type FallbackAddr struct {
	// Addr is the on-chain address.
	Addr btcutil.Address
}

// Type returns the type tag of the field.
func (f FallbackAddr) Type() FieldType { return FieldTypeF }

func (f FallbackAddr) dataWordLen() int {
	// One group for the version, then the address bytes.
	return 1 + bytesToWords(len(f.Addr.ScriptAddress()))
}

func (f FallbackAddr) encodeData(w *wordStream) error {
	version, err := fallbackAddrVersion(f.Addr)
	if err != nil {
		return err
	}
	if err := w.writeUintBE(uint64(version), 1); err != nil {
		return err
	}
	return w.writeBytes(f.Addr.ScriptAddress(), true)
}

// fallbackAddrVersion maps the concrete address type to the version
// group heading the encoded field.
func fallbackAddrVersion(addr btcutil.Address) (byte, error) {
	switch a := addr.(type) {
	case *btcutil.AddressPubKeyHash:
		return 17, nil
	case *btcutil.AddressScriptHash:
		return 18, nil
	case *btcutil.AddressWitnessPubKeyHash:
		return a.WitnessVersion(), nil
	case *btcutil.AddressWitnessScriptHash:
		return a.WitnessVersion(), nil
	default:
		return 0, fmt.Errorf("unknown fallback address type %T", addr)
	}
}

// ExtraRoutingInfo holds the information needed to route a payment
// along one private channel.
type ExtraRoutingInfo struct {
	// PubKey is the public key of the node at the start of this
	// channel.
	PubKey *btcec.PublicKey

	// ShortChanID is the channel ID of the channel.
	ShortChanID uint64

	// FeeBaseMsat is the base fee in millisatoshis required for
	// routing along this channel.
	FeeBaseMsat uint32

	// FeeProportionalMillionths is the proportional fee in millionths
	// of a satoshi required for routing along this channel.
	FeeProportionalMillionths uint32

	// CltvExpDelta is this channel's cltv expiry delta.
	CltvExpDelta uint16
}

// RouteHint is the 'r' field: one or more entries containing extra
// routing information for a private route to the target node. The
// hops are packed contiguously, 51 bytes each, with no padding
// between them.
type RouteHint []ExtraRoutingInfo

// Type returns the type tag of the field.
func (r RouteHint) Type() FieldType { return FieldTypeR }

func (r RouteHint) dataWordLen() int {
	return bytesToWords(hopHintLen * len(r))
}

func (r RouteHint) encodeData(w *wordStream) error {
	base256 := make([]byte, 0, hopHintLen*len(r))
	for _, hop := range r {
		if hop.PubKey == nil {
			return fmt.Errorf("no hop pubkey set")
		}
		base256 = append(base256, marshalHopHint(hop)...)
	}
	return w.writeBytes(base256, true)
}

// UnknownField is an entry the decoder saw but did not interpret:
// either an unknown type tag, or a known tag whose value failed its
// length or sub-variant constraint. The raw bytes of the value are
// retained so the entry survives a decode/encode round trip.
type UnknownField struct {
	// FieldType is the 5-bit type tag the entry carried on the wire.
	FieldType FieldType

	// Data is the value of the entry, regrouped into bytes.
	Data []byte
}

// Type returns the type tag of the field.
func (u UnknownField) Type() FieldType { return u.FieldType }

func (u UnknownField) dataWordLen() int { return bytesToWords(len(u.Data)) }

func (u UnknownField) encodeData(w *wordStream) error {
	return w.writeBytes(u.Data, true)
}
