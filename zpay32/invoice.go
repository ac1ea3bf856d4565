package zpay32

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// signatureBase32Len is the number of 5-bit groups needed to encode
	// the 512 bit signature + 8 bit recovery ID.
	signatureBase32Len = 104

	// timestampBase32Len is the number of 5-bit groups needed to encode
	// the 35-bit timestamp.
	timestampBase32Len = 7

	// hashBase32Len is the number of 5-bit groups needed to encode a
	// 256-bit hash. Note that the last group will be padded with
	// zeroes.
	hashBase32Len = 52

	// pubKeyBase32Len is the number of 5-bit groups needed to encode a
	// 33-byte compressed pubkey. Note that the last group will be
	// padded with zeroes.
	pubKeyBase32Len = 53

	// hopHintLen is the number of bytes needed to encode one hop of a
	// route hint: 33 byte pubkey, 8 byte channel ID, two 4 byte fees
	// and a 2 byte cltv delta.
	hopHintLen = 51

	// DefaultExpirySeconds is the expiry implied when an invoice
	// carries no 'x' field.
	DefaultExpirySeconds = 3600

	// DefaultFinalCLTVDelta is the minimum final cltv delta implied
	// when an invoice carries no 'c' field.
	DefaultFinalCLTVDelta = 9
)

// errSkipField is an internal sentinel signalling that the value of a
// known field type failed its length or sub-variant constraint, and
// the whole entry should be retained as an UnknownField instead.
var errSkipField = errors.New("skip field")

// MessageSigner is passed to the Encode method to provide a signature
// corresponding to the node's pubkey.
type MessageSigner struct {
	// SignCompact signs the passed hash with the node's privkey. The
	// returned signature should be 65 bytes, where the last 64 are the
	// compact signature, and the first one is a header byte. This is
	// the format returned by ecdsa.SignCompact.
	SignCompact func(hash []byte) ([]byte, error)
}

// InvoiceSig is the recoverable ECDSA signature occupying the final
// 104 groups of an invoice's data section.
type InvoiceSig struct {
	// Sig holds the 32-byte r value followed by the 32-byte s value.
	Sig [64]byte

	// RecoveryFlag permits recovering the signing pubkey from the
	// signature and the signed digest. It is always in the range 0-3.
	RecoveryFlag byte
}

// Invoice represents a decoded invoice, or a to-be-encoded invoice.
// The tagged fields are held in wire order; when encoding, they are
// emitted exactly in the order given.
type Invoice struct {
	// Net specifies what network this Lightning invoice is meant for.
	Net *chaincfg.Params

	// AmountPico specifies the amount of this invoice in pico-units.
	// Optional, but strictly positive when set.
	AmountPico *PicoBTC

	// Timestamp specifies the time this invoice was created.
	// Mandatory.
	Timestamp time.Time

	// Fields is the ordered sequence of tagged fields making up the
	// data section of the invoice, including any entries the decoder
	// did not interpret.
	Fields []TaggedField

	// Signature is the recoverable signature trailing the data
	// section. Set by Decode; ignored by Encode, which produces a
	// fresh signature with the passed signer.
	Signature *InvoiceSig

	// Destination is the public key of the target node. After
	// decoding this is always set: either taken from an 'n' field, or
	// recovered from the signature.
	Destination *btcec.PublicKey

	// HashData is the SHA-256 digest the signature covers: the hash of
	// the human-readable part concatenated with the data section
	// regrouped into bytes. Set by Decode.
	HashData [32]byte

	// SigRecovered is true if Destination was recovered from the
	// signature rather than read from an 'n' field.
	SigRecovered bool
}

// Amount is a functional option that allows callers of NewInvoice to
// set the amount in pico-units that the Invoice should encode.
func Amount(amount PicoBTC) func(*Invoice) {
	return func(i *Invoice) {
		i.AmountPico = &amount
	}
}

// Fields is a functional option that appends the passed tagged fields,
// in order, to the Invoice being created.
func Fields(fields ...TaggedField) func(*Invoice) {
	return func(i *Invoice) {
		i.Fields = append(i.Fields, fields...)
	}
}

// NewInvoice creates a new Invoice object. The last parameter is a set
// of variadic arguments for setting optional fields of the invoice.
func NewInvoice(net *chaincfg.Params, timestamp time.Time,
	options ...func(*Invoice)) (*Invoice, error) {

	invoice := &Invoice{
		Net:       net,
		Timestamp: timestamp,
	}

	for _, option := range options {
		option(invoice)
	}

	if err := validateInvoice(invoice); err != nil {
		return nil, err
	}

	return invoice, nil
}

// Decode parses the provided encoded invoice, and returns a decoded
// Invoice in case it is valid by BOLT-0011.
func Decode(invoice string) (*Invoice, error) {
	decodedInvoice := Invoice{}

	// Decode the invoice using the bech32 decoder that skips the
	// length limit. Checksum failures surface here.
	hrp, data, err := bech32.DecodeNoLimit(invoice)
	if err != nil {
		return nil, err
	}

	net, amount, err := parseHRP(hrp)
	if err != nil {
		return nil, err
	}
	decodedInvoice.Net = net
	decodedInvoice.AmountPico = amount

	// The data section must hold at least the timestamp and the
	// trailing signature.
	stream := newWordStream(data)
	if stream.wordsRemaining() < timestampBase32Len+signatureBase32Len {
		return nil, fmt.Errorf("%w: %d groups", ErrTruncatedPayload,
			stream.wordsRemaining())
	}

	// Timestamp: 35 bits, 7 groups.
	timestamp, err := stream.readUintBE(timestampBase32Len)
	if err != nil {
		return nil, err
	}
	decodedInvoice.Timestamp = time.Unix(int64(timestamp), 0)

	// Everything up to the final 104 groups are tagged fields.
	for stream.wordsRemaining() > signatureBase32Len {
		err := parseTaggedField(stream, &decodedInvoice, net)
		if err != nil {
			return nil, err
		}
	}

	// A field that declared more data than the stream holds has eaten
	// into the signature.
	if stream.wordsRemaining() != signatureBase32Len {
		return nil, fmt.Errorf("%w: tagged fields overrun signature",
			ErrTruncatedPayload)
	}

	// The final 104 groups hold the 64-byte signature and one group
	// carrying the recovery flag.
	sig := &InvoiceSig{}
	sigBytes, err := stream.readBytes(signatureBase32Len-1, false)
	if err != nil {
		return nil, err
	}
	copy(sig.Sig[:], sigBytes)
	recovery, err := stream.readUintBE(1)
	if err != nil {
		return nil, err
	}
	if recovery > 3 {
		return nil, fmt.Errorf("%w: recovery flag %d out of range",
			ErrInvalidSignature, recovery)
	}
	sig.RecoveryFlag = byte(recovery)
	decodedInvoice.Signature = sig

	// The signature is over the hrp + the data section of the invoice,
	// regrouped into base 256.
	stream.reset()
	taggedDataBytes, err := stream.readBytes(
		len(data)-signatureBase32Len, true,
	)
	if err != nil {
		return nil, err
	}
	toSign := append([]byte(hrp), taggedDataBytes...)
	copy(decodedInvoice.HashData[:], chainhash.HashB(toSign))

	// If the destination pubkey was provided as a tagged field, use
	// that to verify the signature, if not do public key recovery.
	if payee := decodedInvoice.PayeeNode(); payee != nil {
		decodedInvoice.Destination = payee
	} else {
		headerByte := sig.RecoveryFlag + 27 + 4
		compactSign := append([]byte{headerByte}, sig.Sig[:]...)
		pubkey, _, err := ecdsa.RecoverCompact(
			compactSign, decodedInvoice.HashData[:],
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		decodedInvoice.Destination = pubkey
		decodedInvoice.SigRecovered = true
	}

	// Verification runs on both paths. It is a no-op after recovery,
	// but keeps the contract uniform.
	if err := verifyInvoiceSig(&decodedInvoice); err != nil {
		return nil, err
	}

	// Now that we have created the invoice, make sure it has the
	// required fields set.
	if err := validateInvoice(&decodedInvoice); err != nil {
		return nil, err
	}

	return &decodedInvoice, nil
}

// Encode takes the given MessageSigner and returns a string encoding
// this invoice signed by the node key of the signer.
func (invoice *Invoice) Encode(signer MessageSigner) (string, error) {
	// First check that this invoice is valid before starting the
	// encoding.
	if err := validateInvoice(invoice); err != nil {
		return "", err
	}

	stream := newWordStream(nil)

	// The timestamp must fit into 35 bits, which means 7 groups. If it
	// can fit into fewer groups we add leading zero groups, if it is
	// too big we fail early, as it is not possible to encode it.
	unix := uint64(invoice.Timestamp.Unix())
	if err := stream.writeUintBE(unix, timestampBase32Len); err != nil {
		return "", fmt.Errorf("timestamp too big: %d", unix)
	}

	// We now write the tagged fields, in the order given, which will
	// fill the rest of the data section before the signature.
	for _, field := range invoice.Fields {
		if err := writeTaggedField(stream, field); err != nil {
			return "", err
		}
	}

	// The human-readable part (hrp) is "ln" + net hrp + optional
	// amount.
	hrp, err := encodeHRP(invoice.Net, invoice.AmountPico)
	if err != nil {
		return "", err
	}

	// The signature is over the single SHA-256 hash of the hrp + the
	// data section regrouped into base 256.
	taggedFieldsBytes, err := bech32.ConvertBits(stream.words, 5, 8, true)
	if err != nil {
		return "", err
	}
	toSign := append([]byte(hrp), taggedFieldsBytes...)
	hash := chainhash.HashB(toSign)

	// We use compact signature format, and also encode the recovery ID
	// such that a reader of the invoice can recover our pubkey from
	// the signature.
	sign, err := signer.SignCompact(hash)
	if err != nil {
		return "", err
	}
	if len(sign) != 65 {
		return "", fmt.Errorf("unexpected compact signature length: %d",
			len(sign))
	}

	// From the header byte we can extract the recovery ID, and the
	// last 64 bytes encode the signature.
	recoveryFlag := sign[0] - 27 - 4
	if recoveryFlag > 3 {
		return "", fmt.Errorf("%w: recovery flag %d out of range",
			ErrInvalidSignature, recoveryFlag)
	}
	var sigBytes [64]byte
	copy(sigBytes[:], sign[1:])

	// If the pubkey field was explicitly set, it must match the pubkey
	// used to create the signature.
	if payee := invoice.PayeeNode(); payee != nil {
		sig, err := parseSig(sigBytes)
		if err != nil {
			return "", err
		}
		if !sig.Verify(hash, payee) {
			return "", fmt.Errorf("%w: signature does not match "+
				"provided pubkey", ErrInvalidSignature)
		}
	}

	// The 64 signature bytes occupy 103 groups with bit padding, and
	// the recovery flag one final group.
	if err := stream.writeBytes(sigBytes[:], true); err != nil {
		return "", err
	}
	if err := stream.writeUintBE(uint64(recoveryFlag), 1); err != nil {
		return "", err
	}

	// Now we can create the bech32 encoded string from the stream.
	return bech32.Encode(hrp, stream.words)
}

// PaymentHash returns the value of the first payment hash field, or
// nil if the invoice carries none.
func (invoice *Invoice) PaymentHash() *[32]byte {
	for _, field := range invoice.Fields {
		if hash, ok := field.(PaymentHash); ok {
			value := [32]byte(hash)
			return &value
		}
	}
	return nil
}

// Description returns the value of the first description field, or nil
// if the invoice carries none.
func (invoice *Invoice) Description() *string {
	for _, field := range invoice.Fields {
		if desc, ok := field.(Description); ok {
			value := string(desc)
			return &value
		}
	}
	return nil
}

// DescriptionHash returns the value of the first description hash
// field, or nil if the invoice carries none.
func (invoice *Invoice) DescriptionHash() *[32]byte {
	for _, field := range invoice.Fields {
		if hash, ok := field.(DescriptionHash); ok {
			value := [32]byte(hash)
			return &value
		}
	}
	return nil
}

// Expiry returns the expiry time for this invoice. If no expiry field
// is present, the default 3600 second expiry is returned.
func (invoice *Invoice) Expiry() time.Duration {
	for _, field := range invoice.Fields {
		if expiry, ok := field.(Expiry); ok {
			return time.Duration(expiry)
		}
	}

	// If no expiry is set for this invoice, default is 3600 seconds.
	return DefaultExpirySeconds * time.Second
}

// MinFinalCLTVExpiry returns the minimum final CLTV expiry delta as
// specified by the creator of the invoice, or the default of 9 blocks
// if the field is absent. This value specifies the delta between the
// current height and the expiry height of the HTLC extended in the
// last hop.
func (invoice *Invoice) MinFinalCLTVExpiry() uint64 {
	for _, field := range invoice.Fields {
		if delta, ok := field.(MinFinalCLTVExpiry); ok {
			return uint64(delta)
		}
	}

	return DefaultFinalCLTVDelta
}

// FallbackAddr returns the first fallback on-chain address of the
// invoice, or nil if it carries none.
func (invoice *Invoice) FallbackAddr() btcutil.Address {
	for _, field := range invoice.Fields {
		if fallback, ok := field.(FallbackAddr); ok {
			return fallback.Addr
		}
	}
	return nil
}

// RoutingInfo returns the hops of the first route hint of the invoice,
// or nil if it carries none.
func (invoice *Invoice) RoutingInfo() []ExtraRoutingInfo {
	for _, field := range invoice.Fields {
		if hint, ok := field.(RouteHint); ok {
			return []ExtraRoutingInfo(hint)
		}
	}
	return nil
}

// PayeeNode returns the pubkey carried by the first 'n' field of the
// invoice, or nil if it carries none.
func (invoice *Invoice) PayeeNode() *btcec.PublicKey {
	for _, field := range invoice.Fields {
		if payee, ok := field.(PayeeNode); ok {
			return payee.PubKey
		}
	}
	return nil
}

// UnknownFields returns the entries of the invoice the decoder did not
// interpret, in wire order.
func (invoice *Invoice) UnknownFields() []UnknownField {
	var unknown []UnknownField
	for _, field := range invoice.Fields {
		if u, ok := field.(UnknownField); ok {
			unknown = append(unknown, u)
		}
	}
	return unknown
}

// validateInvoice does a sanity check of the provided Invoice, making
// sure it has the necessary fields set for it to be encodable.
func validateInvoice(invoice *Invoice) error {
	// The net must be set.
	if invoice.Net == nil {
		return fmt.Errorf("net params not set")
	}

	// The amount, if specified, must be strictly positive.
	if invoice.AmountPico != nil && *invoice.AmountPico == 0 {
		return fmt.Errorf("%w: amount must be positive",
			ErrInvalidAmount)
	}

	for _, field := range invoice.Fields {
		switch f := field.(type) {
		case PayeeNode:
			if f.PubKey == nil {
				return fmt.Errorf("no payee pubkey set")
			}
		case FallbackAddr:
			if f.Addr == nil {
				return fmt.Errorf("no fallback address set")
			}
		case RouteHint:
			for _, hop := range f {
				if hop.PubKey == nil {
					return fmt.Errorf("no hop pubkey set")
				}
			}
		}
	}

	return nil
}

// verifyInvoiceSig checks the decoded signature against the invoice's
// destination pubkey and signed digest.
func verifyInvoiceSig(invoice *Invoice) error {
	sig, err := parseSig(invoice.Signature.Sig)
	if err != nil {
		return err
	}
	if !sig.Verify(invoice.HashData[:], invoice.Destination) {
		return ErrInvalidSignature
	}
	return nil
}

// parseSig deserializes the 64-byte r||s signature into its structured
// form.
func parseSig(sigBytes [64]byte) (*ecdsa.Signature, error) {
	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(sigBytes[:32]); overflow {
		return nil, fmt.Errorf("%w: r overflows group order",
			ErrInvalidSignature)
	}
	if overflow := s.SetByteSlice(sigBytes[32:]); overflow {
		return nil, fmt.Errorf("%w: s overflows group order",
			ErrInvalidSignature)
	}
	return ecdsa.NewSignature(&r, &s), nil
}

// parseTaggedField reads a single tagged entry off the stream and
// appends it to the invoice's field sequence. Entries of unknown type,
// and known-type entries failing their length or sub-variant
// constraint, are retained as UnknownField values; only structural
// failures abort the decode.
func parseTaggedField(stream *wordStream, invoice *Invoice,
	net *chaincfg.Params) error {

	typ, err := stream.readUintBE(1)
	if err != nil {
		return err
	}

	// A zero group is padding: it consumes exactly one group and no
	// length follows.
	if typ == 0 {
		return nil
	}

	length, err := stream.readUintBE(2)
	if err != nil {
		return err
	}
	dataLength := int(length)
	if dataLength > stream.wordsRemaining() {
		return fmt.Errorf("%w: field %d declares %d groups, %d left",
			ErrTruncatedPayload, typ, dataLength,
			stream.wordsRemaining())
	}

	start := stream.pos
	field, err := parseFieldValue(FieldType(typ), dataLength, stream, net)
	switch {
	case errors.Is(err, errSkipField):
		// Rewind to the start of the value and retain the raw bytes.
		stream.pos = start
		data, err := stream.readBytes(dataLength, false)
		if err != nil {
			return err
		}
		log.Debugf("Storing unreadable field: type=%d, length=%d",
			typ, dataLength)
		invoice.Fields = append(invoice.Fields, UnknownField{
			FieldType: FieldType(typ),
			Data:      data,
		})
		return nil

	case err != nil:
		return err
	}

	invoice.Fields = append(invoice.Fields, field)
	return nil
}

// parseFieldValue decodes the value of a single tagged field. It
// returns errSkipField when the value fails a length or sub-variant
// constraint of its type.
func parseFieldValue(typ FieldType, dataLength int, stream *wordStream,
	net *chaincfg.Params) (TaggedField, error) {

	switch typ {
	case FieldTypeP:
		if dataLength != hashBase32Len {
			return nil, errSkipField
		}
		hash, err := stream.readBytes(dataLength, false)
		if err != nil {
			return nil, err
		}
		var pHash PaymentHash
		copy(pHash[:], hash)
		return pHash, nil

	case FieldTypeD:
		desc, err := stream.readBytes(dataLength, false)
		if err != nil {
			return nil, err
		}
		return Description(desc), nil

	case FieldTypeN:
		if dataLength != pubKeyBase32Len {
			return nil, errSkipField
		}
		keyBytes, err := stream.readBytes(dataLength, false)
		if err != nil {
			return nil, err
		}
		pubKey, err := btcec.ParsePubKey(keyBytes)
		if err != nil {
			return nil, err
		}
		return PayeeNode{PubKey: pubKey}, nil

	case FieldTypeH:
		if dataLength != hashBase32Len {
			return nil, errSkipField
		}
		hash, err := stream.readBytes(dataLength, false)
		if err != nil {
			return nil, err
		}
		var dHash DescriptionHash
		copy(dHash[:], hash)
		return dHash, nil

	case FieldTypeX:
		// An expiry wider than a uint64 has no sensible reading.
		if dataLength > 12 {
			return nil, errSkipField
		}
		seconds, err := stream.readUintBE(dataLength)
		if err != nil {
			return nil, err
		}
		return Expiry(time.Duration(seconds) * time.Second), nil

	case FieldTypeC:
		if dataLength > 12 {
			return nil, errSkipField
		}
		delta, err := stream.readUintBE(dataLength)
		if err != nil {
			return nil, err
		}
		return MinFinalCLTVExpiry(delta), nil

	case FieldTypeF:
		return parseFallbackAddr(dataLength, stream, net)

	case FieldTypeR:
		return parseRouteHint(dataLength, stream)

	default:
		return nil, errSkipField
	}
}

// parseFallbackAddr decodes the value of an 'f' field: one group of
// address version followed by the address bytes. Unknown versions, and
// witness programs of unknown length, are retained raw.
func parseFallbackAddr(dataLength int, stream *wordStream,
	net *chaincfg.Params) (TaggedField, error) {

	if dataLength < 1 {
		return nil, errSkipField
	}
	version, err := stream.readUintBE(1)
	if err != nil {
		return nil, err
	}
	addrData, err := stream.readBytes(dataLength-1, false)
	if err != nil {
		return nil, err
	}

	var addr btcutil.Address
	switch version {
	case 0:
		switch len(addrData) {
		case 20:
			addr, err = btcutil.NewAddressWitnessPubKeyHash(
				addrData, net,
			)
		case 32:
			addr, err = btcutil.NewAddressWitnessScriptHash(
				addrData, net,
			)
		default:
			return nil, errSkipField
		}

	case 17:
		addr, err = btcutil.NewAddressPubKeyHash(addrData, net)

	case 18:
		addr, err = btcutil.NewAddressScriptHashFromHash(addrData, net)

	default:
		return nil, errSkipField
	}
	if err != nil {
		return nil, errSkipField
	}

	return FallbackAddr{Addr: addr}, nil
}

// parseRouteHint decodes the value of an 'r' field by re-opening the
// read bytes as an 8-bit stream and consuming 51-byte hops until
// exhausted. A partial trailing hop is a fatal decode error.
func parseRouteHint(dataLength int, stream *wordStream) (TaggedField, error) {
	base256Data, err := stream.readBytes(dataLength, false)
	if err != nil {
		return nil, err
	}
	if len(base256Data)%hopHintLen != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes is a partial hop",
			ErrTruncatedPayload, len(base256Data)%hopHintLen)
	}

	hint := make(RouteHint, 0, len(base256Data)/hopHintLen)
	for len(base256Data) > 0 {
		hop, err := unmarshalHopHint(base256Data[:hopHintLen])
		if err != nil {
			return nil, err
		}
		hint = append(hint, hop)
		base256Data = base256Data[hopHintLen:]
	}

	return hint, nil
}

// marshalHopHint packs one hop of a route hint into its fixed 51-byte
// wire form.
func marshalHopHint(hop ExtraRoutingInfo) []byte {
	base256 := make([]byte, hopHintLen)
	copy(base256[:33], hop.PubKey.SerializeCompressed())
	binary.BigEndian.PutUint64(base256[33:41], hop.ShortChanID)
	binary.BigEndian.PutUint32(base256[41:45], hop.FeeBaseMsat)
	binary.BigEndian.PutUint32(
		base256[45:49], hop.FeeProportionalMillionths,
	)
	binary.BigEndian.PutUint16(base256[49:51], hop.CltvExpDelta)
	return base256
}

// unmarshalHopHint is the inverse of marshalHopHint.
func unmarshalHopHint(base256 []byte) (ExtraRoutingInfo, error) {
	pubKey, err := btcec.ParsePubKey(base256[:33])
	if err != nil {
		return ExtraRoutingInfo{}, err
	}

	return ExtraRoutingInfo{
		PubKey:                    pubKey,
		ShortChanID:               binary.BigEndian.Uint64(base256[33:41]),
		FeeBaseMsat:               binary.BigEndian.Uint32(base256[41:45]),
		FeeProportionalMillionths: binary.BigEndian.Uint32(base256[45:49]),
		CltvExpDelta:              binary.BigEndian.Uint16(base256[49:51]),
	}, nil
}

// writeTaggedField writes the type, length and value of a single
// tagged field to the stream.
func writeTaggedField(stream *wordStream, field TaggedField) error {
	if err := stream.writeUintBE(uint64(field.Type()), 1); err != nil {
		return err
	}

	// The length occupies exactly 10 bits.
	dataLength := field.dataWordLen()
	if err := stream.writeUintBE(uint64(dataLength), 2); err != nil {
		return fmt.Errorf("data length too big to fit within 10 "+
			"bits: %d", dataLength)
	}

	before := len(stream.words)
	if err := field.encodeData(stream); err != nil {
		return err
	}
	if written := len(stream.words) - before; written != dataLength {
		return fmt.Errorf("field %d wrote %d groups, declared %d",
			field.Type(), written, dataLength)
	}

	return nil
}
