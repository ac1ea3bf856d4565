package zpay32

import "errors"

var (
	// ErrMalformedPrefix is returned when the human-readable part does
	// not follow the "ln" + network + optional amount grammar.
	ErrMalformedPrefix = errors.New("malformed human-readable part")

	// ErrUnknownNetwork is returned when the network tag of the
	// human-readable part isn't one of the supported networks.
	ErrUnknownNetwork = errors.New("unknown network")

	// ErrInvalidAmount is returned when an encoded amount is zero, too
	// large to represent, or carries an unknown multiplier letter.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrTruncatedPayload is returned when the data section of an
	// invoice ends before all declared content has been read, including
	// the case where fewer than 104 groups trail the tagged fields.
	ErrTruncatedPayload = errors.New("truncated payload")

	// ErrInvalidSignature is returned when the recoverable signature
	// trailing the invoice doesn't verify against the payee's pubkey.
	ErrInvalidSignature = errors.New("invalid invoice signature")
)
