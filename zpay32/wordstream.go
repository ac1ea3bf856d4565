package zpay32

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// wordStream is a linear cursor over a sequence of 5-bit groups, the
// atomic unit of the bech32 data section. The same stream is used both
// when building an invoice (append-only writes) and when parsing one
// (reads advancing a monotonic position). The 5<->8 bit regrouping is
// delegated to bech32.ConvertBits so it stays bit-exact with the
// encoding of the surrounding bech32 string.
type wordStream struct {
	words []byte
	pos   int
}

func newWordStream(words []byte) *wordStream {
	return &wordStream{words: words}
}

// wordsRemaining returns the number of unread 5-bit groups left in the
// stream.
func (w *wordStream) wordsRemaining() int {
	return len(w.words) - w.pos
}

// reset rewinds the read position to the start of the stream. The
// stored words are left untouched, allowing a second pass over data
// that has already been parsed, such as when computing the signature
// pre-image.
func (w *wordStream) reset() {
	w.pos = 0
}

// writeUintBE appends the numWords 5-bit groups of value, most
// significant group first. The low 5 bits of value land in the final
// group. An error is returned if value cannot be represented within
// numWords groups.
func (w *wordStream) writeUintBE(value uint64, numWords int) error {
	if numWords <= 0 {
		return fmt.Errorf("cannot write uint using %d groups", numWords)
	}
	if numWords < 13 && value>>(uint(numWords)*5) != 0 {
		return fmt.Errorf("value %d cannot be encoded using %d groups",
			value, numWords)
	}

	for i := numWords - 1; i >= 0; i-- {
		w.words = append(w.words, byte(value>>(uint(i)*5))&31)
	}

	return nil
}

// writeBytes appends the 5-bit regrouping of the passed bytes. If pad
// is true and the total bit length isn't a multiple of 5, the final
// group is zero padded on its low bits.
func (w *wordStream) writeBytes(buf []byte, pad bool) error {
	grouped, err := bech32.ConvertBits(buf, 8, 5, pad)
	if err != nil {
		return err
	}
	w.words = append(w.words, grouped...)

	return nil
}

// readUintBE consumes numWords 5-bit groups and folds them into an
// unsigned integer, most significant group first. Reading zero groups
// yields zero without advancing the stream.
func (w *wordStream) readUintBE(numWords int) (uint64, error) {
	// Maximum that fits in uint64 is 64 / 5 = 12 groups.
	if numWords > 12 {
		return 0, fmt.Errorf("cannot parse %d groups as uint64", numWords)
	}
	if numWords > w.wordsRemaining() {
		return 0, fmt.Errorf("%w: %d groups needed, %d left",
			ErrTruncatedPayload, numWords, w.wordsRemaining())
	}

	val := uint64(0)
	for i := 0; i < numWords; i++ {
		val = val<<5 | uint64(w.words[w.pos+i])
	}
	w.pos += numWords

	return val, nil
}

// readBytes consumes numWords 5-bit groups and regroups them into
// bytes. When pad is false, a trailing partial byte encodes nothing
// and is discarded.
func (w *wordStream) readBytes(numWords int, pad bool) ([]byte, error) {
	if numWords < 0 || numWords > w.wordsRemaining() {
		return nil, fmt.Errorf("%w: %d groups needed, %d left",
			ErrTruncatedPayload, numWords, w.wordsRemaining())
	}

	chunk := w.words[w.pos : w.pos+numWords]
	w.pos += numWords

	// Regroup with padding on, then drop the partial trailing byte if
	// the caller asked for exact bytes only.
	buf, err := bech32.ConvertBits(chunk, 5, 8, true)
	if err != nil {
		return nil, err
	}
	if !pad && numWords*5%8 != 0 {
		buf = buf[:len(buf)-1]
	}

	return buf, nil
}

// bytesToWords returns the number of 5-bit groups needed to hold the
// passed number of bytes, including the zero-padded final group.
func bytesToWords(numBytes int) int {
	return (numBytes*8 + 4) / 5
}

// uintToWords returns the smallest number of 5-bit groups that can
// hold the passed value. Zero still occupies a single group.
func uintToWords(value uint64) int {
	numWords := 1
	for value>>5 != 0 {
		numWords++
		value >>= 5
	}
	return numWords
}
