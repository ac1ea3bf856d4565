package brontide

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// fixedEphemeral returns an ephemeral generator handing out the key
// derived from the passed bytes, for reproducing the handshake test
// vectors.
func fixedEphemeral(keyBytes []byte) func() (*btcec.PrivateKey, error) {
	priv, _ := btcec.PrivKeyFromBytes(keyBytes)
	return func() (*btcec.PrivateKey, error) {
		return priv, nil
	}
}

// completeHandshake runs the three act handshake between the two
// passed machines, failing the test on any act error.
func completeHandshake(t *testing.T, initiator, responder *Machine) {
	t.Helper()

	actOne, err := initiator.GenActOne()
	require.NoError(t, err, "gen act one")
	require.NoError(t, responder.RecvActOne(actOne), "recv act one")

	actTwo, err := responder.GenActTwo()
	require.NoError(t, err, "gen act two")
	require.NoError(t, initiator.RecvActTwo(actTwo), "recv act two")

	actThree, err := initiator.GenActThree()
	require.NoError(t, err, "gen act three")
	require.NoError(t, responder.RecvActThree(actThree), "recv act three")
}

// newTestMachines creates a connected initiator/responder pair with
// fresh random keys.
func newTestMachines(t *testing.T) (*Machine, *Machine) {
	t.Helper()

	initStatic, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	respStatic, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	initiator := NewBrontideMachine(true, initStatic, respStatic.PubKey())
	responder := NewBrontideMachine(false, respStatic, nil)

	return initiator, responder
}

// TestBolt0008TestVectors asserts that our implementation of the
// brontide handshake resembles the test vectors within the BOLT-0008
// specification.
func TestBolt0008TestVectors(t *testing.T) {
	t.Parallel()

	// First, we'll generate the state of the initiator from the test
	// vectors at the appendix of BOLT-0008.
	initiatorKeyBytes, err := hex.DecodeString("1111111111111111111111" +
		"111111111111111111111111111111111111111111")
	require.NoError(t, err, "decode initiator key")
	initiatorPriv, _ := btcec.PrivKeyFromBytes(initiatorKeyBytes)

	// We'll then do the same for the responder.
	responderKeyBytes, err := hex.DecodeString("212121212121212121212" +
		"1212121212121212121212121212121212121212121")
	require.NoError(t, err, "decode responder key")
	responderPriv, responderPub := btcec.PrivKeyFromBytes(responderKeyBytes)

	// With the initiator's key data parsed, we'll now define a custom
	// EphemeralGenerator function for the state machine to ensure that
	// the initiator and responder both generate the ephemeral public
	// key defined within the test vectors.
	initiatorEphemeral, err := hex.DecodeString("121212121212121212121" +
		"2121212121212121212121212121212121212121212")
	require.NoError(t, err)
	responderEphemeral, err := hex.DecodeString("222222222222222222222" +
		"2222222222222222222222222222222222222222222")
	require.NoError(t, err)

	// Finally, we'll create both brontide state machines, so we can
	// begin our test.
	initiator := NewBrontideMachine(
		true, initiatorPriv, responderPub,
		EphemeralGenerator(fixedEphemeral(initiatorEphemeral)),
	)
	responder := NewBrontideMachine(
		false, responderPriv, nil,
		EphemeralGenerator(fixedEphemeral(responderEphemeral)),
	)

	// We'll start with the initiator generating the initial payload
	// for act one. This should consist of exactly 50 bytes.
	actOne, err := initiator.GenActOne()
	require.NoError(t, err, "generate act one")
	expectedActOne, err := hex.DecodeString("00036360e856310ce5d294e" +
		"8be33fc807077dc56ac80d95d9cd4ddbd21325eff73f70df608655115" +
		"1f58b8afe6c195782c6a")
	require.NoError(t, err)
	require.Equal(t, expectedActOne, actOne[:], "act one mismatch")

	// With the assertion completed, we'll now send the act one payload
	// to the responder of the handshake.
	require.NoError(t, responder.RecvActOne(actOne), "recv act one")

	// Next, we'll move the handshake along with the responder sending
	// the act two payload back to the initiator.
	actTwo, err := responder.GenActTwo()
	require.NoError(t, err, "generate act two")
	expectedActTwo, err := hex.DecodeString("0002466d7fcae563e5cb09a0" +
		"d1870bb580344804617879a14949cf22285f1bae3f276e2470b93aac5" +
		"83c9ef6eafca3f730ae")
	require.NoError(t, err)
	require.Equal(t, expectedActTwo, actTwo[:], "act two mismatch")

	require.NoError(t, initiator.RecvActTwo(actTwo), "recv act two")

	// At the final step, the initiator will generate the act three
	// payload which authenticates it to the responder.
	actThree, err := initiator.GenActThree()
	require.NoError(t, err, "generate act three")
	expectedActThree, err := hex.DecodeString("00b9e3a702e93e3a9948c2" +
		"ed6e5fd7590a6e1c3a0344cfc9d5b57357049aa22355361aa02e55a8f" +
		"c28fef5bd6d71ad0c38228dc68b1c466263b47fdf31e560e139ba")
	require.NoError(t, err)
	require.Equal(t, expectedActThree, actThree[:], "act three mismatch")

	require.NoError(t, responder.RecvActThree(actThree), "recv act three")

	// Verify that the session keys on both sides match the expected
	// values, with the directional assignments swapped.
	expectedSendKey, err := hex.DecodeString("969ab31b4d288cedf6218839" +
		"b27a3e2140827047f2c0f01bf5c04435d43511a9")
	require.NoError(t, err)
	expectedRecvKey, err := hex.DecodeString("bb9020b8965f4df047e07f95" +
		"5f3c4b88418984aadc5cdb35096b9ea8fa5c3442")
	require.NoError(t, err)

	require.Equal(t, expectedSendKey, initiator.sendCipher.secretKey[:],
		"initiator send key")
	require.Equal(t, expectedRecvKey, initiator.recvCipher.secretKey[:],
		"initiator recv key")
	require.Equal(t, expectedSendKey, responder.recvCipher.secretKey[:],
		"responder recv key")
	require.Equal(t, expectedRecvKey, responder.sendCipher.secretKey[:],
		"responder send key")

	// Both nonces start at zero.
	require.Zero(t, initiator.sendCipher.nonce)
	require.Zero(t, initiator.recvCipher.nonce)
	require.Zero(t, responder.sendCipher.nonce)
	require.Zero(t, responder.recvCipher.nonce)

	// The responder has learned the initiator's static key in act
	// three.
	require.Equal(t, initiatorPriv.PubKey().SerializeCompressed(),
		responder.RemotePub().SerializeCompressed())
}

// TestMessageExchange exercises the transport framing in both
// directions over representative message sizes.
func TestMessageExchange(t *testing.T) {
	t.Parallel()

	initiator, responder := newTestMachines(t)
	completeHandshake(t, initiator, responder)

	payloads := [][]byte{
		[]byte{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xa5}, 65535),
	}

	for _, payload := range payloads {
		var buf bytes.Buffer

		require.NoError(t, initiator.WriteMessage(&buf, payload))
		msg, err := responder.ReadMessage(&buf)
		require.NoError(t, err, "read message")
		require.Equal(t, payload, msg)

		buf.Reset()
		require.NoError(t, responder.WriteMessage(&buf, payload))
		msg, err = initiator.ReadMessage(&buf)
		require.NoError(t, err, "read reply")
		require.Equal(t, payload, msg)
	}
}

// TestMaxMessageLength asserts that a payload wider than 2^16-1 bytes
// is refused before anything hits the wire.
func TestMaxMessageLength(t *testing.T) {
	t.Parallel()

	initiator, responder := newTestMachines(t)
	completeHandshake(t, initiator, responder)

	var buf bytes.Buffer
	payload := make([]byte, 65536)

	err := initiator.WriteMessage(&buf, payload)
	require.ErrorIs(t, err, ErrMaxMessageLengthExceeded)
	require.Zero(t, buf.Len(), "refused message reached the wire")
}

// TestKeyRotation asserts that the sending key ratchets forward after
// every 1000 AEAD operations, with the nonce reset to zero, and that a
// peer decrypting the stream stays in sync through the rotations.
func TestKeyRotation(t *testing.T) {
	t.Parallel()

	initiator, responder := newTestMachines(t)
	completeHandshake(t, initiator, responder)

	initialKey := initiator.sendCipher.secretKey

	// Every message costs two AEAD operations, one for the length
	// prefix and one for the body, so the 1000 operation rotation
	// threshold lands after message 500 and again after message 1000.
	var keyAfterFirstRotation [32]byte
	for i := 0; i < 1001; i++ {
		var buf bytes.Buffer
		require.NoError(t, initiator.WriteMessage(&buf, []byte("msg")))

		msg, err := responder.ReadMessage(&buf)
		require.NoError(t, err, "read message %d", i)
		require.Equal(t, []byte("msg"), msg)

		switch i {
		case 499:
			// 1000 operations done: first rotation, nonce back at
			// zero.
			keyAfterFirstRotation = initiator.sendCipher.secretKey
			require.NotEqual(t, initialKey,
				keyAfterFirstRotation, "first rotation")
			require.Zero(t, initiator.sendCipher.nonce)

		case 999:
			// 2000 operations done: second rotation.
			require.NotEqual(t, keyAfterFirstRotation,
				initiator.sendCipher.secretKey,
				"second rotation")
			require.NotEqual(t, initialKey,
				initiator.sendCipher.secretKey)
			require.Zero(t, initiator.sendCipher.nonce)
		}
	}

	// The first message after the second rotation has advanced the
	// nonce by its own two operations only.
	require.EqualValues(t, 2, initiator.sendCipher.nonce)

	// The receiving side ratcheted in lockstep.
	require.Equal(t, initiator.sendCipher.secretKey,
		responder.recvCipher.secretKey)
	require.EqualValues(t, 2, responder.recvCipher.nonce)
}

// TestActBadVersion asserts that each act refuses a non-zero version
// byte.
func TestActBadVersion(t *testing.T) {
	t.Parallel()

	initiator, responder := newTestMachines(t)

	actOne, err := initiator.GenActOne()
	require.NoError(t, err)
	actOne[0] = 1
	require.ErrorIs(t, responder.RecvActOne(actOne), ErrActBadVersion)

	// Restart with fresh machines, since a failed act poisons the
	// handshake state.
	initiator, responder = newTestMachines(t)
	actOne, err = initiator.GenActOne()
	require.NoError(t, err)
	require.NoError(t, responder.RecvActOne(actOne))

	actTwo, err := responder.GenActTwo()
	require.NoError(t, err)
	actTwo[0] = 99
	require.ErrorIs(t, initiator.RecvActTwo(actTwo), ErrActBadVersion)

	initiator, responder = newTestMachines(t)
	actOne, err = initiator.GenActOne()
	require.NoError(t, err)
	require.NoError(t, responder.RecvActOne(actOne))
	actTwo, err = responder.GenActTwo()
	require.NoError(t, err)
	require.NoError(t, initiator.RecvActTwo(actTwo))

	actThree, err := initiator.GenActThree()
	require.NoError(t, err)
	actThree[0] = 1
	require.ErrorIs(t, responder.RecvActThree(actThree), ErrActBadVersion)
}

// TestActTampering asserts that flipping ciphertext bits in act one or
// act three fails the AEAD authentication check.
func TestActTampering(t *testing.T) {
	t.Parallel()

	initiator, responder := newTestMachines(t)

	actOne, err := initiator.GenActOne()
	require.NoError(t, err)
	actOne[ActOneSize-1] ^= 0x01
	require.Error(t, responder.RecvActOne(actOne), "tampered act one")

	initiator, responder = newTestMachines(t)
	actOne, err = initiator.GenActOne()
	require.NoError(t, err)
	require.NoError(t, responder.RecvActOne(actOne))
	actTwo, err := responder.GenActTwo()
	require.NoError(t, err)
	require.NoError(t, initiator.RecvActTwo(actTwo))

	actThree, err := initiator.GenActThree()
	require.NoError(t, err)
	actThree[40] ^= 0x01
	require.Error(t, responder.RecvActThree(actThree),
		"tampered act three")
}

// TestMessageTampering asserts that a modified transport frame fails
// to decrypt, for both the length prefix and the body.
func TestMessageTampering(t *testing.T) {
	t.Parallel()

	initiator, responder := newTestMachines(t)
	completeHandshake(t, initiator, responder)

	var buf bytes.Buffer
	require.NoError(t, initiator.WriteMessage(&buf, []byte("payload")))
	frame := buf.Bytes()
	frame[0] ^= 0x01

	_, err := responder.ReadMessage(bytes.NewReader(frame))
	require.Error(t, err, "tampered length prefix")

	// A fresh pair, this time corrupting the body only.
	initiator, responder = newTestMachines(t)
	completeHandshake(t, initiator, responder)

	buf.Reset()
	require.NoError(t, initiator.WriteMessage(&buf, []byte("payload")))
	frame = buf.Bytes()
	frame[encHeaderSize] ^= 0x01

	_, err = responder.ReadMessage(bytes.NewReader(frame))
	require.Error(t, err, "tampered body")
}
