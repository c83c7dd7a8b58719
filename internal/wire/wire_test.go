package wire

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/EthanAGit/p2pProj/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeCodecs() (*Codec, *Codec, func()) {
	a, b := net.Pipe()
	ca := NewCodec(a, 5*time.Second, 1<<20)
	cb := NewCodec(b, 5*time.Second, 1<<20)
	return ca, cb, func() { a.Close(); b.Close() }
}

func TestHandshakeRoundTrip(t *testing.T) {
	ca, cb, closeAll := pipeCodecs()
	defer closeAll()

	go func() {
		_ = ca.SendHandshake(12345)
	}()
	id, err := cb.ReadHandshake()
	require.NoError(t, err)
	assert.EqualValues(t, 12345, id)
}

func TestHandshakeRejectsBadHeader(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	cb := NewCodec(b, 5*time.Second, 1<<20)

	go func() {
		buf := make([]byte, handshakeLen)
		copy(buf, []byte("P2PFILESHARING_X_"))
		a.Write(buf)
	}()
	_, err := cb.ReadHandshake()
	require.Error(t, err)
	var perr *errs.Protocol
	assert.True(t, errors.As(err, &perr))
}

func TestHandshakeReservedBytesNotValidated(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	cb := NewCodec(b, 5*time.Second, 1<<20)

	go func() {
		buf := make([]byte, handshakeLen)
		copy(buf[0:18], handshakeHeader)
		buf[20] = 0xFF // mutate a reserved byte
		buf[31] = 7
		a.Write(buf)
	}()
	id, err := cb.ReadHandshake()
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)
}

func TestMessageRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		send func(c *Codec) error
		typ  uint8
	}{
		{"choke", (*Codec).SendChoke, Choke},
		{"unchoke", (*Codec).SendUnchoke, Unchoke},
		{"interested", (*Codec).SendInterested, Interested},
		{"not_interested", (*Codec).SendNotInterested, NotInterested},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ca, cb, closeAll := pipeCodecs()
			defer closeAll()
			go func() { _ = tc.send(ca) }()
			msg, err := cb.ReadMessage()
			require.NoError(t, err)
			assert.Equal(t, tc.typ, msg.Type)
			assert.Empty(t, msg.Payload)
		})
	}
}

func TestHaveRoundTrip(t *testing.T) {
	ca, cb, closeAll := pipeCodecs()
	defer closeAll()
	go func() { _ = ca.SendHave(42) }()
	msg, err := cb.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, Have, msg.Type)
	idx, err := DecodePieceIndex(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, 42, idx)
}

func TestBitfieldRoundTrip(t *testing.T) {
	ca, cb, closeAll := pipeCodecs()
	defer closeAll()
	want := []byte{0b10110000, 0b00000001}
	go func() { _ = ca.SendBitfield(want) }()
	msg, err := cb.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, Bitfield, msg.Type)
	assert.Equal(t, want, msg.Payload)
}

func TestRequestRoundTrip(t *testing.T) {
	ca, cb, closeAll := pipeCodecs()
	defer closeAll()
	go func() { _ = ca.SendRequest(3) }()
	msg, err := cb.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, Request, msg.Type)
	idx, err := DecodePieceIndex(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)
}

func TestPieceRoundTrip(t *testing.T) {
	ca, cb, closeAll := pipeCodecs()
	defer closeAll()
	data := []byte("hello piece data")
	go func() { _ = ca.SendPiece(9, data) }()
	msg, err := cb.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, Piece, msg.Type)
	idx, got, err := DecodePiece(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, 9, idx)
	assert.Equal(t, data, got)
}

func TestUnknownTypeRejected(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	cb := NewCodec(b, 5*time.Second, 1<<20)

	go func() {
		// length=1, type=200 (invalid)
		a.Write([]byte{0, 0, 0, 1, 200})
	}()
	_, err := cb.ReadMessage()
	require.Error(t, err)
	var perr *errs.Protocol
	assert.True(t, errors.As(err, &perr))
}

func TestOversizeFrameRejected(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	cb := NewCodec(b, 5*time.Second, 16)

	go func() {
		a.Write([]byte{0, 0, 1, 0, byte(Bitfield)}) // length=256, cap=16
	}()
	_, err := cb.ReadMessage()
	require.Error(t, err)
	var perr *errs.Protocol
	assert.True(t, errors.As(err, &perr))
}

func TestTruncatedFrameIsIOError(t *testing.T) {
	a, b := net.Pipe()
	cb := NewCodec(b, 5*time.Second, 1<<20)

	go func() {
		a.Write([]byte{0, 0, 0, 5}) // length header only, then close
		a.Close()
	}()
	_, err := cb.ReadMessage()
	require.Error(t, err)
	var ioerr *errs.IO
	assert.True(t, errors.As(err, &ioerr))
	b.Close()
}
