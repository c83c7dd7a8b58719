// Package wire is the byte-exact codec for the handshake and the eight
// message kinds exchanged over a length-prefixed stream.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/EthanAGit/p2pProj/internal/errs"
)

// Message type tags.
const (
	Choke         uint8 = 0
	Unchoke       uint8 = 1
	Interested    uint8 = 2
	NotInterested uint8 = 3
	Have          uint8 = 4
	Bitfield      uint8 = 5
	Request       uint8 = 6
	Piece         uint8 = 7
)

// handshakeHeader is the fixed 18-byte ASCII literal every handshake must
// carry in bytes 0..17.
var handshakeHeader = []byte("P2PFILESHARINGPROJ")

const (
	handshakeLen    = 32
	handshakeResLen = 10
)

func typeName(t uint8) string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	default:
		return fmt.Sprintf("unknown(%d)", t)
	}
}

// Message is a decoded frame: Type plus its raw payload bytes. Have and
// Request payloads are the 4-byte BE piece index; Piece is the index
// followed by raw piece bytes; Bitfield is the packed bitfield bytes; the
// remaining four kinds carry no payload.
type Message struct {
	Type    uint8
	Payload []byte
}

// Codec wraps a net.Conn with handshake and frame encode/decode. Read and
// write deadlines are set to timeout before every blocking call; the caller
// supplies the duration, typically at least one unchoking interval so a
// quiet interval never looks like a stuck read.
type Codec struct {
	conn     net.Conn
	timeout  time.Duration
	oversize int
}

// NewCodec wraps conn. timeout bounds every read/write; oversizeFrame caps
// the accepted frame length directly, with no further headroom added here
// (callers pass pieceSize+16 to cover the piece message's type byte and
// 4-byte index on top of the raw piece data).
func NewCodec(conn net.Conn, timeout time.Duration, oversizeFrame int) *Codec {
	return &Codec{conn: conn, timeout: timeout, oversize: oversizeFrame}
}

// SetTCPNoDelay enables TCP_NODELAY if the underlying connection supports
// it; no-op otherwise (used for test doubles that aren't *net.TCPConn).
func (c *Codec) SetTCPNoDelay() {
	if tc, ok := c.conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

// Close releases the underlying connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}

// SendHandshake writes the 32-byte handshake frame for peerID.
func (c *Codec) SendHandshake(peerID uint32) error {
	buf := make([]byte, handshakeLen)
	copy(buf[0:18], handshakeHeader)
	binary.BigEndian.PutUint32(buf[28:32], peerID)
	return c.write(buf)
}

// ReadHandshake reads and validates the 32-byte handshake frame, returning
// the decoded peer id. Reserved bytes 18..27 are read but never validated.
func (c *Codec) ReadHandshake() (uint32, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	buf := make([]byte, handshakeLen)
	if err := c.readFull(buf); err != nil {
		return 0, &errs.IO{Op: "read handshake", Err: err}
	}
	if !bytes.Equal(buf[0:18], handshakeHeader) {
		return 0, &errs.Protocol{Op: "bad handshake header"}
	}
	return binary.BigEndian.Uint32(buf[28:32]), nil
}

// SendChoke, SendUnchoke, SendInterested, SendNotInterested send the four
// empty-payload control frames.
func (c *Codec) SendChoke() error         { return c.sendFrame(Choke, nil) }
func (c *Codec) SendUnchoke() error       { return c.sendFrame(Unchoke, nil) }
func (c *Codec) SendInterested() error    { return c.sendFrame(Interested, nil) }
func (c *Codec) SendNotInterested() error { return c.sendFrame(NotInterested, nil) }

// SendHave announces ownership of pieceIndex.
func (c *Codec) SendHave(pieceIndex int) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(pieceIndex))
	return c.sendFrame(Have, payload)
}

// SendBitfield ships the local piece-ownership snapshot.
func (c *Codec) SendBitfield(bits []byte) error {
	return c.sendFrame(Bitfield, bits)
}

// SendRequest asks for a whole piece by index (no sub-piece offsets: block
// requests are a Non-goal here).
func (c *Codec) SendRequest(pieceIndex int) error {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, uint32(pieceIndex))
	return c.sendFrame(Request, payload)
}

// SendPiece ships a whole piece's data.
func (c *Codec) SendPiece(pieceIndex int, data []byte) error {
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(payload[:4], uint32(pieceIndex))
	copy(payload[4:], data)
	return c.sendFrame(Piece, payload)
}

// ReadMessage decodes the next frame on the stream.
func (c *Codec) ReadMessage() (Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))

	var length uint32
	if err := binary.Read(c.conn, binary.BigEndian, &length); err != nil {
		return Message{}, &errs.IO{Op: "read frame length", Err: err}
	}
	if length == 0 {
		return Message{}, &errs.Protocol{Op: "zero-length frame"}
	}
	if c.oversize > 0 && int(length) > c.oversize {
		return Message{}, &errs.Protocol{Op: fmt.Sprintf("oversize frame: %d", length)}
	}

	var typ uint8
	if err := binary.Read(c.conn, binary.BigEndian, &typ); err != nil {
		return Message{}, &errs.IO{Op: "read frame type", Err: err}
	}
	if typ > Piece {
		return Message{}, &errs.Protocol{Op: fmt.Sprintf("unknown message type: %d", typ)}
	}

	payloadLen := int(length) - 1
	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		if err := c.readFull(payload); err != nil {
			return Message{}, &errs.IO{Op: "read frame payload", Err: err}
		}
	}
	return Message{Type: typ, Payload: payload}, nil
}

func (c *Codec) sendFrame(typ uint8, payload []byte) error {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, uint32(1+len(payload)))
	binary.Write(buf, binary.BigEndian, typ)
	buf.Write(payload)
	return c.write(buf.Bytes())
}

func (c *Codec) write(b []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(b); err != nil {
		return &errs.IO{Op: "write frame", Err: err}
	}
	return nil
}

func (c *Codec) readFull(buf []byte) error {
	_, err := io.ReadFull(c.conn, buf)
	return err
}

// DecodePieceIndex reads the 4-byte BE piece index carried by Have and
// Request payloads.
func DecodePieceIndex(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, &errs.Protocol{Op: "malformed piece index payload"}
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}

// DecodePiece splits a Piece payload into its index and raw data.
func DecodePiece(payload []byte) (int, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, &errs.Protocol{Op: "malformed piece payload"}
	}
	idx := int(binary.BigEndian.Uint32(payload[:4]))
	return idx, payload[4:], nil
}

// TypeName returns the human-readable message name used in activity logs.
func TypeName(t uint8) string { return typeName(t) }
