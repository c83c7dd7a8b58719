// Package activitylog writes the per-peer activity log: append-only,
// timestamp-prefixed lines for connection, neighbor-selection, choke, and
// piece-transfer events.
package activitylog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

// Logger is a single mutex-guarded writer onto one peer's log file,
// mirroring PeerLogger's synchronized PrintWriter.
type Logger struct {
	mu       sync.Mutex
	peerID   string
	out      io.WriteCloser
	nowFunc  func() time.Time
}

// Open creates or appends to log_peer_<peerID>.log in the current working
// directory.
func Open(peerID string) (*Logger, error) {
	f, err := os.OpenFile(fmt.Sprintf("log_peer_%s.log", peerID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Logger{peerID: peerID, out: f, nowFunc: time.Now}, nil
}

// NewWithWriter is the test seam: bypasses the filesystem entirely.
func NewWithWriter(peerID string, w io.WriteCloser, now func() time.Time) *Logger {
	return &Logger{peerID: peerID, out: w, nowFunc: now}
}

func (l *Logger) Close() error {
	return l.out.Close()
}

func (l *Logger) log(msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("[%s]: %s\n", l.nowFunc().Format(timeFormat), msg)
	io.WriteString(l.out, line)
}

func (l *Logger) ConnectTo(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] makes a connection to Peer [%s].", l.peerID, otherID))
}

func (l *Logger) ConnectedFrom(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] is connected from Peer [%s].", l.peerID, otherID))
}

func (l *Logger) PreferredNeighbors(ids []string) {
	list := ""
	for i, id := range ids {
		if i > 0 {
			list += ", "
		}
		list += id
	}
	l.log(fmt.Sprintf("Peer [%s] has the preferred neighbors [%s].", l.peerID, list))
}

func (l *Logger) OptimisticNeighbor(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] has the optimistically unchoked neighbor [%s].", l.peerID, otherID))
}

func (l *Logger) UnchokedBy(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] is unchoked by [%s].", l.peerID, otherID))
}

func (l *Logger) ChokedBy(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] is choked by [%s].", l.peerID, otherID))
}

func (l *Logger) ChokingNeighbor(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] choking neighbor [%s].", l.peerID, otherID))
}

func (l *Logger) UnchokingNeighbor(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] unchoking neighbor [%s].", l.peerID, otherID))
}

func (l *Logger) ReceiveHave(otherID string, pieceIdx int) {
	l.log(fmt.Sprintf("Peer [%s] received the 'have' message from [%s] for the piece [%d].", l.peerID, otherID, pieceIdx))
}

func (l *Logger) ReceiveInterested(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] received the 'interested' message from [%s].", l.peerID, otherID))
}

func (l *Logger) ReceiveNotInterested(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] received the 'not interested' message from [%s].", l.peerID, otherID))
}

func (l *Logger) SendInterested(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] sent the 'interested' message to [%s].", l.peerID, otherID))
}

func (l *Logger) SendNotInterested(otherID string) {
	l.log(fmt.Sprintf("Peer [%s] sent the 'not interested' message to [%s].", l.peerID, otherID))
}

func (l *Logger) SendRequest(otherID string, pieceIdx int) {
	l.log(fmt.Sprintf("Peer [%s] sent the 'request' message to [%s] for piece [%d].", l.peerID, otherID, pieceIdx))
}

func (l *Logger) SendPiece(otherID string, pieceIdx int) {
	l.log(fmt.Sprintf("Peer [%s] sent the 'piece' message to [%s] for piece [%d].", l.peerID, otherID, pieceIdx))
}

func (l *Logger) DownloadedPiece(fromID string, pieceIdx, numPiecesNow int) {
	l.log(fmt.Sprintf("Peer [%s] has downloaded the piece [%d] from [%s]. Now the number of pieces it has is [%d].", l.peerID, pieceIdx, fromID, numPiecesNow))
}

func (l *Logger) DownloadComplete() {
	l.log(fmt.Sprintf("Peer [%s] has downloaded the complete file.", l.peerID))
}

func (l *Logger) AllPeersComplete() {
	l.log(fmt.Sprintf("Peer [%s] has verified all peers have the complete file.", l.peerID))
}

func (l *Logger) StorageFailure(op string, pieceIdx int, err error) {
	l.log(fmt.Sprintf("Peer [%s] hit a storage error during [%s] for piece [%d]: %v", l.peerID, op, pieceIdx, err))
}

func (l *Logger) Throughput(meanBytesPerInterval int64) {
	l.log(fmt.Sprintf("Peer [%s] is receiving at a mean rate of [%d] bytes per interval.", l.peerID, meanBytesPerInterval))
}
