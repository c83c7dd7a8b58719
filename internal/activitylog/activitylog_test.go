package activitylog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func fixedClock() func() time.Time {
	t := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestLogLineFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter("1001", nopCloser{buf}, fixedClock())

	l.ConnectTo("1002")
	assert.Equal(t, "[2026-08-03 12:00:00]: Peer [1001] makes a connection to Peer [1002].\n", buf.String())
}

func TestPreferredNeighborsJoinsWithCommaSpace(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter("1001", nopCloser{buf}, fixedClock())

	l.PreferredNeighbors([]string{"1002", "1003", "1004"})
	assert.Contains(t, buf.String(), "preferred neighbors [1002, 1003, 1004].")
}

func TestDownloadedPieceIncludesCount(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter("1001", nopCloser{buf}, fixedClock())

	l.DownloadedPiece("1002", 3, 4)
	assert.Contains(t, buf.String(), "downloaded the piece [3] from [1002]. Now the number of pieces it has is [4].")
}

func TestThroughputIncludesRate(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter("1001", nopCloser{buf}, fixedClock())

	l.Throughput(4096)
	assert.Contains(t, buf.String(), "mean rate of [4096] bytes per interval.")
}

func TestConcurrentLogDoesNotInterleave(t *testing.T) {
	buf := &bytes.Buffer{}
	l := NewWithWriter("1001", nopCloser{buf}, fixedClock())

	done := make(chan struct{})
	for i := 0; i < 50; i++ {
		go func() {
			l.ReceiveHave("1002", 1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 50; i++ {
		<-done
	}
	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 50, lines)
}
