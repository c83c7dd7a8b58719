package scheduler

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EthanAGit/p2pProj/internal/activitylog"
	"github.com/EthanAGit/p2pProj/internal/linkset"
)

type mockPeer struct {
	mock.Mock
	id          string
	interested  bool
	choking     bool
	bytesWanted int64
}

func (m *mockPeer) ID() string                     { return m.id }
func (m *mockPeer) NeighborInterestedInMe() bool    { return m.interested }
func (m *mockPeer) IChokeNeighbor() bool            { return m.choking }
func (m *mockPeer) DrainBytes() int64               { return m.bytesWanted }
func (m *mockPeer) SetChoked(choked bool) {
	m.Called(choked)
	m.choking = choked
}

type fakeRegistry struct{ complete bool }

func (f *fakeRegistry) IsComplete() bool { return f.complete }

func newTestLog() *activitylog.Logger {
	return activitylog.NewWithWriter("1001", nopCloser{&bytes.Buffer{}}, time.Now)
}

type nopCloser struct{ *bytes.Buffer }

func (nopCloser) Close() error { return nil }

func TestRateFairnessPicksHigherByteCountWhenK1(t *testing.T) {
	set := linkset.New()
	a := &mockPeer{id: "A", interested: true, bytesWanted: 100}
	b := &mockPeer{id: "B", interested: true, bytesWanted: 10}
	a.On("SetChoked", false).Return()
	b.On("SetChoked", true).Return()
	set.Add(a)
	set.Add(b)

	reg := &fakeRegistry{complete: false}
	s := New(set, reg, newTestLog(), 1, time.Hour, time.Hour)
	s.recomputePreferredSet()

	a.AssertExpectations(t)
	b.AssertExpectations(t)
	assert.Contains(t, s.preferredSet, "A")
	assert.NotContains(t, s.preferredSet, "B")
}

func TestSeedingPicksRandomlyAmongInterested(t *testing.T) {
	set := linkset.New()
	a := &mockPeer{id: "A", interested: true}
	b := &mockPeer{id: "B", interested: true}
	a.On("SetChoked", mock.Anything).Return()
	b.On("SetChoked", mock.Anything).Return()
	set.Add(a)
	set.Add(b)

	reg := &fakeRegistry{complete: true}
	s := New(set, reg, newTestLog(), 1, time.Hour, time.Hour)
	s.recomputePreferredSet()

	assert.Len(t, s.preferredSet, 1)
}

func TestNotInterestedPeersAreNeverCandidates(t *testing.T) {
	set := linkset.New()
	a := &mockPeer{id: "A", interested: false, bytesWanted: 1000}
	a.On("SetChoked", true).Return()
	set.Add(a)

	reg := &fakeRegistry{complete: false}
	s := New(set, reg, newTestLog(), 5, time.Hour, time.Hour)
	s.recomputePreferredSet()

	assert.Empty(t, s.preferredSet)
	a.AssertExpectations(t)
}

func TestOptimisticRotationPicksAmongInterestedChoked(t *testing.T) {
	set := linkset.New()
	a := &mockPeer{id: "A", interested: true, choking: true}
	a.On("SetChoked", false).Return()
	set.Add(a)

	reg := &fakeRegistry{complete: false}
	s := New(set, reg, newTestLog(), 1, time.Hour, time.Hour)
	s.rotateOptimistic()

	require.NotNil(t, s.optimistic)
	assert.Equal(t, "A", s.optimistic.ID())
}

func TestOptimisticRotationNoCandidatesClearsSelection(t *testing.T) {
	set := linkset.New()
	a := &mockPeer{id: "A", interested: false, choking: true}
	set.Add(a)

	reg := &fakeRegistry{complete: false}
	s := New(set, reg, newTestLog(), 1, time.Hour, time.Hour)
	s.optimistic = a
	s.rotateOptimistic()

	assert.Nil(t, s.optimistic)
}

func TestOptimisticChokesPreviousWhenSupersededAndNotPreferred(t *testing.T) {
	set := linkset.New()
	a := &mockPeer{id: "A", interested: true, choking: false}
	b := &mockPeer{id: "B", interested: true, choking: true}
	a.On("SetChoked", true).Return()
	b.On("SetChoked", false).Return()
	set.Add(a)
	set.Add(b)

	reg := &fakeRegistry{complete: false}
	s := New(set, reg, newTestLog(), 1, time.Hour, time.Hour)
	s.optimistic = a
	s.preferredSet = map[string]Peer{}

	// force deterministic choice of b: only b is a choked+interested candidate
	s.rotateOptimistic()

	require.NotNil(t, s.optimistic)
	assert.Equal(t, "B", s.optimistic.ID())
	a.AssertExpectations(t)
}
