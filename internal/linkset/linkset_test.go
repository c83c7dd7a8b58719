package linkset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeLink struct{ id string }

func (f *fakeLink) ID() string { return f.id }

func TestAddRemoveLen(t *testing.T) {
	s := New()
	a := &fakeLink{id: "A"}
	b := &fakeLink{id: "B"}

	s.Add(a)
	s.Add(b)
	assert.Equal(t, 2, s.Len())

	s.Remove(a)
	assert.Equal(t, 1, s.Len())

	snap := s.Snapshot()
	assert.Len(t, snap, 1)
	assert.Equal(t, "B", snap[0].ID())
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	s := New()
	a := &fakeLink{id: "A"}
	s.Add(a)

	snap := s.Snapshot()
	s.Add(&fakeLink{id: "B"})

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, s.Len())
}

func TestConcurrentAddRemoveIsRaceFree(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	links := make([]*fakeLink, 100)
	for i := range links {
		links[i] = &fakeLink{id: string(rune('a' + i%26))}
	}

	wg.Add(len(links))
	for _, l := range links {
		l := l
		go func() {
			defer wg.Done()
			s.Add(l)
			s.Snapshot()
			s.Remove(l)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, s.Len())
}
