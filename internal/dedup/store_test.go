package dedup

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmit_NoMessageID(t *testing.T) {
	s := NewStore()
	fp := NewFingerprint("C1", "typing_indicator", nil)

	for i := 0; i < 3; i++ {
		a := s.Admit("", fp, i)
		assert.Equal(t, NewUnique, a.Decision)
		assert.Equal(t, -1, a.Index)
	}
	assert.Equal(t, 0, s.Stats().TrackedIDs)
}

func TestAdmit_DuplicateRejected(t *testing.T) {
	s := NewStore()
	fp := NewFingerprint("C1", "text", []string{"hi"})

	first := s.Admit("m1", fp, 0)
	assert.Equal(t, NewUnique, first.Decision)
	assert.True(t, first.Decision.Accepted())

	second := s.Admit("m1", fp, 1)
	assert.Equal(t, Duplicate, second.Decision)
	assert.False(t, second.Decision.Accepted())
	assert.Equal(t, 0, second.Index)

	assert.Equal(t, Stats{TrackedIDs: 1, DuplicatesBlocked: 1}, s.Stats())
}

func TestAdmit_DistinctKeepsFirstBinding(t *testing.T) {
	s := NewStore()
	s.Admit("m1", NewFingerprint("C1", "text", []string{"hi"}), 0)

	a := s.Admit("m1", NewFingerprint("C1", "text", []string{"reply"}), 5)
	assert.Equal(t, NewDistinct, a.Decision)
	assert.True(t, a.Decision.Accepted())
	assert.Equal(t, 0, a.Index)

	rec, ok := s.Lookup("m1")
	require.True(t, ok)
	assert.Equal(t, 0, rec.Index)
	assert.Equal(t, []string{"hi"}, rec.Fingerprint.Text)

	// the original content still counts as duplicate
	assert.Equal(t, Duplicate, s.Admit("m1", NewFingerprint("C1", "text", []string{"hi"}), 6).Decision)
	// a third distinct content is still distinct, still bound to 0
	a = s.Admit("m1", NewFingerprint("C1", "menu", []string{"hi"}), 7)
	assert.Equal(t, NewDistinct, a.Decision)
	assert.Equal(t, 0, a.Index)
}

func TestFingerprint_Equal(t *testing.T) {
	base := NewFingerprint("C1", "text", []string{"a", "b"})

	tests := []struct {
		name  string
		other Fingerprint
		equal bool
	}{
		{"same content", NewFingerprint("C1", "text", []string{"a", "b"}), true},
		{"customer", NewFingerprint("C2", "text", []string{"a", "b"}), false},
		{"type", NewFingerprint("C1", "menu", []string{"a", "b"}), false},
		{"joined text", NewFingerprint("C1", "text", []string{"ab"}), false},
		{"separator inside one line", NewFingerprint("C1", "text", []string{"a\x1fb"}), false},
		{"extra empty line", NewFingerprint("C1", "text", []string{"a", "b", ""}), false},
		{"order", NewFingerprint("C1", "text", []string{"b", "a"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, base.Equal(tt.other))
			assert.Equal(t, tt.equal, tt.other.Equal(base))
		})
	}

	assert.True(t, NewFingerprint("C1", "typing_indicator", nil).Equal(NewFingerprint("C1", "typing_indicator", []string{})))
}

func TestFingerprint_CopiesText(t *testing.T) {
	text := []string{"hi"}
	fp := NewFingerprint("C1", "text", text)
	text[0] = "changed"
	assert.Equal(t, []string{"hi"}, fp.Text)
}

func TestAdmit_TextLinesDoNotCollide(t *testing.T) {
	s := NewStore()
	s.Admit("m1", NewFingerprint("C1", "text", []string{"a\x1fb"}), 0)

	a := s.Admit("m1", NewFingerprint("C1", "text", []string{"a", "b"}), 1)
	assert.Equal(t, NewDistinct, a.Decision)
	assert.True(t, a.Decision.Accepted())
	assert.Equal(t, Stats{TrackedIDs: 1, DistinctReuses: 1}, s.Stats())
}

func TestClear(t *testing.T) {
	s := NewStore()
	fp := NewFingerprint("C1", "text", []string{"hi"})
	s.Admit("m1", fp, 0)
	s.Admit("m1", fp, 1)
	s.Admit("m2", fp, 1)
	assert.Equal(t, []string{"m1", "m2"}, s.IDs())

	s.Clear()
	assert.Equal(t, Stats{}, s.Stats())
	assert.Empty(t, s.IDs())
	assert.Equal(t, NewUnique, s.Admit("m1", fp, 0).Decision)
}

func TestAdmit_ConcurrentSameID(t *testing.T) {
	s := NewStore()
	fp := NewFingerprint("C1", "text", []string{"hi"})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		unique int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.Admit("m1", fp, i).Decision == NewUnique {
				mu.Lock()
				unique++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, unique)
	assert.Equal(t, 49, s.Stats().DuplicatesBlocked)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "new_unique", NewUnique.String())
	assert.Equal(t, "new_distinct", NewDistinct.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "invalid", Decision(9).String())
}
