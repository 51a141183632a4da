package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmsrelay/internal/message"
)

var epoch = time.Unix(0, 0).UTC()

func event(key string, ts time.Time, text string, extraKeys ...string) *message.Event {
	keys := []string{}
	if key != "" {
		keys = append(keys, key)
	}
	keys = append(keys, extraKeys...)
	return &message.Event{
		Type:        message.TypeText,
		CustomerKey: key,
		Keys:        keys,
		Text:        []string{text},
		Timestamp:   ts,
	}
}

func texts(events []*message.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Text[0])
	}
	return out
}

func TestAppendAssignsArrivalIndex(t *testing.T) {
	l := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// arrival order differs from timestamp order on purpose
	assert.Equal(t, 0, l.Append(event("C1", base.Add(2*time.Second), "late")))
	assert.Equal(t, 1, l.Append(event("C1", base, "early")))
	assert.Equal(t, 2, l.NextIndex())

	got := l.Query("C1", epoch)
	assert.Equal(t, []string{"late", "early"}, texts(got))
	assert.Equal(t, 0, got[0].Index)
}

func TestQuery_StrictlyAfterSince(t *testing.T) {
	l := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.Append(event("C1", t0, "a"))
	l.Append(event("C1", t0.Add(time.Millisecond), "b"))

	assert.Equal(t, []string{"b"}, texts(l.Query("C1", t0)))
	assert.Empty(t, l.Query("C1", t0.Add(time.Millisecond)))
}

func TestQuery_CursorAdvanceReturnsNothingNew(t *testing.T) {
	l := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		l.Append(event("C1", t0.Add(time.Duration(i)*time.Second), fmt.Sprint(i)))
	}

	first := l.Query("C1", epoch)
	require.Len(t, first, 5)

	cursor := epoch
	for _, e := range first {
		if e.Timestamp.After(cursor) {
			cursor = e.Timestamp
		}
	}
	cursor = cursor.Add(time.Millisecond)
	assert.Empty(t, l.Query("C1", cursor))

	l.Append(event("C1", cursor.Add(time.Millisecond), "new"))
	assert.Equal(t, []string{"new"}, texts(l.Query("C1", cursor)))
}

func TestQuery_MatchesAnyIdentityKey(t *testing.T) {
	l := New()
	l.Append(event("A", epoch.Add(time.Second), "both", "B"))
	l.Append(event("B", epoch.Add(time.Second), "profile-only"))
	l.Append(event("C", epoch.Add(time.Second), "other"))

	assert.Equal(t, []string{"both"}, texts(l.Query("A", epoch)))
	assert.Equal(t, []string{"both", "profile-only"}, texts(l.Query("B", epoch)))
}

func TestQuery_OrphansNeverMatch(t *testing.T) {
	l := New()
	l.Append(event("", epoch.Add(time.Second), "orphan"))

	assert.Empty(t, l.Query("", epoch))
	assert.Empty(t, l.Query("anything", epoch))
	require.Len(t, l.Orphans(), 1)
	assert.Len(t, l.All(), 1)
}

func TestQuery_NeverNil(t *testing.T) {
	assert.NotNil(t, New().Query("C1", epoch))
}

func TestSince_IsRestartableAndStoppable(t *testing.T) {
	l := New()
	for i := 0; i < 3; i++ {
		l.Append(event("C1", epoch.Add(time.Second), fmt.Sprint(i)))
	}
	seq := l.Since("C1", epoch)

	count := 0
	for range seq {
		count++
		break
	}
	assert.Equal(t, 1, count)

	count = 0
	for range seq {
		count++
	}
	assert.Equal(t, 3, count)
}

func TestRecentAndClear(t *testing.T) {
	l := New()
	for i := 0; i < 4; i++ {
		l.Append(event("C1", epoch.Add(time.Second), fmt.Sprint(i)))
	}
	assert.Equal(t, []string{"2", "3"}, texts(l.Recent(2)))
	assert.Len(t, l.Recent(10), 4)
	assert.Empty(t, l.Recent(-1))

	assert.Equal(t, 4, l.Clear())
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.Append(event("C1", epoch.Add(time.Second), "again")))
}

func TestConcurrentAppendAndQuery(t *testing.T) {
	l := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			l.Append(event("C1", epoch.Add(time.Second), "x"))
		}()
		go func() {
			defer wg.Done()
			_ = l.Query("C1", epoch)
		}()
	}
	wg.Wait()

	all := l.All()
	require.Len(t, all, 20)
	for i, e := range all {
		assert.Equal(t, i, e.Index)
	}
}
