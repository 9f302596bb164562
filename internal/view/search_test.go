package view

import (
	"testing"
	"time"

	"github.com/floegence/redeven-ui/internal/conv"
)

func searchFixture() []*conv.Message {
	return []*conv.Message{
		{ID: "m1", Role: conv.RoleUser, Content: "Hello world"},
		{ID: "m2", Role: conv.RoleAssistant, Content: "hello, HELLO again"},
		{ID: "m3", Role: conv.RoleTool, Content: "hello from a tool"},
	}
}

func TestSearchMessages_CaseInsensitiveSpans(t *testing.T) {
	t.Parallel()

	res := SearchMessages(searchFixture(), "hello", 2)

	if res.Total() != 3 {
		t.Fatalf("total got=%d want=3", res.Total())
	}
	if !equalStrings(res.MessageIDs, []string{"m1", "m2"}) {
		t.Fatalf("message ids got=%v want=[m1 m2]", res.MessageIDs)
	}
	want := []Match{
		{MessageID: "m1", Span: Span{Start: 0, End: 5}},
		{MessageID: "m2", Span: Span{Start: 0, End: 5}},
		{MessageID: "m2", Span: Span{Start: 7, End: 12}},
	}
	for i, m := range res.Matches {
		if m != want[i] {
			t.Fatalf("match %d got=%+v want=%+v", i, m, want[i])
		}
	}
}

func TestSearchMessages_ToolMessagesAreSkipped(t *testing.T) {
	t.Parallel()

	res := SearchMessages(searchFixture(), "tool", 2)
	if res.Total() != 0 {
		t.Fatalf("tool-role content matched: %+v", res.Matches)
	}
}

func TestSearchMessages_ShortQueryYieldsNothing(t *testing.T) {
	t.Parallel()

	res := SearchMessages(searchFixture(), "h", 2)
	if res.Total() != 0 {
		t.Fatalf("short query produced %d matches", res.Total())
	}
}

func TestSearchMessages_NonOverlappingMatches(t *testing.T) {
	t.Parallel()

	msgs := []*conv.Message{{ID: "m1", Role: conv.RoleUser, Content: "aaaa"}}
	res := SearchMessages(msgs, "aa", 2)

	if res.Total() != 2 {
		t.Fatalf("total got=%d want=2", res.Total())
	}
	if res.Matches[1].Span.Start != 2 {
		t.Fatalf("second span start got=%d want=2", res.Matches[1].Span.Start)
	}
}

func TestSearchMessages_SpansIndexOriginalBytes(t *testing.T) {
	t.Parallel()

	// U+0130 is 2 bytes but lowers to a 1-byte "i"; spans must still slice the
	// original content, not the lowered copy.
	content := "İstanbul CODE here"
	msgs := []*conv.Message{{ID: "m1", Role: conv.RoleUser, Content: content}}

	res := SearchMessages(msgs, "code", 2)
	if res.Total() != 1 {
		t.Fatalf("total got=%d want=1", res.Total())
	}
	sp := res.Matches[0].Span
	if got := content[sp.Start:sp.End]; got != "CODE" {
		t.Fatalf("span slice got=%q want=%q (span=%+v)", got, "CODE", sp)
	}
}

func TestSearcher_CursorWrapsBothWays(t *testing.T) {
	t.Parallel()

	s := NewSearcher(SearcherOptions{Debounce: time.Millisecond})
	s.SetMessages(searchFixture())
	s.SetQuery("hello")
	waitForMatches(t, s, 3)

	m := s.Result().Total()
	for i := 0; i < m; i++ {
		s.Next()
	}
	if got := s.Cursor(); got != 0 {
		t.Fatalf("cursor after %d Next calls got=%d want=0", m, got)
	}
	if got := s.Prev(); got != m-1 {
		t.Fatalf("Prev from 0 got=%d want=%d", got, m-1)
	}
}

func TestSearcher_DebounceCollapsesRapidQueries(t *testing.T) {
	t.Parallel()

	results := make(chan SearchResult, 8)
	s := NewSearcher(SearcherOptions{
		Debounce: 20 * time.Millisecond,
		OnResult: func(r SearchResult) { results <- r },
	})
	s.SetMessages(searchFixture())

	s.SetQuery("he")
	s.SetQuery("hel")
	s.SetQuery("hello")

	select {
	case r := <-results:
		if r.Query != "hello" {
			t.Fatalf("first delivered query got=%q want=%q", r.Query, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("debounced search never fired")
	}
}

func TestSearcher_StreamingUpdateRecomputesActiveQuery(t *testing.T) {
	t.Parallel()

	s := NewSearcher(SearcherOptions{Debounce: time.Millisecond})
	s.SetMessages(searchFixture())
	s.SetQuery("again")
	waitForMatches(t, s, 1)

	s.SetMessages(append(searchFixture(), &conv.Message{
		ID: "m4", Role: conv.RoleAssistant, Content: "again and again",
	}))

	if got := s.Result().Total(); got != 3 {
		t.Fatalf("total after update got=%d want=3", got)
	}
}

func waitForMatches(t *testing.T, s *Searcher, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Result().Total() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("matches got=%d want=%d", s.Result().Total(), want)
}
