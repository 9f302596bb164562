package view

import (
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bep/debounce"

	"github.com/floegence/redeven-ui/internal/conv"
)

const (
	// DefaultSearchDebounce delays recomputation while the user types.
	DefaultSearchDebounce = 300 * time.Millisecond
	// DefaultMinQueryLen is the shortest query that produces matches.
	DefaultMinQueryLen = 2
)

// Span is one match's [Start, End) byte offsets within a message's content.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Match is one matched occurrence, addressable for scroll-to-match.
type Match struct {
	MessageID string `json:"message_id"`
	Span      Span   `json:"span"`
}

// SearchResult is the outcome of scanning one message list for a query.
type SearchResult struct {
	Query string
	// Matches lists every occurrence in message order, then offset order.
	Matches []Match
	// MessageIDs lists matching messages in order, each id once.
	MessageIDs []string
}

// Total is the number of matched occurrences.
func (r SearchResult) Total() int { return len(r.Matches) }

// SearchMessages scans user and assistant messages for case-insensitive,
// non-overlapping occurrences of query. Queries shorter than minLen yield an
// empty result.
func SearchMessages(msgs []*conv.Message, query string, minLen int) SearchResult {
	if minLen <= 0 {
		minLen = DefaultMinQueryLen
	}
	q := strings.ToLower(strings.TrimSpace(query))
	res := SearchResult{Query: q}
	if len(q) < minLen {
		return res
	}

	for _, m := range msgs {
		if m.Role != conv.RoleUser && m.Role != conv.RoleAssistant {
			continue
		}
		// Case mapping can change byte lengths (e.g. U+0130), so spans found in
		// the lowered text are mapped back to offsets in the original bytes.
		content, offs := lowerOffsets(m.Content)
		matched := false
		for off := 0; ; {
			i := strings.Index(content[off:], q)
			if i < 0 {
				break
			}
			start := off + i
			res.Matches = append(res.Matches, Match{
				MessageID: m.ID,
				Span:      Span{Start: offs[start], End: offs[start+len(q)]},
			})
			matched = true
			off = start + len(q)
		}
		if matched {
			res.MessageIDs = append(res.MessageIDs, m.ID)
		}
	}
	return res
}

// lowerOffsets lowercases s rune by rune and records, for every byte of the
// lowered form, the byte offset of the originating rune in s. A final entry
// maps the lowered length to len(s) so span ends resolve past the last rune.
func lowerOffsets(s string) (string, []int) {
	var b strings.Builder
	b.Grow(len(s))
	offs := make([]int, 0, len(s)+1)
	for i, r := range s {
		lr := unicode.ToLower(r)
		for n := utf8.RuneLen(lr); n > 0; n-- {
			offs = append(offs, i)
		}
		b.WriteRune(lr)
	}
	offs = append(offs, len(s))
	return b.String(), offs
}

// SearcherOptions configures a Searcher. Zero values pick the defaults above.
type SearcherOptions struct {
	Debounce time.Duration
	MinQuery int
	// OnResult receives each recomputed result. Called from a timer goroutine
	// after debounced query changes and synchronously from SetMessages.
	OnResult func(SearchResult)
}

// Searcher owns the debounced query lifecycle and the current-match cursor
// for one display surface.
type Searcher struct {
	debounced func(func())
	minQuery  int
	onResult  func(SearchResult)

	mu     sync.Mutex
	msgs   []*conv.Message
	query  string
	result SearchResult
	cursor int
}

// NewSearcher creates a searcher.
func NewSearcher(opts SearcherOptions) *Searcher {
	d := opts.Debounce
	if d <= 0 {
		d = DefaultSearchDebounce
	}
	minQuery := opts.MinQuery
	if minQuery <= 0 {
		minQuery = DefaultMinQueryLen
	}
	onResult := opts.OnResult
	if onResult == nil {
		onResult = func(SearchResult) {}
	}
	return &Searcher{
		debounced: debounce.New(d),
		minQuery:  minQuery,
		onResult:  onResult,
	}
}

// SetMessages replaces the searched list and recomputes immediately when a
// query is active, so streaming updates keep results current.
func (s *Searcher) SetMessages(msgs []*conv.Message) {
	s.mu.Lock()
	s.msgs = msgs
	active := len(s.query) >= s.minQuery
	s.mu.Unlock()
	if active {
		s.recompute()
	}
}

// SetQuery records the query and schedules a debounced recomputation. Rapid
// successive calls collapse into one scan of the final query.
func (s *Searcher) SetQuery(query string) {
	s.mu.Lock()
	s.query = query
	s.mu.Unlock()
	s.debounced(s.recompute)
}

func (s *Searcher) recompute() {
	s.mu.Lock()
	res := SearchMessages(s.msgs, s.query, s.minQuery)
	s.result = res
	if s.cursor >= len(res.Matches) {
		s.cursor = 0
	}
	s.mu.Unlock()
	s.onResult(res)
}

// Result returns the last computed result.
func (s *Searcher) Result() SearchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Cursor returns the current match index, or -1 when there are no matches.
func (s *Searcher) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.result.Matches) == 0 {
		return -1
	}
	return s.cursor
}

// Next advances the cursor, wrapping past the last match to the first, and
// returns the new index (-1 when there are no matches).
func (s *Searcher) Next() int { return s.step(1) }

// Prev moves the cursor back, wrapping before the first match to the last.
func (s *Searcher) Prev() int { return s.step(-1) }

func (s *Searcher) step(d int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.result.Matches)
	if n == 0 {
		return -1
	}
	s.cursor = ((s.cursor+d)%n + n) % n
	return s.cursor
}

// Current returns the match under the cursor.
func (s *Searcher) Current() (Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.result.Matches) == 0 {
		return Match{}, false
	}
	return s.result.Matches[s.cursor], true
}
