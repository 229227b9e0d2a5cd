// Package reply turns the incremental text fragments of one model response into
// display-ready visible text, an optional reasoning transcript and an emotion label.
//
// The parser keeps the raw response and re-scans it on every fragment, so markers
// that arrive split across fragments are still recognised. A trailing partial marker
// is held back from the visible text until the next fragment resolves it.
package reply

import (
	"strings"

	"github.com/zhouzirui/timemachine/backend/internal/analysis/emotion"
)

// Reasoning block markers.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

// Update is what one fragment changed.
type Update struct {
	// Delta is the visible text added by this fragment. It is empty while the
	// fragment belongs to a reasoning block.
	Delta string
	// Visible is the visible text so far with complete emotion tags removed.
	Visible string
	// Reasoning is the trimmed reasoning text so far.
	Reasoning string
}

// Result is the final cleanup of a complete response.
type Result struct {
	Raw        string
	Content    string
	Reasoning  string
	Emotion    emotion.Label
	HasEmotion bool
}

// Empty reports whether the provider sent nothing at all.
func (r Result) Empty() bool {
	return strings.TrimSpace(r.Raw) == "" && r.Reasoning == ""
}

// Parser accumulates one response. It is not safe for concurrent use and cannot be
// restarted.
type Parser struct {
	revealsReasoning bool
	raw              strings.Builder
	native           strings.Builder
	visible          string
}

// NewParser returns a parser. Reasoning markers are only interpreted when
// revealsReasoning is set; otherwise they are ordinary visible text.
func NewParser(revealsReasoning bool) *Parser {
	return &Parser{revealsReasoning: revealsReasoning}
}

// Feed appends a content fragment.
func (p *Parser) Feed(fragment string) Update {
	p.raw.WriteString(fragment)
	return p.update()
}

// FeedReasoning appends a fragment the provider delivered on a dedicated reasoning
// channel. It is dropped for personas that do not reveal reasoning.
func (p *Parser) FeedReasoning(fragment string) Update {
	if p.revealsReasoning {
		p.native.WriteString(fragment)
	}
	return p.update()
}

// Result runs the final cleanup pass over everything received.
func (p *Parser) Result() Result {
	raw := p.raw.String()
	visible, reasoning, _ := p.split(raw)

	res := Result{
		Raw:       raw,
		Content:   emotion.Clean(visible),
		Reasoning: p.joinReasoning(reasoning),
	}
	if label, ok := emotion.Extract(visible); ok {
		res.Emotion = label
		res.HasEmotion = true
	}
	return res
}

func (p *Parser) update() Update {
	visible, reasoning, inside := p.split(p.raw.String())
	if inside {
		reasoning = reasoning[:len(reasoning)-partialSuffix(reasoning, ThinkClose, false)]
	} else if p.revealsReasoning {
		visible = visible[:len(visible)-partialSuffix(visible, ThinkOpen, false)]
	}

	visible = emotion.Strip(visible)
	visible = visible[:pendingEmotionTag(visible)]

	delta := ""
	if strings.HasPrefix(visible, p.visible) {
		delta = visible[len(p.visible):]
	}
	p.visible = visible

	return Update{
		Delta:     delta,
		Visible:   visible,
		Reasoning: p.joinReasoning(reasoning),
	}
}

// split separates raw into visible text and the reasoning of the most recent block.
// inside reports whether raw ends in an unterminated block.
func (p *Parser) split(raw string) (visible, reasoning string, inside bool) {
	if !p.revealsReasoning {
		return raw, "", false
	}

	var vis strings.Builder
	rest := raw
	for {
		open := strings.Index(rest, ThinkOpen)
		if open < 0 {
			vis.WriteString(rest)
			return vis.String(), reasoning, false
		}
		vis.WriteString(rest[:open])
		rest = rest[open+len(ThinkOpen):]

		end := strings.Index(rest, ThinkClose)
		if end < 0 {
			return vis.String(), rest, true
		}
		// Each block starts a fresh reasoning transcript.
		reasoning = rest[:end]
		rest = rest[end+len(ThinkClose):]
	}
}

func (p *Parser) joinReasoning(tagged string) string {
	if !p.revealsReasoning {
		return ""
	}
	return strings.TrimSpace(p.native.String() + tagged)
}

// partialSuffix returns the length of the longest proper prefix of marker that s
// ends with.
func partialSuffix(s, marker string, fold bool) int {
	for k := len(marker) - 1; k > 0; k-- {
		if len(s) < k {
			continue
		}
		tail := s[len(s)-k:]
		if tail == marker[:k] || (fold && strings.EqualFold(tail, marker[:k])) {
			return k
		}
	}
	return 0
}

// pendingEmotionTag returns the index from which s may still turn into an emotion
// tag once more text arrives, or len(s) when nothing needs holding back.
func pendingEmotionTag(s string) int {
	if k := partialSuffix(s, emotion.Open, true); k > 0 {
		return len(s) - k
	}

	open := lastIndexFold(s, emotion.Open)
	if open < 0 {
		return len(s)
	}
	tail := s[open+len(emotion.Open):]
	i := 0
	for i < len(tail) && isASCIILetter(tail[i]) {
		i++
	}
	rest := tail[i:]
	if len(rest) < len(emotion.Close) && strings.EqualFold(rest, emotion.Close[:len(rest)]) {
		return open
	}
	return len(s)
}

func lastIndexFold(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if strings.EqualFold(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
