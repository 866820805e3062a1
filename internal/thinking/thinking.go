// Package thinking strips reasoning-model "thinking" spans from both
// streamed and batch model output, so only the assistant's visible answer
// ever reaches a conversation transcript or an event.
//
// Two entry points cover the two delivery shapes a provider can use:
//
//	Filter        incremental, for token-by-token streaming
//	StripBatch    one-shot, for a fully materialized response
package thinking

import (
	"regexp"
	"strings"
)

// tags are matched case-insensitively; longest-tag-first so a look-ahead
// buffer sized to the longest opener never truncates a shorter match
// early.
var tags = []string{"reflection", "reasoning", "thinking", "thought", "think"}

// maxTagLen is the length of the longest opening tag name, used to size
// the streaming look-ahead buffer.
var maxTagLen = func() int {
	n := 0
	for _, t := range tags {
		if len(t) > n {
			n = len(t)
		}
	}
	return n
}()

// State is the incremental filter's current mode.
type State int

const (
	Visible State = iota
	InsideThinking
)

// Filter incrementally removes <think>/<thinking>/<reasoning>/<thought>/
// <reflection> spans (case-insensitive) from a stream of text chunks,
// splitting emitted content into Visible and Thinking channels so a
// caller can route the two independently (e.g. visible text to the
// conversation transcript, thinking text to a debug trace only).
//
// Filter buffers at most the longest known tag's length while deciding
// whether a "<" starts a real tag or ordinary text, so "<div>tag" is
// never mistaken for an opener.
type Filter struct {
	state         State
	buf           strings.Builder // pending bytes that might be a partial tag
	currentCloser string          // e.g. "</thinking>", set while InsideThinking
}

// NewFilter returns a filter starting in Visible state.
func NewFilter() *Filter {
	return &Filter{}
}

// Result is one decoded increment of a Write call.
type Result struct {
	Visible  string
	Thinking string
}

// Write feeds the next chunk of streamed text and returns the visible and
// thinking text decoded so far from it. Call Flush after the stream ends
// to release anything still held in the look-ahead buffer.
func (f *Filter) Write(chunk string) Result {
	f.buf.WriteString(chunk)
	return f.drain(false)
}

// Flush releases any buffered partial tag as plain text in the filter's
// current state. An unclosed opening tag (e.g. "<thinking>a" with no
// closing tag before the stream ends) is treated as thinking text that
// extends to the end of the stream.
func (f *Filter) Flush() Result {
	return f.drain(true)
}

func (f *Filter) drain(final bool) Result {
	var res Result
	for {
		s := f.buf.String()
		if s == "" {
			return res
		}

		switch f.state {
		case Visible:
			idx := strings.IndexByte(s, '<')
			if idx == -1 {
				res.Visible += s
				f.buf.Reset()
				return res
			}
			// Emit everything before the candidate tag.
			res.Visible += s[:idx]
			rest := s[idx:]

			tagName, consumed, isOpener := matchOpener(rest)
			if isOpener {
				res.Visible += "" // no-op, keeps symmetry readable
				f.buf.Reset()
				f.buf.WriteString(rest[consumed:])
				f.state = InsideThinking
				f.currentCloser = "</" + tagName + ">"
				continue
			}
			if !final && len(rest) < maxTagLen+2 {
				// Might still become a known opener with more input.
				f.buf.Reset()
				f.buf.WriteString(rest)
				return res
			}
			// Not a known tag (or stream ended): emit the "<" literally
			// and keep scanning the remainder.
			res.Visible += rest[:1]
			f.buf.Reset()
			f.buf.WriteString(rest[1:])
			if rest[1:] == "" {
				return res
			}

		case InsideThinking:
			closer := f.currentCloser
			idx := strings.Index(strings.ToLower(s), strings.ToLower(closer))
			if idx == -1 {
				if final {
					res.Thinking += s
					f.buf.Reset()
					return res
				}
				// Keep the suffix that could be the start of the closer.
				keep := len(closer) - 1
				if keep > len(s) {
					keep = len(s)
				}
				cut := len(s) - keep
				if cut > 0 {
					res.Thinking += s[:cut]
				}
				f.buf.Reset()
				f.buf.WriteString(s[cut:])
				return res
			}
			res.Thinking += s[:idx]
			f.buf.Reset()
			f.buf.WriteString(s[idx+len(closer):])
			f.state = Visible
			f.currentCloser = ""
		}
	}
}

// matchOpener reports whether s begins with one of the known opening
// tags (case-insensitive), returning the tag name and the number of
// bytes its "<name>" form consumes.
func matchOpener(s string) (tagName string, consumed int, ok bool) {
	lower := strings.ToLower(s)
	for _, t := range tags {
		open := "<" + t + ">"
		if strings.HasPrefix(lower, open) {
			return t, len(open), true
		}
	}
	return "", 0, false
}

// ContentBlock is a structured provider content item; only Type=="text"
// blocks carry stripped text, everything else passes through untouched.
type ContentBlock struct {
	Type string
	Text string
}

// StripBatch removes thinking spans from a fully materialized response.
// It greedily matches non-overlapping closed <tag>...</tag> pairs, then
// trims any trailing unclosed opener (a thinking span that never closed
// before the response ended).
func StripBatch(text string) string {
	out := stripClosedPairs(text)
	out = trimUnclosedSuffix(out)
	return out
}

func stripClosedPairs(text string) string {
	for _, t := range tags {
		re := regexp.MustCompile(`(?is)<` + t + `>.*?</` + t + `>`)
		text = re.ReplaceAllString(text, "")
	}
	return text
}

func trimUnclosedSuffix(text string) string {
	lower := strings.ToLower(text)
	earliest := -1
	for _, t := range tags {
		if idx := strings.LastIndex(lower, "<"+t+">"); idx != -1 {
			if earliest == -1 || idx < earliest {
				earliest = idx
			}
		}
	}
	if earliest == -1 {
		return text
	}
	return text[:earliest]
}

// StripBlocks filters a slice of structured content blocks, keeping
// non-text blocks verbatim, running StripBatch over each text block on
// its own and dropping text blocks left empty. Blocks are not merged.
func StripBlocks(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if b.Type != "text" {
			out = append(out, b)
			continue
		}
		stripped := StripBatch(b.Text)
		if stripped == "" {
			continue
		}
		out = append(out, ContentBlock{Type: "text", Text: stripped})
	}
	return out
}
