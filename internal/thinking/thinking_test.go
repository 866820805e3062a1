package thinking

import "testing"

func TestFilter_ClosedSpanWholeChunk(t *testing.T) {
	f := NewFilter()
	r := f.Write("<thinking>a</thinking>b")
	r2 := f.Flush()
	visible := r.Visible + r2.Visible
	think := r.Thinking + r2.Thinking
	if visible != "b" {
		t.Fatalf("expected visible %q, got %q", "b", visible)
	}
	if think != "a" {
		t.Fatalf("expected thinking %q, got %q", "a", think)
	}
}

func TestFilter_ClosedSpanCharByChar(t *testing.T) {
	input := "<thinking>a</thinking>b"
	f := NewFilter()
	var visible, think string
	for _, ch := range input {
		r := f.Write(string(ch))
		visible += r.Visible
		think += r.Thinking
	}
	r := f.Flush()
	visible += r.Visible
	think += r.Thinking

	if visible != "b" {
		t.Fatalf("expected visible %q, got %q", "b", visible)
	}
	if think != "a" {
		t.Fatalf("expected thinking %q, got %q", "a", think)
	}
}

func TestFilter_UnclosedTagFlushedAsThinking(t *testing.T) {
	f := NewFilter()
	r := f.Write("<thinking>a")
	r2 := f.Flush()
	if r.Thinking+r2.Thinking != "a" {
		t.Fatalf("expected thinking %q, got %q", "a", r.Thinking+r2.Thinking)
	}
	if r.Visible+r2.Visible != "" {
		t.Fatalf("expected no visible text, got %q", r.Visible+r2.Visible)
	}
}

func TestFilter_NonThinkingAngleBracketPassesThrough(t *testing.T) {
	f := NewFilter()
	r := f.Write("<div>tag")
	r2 := f.Flush()
	got := r.Visible + r2.Visible
	if got != "<div>tag" {
		t.Fatalf("expected %q, got %q", "<div>tag", got)
	}
}

func TestFilter_CaseInsensitiveTag(t *testing.T) {
	f := NewFilter()
	r := f.Write("<THINKING>secret</THINKING>visible")
	r2 := f.Flush()
	if r.Visible+r2.Visible != "visible" {
		t.Fatalf("expected visible text, got %q", r.Visible+r2.Visible)
	}
	if r.Thinking+r2.Thinking != "secret" {
		t.Fatalf("expected thinking text, got %q", r.Thinking+r2.Thinking)
	}
}

func TestStripBatch_ClosedPair(t *testing.T) {
	got := StripBatch("before<reasoning>hidden</reasoning>after")
	if got != "beforeafter" {
		t.Fatalf("expected %q, got %q", "beforeafter", got)
	}
}

func TestStripBatch_UnclosedSuffixTrimmed(t *testing.T) {
	got := StripBatch("answer<thought>trailing and never closed")
	if got != "answer" {
		t.Fatalf("expected %q, got %q", "answer", got)
	}
}

func TestStripBlocks_FlattensTextAndKeepsOthers(t *testing.T) {
	blocks := []ContentBlock{
		{Type: "text", Text: "<think>x</think>hello"},
		{Type: "tool_use", Text: "irrelevant"},
		{Type: "text", Text: "<think>only thinking"},
	}
	got := StripBlocks(blocks)
	if len(got) != 2 {
		t.Fatalf("expected 2 blocks (empty-after-strip text dropped), got %d: %+v", len(got), got)
	}
	if got[0].Text != "hello" {
		t.Fatalf("expected first block text %q, got %q", "hello", got[0].Text)
	}
	if got[1].Type != "tool_use" {
		t.Fatalf("expected second block to be passed through, got %+v", got[1])
	}
}
