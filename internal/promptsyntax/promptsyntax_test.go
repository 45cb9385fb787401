package promptsyntax

import "testing"

func hasKind(spans []Span, kind string) bool {
	for _, s := range spans {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func TestHighlightMarkdown(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	text := "# Title\nsome *word* and `code`\n```\nfenced\n```\nplain"
	spans := h.Highlight(text)

	if !hasKind(spans[0], KindHeading) {
		t.Fatalf("line 0 spans = %+v, want heading", spans[0])
	}
	if !hasKind(spans[1], KindEmphasis) || !hasKind(spans[1], KindCode) {
		t.Fatalf("line 1 spans = %+v, want emphasis and code", spans[1])
	}
	if !hasKind(spans[3], KindCode) {
		t.Fatalf("line 3 spans = %+v, want code", spans[3])
	}
	if len(spans[5]) != 0 {
		t.Fatalf("line 5 spans = %+v, want none", spans[5])
	}
}

func TestHighlightRuneColumns(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	spans := h.Highlight("ééé `x`")
	var code *Span
	for i := range spans[0] {
		if spans[0][i].Kind == KindCode {
			code = &spans[0][i]
		}
	}
	if code == nil {
		t.Fatalf("spans = %+v, want code span", spans[0])
	}
	if code.StartCol != 4 || code.EndCol != 7 {
		t.Fatalf("code span = %d..%d, want 4..7", code.StartCol, code.EndCol)
	}
}

func TestHighlightCachesLastText(t *testing.T) {
	h, err := New()
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	a := h.Highlight("# a")
	b := h.Highlight("# a")
	if len(a[0]) == 0 || &a[0][0] != &b[0][0] {
		t.Fatalf("second Highlight did not reuse the cached result")
	}
	if len(h.Highlight("")) != 0 {
		t.Fatalf("empty text produced spans")
	}
}
