// Package promptsyntax highlights markdown in prompt text with the
// tree-sitter markdown block and inline grammars.
package promptsyntax

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	tree_sitter_markdown "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown"
	tree_sitter_markdown_inline "github.com/smacker/go-tree-sitter/markdown/tree-sitter-markdown-inline"
)

// Span covers runes [StartCol, EndCol) of one line.
type Span struct {
	StartCol int
	EndCol   int
	Kind     string
}

const (
	KindHeading     = "heading"
	KindEmphasis    = "emphasis"
	KindCode        = "code"
	KindLink        = "link"
	KindPunctuation = "punctuation"
)

type Highlighter struct {
	mu          sync.Mutex
	block       *sitter.Parser
	inline      *sitter.Parser
	blockQuery  *sitter.Query
	inlineQuery *sitter.Query

	lastText  string
	lastSpans map[int][]Span
}

func New() (*Highlighter, error) {
	blockQuery, err := sitter.NewQuery([]byte(blockHighlightQuery), tree_sitter_markdown.GetLanguage())
	if err != nil {
		return nil, err
	}
	inlineQuery, err := sitter.NewQuery([]byte(inlineHighlightQuery), tree_sitter_markdown_inline.GetLanguage())
	if err != nil {
		return nil, err
	}
	block := sitter.NewParser()
	block.SetLanguage(tree_sitter_markdown.GetLanguage())
	inline := sitter.NewParser()
	inline.SetLanguage(tree_sitter_markdown_inline.GetLanguage())
	return &Highlighter{
		block:       block,
		inline:      inline,
		blockQuery:  blockQuery,
		inlineQuery: inlineQuery,
	}, nil
}

// Highlight returns spans per line of text. Results for the most recent text
// are cached.
func (h *Highlighter) Highlight(text string) map[int][]Span {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lastSpans != nil && text == h.lastText {
		return h.lastSpans
	}
	out := h.highlight(text)
	h.lastText, h.lastSpans = text, out
	return out
}

func (h *Highlighter) highlight(text string) map[int][]Span {
	out := make(map[int][]Span)
	if text == "" {
		return out
	}
	source := []byte(text)
	tree, err := h.block.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		return out
	}
	defer tree.Close()

	lines := strings.Split(text, "\n")
	addSpans(out, lines, queryHighlights(h.blockQuery, tree.RootNode(), source))

	codeRows := fencedRows(tree.RootNode())
	for row, line := range lines {
		if line == "" {
			continue
		}
		if codeRows[row] {
			out[row] = append(out[row], Span{StartCol: 0, EndCol: utf8.RuneCountInString(line), Kind: KindCode})
			continue
		}
		inlineTree, err := h.inline.ParseCtx(context.Background(), nil, []byte(line))
		if err != nil || inlineTree == nil {
			continue
		}
		for _, r := range queryHighlights(h.inlineQuery, inlineTree.RootNode(), []byte(line)) {
			if r.startRow != 0 {
				continue
			}
			r.startRow += row
			r.endRow = row
			addSpans(out, lines, []byteRange{r})
		}
		inlineTree.Close()
	}

	for row := range out {
		sort.SliceStable(out[row], func(i, j int) bool { return out[row][i].StartCol < out[row][j].StartCol })
	}
	return out
}

// byteRange is one capture in byte columns.
type byteRange struct {
	startRow, startCol int
	endRow, endCol     int
	kind               string
}

func queryHighlights(query *sitter.Query, root *sitter.Node, source []byte) []byteRange {
	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(query, root)

	var out []byteRange
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, source)
		if match == nil {
			continue
		}
		for _, capture := range match.Captures {
			start, end := capture.Node.StartPoint(), capture.Node.EndPoint()
			out = append(out, byteRange{
				startRow: int(start.Row), startCol: int(start.Column),
				endRow: int(end.Row), endCol: int(end.Column),
				kind: query.CaptureNameForId(capture.Index),
			})
		}
	}
	return out
}

// addSpans splits multi-line ranges per row and converts byte columns to
// rune columns.
func addSpans(out map[int][]Span, lines []string, ranges []byteRange) {
	for _, r := range ranges {
		for row := r.startRow; row <= r.endRow && row < len(lines); row++ {
			line := lines[row]
			startCol, endCol := 0, math.MaxInt32
			if row == r.startRow {
				startCol = r.startCol
			}
			if row == r.endRow {
				endCol = r.endCol
			}
			start, end := runeCol(line, startCol), runeCol(line, endCol)
			if end <= start {
				continue
			}
			out[row] = append(out[row], Span{StartCol: start, EndCol: end, Kind: r.kind})
		}
	}
}

func runeCol(line string, byteCol int) int {
	if byteCol >= len(line) {
		return utf8.RuneCountInString(line)
	}
	return utf8.RuneCountInString(line[:byteCol])
}

// fencedRows marks the rows covered by fenced code blocks.
func fencedRows(root *sitter.Node) map[int]bool {
	rows := make(map[int]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n == nil {
			return
		}
		if n.Type() == "fenced_code_block" {
			end := int(n.EndPoint().Row)
			if n.EndPoint().Column == 0 && end > int(n.StartPoint().Row) {
				end--
			}
			for row := int(n.StartPoint().Row); row <= end; row++ {
				rows[row] = true
			}
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	return rows
}

const blockHighlightQuery = `
(atx_heading) @heading
(setext_heading) @heading
(thematic_break) @punctuation
(block_quote_marker) @punctuation
(list_marker_plus) @punctuation
(list_marker_minus) @punctuation
(list_marker_star) @punctuation
(list_marker_dot) @punctuation
(list_marker_parenthesis) @punctuation
(indented_code_block) @code
(link_reference_definition) @link
`

const inlineHighlightQuery = `
(code_span) @code
(emphasis) @emphasis
(strong_emphasis) @emphasis
(inline_link) @link
(full_reference_link) @link
(shortcut_link) @link
(uri_autolink) @link
`
