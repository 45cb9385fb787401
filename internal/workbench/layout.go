package workbench

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/kobzarvs/lensbench/internal/selection"
	"github.com/kobzarvs/lensbench/internal/tokens"
)

// tokenCell is where one token is drawn. Row is relative to the strip.
type tokenCell struct {
	idx  int
	x    int
	row  int
	text string
	w    int
}

// displayText makes whitespace inside a token visible.
func displayText(text string) string {
	if text == "" {
		return "∅"
	}
	r := strings.NewReplacer("\n", "↵", "\t", "→", "\r", "")
	return r.Replace(text)
}

// layoutTokens wraps tokens into rows of width cells. A token that ends in a
// newline ends its row.
func layoutTokens(toks []tokens.Token, width int, sep string) []tokenCell {
	if width <= 0 {
		return nil
	}
	sepW := runewidth.StringWidth(sep)
	cells := make([]tokenCell, 0, len(toks))
	x, row := 0, 0
	for _, t := range toks {
		text := displayText(t.Text)
		w := runewidth.StringWidth(text)
		if w == 0 {
			w = 1
		}
		if w > width {
			text = runewidth.Truncate(text, width, "…")
			w = runewidth.StringWidth(text)
		}
		if x > 0 && x+w > width {
			x, row = 0, row+1
		}
		cells = append(cells, tokenCell{idx: t.Idx, x: x, row: row, text: text, w: w})
		x += w + sepW
		if strings.HasSuffix(t.Text, "\n") || x >= width {
			x, row = 0, row+1
		}
	}
	return cells
}

func rowsOf(cells []tokenCell) int {
	if len(cells) == 0 {
		return 0
	}
	return cells[len(cells)-1].row + 1
}

// hitToken maps a strip position to a token index.
func hitToken(cells []tokenCell, x, row int) int {
	for _, c := range cells {
		if c.row == row && x >= c.x && x < c.x+c.w {
			return c.idx
		}
	}
	return selection.NoToken
}

// lineCol converts a rune offset into a row and column of the prompt.
func lineCol(text []rune, offset int) (int, int) {
	row, col := 0, 0
	for i := 0; i < offset && i < len(text); i++ {
		if text[i] == '\n' {
			row++
			col = 0
			continue
		}
		col++
	}
	return row, col
}

// offsetOf is the inverse of lineCol, clamping col to the line length.
func offsetOf(text []rune, row, col int) int {
	r, c := 0, 0
	for i, ch := range text {
		if r == row && (c == col || ch == '\n') {
			return i
		}
		if ch == '\n' {
			r++
			c = 0
			continue
		}
		c++
	}
	return len(text)
}
