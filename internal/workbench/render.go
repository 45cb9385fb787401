package workbench

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/mattn/go-runewidth"

	"github.com/kobzarvs/lensbench/internal/completion"
	"github.com/kobzarvs/lensbench/internal/config"
	"github.com/kobzarvs/lensbench/internal/promptsyntax"
	"github.com/kobzarvs/lensbench/internal/status"
	"github.com/kobzarvs/lensbench/internal/tokens"
)

type styles struct {
	main       tcell.Style
	statusline tcell.Style
	card       tcell.Style
	cardActive tcell.Style
	token      tcell.Style
	tokenAlt   tcell.Style
	highlight  tcell.Style
	groupEdge  tcell.Color
	target     tcell.Color
	prediction tcell.Style
	prob       tcell.Style
	indicator  map[status.Kind]tcell.Color
	syntax     map[string]tcell.Color
}

func newStyles(t config.Theme) styles {
	fg := parseColor(t.Foreground, tcell.ColorWhite)
	bg := parseColor(t.Background, tcell.ColorBlack)
	main := tcell.StyleDefault.Foreground(fg).Background(bg)
	tokFg := parseColor(t.TokenForeground, fg)
	predBg := parseColor(t.PredictionBackground, bg)
	return styles{
		main: main,
		statusline: tcell.StyleDefault.
			Foreground(parseColor(t.StatuslineForeground, fg)).
			Background(parseColor(t.StatuslineBackground, bg)),
		card:       main.Foreground(parseColor(t.CardForeground, fg)),
		cardActive: main.Foreground(parseColor(t.CardActiveForeground, fg)).Bold(true),
		token:      tcell.StyleDefault.Foreground(tokFg).Background(parseColor(t.TokenBackground, bg)),
		tokenAlt:   tcell.StyleDefault.Foreground(tokFg).Background(parseColor(t.TokenAltBackground, bg)),
		highlight: tcell.StyleDefault.
			Foreground(parseColor(t.HighlightForeground, bg)).
			Background(parseColor(t.HighlightBackground, tcell.ColorBlue)),
		groupEdge: parseColor(t.GroupEdgeForeground, tcell.ColorYellow),
		target:    parseColor(t.TargetForeground, tcell.ColorGreen),
		prediction: tcell.StyleDefault.
			Foreground(parseColor(t.PredictionForeground, fg)).
			Background(predBg),
		prob: tcell.StyleDefault.
			Foreground(parseColor(t.PredictionProbForeground, fg)).
			Background(predBg),
		indicator: map[status.Kind]tcell.Color{
			status.KindReady:   parseColor(t.StatusReady, fg),
			status.KindInfo:    parseColor(t.StatusInfo, fg),
			status.KindSuccess: parseColor(t.StatusSuccess, fg),
			status.KindError:   parseColor(t.StatusError, tcell.ColorRed),
			status.KindLoading: parseColor(t.StatusLoading, fg),
			status.KindWarning: parseColor(t.StatusWarning, fg),
		},
		syntax: map[string]tcell.Color{
			promptsyntax.KindHeading:     parseColor(t.SyntaxHeading, fg),
			promptsyntax.KindEmphasis:    parseColor(t.SyntaxEmphasis, fg),
			promptsyntax.KindCode:        parseColor(t.SyntaxCode, fg),
			promptsyntax.KindLink:        parseColor(t.SyntaxLink, fg),
			promptsyntax.KindPunctuation: parseColor(t.SyntaxPunctuation, fg),
		},
	}
}

// Render draws the whole workbench.
func (w *Workbench) Render(s tcell.Screen) {
	width, h := s.Size()
	if width <= 0 || h <= 0 {
		return
	}
	s.SetStyle(w.styles.main)
	s.Clear()

	statusY, cmdY := h-2, h-1
	w.renderTabs(s, width)
	w.cells = nil
	w.promptRows, w.stripRows = 0, 0

	cd := w.current()
	if cd == nil {
		if h > 2 {
			drawText(s, 1, 2, width, "No completions. Press ctrl+n to create one.", w.styles.card)
		}
		w.renderStatusline(s, nil, width, statusY)
		w.renderCommandline(s, width, cmdY)
		s.HideCursor()
		s.Show()
		return
	}

	y := 1
	avail := statusY - y
	lines := strings.Count(string(cd.prompt), "\n") + 1
	w.promptY = y
	w.promptRows = max(1, min(lines, avail/3))
	cx, cy, cursorVisible := w.renderPrompt(s, cd, width, y, w.promptRows)
	y += w.promptRows

	if y < statusY {
		w.renderSeparator(s, cd, width, y)
		y++
	}

	panelRows := 0
	if cd.orch.Visible() {
		panelRows = min(11, max(0, (statusY-y)/2))
	}
	w.stripY = y
	w.stripRows = max(0, statusY-y-panelRows)
	w.renderTokens(s, cd, width)
	y += w.stripRows
	if panelRows > 0 {
		w.renderPredictions(s, cd, width, y, panelRows)
	}

	w.renderStatusline(s, cd, width, statusY)
	if x, ok := w.renderCommandline(s, width, cmdY); ok {
		cx, cy, cursorVisible = x, cmdY, true
	}

	if !cursorVisible {
		s.HideCursor()
		s.Show()
		return
	}
	s.SetCursorStyle(tcell.CursorStyleSteadyBar)
	s.ShowCursor(cx, cy)
	s.Show()
}

func (w *Workbench) renderTabs(s tcell.Screen, width int) {
	clearLine(s, 0, width, w.styles.statusline)
	w.tabs = w.tabs[:0]
	x := 0
	for i, cd := range w.cards {
		label := fmt.Sprintf(" %d %s ", i+1, cd.orch.Completion().Name)
		style := w.styles.card
		if i == w.active {
			style = w.styles.cardActive
		}
		next := drawText(s, x, 0, width, label, style)
		w.tabs = append(w.tabs, tabCell{x: x, w: next - x, card: i})
		if next >= width {
			break
		}
		x = next + 1
	}
	right := ""
	if cd := w.current(); cd != nil && cd.orch.Model() != "" {
		right = " model: " + cd.orch.Model() + " "
	}
	if rw := runewidth.StringWidth(right); rw > 0 && x+rw <= width {
		drawText(s, width-rw, 0, width, right, w.styles.statusline)
	}
}

// renderPrompt draws the visible prompt lines and returns the cursor cell.
func (w *Workbench) renderPrompt(s tcell.Screen, cd *card, width, y, rows int) (int, int, bool) {
	row, col := lineCol(cd.prompt, cd.cursor)
	if row < cd.scroll {
		cd.scroll = row
	}
	if row >= cd.scroll+rows {
		cd.scroll = row - rows + 1
	}

	var spans map[int][]promptsyntax.Span
	if w.opts.Syntax != nil {
		spans = w.opts.Syntax.Highlight(string(cd.prompt))
	}
	lines := strings.Split(string(cd.prompt), "\n")
	cx, cy := 0, 0
	for i := 0; i < rows; i++ {
		lineIdx := cd.scroll + i
		clearLine(s, y+i, width, w.styles.main)
		if lineIdx >= len(lines) {
			continue
		}
		prefix := "  "
		if lineIdx == 0 {
			prefix = "> "
		}
		x := drawText(s, 0, y+i, width, prefix, w.styles.card)
		for c, r := range []rune(lines[lineIdx]) {
			if lineIdx == row && c == col {
				cx = x
			}
			rw := runewidth.RuneWidth(r)
			if r == '\t' {
				r, rw = ' ', 1
			}
			if rw == 0 {
				continue
			}
			if x+rw > width {
				break
			}
			s.SetContent(x, y+i, r, nil, w.spanStyle(spans[lineIdx], c))
			x += rw
		}
		if lineIdx == row && col >= len([]rune(lines[lineIdx])) {
			cx = x
		}
		if lineIdx == row {
			cy = y + i
		}
	}
	return min(cx, width-1), cy, w.mode == ModePrompt
}

func (w *Workbench) spanStyle(spans []promptsyntax.Span, col int) tcell.Style {
	style := w.styles.main
	for _, sp := range spans {
		if col >= sp.StartCol && col < sp.EndCol {
			if c, ok := w.styles.syntax[sp.Kind]; ok {
				style = style.Foreground(c)
			}
		}
	}
	return style
}

func stageText(st completion.State, toks *tokens.Model) string {
	var parts []string
	switch st.Tokenize {
	case completion.TokenizeIdle:
		parts = append(parts, "not tokenized")
	case completion.Tokenizing:
		parts = append(parts, "tokenizing…")
	case completion.Tokenized:
		parts = append(parts, fmt.Sprintf("%d tokens", toks.Len()))
	}
	if st.Stale {
		parts = append(parts, "prompt changed, ctrl+t to retokenize")
	}
	switch st.Predict {
	case completion.PredictIdle:
	case completion.Predicting:
		parts = append(parts, "predicting…")
	case completion.PredictReady:
		parts = append(parts, "predictions shown")
	}
	return strings.Join(parts, " · ")
}

func (w *Workbench) renderSeparator(s tcell.Screen, cd *card, width, y int) {
	label := "── " + stageText(cd.orch.State(), cd.orch.Tokens()) + " "
	x := drawText(s, 0, y, width, label, w.styles.card)
	for ; x < width; x++ {
		s.SetContent(x, y, '─', nil, w.styles.card)
	}
}

func (w *Workbench) renderTokens(s tcell.Screen, cd *card, width int) {
	toks := cd.orch.Tokens()
	if toks == nil || w.stripRows <= 0 {
		return
	}
	w.cells = layoutTokens(toks.Tokens(), width, w.opts.Config.Workbench.TokenSeparator)
	if maxScroll := max(0, rowsOf(w.cells)-w.stripRows); w.stripScroll > maxScroll {
		w.stripScroll = maxScroll
	}

	sel := cd.orch.Selection()
	targets := make(map[int]tokens.Annotation, len(cd.orch.Completion().Tokens))
	for _, a := range cd.orch.Completion().Tokens {
		targets[a.Idx] = a
	}
	focus := cd.orch.Focus()

	for _, c := range w.cells {
		y := w.stripY + c.row - w.stripScroll
		if y < w.stripY || y >= w.stripY+w.stripRows {
			continue
		}
		base := w.styles.token
		if c.idx%2 == 1 {
			base = w.styles.tokenAlt
		}
		info := sel.GroupInfo(c.idx)
		if info.Highlighted {
			base = w.styles.highlight
		}
		if a, ok := targets[c.idx]; ok && a.HasTarget() {
			base = base.Foreground(w.styles.target).Underline(true)
		}
		if c.idx == focus && cd.orch.Visible() {
			base = base.Reverse(true)
		}
		x := c.x
		runes := []rune(c.text)
		for i, r := range runes {
			style := base
			if info.Highlighted && ((info.Start && i == 0) || (info.End && i == len(runes)-1)) {
				style = style.Foreground(w.styles.groupEdge).Bold(true)
			}
			rw := runewidth.RuneWidth(r)
			if rw == 0 {
				continue
			}
			s.SetContent(x, y, r, nil, style)
			x += rw
		}
	}
}

func (w *Workbench) renderPredictions(s tcell.Screen, cd *card, width, y, rows int) {
	for i := 0; i < rows; i++ {
		clearLine(s, y+i, width, w.styles.prediction)
	}
	idx := cd.orch.Focus()
	tok, ok := cd.orch.Tokens().At(idx)
	preds, has := cd.orch.Predictions(idx)
	if !ok || !has {
		drawText(s, 1, y, width, "Click a highlighted token to see its predictions.", w.styles.prob)
		return
	}
	header := fmt.Sprintf("token %d %q", idx, tok.Text)
	var chosen *tokens.Annotation
	for i, a := range cd.orch.Completion().Tokens {
		if a.Idx == idx && a.HasTarget() {
			chosen = &cd.orch.Completion().Tokens[i]
		}
	}
	if chosen != nil {
		header += fmt.Sprintf(" → %q", chosen.TargetText)
	}
	drawText(s, 1, y, width, header, w.styles.prediction.Bold(true))
	for i, p := range preds {
		if i >= 9 || i+1 >= rows {
			break
		}
		mark := " "
		if chosen != nil && chosen.TargetID == p.ID {
			mark = "*"
		}
		x := drawText(s, 1, y+i+1, width, fmt.Sprintf("%d%s %-20q", i+1, mark, p.Text), w.styles.prediction)
		drawText(s, x+1, y+i+1, width, fmt.Sprintf("%5.1f%%", p.Prob*100), w.styles.prob)
	}
}

func indicatorIcon(k status.Kind) string {
	switch k {
	case status.KindReady:
		return "○"
	case status.KindInfo:
		return "ℹ"
	case status.KindSuccess:
		return "✓"
	case status.KindError:
		return "✗"
	case status.KindLoading:
		return "◌"
	case status.KindWarning:
		return "!"
	}
	return " "
}

func (w *Workbench) renderStatusline(s tcell.Screen, cd *card, width, y int) {
	if y < 0 {
		return
	}
	ind := status.Describe(w.opts.Status.Snapshot())
	left := " " + indicatorIcon(ind.Kind) + " " + ind.Message
	right := ""
	if cd != nil {
		right = fmt.Sprintf(" %d/%d ", w.active+1, len(w.cards))
	}
	line := composeStatusLine(left, right, width)
	kindStyle := w.styles.statusline.Foreground(w.styles.indicator[ind.Kind])
	leftLen := len([]rune(left))
	for x, r := range line {
		style := w.styles.statusline
		if x < leftLen {
			style = kindStyle
		}
		s.SetContent(x, y, r, nil, style)
	}
}

// renderCommandline draws the message line and returns the cursor column
// when a rename is being typed.
func (w *Workbench) renderCommandline(s tcell.Screen, width, y int) (int, bool) {
	if y < 0 {
		return 0, false
	}
	clearLine(s, y, width, w.styles.main)
	if w.mode == ModeRename {
		x := drawText(s, 0, y, width, "Rename: "+string(w.rename), w.styles.main)
		return min(x, width-1), true
	}
	drawText(s, 0, y, width, w.statusMessage, w.styles.main)
	return 0, false
}
