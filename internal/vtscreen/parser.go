// Package vtscreen provides the terminal-emulator half of a session: it
// feeds raw PTY bytes through a VT100/xterm-256color emulator and exposes
// the resulting screen, cursor position, and scrollback.
//
// It wraps github.com/charmbracelet/x/vt, which properly handles the
// alternate screen buffer (CSI ?1049h/l), carriage return for in-place
// updates (spinners, progress bars), and full VT100/xterm-256color escape
// sequences — state no hand-rolled parser reproduces faithfully.
package vtscreen

import (
	"hash/fnv"
	"image/color"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// DefaultScrollback is the scrollback buffer size used when a session does
// not request a different one.
const DefaultScrollback = 10000

// Parser wraps the charmbracelet/x/vt terminal emulator with a bounded
// scrollback buffer of lines added through AddToScrollback. Process does not
// move lines that scroll off the visible screen into that buffer.
type Parser struct {
	mu sync.Mutex

	term vt.Terminal

	rows, cols int

	scrollback    []string
	maxScrollback int
}

// CellInfo holds the character and formatting for a single screen cell.
type CellInfo struct {
	Char rune
	FG   color.Color
	BG   color.Color
	Bold bool
	Dim  bool
}

// New creates a parser with the default scrollback limit.
func New(rows, cols int) *Parser {
	return NewWithScrollback(rows, cols, DefaultScrollback)
}

// NewWithScrollback creates a parser with a custom scrollback limit.
func NewWithScrollback(rows, cols, scrollback int) *Parser {
	term := vt.NewSafeEmulator(cols, rows)

	return &Parser{
		term:          term,
		rows:          rows,
		cols:          cols,
		scrollback:    make([]string, 0),
		maxScrollback: scrollback,
	}
}

// Process feeds bytes to the terminal emulator. Safe for concurrent use
// with the accessor methods below; the emulator does its own locking, the
// scrollback fields are protected by the parser's own mutex.
func (p *Parser) Process(data []byte) {
	p.term.Write(data)
}

// Size returns the current terminal dimensions.
func (p *Parser) Size() (rows, cols int) {
	return p.term.Height(), p.term.Width()
}

// SetSize resizes the terminal's visible screen.
func (p *Parser) SetSize(rows, cols int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.rows = rows
	p.cols = cols
	p.term.Resize(cols, rows)
}

// CursorPosition returns the current cursor position (row, col), 0-indexed.
func (p *Parser) CursorPosition() (row, col int) {
	pos := p.term.CursorPosition()
	return pos.Y, pos.X
}

// GetScreen returns the visible screen as plain-text lines, no ANSI.
func (p *Parser) GetScreen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	lines := make([]string, p.rows)
	for y := 0; y < p.rows; y++ {
		var line []rune
		for x := 0; x < p.cols; x++ {
			cell := p.term.CellAt(x, y)
			if cell != nil && cell.Content != "" {
				runes := []rune(cell.Content)
				if len(runes) > 0 {
					line = append(line, runes[0])
				} else {
					line = append(line, ' ')
				}
			} else {
				line = append(line, ' ')
			}
		}
		lines[y] = string(line)
	}
	return lines
}

// GetScreenCells returns the raw cell content and formatting for direct,
// cell-by-cell rendering.
func (p *Parser) GetScreenCells() [][]CellInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	cells := make([][]CellInfo, p.rows)

	for y := 0; y < p.rows; y++ {
		cells[y] = make([]CellInfo, p.cols)
		for x := 0; x < p.cols; x++ {
			cell := p.term.CellAt(x, y)

			info := CellInfo{Char: ' '}

			if cell != nil {
				if cell.Content != "" {
					runes := []rune(cell.Content)
					if len(runes) > 0 {
						info.Char = runes[0]
					}
				}
				info.FG = cell.Style.Fg
				info.BG = cell.Style.Bg
				info.Bold = cell.Style.Attrs&uv.AttrBold != 0
				info.Dim = cell.Style.Attrs&uv.AttrFaint != 0
			}

			cells[y][x] = info
		}
	}

	return cells
}

// GetScreenAsANSI renders the screen with ANSI escape sequences, suitable
// for handing to another real terminal.
func (p *Parser) GetScreenAsANSI() string {
	return p.term.Render()
}

// GetScreenHash computes a change-detection hash over cell contents and
// cursor position.
func (p *Parser) GetScreenHash() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := fnv.New64a()

	for y := 0; y < p.rows; y++ {
		for x := 0; x < p.cols; x++ {
			cell := p.term.CellAt(x, y)
			if cell != nil && cell.Content != "" {
				h.Write([]byte(cell.Content))
			}
		}
	}

	pos := p.term.CursorPosition()
	h.Write([]byte{byte(pos.Y), byte(pos.X)})
	h.Write([]byte{byte(len(p.scrollback))})

	return h.Sum64()
}

// Clear resets the terminal to its initial state.
func (p *Parser) Clear() {
	p.term.Write([]byte("\x1b[0m\x1b[2J\x1b[3J\x1b[H"))
}

// ClearScrollback empties the scrollback buffer.
func (p *Parser) ClearScrollback() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scrollback = p.scrollback[:0]
}

// ScrollbackCount returns the number of retained scrollback lines.
func (p *Parser) ScrollbackCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.scrollback)
}

// AddToScrollback appends a line to the scrollback buffer, trimming the
// oldest line once the configured limit is exceeded.
func (p *Parser) AddToScrollback(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scrollback = append(p.scrollback, line)
	if len(p.scrollback) > p.maxScrollback {
		p.scrollback = p.scrollback[1:]
	}
}

// GetScrollback returns a copy of the scrollback buffer.
func (p *Parser) GetScrollback() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := make([]string, len(p.scrollback))
	copy(result, p.scrollback)
	return result
}

// GetContents returns the visible screen as a single newline-joined string.
func (p *Parser) GetContents() string {
	lines := p.GetScreen()
	result := ""
	for i, line := range lines {
		result += line
		if i < len(lines)-1 {
			result += "\n"
		}
	}
	return result
}
