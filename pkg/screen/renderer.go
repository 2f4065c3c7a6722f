// Package screen is the display sink: a small character page that the
// navigator writes positions and status messages to.
package screen

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/Krajiyah/ble-navigator/pkg/util"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"
)

var log = logging.Logger("screen")

const (
	// CellWidth and CellHeight map pixel coordinates onto character cells
	// for the 5x7 font.
	CellWidth  = 6
	CellHeight = 8

	// StartupText is drawn when the display comes up.
	StartupText = "SERVICE UP"
)

// ErrOffScreen is returned when text would start outside the page.
var ErrOffScreen = errors.New("position is off screen")

// Display is the contract the navigator draws through.
type Display interface {
	DisplayText(text string, x, y int) error
	DisplayCentered(text string) error
	SignalPositionLost() error
}

// Renderer keeps a character page and writes it out after every change.
// It is safe for concurrent use.
type Renderer struct {
	out  io.Writer
	cols int
	rows int

	mu   sync.Mutex
	page [][]rune
}

// NewRenderer returns a cols x rows page flushed to out.
func NewRenderer(out io.Writer, cols, rows int) *Renderer {
	r := &Renderer{out: out, cols: cols, rows: rows}
	r.page = r.blank()
	return r
}

func (r *Renderer) blank() [][]rune {
	page := make([][]rune, r.rows)
	for i := range page {
		page[i] = []rune(strings.Repeat(" ", r.cols))
	}
	return page
}

// Start draws the startup page.
func (r *Renderer) Start() error {
	return r.DisplayText(StartupText, 2, 10)
}

// DisplayText clears the page and prints text from pixel position (x, y).
// Text that reaches the right edge wraps onto the next row; anything past
// the last row is cut.
func (r *Renderer) DisplayText(text string, x, y int) error {
	col, row := x/CellWidth, y/CellHeight
	if x < 0 || y < 0 || col >= r.cols || row >= r.rows {
		return errors.Wrapf(ErrOffScreen, "(%d,%d)", x, y)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = r.blank()
	for _, ch := range text {
		if ch == '\n' {
			col, row = 0, row+1
			continue
		}
		if col >= r.cols {
			col, row = 0, row+1
		}
		if row >= r.rows {
			break
		}
		r.page[row][col] = ch
		col++
	}
	return r.flush()
}

// DisplayCentered clears the page and prints text in the middle of it.
func (r *Renderer) DisplayCentered(text string) error {
	runes := []rune(text)
	if len(runes) > r.cols {
		runes = runes[:r.cols]
	}
	col := (r.cols - len(runes)) / 2
	row := (r.rows - 1) / 2
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = r.blank()
	copy(r.page[row][col:], runes)
	return r.flush()
}

// SignalPositionLost shows the position lost marker.
func (r *Renderer) SignalPositionLost() error {
	return r.DisplayCentered(util.PositionLostMarker)
}

// Lines returns the current page, one string per row.
func (r *Renderer) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := make([]string, len(r.page))
	for i, row := range r.page {
		lines[i] = string(row)
	}
	return lines
}

func (r *Renderer) flush() error {
	if r.out == nil {
		return nil
	}
	var buf bytes.Buffer
	border := "+" + strings.Repeat("-", r.cols) + "+\n"
	buf.WriteString(border)
	for _, row := range r.page {
		buf.WriteString("|")
		buf.WriteString(string(row))
		buf.WriteString("|\n")
	}
	buf.WriteString(border)
	if _, err := r.out.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "display write issue")
	}
	return nil
}
