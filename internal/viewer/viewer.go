// Package viewer holds the keyboard and overlay state of the live camera
// window. It has no camera or window dependencies so it can be tested alone.
package viewer

import (
	"fmt"
	"image"

	"github.com/menta2k/food-detector/internal/config"
	"github.com/menta2k/food-detector/pkg/processing"
)

// WindowTitle is the title of the live camera window
const WindowTitle = "Food Detection App - Press Q to Quit"

// Action is what the capture loop should do after a key press
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionSave
	ActionToggleHelp
	ActionTogglePause
)

// HelpLines is the on-screen help text
var HelpLines = []string{
	"Controls:",
	"Q - Quit",
	"S - Save frame",
	"H - Toggle help",
	"SPACE - Pause/Resume",
}

// Overlay text layout
const (
	helpX          = 10
	helpY          = 30
	helpLineHeight = 20
	statusMargin   = 20
	textSize       = 14
)

// PipelineConfig returns a copy of cfg suited to the capture loop. Frame labels
// show only name and confidence and the loop must never wait on the network,
// so fact enrichment is switched off.
func PipelineConfig(cfg *config.Config) *config.Config {
	out := *cfg
	out.Enrichment.Enabled = false
	return &out
}

// Controls tracks the viewer state between frames
type Controls struct {
	ShowHelp bool
	Paused   bool
	// Frames counts frames shown since start
	Frames int
}

// NewControls returns the initial state: help visible, running
func NewControls() *Controls {
	return &Controls{ShowHelp: true}
}

// HandleKey applies a key code as returned by the window toolkit. Codes
// carrying modifier bits are masked to their low byte; -1 means no key.
func (c *Controls) HandleKey(key int) Action {
	if key < 0 {
		return ActionNone
	}
	switch key & 0xFF {
	case 'q':
		return ActionQuit
	case 's':
		return ActionSave
	case 'h':
		c.ShowHelp = !c.ShowHelp
		return ActionToggleHelp
	case ' ':
		c.Paused = !c.Paused
		return ActionTogglePause
	}
	return ActionNone
}

// StatusLine is the text drawn at the bottom of every frame
func (c *Controls) StatusLine() string {
	status := "RUNNING"
	if c.Paused {
		status = "PAUSED"
	}
	return fmt.Sprintf("Frame: %d | Status: %s", c.Frames, status)
}

// Compose draws the help text (when visible) and the status line onto an
// annotated frame, then counts the frame.
func (c *Controls) Compose(a *processing.Annotator, frame *image.RGBA) {
	if c.ShowHelp {
		a.DrawTextLines(frame, HelpLines, image.Pt(helpX, helpY), textSize, helpLineHeight, processing.TextColor)
	}
	statusY := frame.Bounds().Max.Y - statusMargin
	a.DrawTextLines(frame, []string{c.StatusLine()}, image.Pt(helpX, statusY), textSize, helpLineHeight, processing.TextColor)
	c.Frames++
}
