package player

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Controls is the button state sampled once per host frame.
type Controls struct {
	A     bool
	Left  bool
	Right bool
	Up    bool
	Down  bool
	L     bool
	R     bool
}

// pressed returns the buttons that went down since prev.
func (c Controls) pressed(prev Controls) Controls {
	return Controls{
		A:     c.A && !prev.A,
		Left:  c.Left && !prev.Left,
		Right: c.Right && !prev.Right,
		Up:    c.Up && !prev.Up,
		Down:  c.Down && !prev.Down,
		L:     c.L && !prev.L,
		R:     c.R && !prev.R,
	}
}

type inputState struct {
	prev   Controls
	hold   int
	locked bool
}

// HandleInput applies one frame of button state. Buttons act on the
// press edge. A toggles pause; left/right and down/up seek by the short
// and long step while playing. Holding L and R together for LockHold
// toggles a key lock that ignores every other button.
func (s *Session) HandleInput(c Controls) {
	defer func() { s.input.prev = c }()

	if s.state == StateStopped {
		return
	}

	if c.L && c.R {
		s.input.hold++
		// one toggle per hold; L and R must be released before the next
		if s.input.hold == s.lockHoldTicks() {
			s.input.locked = !s.input.locked
			logrus.WithFields(logrus.Fields{
				"function": "Session.HandleInput",
				"locked":   s.input.locked,
			}).Info("Key lock toggled")
		}
	} else {
		s.input.hold = 0
	}
	if s.input.locked {
		return
	}

	edge := c.pressed(s.input.prev)
	if edge.A {
		s.TogglePause()
	}
	if s.state != StatePlaying {
		return
	}

	var step time.Duration
	switch {
	case edge.Left:
		step = -s.cfg.SeekShortStep
	case edge.Right:
		step = s.cfg.SeekShortStep
	case edge.Down:
		step = -s.cfg.SeekLongStep
	case edge.Up:
		step = s.cfg.SeekLongStep
	}
	if step != 0 {
		s.SeekBy(step)
	}
}

// Locked reports whether the key lock is engaged.
func (s *Session) Locked() bool {
	return s.input.locked
}

func (s *Session) lockHoldTicks() int {
	return max(1, int(s.cfg.LockHold*time.Duration(s.cfg.DisplayRate)/time.Second))
}
