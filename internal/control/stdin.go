package control

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrQuit is returned by [ReadLines] when the operator asks to exit.
var ErrQuit = errors.New("control: quit requested")

// Command is one parsed input line.
type Command int

const (
	CmdUnknown Command = iota
	CmdDown
	CmdUp
	CmdToggle
	CmdStatus
	CmdQuit
)

// ParseCommand maps an input line to a [Command]. Matching ignores case and
// surrounding whitespace; an empty line toggles.
func ParseCommand(line string) Command {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "t", "toggle":
		return CmdToggle
	case "d", "down":
		return CmdDown
	case "u", "up":
		return CmdUp
	case "s", "status":
		return CmdStatus
	case "q", "quit", "exit":
		return CmdQuit
	default:
		return CmdUnknown
	}
}

// ReadLines applies one [Command] per line of r to m until r is exhausted,
// ctx is cancelled, or a quit command arrives.
//
// Reads happen on a helper goroutine because most readers (os.Stdin in
// particular) cannot be interrupted; after ctx is cancelled that goroutine
// exits on the next line or at EOF. End of input returns nil so a detached
// process keeps its other inputs.
func ReadLines(ctx context.Context, r io.Reader, m Machine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	slog.Info("stdin push-to-talk ready", "keys", "d=down u=up enter=toggle s=status q=quit")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("control: read input: %w", err)
					}
				default:
				}
				slog.Info("stdin closed, push-to-talk input stopped")
				return nil
			}
			if err := apply(ctx, m, ParseCommand(line), line); err != nil {
				return err
			}
		}
	}
}

func apply(ctx context.Context, m Machine, cmd Command, line string) error {
	switch cmd {
	case CmdDown:
		m.KeyDown(ctx)
	case CmdUp:
		m.KeyUp()
	case CmdToggle:
		m.Toggle(ctx)
	case CmdStatus:
		s, active := m.Current()
		if active {
			slog.Info("push-to-talk status", "state", m.State().String(), "session", s.ID, "frames", s.Frames)
		} else {
			slog.Info("push-to-talk status", "state", m.State().String())
		}
	case CmdQuit:
		return ErrQuit
	default:
		slog.Warn("unknown push-to-talk command", "input", line)
	}
	return nil
}
