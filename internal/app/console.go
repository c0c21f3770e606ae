package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"game-framework/internal/host"
)

// ConsoleRuntime receives console lines.
type ConsoleRuntime interface {
	NextTick(fn func()) host.Timer
	ConsoleCommand(name string, args ...string)
}

// ReadConsole turns each non-empty line of r into a console command on rt's
// next tick. It returns when r is exhausted or ctx is done; a blocked read is
// only noticed after the next line arrives.
func ReadConsole(ctx context.Context, r io.Reader, rt ConsoleRuntime) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		name, args := fields[0], fields[1:]
		rt.NextTick(func() { rt.ConsoleCommand(name, args...) })
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read console: %w", err)
	}
	return nil
}
