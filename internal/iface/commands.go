package iface

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/thyrook/boardsight/internal/decision"
)

// ReadCommands parses one command per line from r and sends it on out.
// Unparseable lines are handed to onError and skipped. It returns nil at
// end of input and ctx.Err() when cancelled.
func ReadCommands(ctx context.Context, r io.Reader, out chan<- decision.Command, onError func(error)) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		cmd, err := decision.ParseCommand(scanner.Text())
		if err != nil {
			if onError != nil {
				onError(err)
			}
			continue
		}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
		if cmd.Action == decision.ActionQuit {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read commands: %w", err)
	}
	return nil
}
