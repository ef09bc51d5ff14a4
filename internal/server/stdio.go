package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/chatterhq/slack-chatter/internal/mcp"
)

// maxStdioLine bounds a single request line on the stdio transport.
const maxStdioLine = 4 << 20

// Stdio is the line-oriented transport: one JSON object per line in,
// one per line out. The channel is local and pre-authenticated, so it
// runs a single implicit session over the given dispatcher.
type Stdio struct {
	dispatcher *mcp.Dispatcher
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger

	mu sync.Mutex // serializes writes to out
}

// NewStdio creates the stdio transport over the given streams. The
// caller keeps stdout reserved for protocol output and points logging
// elsewhere.
func NewStdio(d *mcp.Dispatcher, in io.Reader, out io.Writer, logger *slog.Logger) *Stdio {
	return &Stdio{
		dispatcher: d,
		in:         in,
		out:        out,
		logger:     logger,
	}
}

// Run reads request lines until EOF or ctx cancellation. Malformed
// JSON is answered with a parse error on the same channel; the loop
// itself only stops for I/O reasons, never for protocol ones.
func (s *Stdio) Run(ctx context.Context) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 64*1024), maxStdioLine)

		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())

			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}

		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading stdin: %w", err)
					}
				default:
				}

				s.logger.Info("stdio transport closed")

				return nil
			}

			if len(line) == 0 {
				continue
			}

			if err := s.respond(ctx, line); err != nil {
				return err
			}
		}
	}
}

func (s *Stdio) respond(ctx context.Context, line []byte) error {
	resp := serve(ctx, s.dispatcher, line)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}

	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing stdout: %w", err)
	}

	return nil
}
