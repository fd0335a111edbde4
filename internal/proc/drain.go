package proc

import (
	"bufio"
	"context"
	"io"
)

const maxDiagnosticLine = 1024 * 1024

// Drain reads r line by line and passes each line to emit until ctx is
// cancelled, r reaches EOF, or a read fails. Cancelling ctx closes r to
// unblock a pending read. The returned channel is closed when the drain exits.
func Drain(ctx context.Context, r io.ReadCloser, emit func(line string)) <-chan struct{} {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		r.Close()
	})

	go func() {
		defer close(done)
		defer stop()

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxDiagnosticLine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			emit(scanner.Text())
		}
	}()

	return done
}
