// Package input reads operator answers from a terminal without blocking
// past cancellation.
package input

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrInputAborted is returned when reading stops because of Ctrl+C or a
// closed stdin.
var ErrInputAborted = errors.New("input aborted")

// ErrNotConfirmed is returned by Confirm when the answer does not match.
var ErrNotConfirmed = errors.New("not confirmed")

// IsAborted reports whether err means the operator gave up.
func IsAborted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInputAborted) || errors.Is(err, context.Canceled)
}

// MapInputError turns EOF and closed-descriptor errors into ErrInputAborted.
func MapInputError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
		return ErrInputAborted
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "use of closed file") ||
		strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "file already closed") {
		return ErrInputAborted
	}
	return err
}

// ReadLineWithContext reads one line. Cancellation yields ErrInputAborted,
// an expired deadline yields context.DeadlineExceeded.
func ReadLineWithContext(ctx context.Context, reader *bufio.Reader) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := reader.ReadString('\n')
		if err != nil && errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{line: line, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}
		return "", ErrInputAborted
	case res := <-ch:
		return res.line, res.err
	}
}

// ReadPasswordWithContext reads a secret with readPassword (normally
// term.ReadPassword) and honours cancellation like ReadLineWithContext.
func ReadPasswordWithContext(ctx context.Context, readPassword func(int) ([]byte, error), fd int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if readPassword == nil {
		return nil, errors.New("readPassword function is nil")
	}
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := readPassword(fd)
		ch <- result{b: b, err: MapInputError(err)}
	}()
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, context.DeadlineExceeded
		}
		return nil, ErrInputAborted
	case res := <-ch:
		return res.b, res.err
	}
}

// Confirm writes prompt to w and requires the operator to type expected.
func Confirm(ctx context.Context, r io.Reader, w io.Writer, prompt, expected string) error {
	fmt.Fprintf(w, "%s [type %q to continue]: ", prompt, expected)
	line, err := ReadLineWithContext(ctx, bufio.NewReader(r))
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != expected {
		return ErrNotConfirmed
	}
	return nil
}
