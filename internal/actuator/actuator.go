// Package actuator implements the serial handshake with the sorting microcontroller.
//
// The wire protocol is line-oriented ASCII at 9600 baud. The host writes exactly
// one command per run, BOTOL when a bottle was detected and TIDAK otherwise, and
// the board answers with zero or more status lines terminated by SELESAI.
package actuator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Command is a newline-terminated instruction sent to the board.
type Command string

// Commands understood by the firmware.
const (
	CommandBottle   Command = "BOTOL\n"
	CommandNoBottle Command = "TIDAK\n"
)

// AckDone is the status line that ends an exchange.
const AckDone = "SELESAI"

// pointsPrefix marks the score line the board sends after handling a bottle.
const pointsPrefix = "poin:"

var (
	// ErrAckTimeout is returned when the board does not finish within the ack timeout.
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
	// ErrConnectionClosed is returned when the stream ends before the board finishes.
	ErrConnectionClosed = errors.New("connection closed before acknowledgement")
)

// Token returns the command without its line terminator.
func (c Command) Token() string {
	return strings.TrimSuffix(string(c), "\n")
}

// CommandFor returns the command for a detection outcome.
func CommandFor(detected bool) Command {
	if detected {
		return CommandBottle
	}
	return CommandNoBottle
}

// Ack collects what the board reported before SELESAI.
type Ack struct {
	Lines     []string
	Points    int
	HasPoints bool
}

func (a *Ack) record(token string) {
	a.Lines = append(a.Lines, token)

	if !strings.HasPrefix(token, pointsPrefix) {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(token, pointsPrefix)))
	if err != nil {
		return
	}
	a.Points = n
	a.HasPoints = true
}

// Signal writes the single command matching the outcome.
func Signal(w io.Writer, detected bool) (Command, error) {
	cmd := CommandFor(detected)
	if _, err := io.WriteString(w, string(cmd)); err != nil {
		return cmd, fmt.Errorf("write command %s: %w", cmd.Token(), err)
	}
	return cmd, nil
}

// AwaitAck reads lines from r until one equals SELESAI after trimming whitespace.
// Other lines are kept in the returned Ack. A timeout of zero or less waits
// until the context is done.
//
// The read happens on a separate goroutine which stays blocked in r after a
// timeout; closing the underlying connection releases it.
func AwaitAck(ctx context.Context, r io.Reader, timeout time.Duration) (Ack, error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		errc <- err
	}()

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var ack Ack
	for {
		select {
		case <-ctx.Done():
			return ack, ctx.Err()
		case <-deadline:
			return ack, fmt.Errorf("%w after %s", ErrAckTimeout, timeout)
		case line := <-lines:
			token := strings.TrimSpace(line)
			if token == AckDone {
				return ack, nil
			}
			if token != "" {
				ack.record(token)
			}
		case err := <-errc:
			if errors.Is(err, io.EOF) {
				return ack, ErrConnectionClosed
			}
			return ack, fmt.Errorf("read acknowledgement: %w", err)
		}
	}
}

// Exchange sends the command for detected on rw and waits for the board to finish.
func Exchange(ctx context.Context, rw io.ReadWriter, detected bool, timeout time.Duration) (Command, Ack, error) {
	cmd, err := Signal(rw, detected)
	if err != nil {
		return cmd, Ack{}, err
	}
	ack, err := AwaitAck(ctx, rw, timeout)
	return cmd, ack, err
}
