package scanrig

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/pkg/errors"
)

// IntentKind is an operator request.
type IntentKind int

const (
	IntentCaptureBoth IntentKind = iota + 1
	IntentCapturePrimary
	IntentCaptureSecondary
	IntentToggleMode
	IntentToggleVerify
	IntentJump
	IntentQuit
)

func (k IntentKind) String() string {
	switch k {
	case IntentCaptureBoth:
		return "capture_both"
	case IntentCapturePrimary:
		return "capture_primary"
	case IntentCaptureSecondary:
		return "capture_secondary"
	case IntentToggleMode:
		return "toggle_mode"
	case IntentToggleVerify:
		return "toggle_verify"
	case IntentJump:
		return "jump"
	case IntentQuit:
		return "quit"
	}
	return "unknown"
}

// Intent is one inbound request for the dispatcher.
type Intent struct {
	Kind IntentKind
	// Number is the target image number of IntentJump.
	Number int
	// Source names the producer, e.g. "keyboard" or "signal".
	Source string
}

const ctrlC = 0x03

// ParseKey maps a single key press. Number entry is handled by ReadKeys.
func ParseKey(b byte) (Intent, bool) {
	var kind IntentKind
	switch b {
	case 'b', 'B', '\r', '\n':
		kind = IntentCaptureBoth
	case 'l', 'L':
		kind = IntentCapturePrimary
	case 'r', 'R':
		kind = IntentCaptureSecondary
	case 's', 'S':
		kind = IntentToggleMode
	case 'q', 'Q':
		kind = IntentToggleVerify
	case 'x', 'X', ctrlC:
		kind = IntentQuit
	default:
		return Intent{}, false
	}
	return Intent{Kind: kind, Source: "keyboard"}, true
}

// ReadKeys turns raw key presses from r into intents. Pressing 'n' or a digit
// starts number entry, finished by Enter and cancelled by Esc. echo, when
// non-nil, receives number entry feedback. EOF and the quit key both publish
// IntentQuit and stop reading.
func ReadKeys(ctx context.Context, r io.Reader, out chan<- Intent, echo io.Writer) error {
	br := bufio.NewReader(r)
	send := func(in Intent) bool {
		select {
		case out <- in:
			return true
		case <-ctx.Done():
			return false
		}
	}
	say := func(format string, args ...any) {
		if echo != nil {
			_, _ = fmt.Fprintf(echo, format, args...)
		}
	}

	typing := false
	var digits []byte
	var prev byte
	for {
		b, err := br.ReadByte()
		last := prev
		prev = b
		if err != nil {
			if errors.Is(err, io.EOF) {
				send(Intent{Kind: IntentQuit, Source: "keyboard"})
				return nil
			}
			return errors.Wrap(err, "read keys")
		}
		if ctx.Err() != nil {
			return nil
		}

		if typing {
			switch {
			case b >= '0' && b <= '9':
				digits = append(digits, b)
				say("%c", b)
				continue
			case b == '\r' || b == '\n':
				typing = false
				say("\r\n")
				if len(digits) == 0 {
					continue
				}
				n, convErr := strconv.Atoi(string(digits))
				digits = digits[:0]
				if convErr != nil {
					continue
				}
				if !send(Intent{Kind: IntentJump, Number: n, Source: "keyboard"}) {
					return nil
				}
				continue
			case b == 0x7f || b == 0x08:
				if len(digits) > 0 {
					digits = digits[:len(digits)-1]
					say("\b \b")
				}
				continue
			case b == 0x1b:
				typing = false
				digits = digits[:0]
				say(" cancelled\r\n")
				continue
			}
			typing = false
			digits = digits[:0]
			say("\r\n")
		}

		// In line-buffered input '\n' only terminates the key typed before it.
		if b == '\n' && last != 0 && last != '\n' {
			continue
		}
		if b == 'n' || b == 'N' {
			typing = true
			say("jump to image number: ")
			continue
		}
		if b >= '0' && b <= '9' {
			typing = true
			digits = append(digits[:0], b)
			say("jump to image number: %c", b)
			continue
		}
		in, ok := ParseKey(b)
		if !ok {
			continue
		}
		if !send(in) {
			return nil
		}
		if in.Kind == IntentQuit {
			return nil
		}
	}
}

// ListenSignals publishes a capture-both intent for every signal received,
// acting as an external shutter trigger.
func ListenSignals(ctx context.Context, out chan<- Intent, sigs ...os.Signal) error {
	if len(sigs) == 0 {
		return nil
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-ch:
			select {
			case out <- Intent{Kind: IntentCaptureBoth, Source: "signal:" + sig.String()}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
