package main

import (
	"bytes"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// enterRawMode switches f to raw mode so single key presses are delivered
// without Enter. The returned restore func is always safe to call.
func enterRawMode(f *os.File) (restore func(), raw bool) {
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, false
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		log.Warn().Err(err).Msg("raw terminal mode unavailable, keys need Enter")
		return func() {}, false
	}
	return func() { _ = term.Restore(fd, state) }, true
}

// crlfWriter turns bare line feeds into CRLF, which raw terminals need to
// return the cursor to the first column.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(p []byte) (int, error) {
	if !bytes.Contains(p, []byte{'\n'}) {
		return c.w.Write(p)
	}
	out := make([]byte, 0, len(p)+8)
	for i, b := range p {
		if b == '\n' && (i == 0 || p[i-1] != '\r') {
			out = append(out, '\r')
		}
		out = append(out, b)
	}
	if _, err := c.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}
