package runner

import (
	"bytes"
	"errors"
	"io"
	"os"
)

// maxLine bounds the carry-over so a child that never writes a newline cannot
// grow it without limit; a longer run is emitted early as a line of its own.
const maxLine = 1 << 20

// splitLines reads r until EOF and calls emit once per complete line. CRLF is
// normalized to LF and an unterminated tail is emitted at EOF.
func splitLines(r io.Reader, emit func(string)) error {
	buf := make([]byte, 32*1024)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			carry = append(carry, buf[:n]...)
			carry = bytes.ReplaceAll(carry, []byte("\r\n"), []byte("\n"))
			for {
				i := bytes.IndexByte(carry, '\n')
				if i < 0 {
					break
				}
				emit(string(carry[:i]))
				carry = carry[i+1:]
			}
			if len(carry) > maxLine {
				emit(string(carry))
				carry = nil
			}
			carry = bytes.Clone(carry)
		}
		if err != nil {
			if tail := bytes.TrimSuffix(carry, []byte("\r")); len(tail) > 0 {
				emit(string(tail))
			}
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}
