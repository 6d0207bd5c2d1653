// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "bytes"

// LineBuffer reassembles newline-delimited records from arbitrarily split
// byte chunks. The lines it yields depend only on the concatenated input,
// never on where the chunk boundaries fell.
type LineBuffer struct {
	buf []byte
}

// Feed appends chunk and returns every complete line now available,
// whitespace-trimmed, skipping empty ones. The returned slices are owned by
// the caller.
func (b *LineBuffer) Feed(chunk []byte) [][]byte {
	b.buf = append(b.buf, chunk...)

	var lines [][]byte
	start := 0
	for {
		i := bytes.IndexByte(b.buf[start:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(b.buf[start : start+i])
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		start += i + 1
	}

	if start > 0 {
		n := copy(b.buf, b.buf[start:])
		b.buf = b.buf[:n]
	}
	return lines
}

// Remainder returns the trimmed bytes after the last newline and resets the
// buffer. Servers may omit the final newline, so this is parsed as one more
// record once the transport reports end of data.
func (b *LineBuffer) Remainder() []byte {
	rest := bytes.TrimSpace(b.buf)
	b.buf = b.buf[:0]
	if len(rest) == 0 {
		return nil
	}
	return append([]byte(nil), rest...)
}

// Pending returns the number of buffered bytes not yet terminated by a newline.
func (b *LineBuffer) Pending() int {
	return len(b.buf)
}
