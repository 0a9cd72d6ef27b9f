// Package stream turns the backend's newline-delimited JSON response into
// frames and feeds them to an execution session.
package stream

import "bytes"

// Decoder splits an NDJSON byte stream into frames. Bytes are buffered until a
// newline arrives, so frames and multi-byte characters may be split across
// chunks at any offset. The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk and returns every complete, non-blank frame in order.
// Surrounding whitespace is trimmed from each frame.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var frames []string
	consumed := 0
	for {
		i := bytes.IndexByte(d.buf[consumed:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(d.buf[consumed : consumed+i])
		if len(line) > 0 {
			frames = append(frames, string(line))
		}
		consumed += i + 1
	}

	if consumed > 0 {
		d.buf = append(d.buf[:0], d.buf[consumed:]...)
	}
	return frames
}

// Flush returns whatever is buffered as a final frame, if it is not blank,
// and resets the decoder.
func (d *Decoder) Flush() (string, bool) {
	line := bytes.TrimSpace(d.buf)
	d.buf = nil
	if len(line) == 0 {
		return "", false
	}
	return string(line), true
}

// Buffered reports how many bytes are waiting for a newline.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
