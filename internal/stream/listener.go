package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

const readBufferSize = 32 * 1024

// Listen reads r line by line into q until EOF or a read error, then closes
// q. Lines are split on '\n' with a trailing '\r' removed; a final line
// without a terminator is flushed at EOF. Invalid UTF-8 is replaced.
//
// Listen keeps reading after the queue's cap is reached so the writer never
// blocks on a full pipe.
func Listen(r io.Reader, q *Queue) {
	defer q.Close()

	br := bufio.NewReaderSize(r, readBufferSize)
	var partial []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(chunk) > 0 {
			if q.limit <= 0 || len(partial) < q.limit {
				partial = append(partial, chunk...)
			} else {
				q.markTruncated()
			}
		}

		switch err {
		case nil:
			q.Push(toLine(partial))
			partial = partial[:0]
		case bufio.ErrBufferFull:
			continue
		default:
			if len(partial) > 0 {
				q.Push(toLine(partial))
			}
			return
		}
	}
}

func toLine(raw []byte) string {
	raw = bytes.TrimSuffix(raw, []byte("\n"))
	raw = bytes.TrimSuffix(raw, []byte("\r"))
	return strings.ToValidUTF8(string(raw), "�")
}
