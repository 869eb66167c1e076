package engine

import (
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/mel2oo/netshark/capture"
)

// streamFile reads the capture file at path in chunkBytes-sized pieces,
// feeding each to sess.Append. Reading in chunks rather than slurping the
// file keeps peak memory proportional to the chunk size plus whatever
// trailing partial block the session retains, and exercises the same
// resumable-append path a live byte source would.
func streamFile(path string, chunkBytes int, sess *capture.Session) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "engine: open capture")
	}
	defer f.Close()

	buf := make([]byte, chunkBytes)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if aerr := sess.Append(buf[:n]); aerr != nil {
				return aerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "engine: read capture")
		}
	}
}
