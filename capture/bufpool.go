package capture

import (
	"io"

	"github.com/mel2oo/netshark/mempool"
)

// frameStaging is the pooled scratch space Session uses to copy each
// record's payload out of the caller's chunk before handing ownership to a
// proto.Frame. Routing the copy through a bounded mempool.BufferPool keeps
// staging memory capped regardless of how large a single capture file is.
type frameStaging struct {
	pool mempool.BufferPool
}

const (
	frameStagingChunkBytes = 64 * 1024
	frameStagingMaxBytes   = 16 * 1024 * 1024
)

func newFrameStaging() *frameStaging {
	pool, err := mempool.MakeBufferPool(frameStagingMaxBytes, frameStagingChunkBytes)
	if err != nil {
		// Only possible with a misconfigured constant above.
		panic(err)
	}
	return &frameStaging{pool: pool}
}

// stage copies src into the pool-backed buffer and returns an owned slice
// with the same contents, or a direct copy if the pool can't supply enough
// chunks for src's length.
func (fs *frameStaging) stage(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	buf := fs.pool.NewBuffer()
	defer buf.Release()

	if _, err := buf.Write(src); err != nil {
		out := make([]byte, len(src))
		copy(out, src)
		return out
	}

	out := make([]byte, len(src))
	mv := buf.Bytes()
	r := mv.CreateReader()
	if _, err := io.ReadFull(r, out); err != nil {
		copy(out, src)
	}
	return out
}
