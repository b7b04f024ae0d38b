package wire

import (
	"compress/flate"
	"io"
)

// ChunkWriter adapts its chunk size to the underlying writer's
// backpressure: it grows geometrically up to maxChunk while writes
// succeed without error, and halves on any write error (standing in for
// the original's EAGAIN-driven adaptive chunk size over a non-blocking
// socket), matching §4.9's "chunked output" contract. A deflate
// compressor can optionally be inserted between producer and socket.
type ChunkWriter struct {
	w         io.Writer
	chunkSize int
	maxChunk  int
}

// NewChunkWriter wraps w with an adaptive chunk size, starting small and
// growing up to maxChunk.
func NewChunkWriter(w io.Writer, maxChunk int) *ChunkWriter {
	if maxChunk <= 0 {
		maxChunk = 64 * 1024
	}
	return &ChunkWriter{w: w, chunkSize: 4096, maxChunk: maxChunk}
}

// WriteChunked writes data in chunks of the writer's current adaptive
// size, growing the chunk size on success and halving it (down to a
// floor) after any short/failed write.
func (cw *ChunkWriter) WriteChunked(data []byte) error {
	for len(data) > 0 {
		n := cw.chunkSize
		if n > len(data) {
			n = len(data)
		}
		written, err := cw.w.Write(data[:n])
		if err != nil || written < n {
			cw.chunkSize /= 2
			if cw.chunkSize < 512 {
				cw.chunkSize = 512
			}
			if err != nil {
				return err
			}
			data = data[written:]
			continue
		}
		data = data[n:]
		cw.chunkSize *= 2
		if cw.chunkSize > cw.maxChunk {
			cw.chunkSize = cw.maxChunk
		}
	}
	return nil
}

// DeflateWriter wraps w with a flate compressor, for callers that want
// the optional compressor stage between producer and socket.
func DeflateWriter(w io.Writer) (*flate.Writer, error) {
	return flate.NewWriter(w, flate.DefaultCompression)
}
