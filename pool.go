package mqttv3

import (
	"bytes"
	"sync"
)

// Encode buffers that grew past this are dropped instead of pooled, so a
// single large PUBLISH does not pin its memory.
const maxPooledBuffer = 64 * 1024

var (
	readerPool = sync.Pool{New: func() any { return new(bytes.Reader) }}
	bufferPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}
)

// acquireReader returns a pooled reader positioned at the start of body.
func acquireReader(body []byte) *bytes.Reader {
	r := readerPool.Get().(*bytes.Reader)
	r.Reset(body)
	return r
}

func releaseReader(r *bytes.Reader) {
	if r == nil {
		return
	}
	r.Reset(nil)
	readerPool.Put(r)
}

// acquireBuffer returns an empty pooled buffer.
func acquireBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func releaseBuffer(b *bytes.Buffer) {
	if b == nil || b.Cap() > maxPooledBuffer {
		return
	}
	bufferPool.Put(b)
}
