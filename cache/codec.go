package cache

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
)

// Codec turns cache documents into bytes. Map keys are sorted, so equal
// entries always encode identically. With gzip enabled, Marshal output and
// Compress output are both gzip streams.
type Codec struct {
	api   sonic.API
	gzip  bool
	level int
}

// NewJSONCodec encodes plain JSON.
func NewJSONCodec() *Codec {
	return &Codec{api: sonic.Config{SortMapKeys: true}.Froze()}
}

// NewGzipCodec encodes gzipped JSON. An out-of-range level means the gzip default.
func NewGzipCodec(level int) *Codec {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	c := NewJSONCodec()
	c.gzip, c.level = true, level
	return c
}

// Marshal encodes v.
func (c *Codec) Marshal(v interface{}) ([]byte, error) {
	data, err := c.api.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode cache document: %w", err)
	}
	if !c.gzip {
		return data, nil
	}
	return c.Compress(data)
}

// Unmarshal decodes data produced by Marshal into v.
func (c *Codec) Unmarshal(data []byte, v interface{}) error {
	if c.gzip {
		var err error
		if data, err = c.Decompress(data); err != nil {
			return err
		}
	}
	if err := c.api.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode cache document: %w", err)
	}
	return nil
}

// Compress gzips opaque bytes such as a raw source snapshot.
func (c *Codec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("corrupt gzip data: %w", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
