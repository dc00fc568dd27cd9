package interceptor

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// captureBody 在调用方读取响应体的同时保存一份副本；
// 设置了 replacement 时调用方读到的是替换内容，真实响应体在结束时读完并保存
type captureBody struct {
	src         io.ReadCloser
	replacement io.Reader
	buf         bytes.Buffer
	drained     bool

	once   sync.Once
	finish func(body []byte, err error)
}

func newCaptureBody(src io.ReadCloser, replacement []byte, replace bool, finish func([]byte, error)) *captureBody {
	c := &captureBody{src: src, finish: finish}
	if replace {
		c.replacement = bytes.NewReader(replacement)
	}
	return c
}

func (c *captureBody) Read(p []byte) (int, error) {
	if c.replacement != nil {
		n, err := c.replacement.Read(p)
		if errors.Is(err, io.EOF) {
			c.done(c.drain())
		}
		return n, err
	}
	n, err := c.src.Read(p)
	c.buf.Write(p[:n])
	switch {
	case errors.Is(err, io.EOF):
		c.done(nil)
	case err != nil:
		c.done(err)
	}
	return n, err
}

func (c *captureBody) Close() error {
	var err error
	if c.replacement != nil {
		err = c.drain()
	}
	c.done(err)
	return c.src.Close()
}

func (c *captureBody) drain() error {
	if c.drained {
		return nil
	}
	c.drained = true
	_, err := io.Copy(&c.buf, c.src)
	return err
}

func (c *captureBody) done(err error) {
	c.once.Do(func() {
		c.finish(bytes.Clone(c.buf.Bytes()), err)
	})
}
