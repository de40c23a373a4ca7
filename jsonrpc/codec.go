package jsonrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// DefaultMaxMessageSize bounds the body of one inbound message unless the
// codec is configured otherwise.
const DefaultMaxMessageSize = 32 << 20

// ErrMessageTooLarge is returned by Read for a Content-Length above the
// codec's limit.
var ErrMessageTooLarge = errors.New("jsonrpc: message too large")

// Codec reads and writes Content-Length framed messages as specified by the
// LSP base protocol. Every framed message is written with a single Write
// call, so a message-oriented writer sends it as one message.
type Codec struct {
	reader  *bufio.Reader
	writer  io.Writer
	closer  io.Closer
	maxSize int

	wmu sync.Mutex
}

// NewCodec creates a codec over separate read and write streams.
func NewCodec(r io.Reader, w io.Writer) *Codec {
	return &Codec{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		maxSize: DefaultMaxMessageSize,
	}
}

// NewStreamCodec creates a codec over a single duplex stream. Closing the
// codec closes the stream.
func NewStreamCodec(rwc io.ReadWriteCloser) *Codec {
	c := NewCodec(rwc, rwc)
	c.closer = rwc
	return c
}

// SetMaxMessageSize changes the inbound size limit. Zero or less disables it.
func (c *Codec) SetMaxMessageSize(n int) { c.maxSize = n }

// Read reads a single framed message. It returns io.EOF, unwrapped, when the
// stream ends cleanly between messages.
func (c *Codec) Read() ([]byte, error) {
	contentLen := -1
	for headers := 0; ; headers++ {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && headers == 0 && line == "" {
				return nil, io.EOF
			}
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("reading header: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(key), "Content-Length") {
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", val)
			}
			contentLen = n
		}
	}

	if contentLen < 0 {
		return nil, errors.New("missing Content-Length header")
	}
	if c.maxSize > 0 && contentLen > c.maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, contentLen)
	}

	body := make([]byte, contentLen)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return body, nil
}

// Write writes data as one framed message.
func (c *Codec) Write(data []byte) error {
	header := "Content-Length: " + strconv.Itoa(len(data)) + "\r\n\r\n"
	frame := make([]byte, 0, len(header)+len(data))
	frame = append(frame, header...)
	frame = append(frame, data...)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.writer.Write(frame)
	return err
}

// Close closes the underlying stream, if the codec owns one.
func (c *Codec) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
