// Copyright 2026 Metis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"sync"
)

// StdioTransport frames messages as newline-delimited JSON over a reader
// and writer pair. This is the serving side of MCP stdio: the process
// reads requests from stdin and writes responses to stdout.
type StdioTransport struct {
	reader *bufio.Reader

	writeMu sync.Mutex
	writer  io.Writer

	closeMu sync.Mutex
	closed  bool
}

// NewStdioTransport wraps a reader/writer pair. A bufio.Reader with no
// fixed line limit is used because tool responses can be arbitrarily
// large.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{
		reader: bufio.NewReader(r),
		writer: w,
	}
}

// Stdio returns a transport over the process's stdin and stdout.
func Stdio() *StdioTransport {
	return NewStdioTransport(os.Stdin, os.Stdout)
}

// Send writes one message followed by a newline. Concurrent senders are
// serialized so messages never interleave.
func (t *StdioTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.writer.Write(append(msg, '\n')); err != nil {
		return err
	}
	if f, ok := t.writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

// Receive reads one message. Blank lines are skipped; io.EOF is returned
// unwrapped so callers can detect a clean peer shutdown.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := t.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				return bytes.TrimSpace(line), nil
			}
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
}

// Close marks the transport closed. Stdin and stdout are owned by the
// process and are not closed here.
func (t *StdioTransport) Close() error {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	t.closed = true
	return nil
}

var _ Transport = (*StdioTransport)(nil)
