package main

import (
	"fmt"
	"net"
	"time"

	"github.com/chenlehua/vnidsd/ipc"
)

// dialTimeout bounds how long the CLI waits to connect to the control
// socket before giving up, matching original_source/vnids-cli/src/client.c's
// short connect timeout.
const dialTimeout = 3 * time.Second

// requestTimeout bounds how long the CLI waits for a response frame.
const requestTimeout = 10 * time.Second

// client is a one-shot control-socket request/response connection.
type client struct {
	conn net.Conn
}

// dial connects to the control socket at path.
func dial(path string) (*client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", path, err)
	}
	return &client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *client) Close() error {
	return c.conn.Close()
}

// Send writes one request frame and reads back exactly one response frame.
func (c *client) Send(command string, params map[string]any) (*ipc.Response, error) {
	_ = c.conn.SetDeadline(time.Now().Add(requestTimeout))

	frame, err := ipc.EncodeRequest(&ipc.Request{Command: command, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}

	dec := ipc.NewFrameDecoder(c.conn)
	payload, err := dec.ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	resp, err := ipc.DecodeResponse(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp, nil
}
