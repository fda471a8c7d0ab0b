// Package stdio fronts a backend adapter running as a child process that
// speaks Content-Length framed JSON-RPC 2.0 on stdin/stdout. All three
// backend families (structured-query, document-analysis, ticketing) share
// this transport; the operation name becomes the JSON-RPC method.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const maxMessageSize = 10 * 1024 * 1024 // 10MB

// Client runs one adapter subprocess. A single reader goroutine owns the
// child's stdout and delivers each response to the waiter registered under
// its request id, so a call abandoned at its deadline can neither
// desynchronize the frame stream nor receive another call's reply; its late
// response is simply dropped. It implements the invoker's two-argument
// calling convention.
type Client struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan response
	readErr error
}

type request struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      int64          `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Start launches the adapter command and wires its pipes.
func Start(command []string) (*Client, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("adapter command is empty")
	}
	cmd := exec.Command(command[0], command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start adapter %s: %w", command[0], err)
	}
	return newClient(stdin, stdout, cmd), nil
}

func newClient(stdin io.WriteCloser, stdout io.Reader, cmd *exec.Cmd) *Client {
	c := &Client{cmd: cmd, stdin: stdin, pending: map[int64]chan response{}}
	go c.readLoop(bufio.NewReader(stdout))
	return c
}

// CallOperation sends one JSON-RPC request and waits for the response that
// carries its id, honoring ctx while the child works.
func (c *Client) CallOperation(ctx context.Context, operation string, payload map[string]any) (map[string]any, error) {
	c.mu.Lock()
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return nil, fmt.Errorf("adapter stream closed: %w", err)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := request{JSONRPC: "2.0", ID: id, Method: operation, Params: payload}
	body, err := json.Marshal(req)
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.writeMu.Lock()
	err = writeMessage(c.stdin, body)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	case resp, ok := <-ch:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("adapter error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		var result map[string]any
		if len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, &result); err != nil {
				return nil, fmt.Errorf("decode result: %w", err)
			}
		}
		return result, nil
	}
}

// readLoop is the sole reader of the child's stdout. It runs until the
// stream breaks, then fails every outstanding call; the client stays
// poisoned afterwards.
func (c *Client) readLoop(r *bufio.Reader) {
	for {
		data, err := readMessage(r)
		if err != nil {
			c.fail(err)
			return
		}
		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.fail(fmt.Errorf("decode response: %w", err))
			return
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
		// No waiter: a late reply for an abandoned call, dropped.
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close shuts the child down.
func (c *Client) Close() error {
	c.writeMu.Lock()
	if c.stdin != nil {
		c.stdin.Close()
	}
	c.writeMu.Unlock()
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

// readMessage reads a Content-Length framed message from r.
func readMessage(r *bufio.Reader) ([]byte, error) {
	contentLength := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "content-length:") {
			val := strings.TrimSpace(line[len("content-length:"):])
			n, err := strconv.Atoi(val)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length: %q", val)
			}
			if n > maxMessageSize {
				return nil, fmt.Errorf("content length %d exceeds limit %d", n, maxMessageSize)
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return nil, fmt.Errorf("missing Content-Length header")
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeMessage writes a Content-Length framed message to w.
func writeMessage(w io.Writer, payload []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
