package adminrpc

import (
	"bufio"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-msgpack/codec"
)

// DefaultTimeout bounds a Stats call's round trip when the caller doesn't
// provide its own.
const DefaultTimeout = 10 * time.Second

var errClientClosed = errors.New("adminrpc: client closed")

// Client dials an adminrpc.Server once per call; there is no persistent
// connection or sequence-numbered dispatch table, since the protocol is
// strictly one request per connection.
type Client struct {
	addr    string
	timeout time.Duration
	logger  *log.Logger

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex
}

// Config configures a Client.
type Config struct {
	Addr    string
	Timeout time.Duration
	Logger  *log.Logger
}

// NewClient builds a Client for the given configuration. No network
// activity happens until Stats is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("adminrpc: Addr is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		addr:       cfg.Addr,
		timeout:    timeout,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Stats dials addr, sends a StatsRequest, and returns the decoded response.
func (c *Client) Stats() (*StatsResponse, error) {
	c.shutdownLock.Lock()
	if c.shutdown {
		c.shutdownLock.Unlock()
		return nil, errClientClosed
	}
	c.shutdownLock.Unlock()

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}

	writer := bufio.NewWriter(conn)
	enc := codec.NewEncoder(writer, msgpackHandle)
	dec := codec.NewDecoder(bufio.NewReader(conn), msgpackHandle)

	if err := enc.Encode(&StatsRequest{Command: "stats"}); err != nil {
		return nil, err
	}
	if err := writer.Flush(); err != nil {
		return nil, err
	}

	var resp StatsResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Err != "" {
		return nil, errors.New(resp.Err)
	}
	return &resp, nil
}

// Close marks the client closed. Safe to call more than once.
func (c *Client) Close() error {
	c.shutdownLock.Lock()
	defer c.shutdownLock.Unlock()
	if c.shutdown {
		return nil
	}
	c.shutdown = true
	close(c.shutdownCh)
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	select {
	case <-c.shutdownCh:
		return true
	default:
		return false
	}
}
