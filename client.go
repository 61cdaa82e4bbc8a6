// Package textdex is the Go client SDK for a textdex search server (or any
// server speaking the same FT.* command family). It builds commands and
// parses the position-dependent reply layout, including cursor iteration
// and sort-key decoding.
package textdex

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"
)

// Client is the textdex SDK entry point.
type Client struct {
	conn rueidis.Client
}

type clientConfig struct {
	addrs    []string
	password string
}

// Option configures the client.
type Option func(*clientConfig)

// WithAddrs sets the server addresses.
func WithAddrs(addrs ...string) Option {
	return func(c *clientConfig) { c.addrs = addrs }
}

// WithPassword sets the server password.
func WithPassword(pw string) Option {
	return func(c *clientConfig) { c.password = pw }
}

// New creates a Client and connects to the server.
func New(opts ...Option) (*Client, error) {
	cfg := &clientConfig{}
	for _, o := range opts {
		o(cfg)
	}
	if len(cfg.addrs) == 0 {
		return nil, errors.New("textdex: server address required (use WithAddrs)")
	}

	conn, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.addrs,
		Password:     cfg.password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("textdex: connect: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// Ping checks server connectivity.
func (c *Client) Ping(ctx context.Context) error {
	cmd := c.conn.B().Ping().Build()
	if err := c.conn.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// CreateIndex declares an index schema on the server.
func (c *Client) CreateIndex(ctx context.Context, name string, fields ...SchemaField) error {
	args := []string{name, "SCHEMA"}
	for _, f := range fields {
		args = append(args, f.Name, f.Type)
		if f.Sortable {
			args = append(args, "SORTABLE")
		}
	}
	cmd := c.conn.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := c.conn.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// DropIndex removes an index.
func (c *Client) DropIndex(ctx context.Context, name string) error {
	cmd := c.conn.B().Arbitrary("FT.DROPINDEX").Args(name).Build()
	if err := c.conn.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}
	return nil
}

// AddDocument indexes a document.
func (c *Client) AddDocument(
	ctx context.Context, index, key string, score float64,
	fields map[string]string, payload []byte,
) error {
	args := []string{index, key, strconv.FormatFloat(score, 'g', -1, 64)}
	if payload != nil {
		args = append(args, "PAYLOAD", string(payload))
	}
	args = append(args, "FIELDS")
	for k, v := range fields {
		args = append(args, k, v)
	}
	cmd := c.conn.B().Arbitrary("FT.ADD").Args(args...).Build()
	if err := c.conn.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document from an index. Returns false when the
// key was not indexed.
func (c *Client) DeleteDocument(ctx context.Context, index, key string) (bool, error) {
	cmd := c.conn.B().Arbitrary("FT.DEL").Args(index, key).Build()
	n, err := c.conn.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	return n == 1, nil
}

// Explain returns the server's rendering of the parsed query.
func (c *Client) Explain(ctx context.Context, index, query string) (string, error) {
	cmd := c.conn.B().Arbitrary("FT.EXPLAIN").Args(index, query).Build()
	s, err := c.conn.Do(ctx, cmd).ToString()
	if err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}
	return s, nil
}

// SchemaField declares one index field.
type SchemaField struct {
	Name     string
	Type     string // TEXT, NUMERIC, TAG
	Sortable bool
}
