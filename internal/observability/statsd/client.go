// Package statsd emits session metrics using the StatsD line protocol (DogStatsD tag extension).
package statsd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const dialTimeout = 5 * time.Second

// Sink is what the session services emit through. Tags may be nil.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes how to connect to a StatsD-compatible sink.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
}

// Client writes one UDP datagram per metric. A client without a connection
// (disabled, closed, or nil) drops every call.
type Client struct {
	prefix string
	global map[string]string
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials cfg.Address over UDP when metrics are enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c := &Client{
		prefix: normalizeName(cfg.Prefix),
		global: cfg.GlobalTags,
		logger: cfg.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	addr := strings.TrimSpace(cfg.Address)
	if !cfg.Enabled || addr == "" {
		return c, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("statsd dial %s: %w", addr, err)
	}
	c.conn = conn
	return c, nil
}

// Enabled reports whether calls reach the network.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Count sends a counter ("|c").
func (c *Client) Count(name string, value int64, tags map[string]string) {
	c.send(name, strconv.AppendInt(nil, value, 10), 'c', tags)
}

// Timing sends a timer in fractional milliseconds ("|ms").
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	ms := value.Seconds() * 1e3
	c.send(name, strconv.AppendFloat(nil, ms, 'f', -1, 64), 'm', tags)
}

// Close drops the connection. Later calls become no-ops.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) send(name string, value []byte, kind byte, tags map[string]string) {
	if c == nil {
		return
	}
	line := c.encode(name, value, kind, tags)
	if line == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if _, err := c.conn.Write(line); err != nil {
		c.logger.Debug("statsd write failed", "metric", name, "error", err)
	}
}

// encode renders "prefix.name:value|type|#k:v,..." or nil when name is empty.
func (c *Client) encode(name string, value []byte, kind byte, tags map[string]string) []byte {
	metric := c.metricName(name)
	if metric == "" {
		return nil
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, metric...)
	buf = append(buf, ':')
	buf = append(buf, value...)
	buf = append(buf, '|')
	if kind == 'm' {
		buf = append(buf, "ms"...)
	} else {
		buf = append(buf, kind)
	}
	return append(buf, formatTags(c.global, tags)...)
}

func (c *Client) metricName(name string) string {
	n := normalizeName(name)
	if n == "" || c.prefix == "" {
		return n
	}
	return c.prefix + "." + n
}

// normalizeName maps spaces and slashes to underscores and collapses empty
// dot segments.
func normalizeName(raw string) string {
	raw = strings.NewReplacer(" ", "_", "/", "_").Replace(strings.TrimSpace(raw))
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '.' })
	return strings.Join(parts, ".")
}

// tagEscaper strips the characters that delimit the DogStatsD tag section.
var tagEscaper = strings.NewReplacer(",", "_", "|", "_", "#", "_")

// formatTags merges global and local tags (local wins) into a sorted "|#k:v,..." suffix.
func formatTags(global, local map[string]string) string {
	merged := make(map[string]string, len(global)+len(local))
	for _, src := range [2]map[string]string{global, local} {
		for k, v := range src {
			if k = strings.TrimSpace(k); k != "" {
				merged[tagEscaper.Replace(k)] = tagEscaper.Replace(strings.TrimSpace(v))
			}
		}
	}
	if len(merged) == 0 {
		return ""
	}

	pairs := make([]string, 0, len(merged))
	for k, v := range merged {
		pairs = append(pairs, k+":"+v)
	}
	slices.Sort(pairs)
	return "|#" + strings.Join(pairs, ",")
}
