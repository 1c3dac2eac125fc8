package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"go.uber.org/zap"

	"rodharness/internal/config"
	"rodharness/pkg/serialize"
)

// Client is the CDP client every session talks through. It records each command on the
// "driver" log channel and, when built with a serializer, admits at most that many
// commands at once.
type Client struct {
	inner  rod.CDPClient
	ser    *serialize.Serializer
	logs   *logStore
	logger *zap.Logger
	calls  atomic.Int64
}

var _ rod.CDPClient = (*Client)(nil)

func newClient(inner rod.CDPClient, ser *serialize.Serializer, logs *logStore, logger *zap.Logger) *Client {
	return &Client{inner: inner, ser: ser, logs: logs, logger: logger}
}

// Event forwards the underlying client's event stream.
func (c *Client) Event() <-chan *cdp.Event {
	return c.inner.Event()
}

// Call sends one CDP command.
func (c *Client) Call(ctx context.Context, sessionID, method string, params interface{}) ([]byte, error) {
	c.calls.Add(1)
	send := func() ([]byte, error) {
		return c.inner.Call(ctx, sessionID, method, params)
	}

	var res []byte
	var err error
	if c.ser != nil {
		res, err = serialize.Call(ctx, c.ser, send)
	} else {
		res, err = send()
	}

	if err != nil {
		c.logs.add(config.LogDriver, LogEntry{Time: time.Now(), Level: LevelSevere, Message: fmt.Sprintf("%s: %v", method, err)})
		c.logger.Debug("CDP call failed", zap.String("method", method), zap.Error(err))
	} else {
		c.logs.add(config.LogDriver, LogEntry{Time: time.Now(), Level: LevelDebug, Message: method})
	}
	return res, err
}

// Calls returns the number of commands sent so far.
func (c *Client) Calls() int64 { return c.calls.Load() }

// Serializer returns the call serializer, or nil when calls are not capped.
func (c *Client) Serializer() *serialize.Serializer { return c.ser }
