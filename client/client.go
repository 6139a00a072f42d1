// Package client implements a small library for driving get/put against a
// replica cluster over any common.Transport: remember which server last
// answered (or claimed leadership), follow one redirect hop, retry on
// failure, and generate idempotent client-supplied MIDs for fresh
// requests.
package client

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quietloop/raftkv/common"
	"go.uber.org/atomic"
)

// DefaultTimeout bounds how long a single request waits for a reply
// before the client tries the next candidate server.
const DefaultTimeout = 500 * time.Millisecond

// Client is a thin, retrying client for the replicated key-value store.
// It is not part of the replication engine -- just the framing an
// operator tool or a test needs to talk to one.
type Client struct {
	id        string
	transport common.Transport
	replicas  []string
	lastIndex *atomic.Int32
	timeout   time.Duration
}

// New constructs a Client with the given id (used as the message src),
// talking over transport to the given set of replica ids.
func New(id string, transport common.Transport, replicas []string) *Client {
	return &Client{
		id:        id,
		transport: transport,
		replicas:  append([]string(nil), replicas...),
		lastIndex: atomic.NewInt32(0),
		timeout:   DefaultTimeout,
	}
}

// SetTimeout overrides DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// Put stores value under key, generating a fresh MID, and returns the MID
// used (for idempotent retry via PutWithMID) and any error.
func (c *Client) Put(key, value string) (mid string, err error) {
	mid = uuid.New().String()
	err = c.PutWithMID(key, value, mid)
	return
}

// PutWithMID stores value under key using the given MID. Re-delivering
// the exact same (key, value, mid) triple is safe: the leader only
// applies each log entry once, and the MID is purely for the caller's
// own idempotence bookkeeping.
func (c *Client) PutWithMID(key, value, mid string) error {
	return c.roundTrip(common.Message{Type: common.TypePut, Key: key, Value: value, MID: mid}, func(common.Message) error {
		return nil
	})
}

// Get returns the current value for key (possibly stale, since the
// leader answers from its own local view), along with the MID used.
func (c *Client) Get(key string) (mid, value string, err error) {
	mid = uuid.New().String()
	value, err = c.GetWithMID(key, mid)
	return
}

// GetWithMID reads key using the given MID.
func (c *Client) GetWithMID(key, mid string) (value string, err error) {
	err = c.roundTrip(common.Message{Type: common.TypeGet, Key: key, MID: mid}, func(resp common.Message) error {
		value = resp.Value
		return nil
	})
	return
}

// roundTrip sends req to the last-known-good replica, follows at most one
// redirect hop, and moves on to the next replica when a send fails, no
// reply arrives within the timeout, or the reply is fail. An error from
// Recv is returned at once without trying further replicas.
func (c *Client) roundTrip(req common.Message, onOK func(common.Message) error) error {
	if len(c.replicas) == 0 {
		return fmt.Errorf("client %s: no known replicas", c.id)
	}
	start := int(c.lastIndex.Load()) % len(c.replicas)

	for attempt := 0; attempt < len(c.replicas); attempt++ {
		idx := (start + attempt) % len(c.replicas)
		target := c.replicas[idx]

		req.Src = c.id
		req.Dst = target
		if err := c.transport.Send(req); err != nil {
			continue
		}
		resp, ok, err := c.transport.Recv(c.timeout)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch resp.Type {
		case common.TypeOK:
			c.lastIndex.Store(int32(idx))
			return onOK(resp)
		case common.TypeRedirect:
			if resp.Leader != "" {
				req.Dst = resp.Leader
				if err := c.transport.Send(req); err != nil {
					continue
				}
				resp2, ok2, err2 := c.transport.Recv(c.timeout)
				if err2 != nil {
					return err2
				}
				if ok2 && resp2.Type == common.TypeOK {
					for i, id := range c.replicas {
						if id == resp.Leader {
							c.lastIndex.Store(int32(i))
						}
					}
					return onOK(resp2)
				}
			}
			continue
		case common.TypeFail:
			continue
		}
	}
	return fmt.Errorf("client %s: no replica answered %s for key %q", c.id, req.Type, req.Key)
}
