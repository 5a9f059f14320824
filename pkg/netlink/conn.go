// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package netlink implements a minimal generic netlink client: family
// resolution, request/response correlation, multicast notifications and
// a schema-driven attribute codec.
package netlink

import (
	"context"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"

	logger "github.com/intel/ioprio-balancer/pkg/log"
)

// DefaultNotificationQueue is the default number of queued notifications.
const DefaultNotificationQueue = 1024

var log logger.Logger = logger.NewLogger("netlink")

// errOverrun is returned by a socket when the kernel dropped messages.
var errOverrun = errors.New("netlink: receive buffer overrun")

// TransportError is a failure of the underlying socket or family resolution.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "netlink: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// socket is a datagram transport for netlink messages. Receive returns
// the messages of one datagram sent by the kernel.
type socket interface {
	Send(*nl.NetlinkRequest) error
	Receive() ([]syscall.NetlinkMessage, error)
	PortID() uint32
	Close() error
}

// Option is an option for Dial.
type Option func(*options)

type options struct {
	receiveBuffer int
	queue         int
}

// WithReceiveBuffer sets the socket receive buffer size in bytes.
func WithReceiveBuffer(size int) Option {
	return func(o *options) {
		o.receiveBuffer = size
	}
}

// WithNotificationQueue sets the maximum number of queued notifications.
func WithNotificationQueue(length int) Option {
	return func(o *options) {
		o.queue = length
	}
}

// Conn is a generic netlink connection bound to a single family.
type Conn struct {
	sock   socket
	port   uint32
	family Family

	dropped  uint64
	overruns uint64

	reqLock sync.Mutex // serializes requests
	lock    sync.Mutex // protects pending
	pending *request

	notify    chan Message
	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// request is the single outstanding request of a Conn.
type request struct {
	seq     uint32
	replies chan Message
	abort   chan struct{}
}

// Dial opens a generic netlink socket and resolves the named family,
// which must be at least of the given version.
func Dial(ctx context.Context, name string, minVersion uint32, opts ...Option) (*Conn, error) {
	o := &options{queue: DefaultNotificationQueue}
	for _, opt := range opts {
		opt(o)
	}

	sock, err := openSocket(o)
	if err != nil {
		return nil, &TransportError{Op: "open", Err: err}
	}

	c := newConn(sock, o)
	if c.family, err = c.resolveFamily(ctx, name, minVersion); err != nil {
		c.Close()
		return nil, err
	}

	log.Debug("resolved family %s: id %d, version %d", name, c.family.ID, c.family.Version)

	return c, nil
}

func newConn(sock socket, o *options) *Conn {
	c := &Conn{
		sock:   sock,
		port:   sock.PortID(),
		notify: make(chan Message, o.queue),
		done:   make(chan struct{}),
	}
	go c.reader()
	return c
}

// Family returns the resolved family of this connection.
func (c *Conn) Family() Family {
	return c.family
}

// Notifications returns the channel of unsolicited messages. The channel
// is closed when the connection is closed.
func (c *Conn) Notifications() <-chan Message {
	return c.notify
}

// Dropped returns the number of notifications dropped due to a full queue.
func (c *Conn) Dropped() uint64 {
	return atomic.LoadUint64(&c.dropped)
}

// Overruns returns the number of kernel receive buffer overruns seen.
func (c *Conn) Overruns() uint64 {
	return atomic.LoadUint64(&c.overruns)
}

// Send sends a request without waiting for any response.
func (c *Conn) Send(cmd uint8, data []byte) error {
	req := newRequest(c.family.ID, FlagRequest, cmd, uint8(c.family.Version), data)
	if err := c.sock.Send(req); err != nil {
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// Request sends an acknowledged request and collects the replies until
// the acknowledgement. A kernel error reply fails the request with the
// reported errno.
func (c *Conn) Request(ctx context.Context, cmd uint8, data []byte) ([]Message, error) {
	return c.execute(ctx, c.family.ID, FlagRequest|FlagAck, cmd, uint8(c.family.Version), data)
}

// Dump sends a dump request of the given family and collects the replies.
func (c *Conn) Dump(ctx context.Context, family uint16, cmd, version uint8, data []byte) ([]Message, error) {
	return c.execute(ctx, family, FlagRequest|FlagAck|FlagDump, cmd, version, data)
}

func (c *Conn) execute(ctx context.Context, typ, flags uint16, cmd, version uint8, data []byte) ([]Message, error) {
	c.reqLock.Lock()
	defer c.reqLock.Unlock()

	msg := newRequest(typ, flags, cmd, version, data)
	req := &request{
		seq:     msg.Seq,
		replies: make(chan Message),
		abort:   make(chan struct{}),
	}

	c.lock.Lock()
	c.pending = req
	c.lock.Unlock()

	defer func() {
		c.lock.Lock()
		c.pending = nil
		c.lock.Unlock()
		close(req.abort)
	}()

	if err := c.sock.Send(msg); err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}

	var replies []Message
	for {
		select {
		case r := <-req.replies:
			switch r.Header.Type {
			case TypeError:
				if code := r.ErrorCode(); code != 0 {
					return replies, errors.Wrapf(syscall.Errno(-code),
						"netlink: request (type %d, command %d) failed", typ, cmd)
				}
				return replies, nil
			case TypeDone:
				return replies, nil
			case TypeNoop:
				continue
			}
			replies = append(replies, r)

		case <-c.done:
			return nil, &TransportError{Op: "receive", Err: c.err}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close closes the connection and waits for its reader to stop.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.sock.Close()
		<-c.done
	})
	return err
}

func (c *Conn) reader() {
	defer close(c.done)
	defer close(c.notify)

	for {
		sms, err := c.sock.Receive()
		if err != nil {
			if errors.Is(err, errOverrun) {
				cnt := atomic.AddUint64(&c.overruns, 1)
				log.Warn("kernel dropped messages, receive buffer overrun #%d", cnt)
				continue
			}
			c.err = err
			return
		}

		for _, sm := range sms {
			m, err := messageFromSyscall(sm)
			if err != nil {
				log.Error("dropping malformed message: %v", err)
				continue
			}
			c.dispatch(m)
		}
	}
}

// dispatch routes a message to the pending request or to notifications.
// Replies carry our port ID, kernel notifications carry port ID 0 and a
// sequence number of their own which may collide with ours.
func (c *Conn) dispatch(m Message) {
	c.lock.Lock()
	req := c.pending
	c.lock.Unlock()

	if req != nil && m.Header.Sequence == req.seq && m.Header.PortID == c.port {
		select {
		case req.replies <- m:
		case <-req.abort:
		}
		return
	}

	if m.IsControl() {
		log.Debug("dropping unsolicited control message (type %d, seq %d)",
			m.Header.Type, m.Header.Sequence)
		return
	}

	select {
	case c.notify <- m:
	default:
		atomic.AddUint64(&c.dropped, 1)
	}
}
