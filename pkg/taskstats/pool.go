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

package taskstats

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/ioprio-balancer/pkg/netlink"
)

// Pool spreads fetches over several sockets.
type Pool struct {
	clients []*Client
	next    uint32
}

// OpenPool opens a pool of size clients.
func OpenPool(ctx context.Context, size int, opts ...netlink.Option) (*Pool, error) {
	if size < 1 {
		return nil, errors.Errorf("taskstats: invalid pool size %d", size)
	}

	p := &Pool{}
	for i := 0; i < size; i++ {
		c, err := Open(ctx, opts...)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.clients = append(p.clients, c)
	}

	log.Debug("opened pool of %d sockets", size)

	return p, nil
}

func (p *Pool) pick() *Client {
	idx := atomic.AddUint32(&p.next, 1)
	return p.clients[idx%uint32(len(p.clients))]
}

// GetTask fetches a task record using the next client of the pool.
func (p *Pool) GetTask(ctx context.Context, pid uint32) (*Record, error) {
	return p.pick().GetTask(ctx, pid)
}

// GetProcess fetches a process record using the next client of the pool.
func (p *Pool) GetProcess(ctx context.Context, tgid uint32) (*Record, error) {
	return p.pick().GetProcess(ctx, tgid)
}

// Close closes all clients of the pool.
func (p *Pool) Close() error {
	var result *multierror.Error
	for _, c := range p.clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	p.clients = nil
	return result.ErrorOrNil()
}
