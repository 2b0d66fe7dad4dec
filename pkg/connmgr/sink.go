// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package connmgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
)

// Sink is the outbound half of a connection to one SPU.
type Sink interface {
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Dialer opens a sink to an SPU that has none registered.
type Dialer interface {
	Dial(ctx context.Context, spu metadata.SpuSpec) (Sink, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, spu metadata.SpuSpec) (Sink, error)

func (f DialerFunc) Dial(ctx context.Context, spu metadata.SpuSpec) (Sink, error) {
	return f(ctx, spu)
}

// TCPDialer connects to the private endpoint of an SPU.
type TCPDialer struct {
	Timeout time.Duration
}

// Dial implements Dialer.
func (d TCPDialer) Dial(ctx context.Context, spu metadata.SpuSpec) (Sink, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	addr := spu.PrivateEndpoint.Addr()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial spu %d at %s: %w", spu.ID, addr, err)
	}
	return NewConnSink(conn), nil
}

type connSink struct {
	mu   sync.Mutex
	conn net.Conn
}

// NewConnSink wraps a connection. Sends are serialised and honour the context deadline.
func NewConnSink(conn net.Conn) Sink {
	return &connSink{conn: conn}
}

func (s *connSink) Send(ctx context.Context, msg protocol.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return protocol.WriteMessage(s.conn, msg)
}

func (s *connSink) Close() error {
	return s.conn.Close()
}
