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

// Package privateapi serves the connections SPUs open to the controller. An SPU
// registers first, then receives metadata pushes on the same connection and sends
// replica status reports back.
package privateapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/novatechflow/streamcontroller/pkg/connmgr"
	"github.com/novatechflow/streamcontroller/pkg/metadata"
	"github.com/novatechflow/streamcontroller/pkg/protocol"
)

const defaultRegisterTimeout = 10 * time.Second

// Liveness records SPU connection state.
type Liveness interface {
	SetOnline(ctx context.Context, id int32) error
	SetOffline(ctx context.Context, id int32) error
}

// Reporter records replica status reported by an SPU.
type Reporter interface {
	Report(ctx context.Context, key metadata.ReplicaKey, status metadata.PartitionStatus) error
}

// Server accepts SPU connections.
type Server struct {
	Addr     string
	Spus     *metadata.SpuStore
	Conns    *connmgr.Manager
	Liveness Liveness
	Reporter Reporter
	// RegisterTimeout bounds the wait for the registration message.
	RegisterTimeout time.Duration
	Logger          *zap.Logger

	listener net.Listener
	wg       sync.WaitGroup

	mu     sync.Mutex
	active map[int32]net.Conn
}

// ListenAndServe accepts connections until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Spus == nil || s.Conns == nil || s.Liveness == nil || s.Reporter == nil {
		return errors.New("privateapi.Server requires Spus, Conns, Liveness and Reporter")
	}
	s.defaults()
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger := s.Logger.Named("private-api")
	logger.Info("private api listening", zap.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				logger.Warn("accept timeout", zap.Error(err))
				continue
			}
			return err
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c, logger.With(zap.String("remote", c.RemoteAddr().String())))
		}(conn)
	}
}

func (s *Server) defaults() {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.RegisterTimeout <= 0 {
		s.RegisterTimeout = defaultRegisterTimeout
	}
}

// Wait blocks until all connection goroutines exit.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ListenAddress returns the actual listener address if the server has started.
func (s *Server) ListenAddress() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.Addr
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, logger *zap.Logger) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	id, sink, err := s.register(connCtx, conn)
	if err != nil {
		connections.WithLabelValues("rejected").Inc()
		logger.Warn("spu registration failed", zap.Error(err))
		return
	}
	connections.WithLabelValues("registered").Inc()
	logger = logger.With(zap.Int32("spu", id))
	logger.Info("spu registered")
	defer s.disconnect(id, conn, sink, logger)

	if err := s.Conns.RefreshSpu(connCtx, id); err != nil {
		logger.Warn("initial refresh failed", zap.Error(err))
	}

	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && connCtx.Err() == nil {
				logger.Warn("read message", zap.Error(err))
			}
			return
		}
		switch m := msg.(type) {
		case *protocol.ReplicaStatusReport:
			if err := s.Reporter.Report(connCtx, m.Key, m.Status); err != nil {
				reports.WithLabelValues("error").Inc()
				logger.Warn("replica report rejected", zap.Stringer("partition", m.Key), zap.Error(err))
				continue
			}
			reports.WithLabelValues("ok").Inc()
		default:
			logger.Warn("unexpected message", zap.String("type", string(msg.MessageType())))
		}
	}
}

// register reads the registration message, answers it and marks the SPU online.
func (s *Server) register(ctx context.Context, conn net.Conn) (int32, connmgr.Sink, error) {
	if err := conn.SetReadDeadline(time.Now().Add(s.RegisterTimeout)); err != nil {
		return 0, nil, err
	}
	msg, err := protocol.ReadMessage(conn)
	if err != nil {
		return 0, nil, fmt.Errorf("read registration: %w", err)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, nil, err
	}
	req, ok := msg.(*protocol.RegisterSpu)
	if !ok {
		_ = protocol.WriteMessage(conn, &protocol.RegisterSpuResponse{
			ErrorCode: protocol.ErrorInvalidRequest,
			Error:     fmt.Sprintf("expected %s, got %s", protocol.TypeRegisterSpu, msg.MessageType()),
		})
		return 0, nil, fmt.Errorf("first message is %s", msg.MessageType())
	}
	if _, ok := metadata.SpuByID(s.Spus, req.ID); !ok {
		_ = protocol.WriteMessage(conn, &protocol.RegisterSpuResponse{
			ErrorCode: protocol.ErrorUnknownSpu,
			Error:     fmt.Sprintf("unknown spu id: %d", req.ID),
		})
		return 0, nil, fmt.Errorf("%w: %d", connmgr.ErrUnknownSpu, req.ID)
	}

	sink := connmgr.NewConnSink(conn)
	if err := sink.Send(ctx, &protocol.RegisterSpuResponse{ErrorCode: protocol.ErrorNone}); err != nil {
		return 0, nil, fmt.Errorf("answer registration: %w", err)
	}
	if err := s.Liveness.SetOnline(ctx, req.ID); err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	if s.active == nil {
		s.active = make(map[int32]net.Conn)
	}
	s.active[req.ID] = conn
	s.mu.Unlock()
	s.Conns.RegisterSink(req.ID, sink)
	return req.ID, sink, nil
}

// disconnect drops the sink and marks the SPU offline unless a newer connection
// registered the same id in the meantime.
func (s *Server) disconnect(id int32, conn net.Conn, sink connmgr.Sink, logger *zap.Logger) {
	s.Conns.ReleaseSink(id, sink)
	s.mu.Lock()
	current := s.active[id] == conn
	if current {
		delete(s.active, id)
	}
	s.mu.Unlock()
	if !current {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Liveness.SetOffline(ctx, id); err != nil {
		logger.Warn("mark spu offline failed", zap.Error(err))
		return
	}
	logger.Info("spu disconnected")
}
