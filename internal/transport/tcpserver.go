// Copyright (C) 2026 Southampton University Formula Student.
// All rights reserved. This file is part of intermediate-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/sufst/intermediate-server/internal/telelog"
)

// TCPServer accepts concurrent peer connections, each as an independent
// Transport (spec section 4.3).
type TCPServer struct {
	addr string
	ln   net.Listener
}

// NewTCPServer binds addr immediately so that startup failures
// (TransportOpen, spec section 7) surface before Serve is called.
func NewTCPServer(addr string) (*TCPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp server listen on %s: %w", addr, err)
	}
	return &TCPServer{addr: addr, ln: ln}, nil
}

// Serve accepts connections until ctx is cancelled. Each accepted
// connection runs its own read loop on its own goroutine.
func (s *TCPServer) Serve(ctx context.Context, h Handler) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("tcp server accept on %s: %w", s.addr, err)
			}
		}

		peer := &tcpPeer{conn: conn, id: conn.RemoteAddr().String()}
		go peer.run(ctx, h)
	}
}

// tcpPeer is the per-accepted-connection Transport.
type tcpPeer struct {
	conn net.Conn
	id   string
}

func (p *tcpPeer) ID() string { return p.id }

func (p *tcpPeer) Write(buf []byte) error {
	_, err := p.conn.Write(buf)
	return err
}

func (p *tcpPeer) Close() error { return p.conn.Close() }

func (p *tcpPeer) run(ctx context.Context, h Handler) {
	h.OnConnect(p)

	go func() {
		<-ctx.Done()
		p.conn.Close()
	}()

	buf := make([]byte, 64*1024)
	var lostReason error
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			delivered := make([]byte, n)
			copy(delivered, buf[:n])
			h.OnBytes(p, delivered)
		}
		if err != nil {
			select {
			case <-ctx.Done():
				lostReason = nil
			default:
				lostReason = err
				telelog.Warnf("transport: tcp peer %s read error: %v", p.id, err)
			}
			break
		}
	}

	h.OnLost(p, lostReason)
}
