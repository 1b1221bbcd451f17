/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package server is the server engine (C9): it accepts TCP connections and
// (optionally) a UDP socket, runs one receive loop per TCP peer, and
// dispatches completed frames through a shared command registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/higebu/netfd"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/internal/clients"
	"gitlab.com/xerra/common/go-netframe/internal/codec"
	"gitlab.com/xerra/common/go-netframe/internal/framer"
	"gitlab.com/xerra/common/go-netframe/internal/reassembly"
	"gitlab.com/xerra/common/go-netframe/internal/registry"
	"gitlab.com/xerra/common/go-netframe/pkg/kernel"
	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Config configures a Server. TCPAddr is required; UDPAddr is optional and
// enables the connectionless transport alongside it.
type Config struct {
	TCPAddr string
	UDPAddr string

	MaxPayloadSize int
	RingBufferHint int
	Compression    wire.CompressionMode

	CreateClient   clients.CreateFunc
	OnConnected    clients.ConnectedFunc
	OnDisconnected clients.DisconnectedFunc

	Logger  logrus.FieldLogger
	Metrics *metrics.Collector
}

func (c *Config) setDefaults() {
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = wire.TCPPayloadSizeMaxDefault
	}
	if c.RingBufferHint <= 0 {
		c.RingBufferHint = 64 * 1024
	}
	if c.CreateClient == nil {
		c.CreateClient = func(string, net.Conn) (any, bool) { return nil, true }
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Server is the running engine: one TCP listener, an optional UDP socket,
// and the shared registry/client table both transports dispatch through.
type Server struct {
	cfg Config
	log logrus.FieldLogger

	pool     *bufpool.Pool
	registry *registry.Registry
	clients  *clients.Table

	tcpListener net.Listener
	udpConn     *net.UDPConn

	wg        sync.WaitGroup
	closing   int32
	packetSeq uint32
}

// New validates cfg and returns an unstarted Server.
func New(cfg Config) (*Server, error) {
	if cfg.TCPAddr == "" {
		return nil, errors.New("netframe: server requires a TCPAddr")
	}
	cfg.setDefaults()
	s := &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		pool:     bufpool.New(),
		registry: registry.New(),
	}
	s.pool.SetMetrics(cfg.Metrics)
	s.clients = clients.New(
		func(state *clients.State) {
			s.reportClientCount()
			if cfg.OnConnected != nil {
				cfg.OnConnected(state)
			}
		},
		func(state *clients.State, reason wire.DisconnectReason) {
			s.reportClientCount()
			if cfg.OnDisconnected != nil {
				cfg.OnDisconnected(state, reason)
			}
		},
	)
	return s, nil
}

// udpMaxPayload clamps the configured max payload to the UDP datagram
// ceiling, since a single UDP frame can never exceed what one datagram
// carries regardless of what TCPAddr's MaxPayloadSize configures.
func (s *Server) udpMaxPayload() int {
	maxPayload := s.cfg.MaxPayloadSize
	if maxPayload <= 0 || maxPayload > wire.UDPPayloadSizeMaxDefault {
		return wire.UDPPayloadSizeMaxDefault
	}
	return maxPayload
}

func (s *Server) newReassemblyTable(log logrus.FieldLogger) *reassembly.Table {
	t := reassembly.New(s.pool, wire.ReassemblyTTL, log)
	t.SetMetrics(s.cfg.Metrics)
	return t
}

func (s *Server) reportClientCount() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetClients(s.clients.Len())
	}
}

// AddCommand registers a deserializer for one or more user command ids.
func (s *Server) AddCommand(deserializer registry.Deserializer, ids ...uint16) error {
	return s.registry.AddCommand(deserializer, ids...)
}

// RemoveCommands unregisters command ids.
func (s *Server) RemoveCommands(ids ...uint16) bool {
	return s.registry.RemoveCommands(ids...)
}

// AddDataReceived subscribes handler to id's dispatch list.
func (s *Server) AddDataReceived(id uint16, handler registry.Handler) error {
	return s.registry.AddDataReceived(id, handler)
}

// RemoveDataReceived unsubscribes handler from id.
func (s *Server) RemoveDataReceived(id uint16, handler registry.Handler) {
	s.registry.RemoveDataReceived(id, handler)
}

// ClientCount reports the number of connected clients, TCP and UDP.
func (s *Server) ClientCount() int { return s.clients.Len() }

// ListenAndServe opens the TCP listener (and the UDP socket, if configured)
// and blocks, serving connections, until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	caps := kernel.Detect(s.log)
	lc := net.ListenConfig{}
	if caps.ReusePort {
		lc.Control = reusePortControl
		s.log.WithField("kernel", caps.Version).Debug("netframe: binding tcp listener with SO_REUSEPORT")
	}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.TCPAddr)
	if err != nil {
		return fmt.Errorf("netframe: listen tcp %s: %w", s.cfg.TCPAddr, err)
	}
	s.tcpListener = ln
	s.log.WithField("addr", ln.Addr()).Info("netframe: tcp listener up")

	if s.cfg.UDPAddr != "" {
		udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.UDPAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("netframe: resolve udp %s: %w", s.cfg.UDPAddr, err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			ln.Close()
			return fmt.Errorf("netframe: listen udp %s: %w", s.cfg.UDPAddr, err)
		}
		s.udpConn = conn
		s.log.WithField("addr", conn.LocalAddr()).Info("netframe: udp socket up")
		s.wg.Add(1)
		go s.serveUDP()
	}

	go func() {
		<-ctx.Done()
		s.tcpListener.Close()
		if s.udpConn != nil {
			s.udpConn.Close()
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closing) == 1 || errors.Is(ctx.Err(), context.Canceled) {
				s.wg.Wait()
				return nil
			}
			s.log.WithError(err).Warn("netframe: accept failed")
			continue
		}
		s.wg.Add(1)
		go s.serveTCP(conn)
	}
}

// Dispose stops accepting new work and waits up to wire.CloseTimeout for
// in-flight connections to drain. It does not close connections that are
// still open when the wait ends; it returns an error for that case.
func (s *Server) Dispose() error {
	atomic.StoreInt32(&s.closing, 1)
	if s.tcpListener != nil {
		s.tcpListener.Close()
	}
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(wire.CloseTimeout):
		return errors.New("netframe: dispose timed out waiting for connections to drain")
	}
}

func (s *Server) serveTCP(conn net.Conn) {
	defer s.wg.Done()
	peerKey := conn.RemoteAddr().String()
	log := s.log.WithField("peer", peerKey).WithField("fd", netfd.GetFdFromConn(conn))

	f := framer.New(s.pool, s.cfg.RingBufferHint, s.cfg.MaxPayloadSize, log)
	var state *clients.State
	reason := wire.DisconnectSocketError

	defer func() {
		conn.Close()
		if state != nil {
			s.clients.Remove(peerKey, reason)
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			f.Feed(buf[:n])
			for {
				decoded, ok := f.Next()
				if !ok {
					break
				}
				if decoded.CommandID == wire.CmdConnect && state == nil {
					var connected bool
					state, connected = s.clients.Connect(peerKey, conn,
						func() *framer.Framer { return f },
						func() *reassembly.Table { return s.newReassemblyTable(log) },
						s.cfg.CreateClient)
					s.pool.Return(decoded.Payload)
					if !connected {
						reason = wire.DisconnectUnspecified
						return
					}
					s.writeFrame(conn, wire.CmdConnect, 0, nil, []byte(state.ID.String()), true, s.cfg.MaxPayloadSize)
					continue
				}
				if state == nil {
					s.pool.Return(decoded.Payload)
					continue
				}
				state.Touch()
				s.handleFrame(state, decoded)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				reason = wire.DisconnectGraceful
			}
			return
		}
	}
}

func (s *Server) handleFrame(state *clients.State, decoded *codec.Decoded) {
	peerKey := state.PeerKey
	s.reportResyncs(state)

	if decoded.Chunk != nil {
		buf, complete := state.Reassembly.Feed(peerKey, decoded.Chunk, decoded.Payload)
		s.pool.Return(decoded.Payload)
		if !complete {
			return
		}
		s.reportFrame(decoded.CommandID)
		s.registry.Dispatch(s.pool, peerKey, &codec.Decoded{
			CommandID:  decoded.CommandID,
			ResponseID: decoded.ResponseID,
			Payload:    buf,
		})
		return
	}

	tcp, maxPayload := s.transportFor(state.Conn)
	switch decoded.CommandID {
	case wire.CmdPing:
		s.writeFrame(state.Conn, wire.CmdPing, 0, nil, decoded.Payload, tcp, maxPayload)
		s.pool.Return(decoded.Payload)
	case wire.CmdDisconnect:
		s.pool.Return(decoded.Payload)
		s.clients.Remove(peerKey, wire.DisconnectGraceful)
		state.Conn.Close()
	default:
		s.reportFrame(decoded.CommandID)
		s.registry.Dispatch(s.pool, peerKey, decoded)
	}
}

func (s *Server) reportFrame(commandID uint16) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FrameReceived(strconv.Itoa(int(commandID)))
	}
}

func (s *Server) reportResyncs(state *clients.State) {
	if s.cfg.Metrics == nil {
		return
	}
	if n := state.Framer.Resyncs(); n > state.ReportedResyncs() {
		s.cfg.Metrics.Resync(state.PeerKey)
		state.SetReportedResyncs(n)
	}
}

func (s *Server) serveUDP() {
	defer s.wg.Done()
	buf := make([]byte, 65536)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&s.closing) == 1 {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("netframe: udp read failed")
			continue
		}
		if n == 0 {
			continue
		}
		decoded, err := codec.Decode(s.pool, buf[:n], s.udpMaxPayload())
		if err != nil {
			s.log.WithError(err).WithField("peer", addr).Debug("netframe: dropping malformed udp datagram")
			continue
		}
		peerKey := addr.String()
		if decoded.CommandID == wire.CmdUDPConnect {
			id := xid.New()
			if state, ok := s.clients.Connect(peerKey, newUDPConn(s.udpConn, addr),
				func() *framer.Framer { return nil },
				func() *reassembly.Table { return s.newReassemblyTable(s.log) },
				s.cfg.CreateClient); ok {
				id = state.ID
			}
			s.pool.Return(decoded.Payload)
			s.writeFrameUDP(addr, wire.CmdUDPConnect, []byte(id.String()))
			continue
		}
		if decoded.Chunk != nil {
			reassembler := s.reassemblyFor(peerKey)
			out, complete := reassembler.Feed(peerKey, decoded.Chunk, decoded.Payload)
			s.pool.Return(decoded.Payload)
			if !complete {
				continue
			}
			s.reportFrame(decoded.CommandID)
			s.registry.Dispatch(s.pool, peerKey, &codec.Decoded{CommandID: decoded.CommandID, ResponseID: decoded.ResponseID, Payload: out})
			continue
		}
		s.reportFrame(decoded.CommandID)
		s.registry.Dispatch(s.pool, peerKey, decoded)
	}
}

func (s *Server) reassemblyFor(peerKey string) *reassembly.Table {
	if state, ok := s.clients.Lookup(peerKey); ok {
		return state.Reassembly
	}
	return s.newReassemblyTable(s.log)
}

// transportFor reports whether conn is a TCP (framed, sentinel-terminated)
// or UDP (bare, one-frame-per-datagram) peer, and the max payload ceiling
// that applies to it.
func (s *Server) transportFor(conn net.Conn) (tcp bool, maxPayload int) {
	if _, isUDP := conn.(*udpConn); isUDP {
		return false, s.udpMaxPayload()
	}
	return true, s.cfg.MaxPayloadSize
}

// Send frames payload to peerKey, chunking automatically if it exceeds the
// configured max payload size for that peer's transport.
func (s *Server) Send(peerKey string, commandID uint16, payload []byte) wire.SendError {
	if wire.IsReserved(commandID) {
		return wire.SendInvalid
	}
	state, ok := s.clients.Lookup(peerKey)
	if !ok {
		return wire.SendDisconnected
	}
	return s.send(state.Conn, commandID, payload)
}

// SendToAll frames payload to every connected client, TCP or UDP.
func (s *Server) SendToAll(commandID uint16, payload []byte) {
	if wire.IsReserved(commandID) {
		return
	}
	s.clients.SendToAll(func(state *clients.State) {
		s.send(state.Conn, commandID, payload)
	})
}

// SendClientInfo pushes a CLIENT_INFO frame to peerKey directly, bypassing
// the reserved-command check the public Send API enforces (the same way
// the CONNECT ack and PING echo do).
func (s *Server) SendClientInfo(peerKey string, clientID int64, name string) wire.SendError {
	state, ok := s.clients.Lookup(peerKey)
	if !ok {
		return wire.SendDisconnected
	}
	tcp, maxPayload := s.transportFor(state.Conn)
	if err := s.writeFrame(state.Conn, wire.CmdClientInfo, 0, nil, wire.EncodeClientInfo(clientID, name), tcp, maxPayload); err != nil {
		if errors.Is(err, wire.ErrPayloadTooLarge) {
			return wire.SendPacketTooLarge
		}
		return wire.SendSocketError
	}
	return wire.SendOK
}

// send frames payload, chunking into successive frames of at most maxPayload
// (derived from the peer's transport) once payload exceeds that ceiling.
func (s *Server) send(conn net.Conn, commandID uint16, payload []byte) wire.SendError {
	tcp, maxPayload := s.transportFor(conn)

	if len(payload) <= maxPayload {
		if err := s.writeFrame(conn, commandID, 0, nil, payload, tcp, maxPayload); err != nil {
			if errors.Is(err, wire.ErrPayloadTooLarge) {
				return wire.SendPacketTooLarge
			}
			return wire.SendSocketError
		}
		return wire.SendOK
	}

	packetID := atomic.AddUint32(&s.packetSeq, 1)
	total := uint32(len(payload))
	chunkSize := uint32(maxPayload)
	for offset := uint32(0); offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		chunk := &wire.ChunkHeader{PacketID: packetID, ChunkOffset: offset, TotalLength: total}
		if err := s.writeFrame(conn, commandID, 0, chunk, payload[offset:end], tcp, maxPayload); err != nil {
			if errors.Is(err, wire.ErrPayloadTooLarge) {
				return wire.SendPacketTooLarge
			}
			return wire.SendSocketError
		}
	}
	return wire.SendOK
}

func (s *Server) writeFrame(conn net.Conn, commandID uint16, responseID uint32, chunk *wire.ChunkHeader, payload []byte, tcp bool, maxPayload int) error {
	frame, err := codec.Encode(s.pool, commandID, responseID, chunk, payload, s.cfg.Compression, tcp, maxPayload)
	if err != nil {
		return err
	}
	defer s.pool.Return(frame)
	_, err = conn.Write(frame)
	if err == nil {
		s.reportFrameSent(commandID)
	}
	return err
}

func (s *Server) writeFrameUDP(addr *net.UDPAddr, commandID uint16, payload []byte) error {
	frame, err := codec.Encode(s.pool, commandID, 0, nil, payload, wire.CompressionNone, false, s.udpMaxPayload())
	if err != nil {
		return err
	}
	defer s.pool.Return(frame)
	_, err = s.udpConn.WriteToUDP(frame, addr)
	if err == nil {
		s.reportFrameSent(commandID)
	}
	return err
}

func (s *Server) reportFrameSent(commandID uint16) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.FrameSent(strconv.Itoa(int(commandID)))
	}
}
