/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package client is the client engine (C10): it dials a server over TCP or
// UDP, maintains one receive loop, and exposes fire-and-forget Send
// alongside request/response SendRequest backed by the response table.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"gitlab.com/xerra/common/go-netframe/internal/bufpool"
	"gitlab.com/xerra/common/go-netframe/internal/codec"
	"gitlab.com/xerra/common/go-netframe/internal/framer"
	"gitlab.com/xerra/common/go-netframe/internal/reassembly"
	"gitlab.com/xerra/common/go-netframe/internal/registry"
	"gitlab.com/xerra/common/go-netframe/internal/respwait"
	"gitlab.com/xerra/common/go-netframe/pkg/metrics"
	"gitlab.com/xerra/common/go-netframe/wire"
)

// Config configures a Client. Network selects the transport: "tcp" (the
// default) or "udp".
type Config struct {
	Addr    string
	Network string

	MaxPayloadSize int
	RingBufferHint int
	Compression    wire.CompressionMode

	OnDisconnected func(wire.DisconnectReason)
	OnClientInfo   func(clientID int64, name string)

	Logger  logrus.FieldLogger
	Metrics *metrics.Collector
}

func (c *Config) setDefaults() {
	if c.Network == "" {
		c.Network = "tcp"
	}
	if c.MaxPayloadSize <= 0 {
		if c.Network == "udp" {
			c.MaxPayloadSize = wire.UDPPayloadSizeMaxDefault
		} else {
			c.MaxPayloadSize = wire.TCPPayloadSizeMaxDefault
		}
	}
	if c.RingBufferHint <= 0 {
		c.RingBufferHint = 64 * 1024
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

// Client is one connection to a netframe server.
type Client struct {
	cfg     Config
	log     logrus.FieldLogger
	conn    net.Conn
	network string

	pool       *bufpool.Pool
	registry   *registry.Registry
	respwait   *respwait.Table
	framer     *framer.Framer
	reassembly *reassembly.Table

	id        atomic.Value // string
	closing   int32
	doneCh    chan struct{}
	packetSeq uint32
}

// Connect dials addr and completes the CONNECT (or UDP_CONNECT) handshake
// before returning.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("netframe: client requires an Addr")
	}
	cfg.setDefaults()
	if cfg.Network != "tcp" && cfg.Network != "udp" {
		return nil, fmt.Errorf("netframe: unknown network %q", cfg.Network)
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, cfg.Network, cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("netframe: dial %s %s: %w", cfg.Network, cfg.Addr, err)
	}

	pool := bufpool.New()
	pool.SetMetrics(cfg.Metrics)
	log := cfg.Logger
	c := &Client{
		cfg:      cfg,
		log:      log,
		conn:     conn,
		network:  cfg.Network,
		pool:     pool,
		registry: registry.New(),
		respwait: respwait.New(pool),
		doneCh:   make(chan struct{}),
	}
	if c.network == "tcp" {
		c.framer = framer.New(pool, cfg.RingBufferHint, cfg.MaxPayloadSize, log)
	}
	c.reassembly = reassembly.New(pool, wire.ReassemblyTTL, log)
	c.reassembly.SetMetrics(cfg.Metrics)
	c.id.Store("")

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	go c.receiveLoop()
	return c, nil
}

func (c *Client) handshake() error {
	connectCmd := wire.CmdConnect
	if c.network == "udp" {
		connectCmd = wire.CmdUDPConnect
	}
	if err := c.writeFrame(connectCmd, 0, nil, nil); err != nil {
		return fmt.Errorf("netframe: connect handshake: %w", err)
	}
	if c.network == "udp" {
		return c.handshakeUDP(connectCmd)
	}

	buf := make([]byte, 4096)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return fmt.Errorf("netframe: connect handshake: %w", err)
		}
		c.framer.Feed(buf[:n])
		decoded, ok := c.framer.Next()
		if !ok {
			continue
		}
		if decoded.CommandID != connectCmd {
			c.pool.Return(decoded.Payload)
			return errors.New("netframe: connect handshake: unexpected first frame")
		}
		c.id.Store(string(decoded.Payload))
		c.pool.Return(decoded.Payload)
		return nil
	}
}

// handshakeUDP reads the server's single UDP_CONNECT reply datagram. UDP
// frames carry no sentinel and arrive one-per-datagram, so this decodes
// directly rather than feeding a Framer.
func (c *Client) handshakeUDP(connectCmd uint16) error {
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		return fmt.Errorf("netframe: connect handshake: %w", err)
	}
	decoded, err := codec.Decode(c.pool, buf[:n], c.cfg.MaxPayloadSize)
	if err != nil {
		return fmt.Errorf("netframe: connect handshake: %w", err)
	}
	if decoded.CommandID != connectCmd {
		c.pool.Return(decoded.Payload)
		return errors.New("netframe: connect handshake: unexpected first frame")
	}
	c.id.Store(string(decoded.Payload))
	c.pool.Return(decoded.Payload)
	return nil
}

// ID returns the id the server assigned this client during CONNECT.
func (c *Client) ID() string { return c.id.Load().(string) }

// AddCommand registers a deserializer for one or more user command ids.
func (c *Client) AddCommand(deserializer registry.Deserializer, ids ...uint16) error {
	return c.registry.AddCommand(deserializer, ids...)
}

// RemoveCommands unregisters command ids.
func (c *Client) RemoveCommands(ids ...uint16) bool {
	return c.registry.RemoveCommands(ids...)
}

// AddDataReceived subscribes handler to id's dispatch list.
func (c *Client) AddDataReceived(id uint16, handler registry.Handler) error {
	return c.registry.AddDataReceived(id, handler)
}

// RemoveDataReceived unsubscribes handler from id.
func (c *Client) RemoveDataReceived(id uint16, handler registry.Handler) {
	c.registry.RemoveDataReceived(id, handler)
}

func (c *Client) receiveLoop() {
	if c.network == "udp" {
		c.receiveLoopUDP()
		return
	}

	defer close(c.doneCh)
	buf := make([]byte, 32*1024)
	reason := wire.DisconnectSocketError
	defer func() {
		c.conn.Close()
		c.respwait.CloseAll(wire.ErrDisconnected)
		if c.cfg.OnDisconnected != nil {
			c.cfg.OnDisconnected(reason)
		}
	}()

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.framer.Feed(buf[:n])
			for {
				decoded, ok := c.framer.Next()
				if !ok {
					break
				}
				c.handleFrame(decoded)
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

// receiveLoopUDP is the connectionless counterpart of receiveLoop: each
// datagram is exactly one frame, so it decodes directly instead of feeding
// a Framer.
func (c *Client) receiveLoopUDP() {
	defer close(c.doneCh)
	buf := make([]byte, 65536)
	reason := wire.DisconnectSocketError
	defer func() {
		c.conn.Close()
		c.respwait.CloseAll(wire.ErrDisconnected)
		if c.cfg.OnDisconnected != nil {
			c.cfg.OnDisconnected(reason)
		}
	}()

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				reason = wire.DisconnectGraceful
			}
			return
		}
		if n == 0 {
			continue
		}
		decoded, err := codec.Decode(c.pool, buf[:n], c.cfg.MaxPayloadSize)
		if err != nil {
			c.log.WithError(err).Debug("netframe: dropping malformed udp datagram")
			continue
		}
		c.handleFrame(decoded)
	}
}

func (c *Client) handleFrame(decoded *codec.Decoded) {
	if decoded.Chunk != nil {
		buf, complete := c.reassembly.Feed(c.cfg.Addr, decoded.Chunk, decoded.Payload)
		c.pool.Return(decoded.Payload)
		if !complete {
			return
		}
		c.dispatch(&codec.Decoded{CommandID: decoded.CommandID, ResponseID: decoded.ResponseID, Payload: buf})
		return
	}
	c.dispatch(decoded)
}

func (c *Client) dispatch(decoded *codec.Decoded) {
	if decoded.ResponseID != 0 {
		c.respwait.Complete(decoded.ResponseID, decoded.Payload)
		return
	}
	switch decoded.CommandID {
	case wire.CmdPing:
		c.pool.Return(decoded.Payload)
	case wire.CmdDisconnect:
		c.pool.Return(decoded.Payload)
		c.conn.Close()
	case wire.CmdClientInfo:
		clientID, name, err := wire.DecodeClientInfo(decoded.Payload)
		c.pool.Return(decoded.Payload)
		if err != nil {
			c.log.WithError(err).Debug("netframe: dropping malformed client_info frame")
			return
		}
		if c.cfg.OnClientInfo != nil {
			c.cfg.OnClientInfo(clientID, name)
		}
	default:
		c.registry.Dispatch(c.pool, c.cfg.Addr, decoded)
	}
}

// Send frames payload fire-and-forget, chunking automatically if it
// exceeds the configured max payload size.
func (c *Client) Send(commandID uint16, payload []byte) wire.SendError {
	if wire.IsReserved(commandID) {
		return wire.SendInvalid
	}
	return c.send(commandID, 0, payload)
}

// SendRequest frames payload with a fresh response id and blocks (up to
// timeout, or wire.DefaultRequestTimeout if zero) for the matching
// response. The returned payload is rented from the client's pool; the
// caller must return it once done.
func (c *Client) SendRequest(ctx context.Context, commandID uint16, payload []byte, timeout time.Duration) ([]byte, error) {
	if wire.IsReserved(commandID) {
		return nil, wire.ErrReservedCommand
	}
	if timeout <= 0 {
		timeout = wire.DefaultRequestTimeout
	}
	id, ch := c.respwait.Register(timeout)
	if err := c.writeFrame(commandID, id, nil, payload); err != nil {
		c.respwait.Cancel(id)
		return nil, fmt.Errorf("netframe: send request: %w", err)
	}
	select {
	case result := <-ch:
		return result.Payload, result.Err
	case <-ctx.Done():
		c.respwait.Cancel(id)
		return nil, ctx.Err()
	}
}

// ReleasePayload returns a buffer obtained from SendRequest to the
// client's internal pool, once the caller is done reading it.
func (c *Client) ReleasePayload(payload []byte) {
	c.pool.Return(payload)
}

// Disconnect sends a graceful DISCONNECT frame and closes the connection.
func (c *Client) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.closing, 0, 1) {
		return nil
	}
	c.writeFrame(wire.CmdDisconnect, 0, nil, nil)
	err := c.conn.Close()
	<-c.doneCh
	return err
}

// send frames payload, chunking into successive frames of at most the
// configured max payload size per spec, once payload exceeds that ceiling.
func (c *Client) send(commandID uint16, responseID uint32, payload []byte) wire.SendError {
	maxPayload := c.cfg.MaxPayloadSize
	if len(payload) <= maxPayload {
		if err := c.writeFrame(commandID, responseID, nil, payload); err != nil {
			if errors.Is(err, wire.ErrPayloadTooLarge) {
				return wire.SendPacketTooLarge
			}
			return wire.SendSocketError
		}
		return wire.SendOK
	}

	packetID := atomic.AddUint32(&c.packetSeq, 1)
	total := uint32(len(payload))
	chunkSize := uint32(maxPayload)
	for offset := uint32(0); offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		chunk := &wire.ChunkHeader{PacketID: packetID, ChunkOffset: offset, TotalLength: total}
		if err := c.writeFrame(commandID, responseID, chunk, payload[offset:end]); err != nil {
			if errors.Is(err, wire.ErrPayloadTooLarge) {
				return wire.SendPacketTooLarge
			}
			return wire.SendSocketError
		}
	}
	return wire.SendOK
}

func (c *Client) writeFrame(commandID uint16, responseID uint32, chunk *wire.ChunkHeader, payload []byte) error {
	tcp := c.network != "udp"
	frame, err := codec.Encode(c.pool, commandID, responseID, chunk, payload, c.cfg.Compression, tcp, c.cfg.MaxPayloadSize)
	if err != nil {
		return err
	}
	defer c.pool.Return(frame)
	_, err = c.conn.Write(frame)
	return err
}
