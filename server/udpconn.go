/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

package server

import (
	"net"
	"time"
)

// udpConn adapts one remote address on a shared *net.UDPConn to the
// net.Conn interface, so a UDP peer can sit in the same clients.Table as a
// TCP one. Reads are not meaningful on it; the server's single UDP receive
// loop is the only reader of the underlying socket.
type udpConn struct {
	shared *net.UDPConn
	remote *net.UDPAddr
}

func newUDPConn(shared *net.UDPConn, remote *net.UDPAddr) net.Conn {
	return &udpConn{shared: shared, remote: remote}
}

func (c *udpConn) Read([]byte) (int, error)         { return 0, net.ErrClosed }
func (c *udpConn) Write(b []byte) (int, error)      { return c.shared.WriteToUDP(b, c.remote) }
func (c *udpConn) Close() error                     { return nil }
func (c *udpConn) LocalAddr() net.Addr              { return c.shared.LocalAddr() }
func (c *udpConn) RemoteAddr() net.Addr             { return c.remote }
func (c *udpConn) SetDeadline(t time.Time) error    { return nil }
func (c *udpConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *udpConn) SetWriteDeadline(t time.Time) error { return nil }
