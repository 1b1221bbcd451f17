/**
 * Copyright (c) 2022, Xerra Earth Observation Institute
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package netframe re-exports the pieces of this module most callers need
// for a single import: the server and client engines, the wire-level
// types and errors, and the command registry's message and handler
// shapes.
package netframe

import (
	"gitlab.com/xerra/common/go-netframe/client"
	"gitlab.com/xerra/common/go-netframe/internal/registry"
	"gitlab.com/xerra/common/go-netframe/server"
	"gitlab.com/xerra/common/go-netframe/wire"
)

type (
	// Server is the TCP/UDP server engine. See package server.
	Server = server.Server
	// ServerConfig configures a Server.
	ServerConfig = server.Config

	// Client is the engine for one connection to a Server. See package
	// client.
	Client = client.Client
	// ClientConfig configures a Client.
	ClientConfig = client.Config

	// Message is what a Handler receives for one dispatched frame.
	Message = registry.Message
	// Handler processes a dispatched Message; returning false
	// unsubscribes it.
	Handler = registry.Handler
	// Deserializer turns a raw payload into an application-level value.
	Deserializer = registry.Deserializer

	// SendError describes why a send did not complete.
	SendError = wire.SendError
	// DisconnectReason describes why a peer was removed from a server's
	// client table.
	DisconnectReason = wire.DisconnectReason

	// CompressionMode selects a frame's payload compression.
	CompressionMode = wire.CompressionMode
)

// NewServer validates cfg and returns an unstarted Server.
func NewServer(cfg ServerConfig) (*Server, error) { return server.New(cfg) }

const (
	CompressionNone = wire.CompressionNone
	CompressionLZ4  = wire.CompressionLZ4
)

const (
	SendOK             = wire.SendOK
	SendInvalid        = wire.SendInvalid
	SendSocketError    = wire.SendSocketError
	SendDisconnected   = wire.SendDisconnected
	SendPacketTooLarge = wire.SendPacketTooLarge
)

const (
	DisconnectUnspecified  = wire.DisconnectUnspecified
	DisconnectGraceful     = wire.DisconnectGraceful
	DisconnectSocketError  = wire.DisconnectSocketError
	DisconnectTimeoutReset = wire.DisconnectTimeoutReset
)
