// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

/*
Package rsocket implements the RSocket protocol, a binary application protocol that multiplexes concurrent reactive interactions over a single byte stream connection.

Four interaction models are supported: request-response, fire-and-forget, request-stream and request-channel. Either peer may initiate any of them, and metadata may be pushed to the peer outside of any stream.

A Conn owns one transport connection. It reads and parses frames in ReadFrom, writes queued frames in WriteTo, and keeps the per-stream state of both the requests it has made (odd stream ids from a client, even from a server) and the requests it is serving for its responder. The connection begins with a SETUP frame carrying the keepalive interval, max lifetime and the data and metadata MIME types; KEEPALIVE frames are then exchanged until either peer closes the connection or the lifetime passes without one.

A Connector dials a transport URL (tcp, ws, wss or quic), sends SETUP and returns the Conn as an RSocket. A Server listens on transport URLs and hands each SETUP to a SocketAcceptor, which either refuses it or returns the responder RSocket for that connection. A Client balances requests over connections to several servers and redials them as needed.

A frame is a 24-bit length prefix followed by the stream id, the frame type with its metadata flag, the remaining flags and the type specific body. Payloads may carry both metadata and data.

The rx package holds the minimal reactive streams used for stream results, the metadata package encodes composite metadata, and the router package routes requests by their routing metadata to registered service methods.
*/
package rsocket
