// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package framing

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultMaxFrameBytes bounds a frame when no limit is configured.
const DefaultMaxFrameBytes = 4 << 20

// ErrFrameTooLarge is returned by ReadFrame for a frame over the
// limit. On line connections the oversized frame is skipped and the
// connection stays usable; on WebSockets the connection is closed.
var ErrFrameTooLarge = errors.New("framing: frame exceeds size limit")

// Conn reads and writes whole frames. WriteFrame is safe for
// concurrent use; ReadFrame must be called from a single goroutine.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Lines frames a stream connection as newline-delimited JSON.
func Lines(conn net.Conn, maxFrameBytes int) Conn {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &lineConn{conn: conn, reader: bufio.NewReader(conn), max: maxFrameBytes}
}

type lineConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	max     int
	writeMu sync.Mutex
}

func (l *lineConn) ReadFrame() ([]byte, error) {
	for {
		frame, err := l.readLine()
		if err != nil {
			return nil, err
		}
		frame = bytes.TrimSpace(frame)
		if len(frame) > 0 {
			return frame, nil
		}
	}
}

func (l *lineConn) readLine() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := l.reader.ReadSlice('\n')
		if len(frame)+len(chunk) > l.max {
			if err == nil {
				return nil, ErrFrameTooLarge
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				if discardErr := l.discardLine(); discardErr != nil {
					return nil, discardErr
				}
				return nil, ErrFrameTooLarge
			}
			return nil, err
		}
		frame = append(frame, chunk...)
		switch {
		case err == nil:
			return frame, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

func (l *lineConn) discardLine() error {
	for {
		_, err := l.reader.ReadSlice('\n')
		if err == nil {
			return nil
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return err
		}
	}
}

func (l *lineConn) WriteFrame(data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("framing: frame contains a newline")
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	buffer := make([]byte, 0, len(data)+1)
	buffer = append(buffer, data...)
	buffer = append(buffer, '\n')
	_, err := l.conn.Write(buffer)
	return err
}

func (l *lineConn) SetReadDeadline(t time.Time) error  { return l.conn.SetReadDeadline(t) }
func (l *lineConn) SetWriteDeadline(t time.Time) error { return l.conn.SetWriteDeadline(t) }
func (l *lineConn) RemoteAddr() net.Addr               { return l.conn.RemoteAddr() }
func (l *lineConn) Close() error                       { return l.conn.Close() }

// WebSocket frames a WebSocket connection, one text message per frame.
func WebSocket(ws *websocket.Conn, maxFrameBytes int) Conn {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	ws.SetReadLimit(int64(maxFrameBytes))
	return &webSocketConn{ws: ws}
}

type webSocketConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (w *webSocketConn) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := w.ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
			}
			return nil, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		data = bytes.TrimSpace(data)
		if len(data) > 0 {
			return data, nil
		}
	}
}

func (w *webSocketConn) WriteFrame(data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.ws.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a ping control message. Gorilla allows control writes
// concurrently with WriteFrame.
func (w *webSocketConn) Ping(deadline time.Time) error {
	return w.ws.WriteControl(websocket.PingMessage, nil, deadline)
}

func (w *webSocketConn) SetReadDeadline(t time.Time) error  { return w.ws.SetReadDeadline(t) }
func (w *webSocketConn) SetWriteDeadline(t time.Time) error { return w.ws.SetWriteDeadline(t) }
func (w *webSocketConn) RemoteAddr() net.Addr               { return w.ws.RemoteAddr() }

func (w *webSocketConn) Close() error {
	w.writeMu.Lock()
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.ws.Close()
}

// Pinger is implemented by connections that support keepalive pings.
type Pinger interface {
	Ping(deadline time.Time) error
}
