package voicerecognition

import (
	"fmt"
	"net/http"
	"study-agent-backend/config"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// 空闲连接池大小
	poolSize = 4

	handshakeTimeout = 10 * time.Second
)

type WSConnection struct {
	conn *websocket.Conn
}

// wsConnectionPool 识别服务的WebSocket连接池，减少重复握手
var wsConnectionPool = &connectionPool{}

type connectionPool struct {
	mu   sync.Mutex
	idle []*WSConnection
}

func (p *connectionPool) Get() (*WSConnection, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	return dial()
}

func (p *connectionPool) Put(conn *WSConnection) {
	p.mu.Lock()
	if len(p.idle) >= poolSize {
		p.mu.Unlock()
		conn.conn.Close()
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
}

func dial() (*WSConnection, error) {
	header := http.Header{}
	header.Set("Authorization", "bearer "+config.Cfg.Voice.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.Dial(config.Cfg.Voice.Endpoint, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial asr endpoint: %v", err)
	}

	return &WSConnection{conn: conn}, nil
}
