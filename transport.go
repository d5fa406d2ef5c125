package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConnection 以 websocket 實作的後端連線
type WSConnection struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	incoming  chan Message
	done      chan struct{}
	closeOnce sync.Once
	readErr   error

	logger *zap.Logger
}

// DialBackend 連線到後端收集器
func DialBackend(ctx context.Context, cfg BackendConfig, logger *zap.Logger) (*WSConnection, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	url := cfg.URL()
	logger.Info("正在連線後端", zap.String("url", url))

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("連線後端 %s 失敗: %w", url, err)
	}

	peer := conn.RemoteAddr().String()
	logger.Info("後端已連線", zap.String("peer", peer))
	if resp != nil {
		logger.Debug("握手完成", zap.Int("status", resp.StatusCode))
	}

	return NewWSConnection(conn, cfg.WriteTimeout, logger.With(zap.String("peer", peer))), nil
}

// NewWSConnection 包裝已建立的 websocket 連線並啟動讀取迴圈
func NewWSConnection(conn *websocket.Conn, writeTimeout time.Duration, logger *zap.Logger) *WSConnection {
	c := &WSConnection{
		conn:         conn,
		writeTimeout: writeTimeout,
		incoming:     make(chan Message, 16),
		done:         make(chan struct{}),
		logger:       logger,
	}
	go c.readLoop()
	return c
}

// Send 以文字訊框傳送
func (c *WSConnection) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Incoming 後端送來的訊息
func (c *WSConnection) Incoming() <-chan Message {
	return c.incoming
}

// Done 連線關閉時關閉
func (c *WSConnection) Done() <-chan struct{} {
	return c.done
}

// Err 讀取迴圈結束的原因
func (c *WSConnection) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Close 送出關閉訊框並關閉連線
func (c *WSConnection) Close() error {
	c.markDone(ErrConnectionClosed)

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

func (c *WSConnection) markDone(err error) {
	c.closeOnce.Do(func() {
		c.readErr = err
		close(c.done)
	})
}

func (c *WSConnection) readLoop() {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("後端連線已關閉", zap.Error(err))
			} else {
				c.logger.Warn("讀取後端訊息失敗", zap.Error(err))
			}
			c.markDone(err)
			return
		}

		msg := Message{Binary: msgType == websocket.BinaryMessage, Payload: data}
		select {
		case c.incoming <- msg:
		case <-c.done:
			return
		default:
			c.logger.Debug("訊息佇列已滿，丟棄訊息", zap.Int("bytes", len(data)))
		}
	}
}
