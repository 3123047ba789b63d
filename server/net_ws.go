package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	readWait       = 60 * time.Second
	pingPeriod     = readWait * 9 / 10
	sendQueueSize  = 64
	maxMessageSize = 1 << 20 // 1MB
)

// ClientConn 单条 WebSocket 连接：读协程解码入站消息，写协程按队列写出
type ClientConn struct {
	ws    *websocket.Conn
	codec string
	send  chan frame

	closeOnce sync.Once
	done      chan struct{}
}

func NewClientConn(ws *websocket.Conn, codec string) *ClientConn {
	return &ClientConn{
		ws:    ws,
		codec: normalizeCodec(codec),
		send:  make(chan frame, sendQueueSize),
		done:  make(chan struct{}),
	}
}

// Enqueue 将要发送的帧压入队列（非阻塞，满则丢弃）
func (c *ClientConn) Enqueue(f frame) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- f:
	default:
		// 为了实时性丢弃，防止阻塞控制循环
	}
}

// Close 关闭底层连接并结束写协程（可重复调用）
func (c *ClientConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(f.kind, f.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取入站消息并分发给节点，直到连接断开
func (c *ClientConn) readPump(h *Hub) {
	defer h.unregister(c)
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(readWait)) })

	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
		m, err := decodeMessage(kind, payload)
		if err != nil {
			Log.Debugw("dropped frame", "error", err)
			continue
		}
		h.dispatch(m)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 机器人局域网内使用，允许所有来源
		return true
	},
}

// HandleWS WebSocket 接入：/ws?codec=json|cbor
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "error", err)
		return
	}
	client := NewClientConn(ws, r.URL.Query().Get("codec"))
	h.register(client)
	Log.Infow("client connected", "remote", r.RemoteAddr, "codec", client.codec)

	go client.writePump()
	go client.readPump(h)
}

// DialPeer 主动连接另一台机器人的总线，断线后退避重连，直到 ctx 取消
func (h *Hub) DialPeer(ctx context.Context, url, codec string) {
	backoff := time.Second
	for {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			Log.Debugw("peer dial failed", "url", url, "error", err, "retry", backoff)
		} else {
			backoff = time.Second
			client := NewClientConn(ws, codec)
			h.register(client)
			Log.Infow("peer connected", "url", url)
			go client.writePump()
			stop := context.AfterFunc(ctx, client.Close)
			client.readPump(h)
			stop()
			Log.Infow("peer disconnected", "url", url)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}
