package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaymail/backend/internal/domain"
	"relaymail/backend/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// newTestServer 启动挂载了 Hub 的测试服务器，用户由查询参数 uid 指定
func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if uid := c.Query("uid"); uid != "" {
			c.Set(middleware.ContextUser, &domain.User{ID: uid, IsActive: true})
		}
		c.Next()
	}, HandleWebSocket(hub))

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?uid=" + uid
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func testView() domain.ActivityView {
	return domain.ActivityView{
		Action:       domain.KindForward,
		From:         "c1@example.com",
		To:           "a1.x@relay.mail",
		Timestamp:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		ReverseAlias: `"c1 at example.com" <ra+abc@reply.relay.mail>`,
	}
}

func TestHub_NotifyActivity(t *testing.T) {
	t.Run("推送给该用户的连接", func(t *testing.T) {
		hub, srv := newTestServer(t)
		conn := dial(t, srv, "u1")
		require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

		hub.NotifyActivity("u1", 7, testView())

		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeActivity, msg.Type)
		assert.Equal(t, uint64(7), msg.AliasID)

		var data ActivityData
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, "forward", data.Action)
		assert.Equal(t, "c1@example.com", data.From)
		assert.Equal(t, "a1.x@relay.mail", data.To)
		assert.Equal(t, testView().Timestamp.Unix(), data.Timestamp)
	})

	t.Run("订阅后只接收指定别名", func(t *testing.T) {
		hub, srv := newTestServer(t)
		conn := dial(t, srv, "u1")
		require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

		require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, AliasID: 2}))
		ack := readMessage(t, conn)
		assert.Equal(t, MessageTypeSubscribed, ack.Type)

		hub.NotifyActivity("u1", 1, testView())
		hub.NotifyActivity("u1", 2, testView())

		msg := readMessage(t, conn)
		assert.Equal(t, uint64(2), msg.AliasID)
	})

	t.Run("其他用户收不到", func(t *testing.T) {
		hub, srv := newTestServer(t)
		other := dial(t, srv, "u2")
		mine := dial(t, srv, "u1")
		require.Eventually(t, func() bool {
			return hub.ClientCount("u1") == 1 && hub.ClientCount("u2") == 1
		}, 2*time.Second, 10*time.Millisecond)

		hub.NotifyActivity("u1", 1, testView())
		msg := readMessage(t, mine)
		assert.Equal(t, MessageTypeActivity, msg.Type)

		require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
		_, _, err := other.ReadMessage()
		assert.Error(t, err)
	})
}

func TestHub_Ping(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "u1")
	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypePing}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypePong, msg.Type)
}

func TestHub_Unregister(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv, "u1")
	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClient_SendAfterHubStopped(t *testing.T) {
	t.Run("关闭后发送不会 panic", func(t *testing.T) {
		hub := NewHub(nil, nil, nil)
		c := &Client{ID: "c1", UserID: "u1", send: make(chan []byte, sendBuffer), hub: hub, aliases: make(map[uint64]bool)}

		c.closeSend()
		assert.NotPanics(t, func() {
			c.closeSend()
			c.sendMessage(&Message{Type: MessageTypePong})
			c.sendError("unknown message type")
		})
		assert.False(t, c.enqueue([]byte("x")))
	})

	t.Run("停止 Hub 与客户端回复并发", func(t *testing.T) {
		hub := NewHub(nil, nil, nil)
		ctx, cancel := context.WithCancel(context.Background())
		stopped := make(chan struct{})
		go func() {
			hub.Run(ctx)
			close(stopped)
		}()

		c := &Client{ID: "c1", UserID: "u1", send: make(chan []byte, sendBuffer), hub: hub, aliases: make(map[uint64]bool)}
		hub.register <- c
		require.Eventually(t, func() bool { return hub.ClientCount("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 500; j++ {
					c.handleMessage(&Message{Type: MessageTypePing})
				}
			}()
		}
		go func() {
			for range c.send {
			}
		}()
		cancel()
		<-stopped
		wg.Wait()

		assert.Equal(t, 0, hub.ClientCount("u1"))
		assert.False(t, c.enqueue([]byte("x")))
	})
}

func TestHandleWebSocket_Unauthenticated(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUpgraderFactory_CheckOrigin(t *testing.T) {
	up := upgraderFactory([]string{"https://app.relay.mail"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://app.relay.mail")
	assert.True(t, up.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))
}
