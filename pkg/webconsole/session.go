package webconsole

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/lomehong/chatplot/pkg/ingest"
	"github.com/lomehong/chatplot/pkg/plugin/api"
	"github.com/lomehong/chatplot/pkg/plugin/dispatch"
)

// 会话消息类型
const (
	MessageTypeResult = "result"
	MessageTypeError  = "error"
)

// ChatRequest 聊天会话中的一条分发请求
type ChatRequest struct {
	// 客户端生成的消息ID，原样回传
	ID        string          `json:"id,omitempty"`
	Category  api.Category    `json:"category"`
	Name      string          `json:"name"`
	Operation api.Operation   `json:"operation"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Options   api.Options     `json:"options,omitempty"`
}

// ChatReply 聊天会话的回复
type ChatReply struct {
	Type      string        `json:"type"`
	ID        string        `json:"id,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
	Value     any           `json:"value,omitempty"`
	Error     string        `json:"error,omitempty"`
	Kind      api.ErrorKind `json:"kind,omitempty"`
	CauseKind api.ErrorKind `json:"cause_kind,omitempty"`
}

// sessionHub 记录活动的聊天会话，同一客户端ID的新连接替换旧连接
type sessionHub struct {
	sessions map[string]*session
	logger   hclog.Logger
	mu       sync.Mutex
}

func newSessionHub(logger hclog.Logger) *sessionHub {
	return &sessionHub{
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

func (h *sessionHub) add(s *session) {
	h.mu.Lock()
	old := h.sessions[s.clientID]
	h.sessions[s.clientID] = s
	h.mu.Unlock()

	if old != nil {
		h.logger.Info("客户端重新连接，关闭旧会话", "client_id", s.clientID)
		old.close()
	}
}

func (h *sessionHub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s.clientID] == s {
		delete(h.sessions, s.clientID)
	}
}

func (h *sessionHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *sessionHub) closeAll() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// session 单个客户端的聊天会话
type session struct {
	clientID string
	conn     *websocket.Conn
	send     chan ChatReply
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		s.cancel()
		s.conn.Close()
	})
}

// serveSession 升级为WebSocket连接并处理聊天会话
func (c *Console) serveSession(ctx *gin.Context) {
	clientID := ctx.Param("client_id")

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || c.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		c.logger.Warn("升级WebSocket连接失败", "client_id", clientID, "error", err)
		return
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		clientID: clientID,
		conn:     conn,
		send:     make(chan ChatReply, 16),
		ctx:      sessionCtx,
		cancel:   cancel,
	}
	c.sessions.add(s)
	c.logger.Info("聊天会话已建立", "client_id", clientID)

	go c.writePump(s)
	c.readPump(s)
}

// readPump 读取客户端请求并逐条分发
func (c *Console) readPump(s *session) {
	defer func() {
		c.sessions.remove(s)
		s.close()
		c.logger.Info("聊天会话已关闭", "client_id", s.clientID)
	}()

	s.conn.SetReadLimit(c.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("读取会话消息失败", "client_id", s.clientID, "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		reply := c.handleChatMessage(s.ctx, data)
		select {
		case s.send <- reply:
		case <-s.ctx.Done():
			return
		}
	}
}

// writePump 发送回复并定期发送 ping
func (c *Console) writePump(s *session) {
	ticker := time.NewTicker(c.config.ReadTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.ctx.Done():
			s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.config.WriteTimeout))
			return
		case reply := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := s.conn.WriteJSON(reply); err != nil {
				c.logger.Debug("发送会话消息失败", "client_id", s.clientID, "error", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

// handleChatMessage 将一条消息分发给插件，错误作为回复返回而不是断开会话
func (c *Console) handleChatMessage(ctx context.Context, data []byte) ChatReply {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return ChatReply{Type: MessageTypeError, Error: "消息不是有效的JSON: " + err.Error(), Kind: api.ErrorKindUnknown}
	}

	payload, err := ingest.DecodePayload(req.Payload)
	if err != nil {
		return ChatReply{Type: MessageTypeError, ID: req.ID, Error: err.Error(), Kind: api.ErrorKindUnknown}
	}

	res, err := c.dispatcher.DispatchResult(ctx, dispatch.Request{
		Category:  req.Category,
		Name:      req.Name,
		Operation: req.Operation,
		Payload:   payload,
		Options:   req.Options,
	})
	if err != nil {
		body := newErrorBody(err)
		return ChatReply{
			Type:      MessageTypeError,
			ID:        req.ID,
			Error:     body.Error,
			Kind:      body.Kind,
			CauseKind: body.CauseKind,
		}
	}
	return ChatReply{Type: MessageTypeResult, ID: req.ID, RequestID: res.RequestID, Value: res.Value}
}
