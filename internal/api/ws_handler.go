package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/api/middleware"
	"studyhub/internal/notify"
)

const (
	wsAuthTimeout  = 10 * time.Second
	wsPingInterval = 30 * time.Second
	wsWriteTimeout = 5 * time.Second
)

// WsHandler 负责 WebSocket 鉴权，并把用户的 Redis 通知频道转发给客户端。
type WsHandler struct {
	redisClient    redis.UniversalClient
	tokens         middleware.TokenValidator
	resolver       middleware.IdentityResolver
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。allowedOrigins 为空时只允许同源。
func NewWsHandler(redisClient redis.UniversalClient, tokens middleware.TokenValidator, resolver middleware.IdentityResolver, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		redisClient:    redisClient,
		tokens:         tokens,
		resolver:       resolver,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WsHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.allowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleConnection 升级连接，等待首条 auth 消息后开始转发通知。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(
		slog.String("correlation_id", middleware.GetCorrelationID(c)),
		slog.String("client_ip", c.ClientIP()),
	)

	userID, err := h.authenticate(ctx, conn)
	if err != nil {
		baseLog.Info("websocket authentication failed", slog.Any("error", err))
		return
	}

	userLog := baseLog.With(slog.Uint64("user_id", uint64(userID)))
	userLog.Info("websocket authenticated")

	errCh := make(chan error, 2)
	go h.readLoop(conn, errCh)
	go h.subscribeLoop(ctx, conn, userID, errCh, userLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		userLog.Info("websocket connection closed", slog.Any("error", err))
	}
}

// authenticate 读取首条消息并校验令牌，拒绝已删除或需要改密的账号。
func (h *WsHandler) authenticate(ctx context.Context, conn *websocket.Conn) (uint, error) {
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read auth message: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	var msg wsAuthMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "invalid auth payload")
		return 0, fmt.Errorf("decode auth payload: %w", err)
	}
	if msg.Type != "auth" || msg.Token == "" {
		writeClose(conn, websocket.ClosePolicyViolation, "auth required")
		return 0, errors.New("invalid auth message")
	}

	claims, err := h.tokens.ValidateToken(msg.Token)
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
		return 0, fmt.Errorf("validate token: %w", err)
	}
	identity, err := h.resolver.Resolve(ctx, claims.UserID)
	if err != nil {
		writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
		return 0, fmt.Errorf("resolve user: %w", err)
	}
	if identity.MustChangePassword {
		writeClose(conn, websocket.ClosePolicyViolation, "password change required")
		return 0, errors.New("password change required")
	}
	return identity.UserID, nil
}

// readLoop 丢弃客户端消息，仅用于检测断开。
func (h *WsHandler) readLoop(conn *websocket.Conn, errCh chan<- error) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			errCh <- fmt.Errorf("read message: %w", err)
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(wsWriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(ctx context.Context, conn *websocket.Conn, userID uint, errCh chan<- error, log *slog.Logger) {
	channel := notify.Channel(userID)
	pubsub := h.redisClient.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				errCh <- errors.New("pubsub channel closed")
				return
			}
			log.Debug("forwarding notification", slog.String("channel", channel))
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				errCh <- fmt.Errorf("write message: %w", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				errCh <- fmt.Errorf("write ping: %w", err)
				return
			}
		}
	}
}
