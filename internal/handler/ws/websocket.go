// Package ws serves a session over a WebSocket: text sends, persona switches and
// animation acknowledgements travel as JSON frames in both directions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/timemachine/backend/internal/handler/chat"
	"github.com/zhouzirui/timemachine/backend/internal/middleware"
	chatService "github.com/zhouzirui/timemachine/backend/internal/service/chat"
)

const (
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	pingPeriod   = 54 * time.Second
)

// Inbound frame types.
const (
	TypeText     = "text"
	TypePersona  = "persona"
	TypeAnimated = "animated"
	TypeState    = "state"
)

// Outbound frame types. TypePersona and TypeState are reused for replies.
const (
	TypeConnected = "connected"
	TypeStart     = "start"
	TypeDelta     = "delta"
	TypeDone      = "done"
	TypeError     = "error"
)

// Handler WebSocket会话处理器
type Handler struct {
	chatSvc  *chatService.Service
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		chatSvc: chatSvc,
		logger:  logger.Named("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/{sessionID}", h.handleWebSocket)
}

// InboundMessage is a frame sent by the client.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TextMessage asks for a reply.
type TextMessage struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"`
}

// PersonaMessage switches the active persona.
type PersonaMessage struct {
	PersonaID string `json:"personaId"`
}

// AnimatedMessage records that a message finished its reveal animation.
type AnimatedMessage struct {
	MessageID int64 `json:"messageId"`
}

// OutgoingMessage is a frame sent to the client.
type OutgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorData is the payload of an error frame.
type ErrorData struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// DoneData is the payload of a done frame.
type DoneData struct {
	MessageID      int64  `json:"messageId"`
	Message        any    `json:"message"`
	Emotion        string `json:"emotion"`
	EmotionChanged bool   `json:"emotionChanged"`
}

// conn serialises writes; gorilla allows one concurrent writer.
type conn struct {
	ws        *websocket.Conn
	sessionID string
	mu        sync.Mutex
}

func (c *conn) write(msgType string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(OutgoingMessage{
		Type:      msgType,
		SessionID: c.sessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

func (c *conn) writeError(err error) error {
	return c.write(TypeError, ErrorData{Error: err.Error(), Status: chatHandler.StatusFor(err)})
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), chatHandler.StatusFor(err))
		return
	}
	client := middleware.ClientFromContext(r.Context())
	log := h.logger.With(zap.String("session", sessionID))

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{ws: ws, sessionID: sessionID}

	// The request context ends with the hijacked handler, not with the socket.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer ws.Close()
	defer wg.Wait()
	defer cancel()

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		pingLoop(ctx, ws)
	}()

	log.Debug("websocket connected")
	if err := c.write(TypeConnected, session.Snapshot()); err != nil {
		return
	}

	for {
		var msg InboundMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("read error", zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))

		switch msg.Type {
		case TypeText:
			var text TextMessage
			if err := json.Unmarshal(msg.Data, &text); err != nil {
				c.writeError(chatService.ErrEmptyMessage)
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.send(ctx, c, session, client, text, log)
			}()
		case TypePersona:
			var sw PersonaMessage
			if err := json.Unmarshal(msg.Data, &sw); err != nil || sw.PersonaID == "" {
				c.writeError(chatService.ErrPersonaRequired)
				continue
			}
			if err := session.SwitchPersona(ctx, client, sw.PersonaID); err != nil {
				c.writeError(err)
				continue
			}
			c.write(TypePersona, session.Snapshot())
		case TypeAnimated:
			var an AnimatedMessage
			if err := json.Unmarshal(msg.Data, &an); err == nil {
				session.MarkAnimated(an.MessageID)
			}
		case TypeState:
			c.write(TypeState, session.Snapshot())
		default:
			c.writeError(errors.New("unknown message type " + msg.Type))
		}
	}
}

func (h *Handler) send(ctx context.Context, c *conn, session *chatService.Session, client string, text TextMessage, log *zap.Logger) {
	obs := func(ev chatService.Event) {
		var err error
		switch ev.Type {
		case chatService.EventStart:
			err = c.write(TypeStart, map[string]any{"messageId": ev.MessageID, "personaId": ev.PersonaID})
		case chatService.EventDelta:
			err = c.write(TypeDelta, map[string]any{"messageId": ev.MessageID, "delta": ev.Delta, "reasoning": ev.Reasoning})
		case chatService.EventDone:
			err = c.write(TypeDone, DoneData{
				MessageID:      ev.MessageID,
				Message:        ev.Message,
				Emotion:        string(ev.Emotion),
				EmotionChanged: ev.EmotionChanged,
			})
		case chatService.EventError:
			err = c.write(TypeError, ErrorData{Error: ev.Error, Status: chatHandler.StatusFor(ev.Err)})
		}
		if err != nil {
			log.Debug("write event", zap.String("type", string(ev.Type)), zap.Error(err))
		}
	}

	if _, err := session.Send(ctx, chatService.SendRequest{
		Client:    client,
		Content:   text.Text,
		ImageData: text.Image,
	}, obs); err != nil {
		log.Info("send finished with error", zap.Error(err))
	}
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
