package stream

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatHandler "github.com/zhouzirui/timemachine/backend/internal/handler/chat"
	"github.com/zhouzirui/timemachine/backend/internal/middleware"
	chatService "github.com/zhouzirui/timemachine/backend/internal/service/chat"
	"github.com/zhouzirui/timemachine/backend/pkg/utils"
)

// SSE event names.
const (
	EventStart   = "start"
	EventDelta   = "delta"
	EventMessage = "message"
	EventEmotion = "emotion"
	EventEnd     = "end"
	EventError   = "error"
)

// Handler manages streaming replies via Server-Sent Events
type Handler struct {
	chatSvc *chatService.Service
	logger  *zap.Logger
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{chatSvc: chatSvc, logger: logger.Named("stream")}
}

// RegisterRoutes mounts the streaming endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/stream/{sessionID}", h.handleStream)
}

// Request is the body of a streaming send.
type Request struct {
	Message string `json:"message"`
	// Image is an optional data URI.
	Image string `json:"image,omitempty"`
}

// StartPayload opens a reply.
type StartPayload struct {
	MessageID int64  `json:"messageId"`
	PersonaID string `json:"personaId"`
}

// DeltaPayload carries one visible fragment and the reasoning so far.
type DeltaPayload struct {
	MessageID int64  `json:"messageId"`
	Delta     string `json:"delta"`
	Reasoning string `json:"reasoning,omitempty"`
}

// EmotionPayload announces the mood after a reply.
type EmotionPayload struct {
	Emotion string `json:"emotion"`
}

// ErrorPayload reports a failed or refused send.
type ErrorPayload struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.chatSvc.GetSession(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, chatHandler.StatusFor(err), err.Error())
		return
	}

	var req Request
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	log := h.logger.With(zap.String("session", sessionID))
	writeFailed := false
	send := func(event string, data any) {
		if writeFailed {
			return
		}
		if err := utils.SendSSEEvent(w, flusher, event, data); err != nil {
			log.Debug("client went away", zap.Error(err))
			writeFailed = true
		}
	}

	obs := func(ev chatService.Event) {
		switch ev.Type {
		case chatService.EventStart:
			send(EventStart, StartPayload{MessageID: ev.MessageID, PersonaID: ev.PersonaID})
		case chatService.EventDelta:
			send(EventDelta, DeltaPayload{MessageID: ev.MessageID, Delta: ev.Delta, Reasoning: ev.Reasoning})
		case chatService.EventDone:
			send(EventMessage, ev.Message)
			if ev.EmotionChanged {
				send(EventEmotion, EmotionPayload{Emotion: string(ev.Emotion)})
			}
		case chatService.EventError:
			send(EventError, ErrorPayload{Error: ev.Error, Status: chatHandler.StatusFor(ev.Err)})
		}
	}

	_, err = session.Send(r.Context(), chatService.SendRequest{
		Client:    middleware.ClientFromContext(r.Context()),
		Content:   req.Message,
		ImageData: req.Image,
	}, obs)
	if err != nil {
		log.Info("send finished with error", zap.Error(err))
	}

	// end carries the settled session state.
	send(EventEnd, session.Snapshot())
}
