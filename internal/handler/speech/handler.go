package speech

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/client/internal/router"
	"github.com/zhouzirui/z-tavern/client/internal/service/voice"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// Handler 语音识别动作的HTTP处理器
type Handler struct {
	chatState *state.ChatStore
}

// New 创建语音处理器
func New(chatState *state.ChatStore) *Handler {
	return &Handler{chatState: chatState}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route(router.PathHome+"/voice", func(voiceRouter chi.Router) {
		voiceRouter.Post("/start", h.handleStart)
		voiceRouter.Post("/stop", h.handleStop)
	})
}

// Routes 返回需要登录的语音动作路由。
func Routes() []router.Route {
	return []router.Route{
		{Path: router.PathHome + "/voice/start", Name: "VoiceStart", RequiresAuth: true},
		{Path: router.PathHome + "/voice/stop", Name: "VoiceStop", RequiresAuth: true},
	}
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := h.chatState.StartVoiceRecognition(r.Context())
	if err != nil {
		utils.RespondError(w, statusFor(err), state.MsgVoiceStartFailed)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"sessionId": id})
}

// handleStop 结束识别；send 为 true 时把识别结果作为消息发送给当前角色。
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"sessionId"`
		Send      bool   `json:"send"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := h.chatState.StopVoiceRecognition(r.Context(), payload.SessionID)
	if err != nil {
		utils.RespondError(w, statusFor(err), state.MsgVoiceFailed)
		return
	}

	resp := map[string]any{"text": text}
	if payload.Send && strings.TrimSpace(text) != "" {
		if err := h.chatState.SendMessage(r.Context(), text); err != nil {
			resp["error"] = h.chatState.Snapshot().Error
		}
		resp["chat"] = h.chatState.Snapshot()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, voice.ErrAlreadyRecording),
		errors.Is(err, voice.ErrNotRecording),
		errors.Is(err, voice.ErrSessionMismatch):
		return http.StatusConflict
	case errors.Is(err, state.ErrNoRecognizer),
		errors.Is(err, voice.ErrNoDevice),
		errors.Is(err, voice.ErrUnsupportedFormat):
		return http.StatusServiceUnavailable
	case errors.Is(err, voice.ErrEmptyAudio):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}
