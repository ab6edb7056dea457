package stream

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/client/internal/router"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// DefaultHeartbeat 是 SSE 心跳间隔。
const DefaultHeartbeat = 15 * time.Second

// Handler 将聊天状态变化以SSE推送给视图
type Handler struct {
	chatState *state.ChatStore
	heartbeat time.Duration
}

// New 创建事件流处理器。heartbeat<=0 时使用默认值。
func New(chatState *state.ChatStore, heartbeat time.Duration) *Handler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Handler{chatState: chatState, heartbeat: heartbeat}
}

// RegisterRoutes 注册事件流路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(router.PathHome+"/events", h.handleEvents)
}

// Routes 返回需要登录的事件流路由。
func Routes() []router.Route {
	return []router.Route{
		{Path: router.PathHome + "/events", Name: "ChatEvents", RequiresAuth: true},
	}
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	updates, cancel := h.chatState.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	ctx := r.Context()
	log.Printf("[sse] opening chat event stream")

	if err := utils.SendSSEEvent(w, flusher, "snapshot", h.chatState.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sse] closing chat event stream")
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "snapshot", snap); err != nil {
				log.Printf("[sse] write failed: %v", err)
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
