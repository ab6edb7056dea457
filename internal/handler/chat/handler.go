package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/z-tavern/client/internal/model/character"
	"github.com/zhouzirui/z-tavern/client/internal/router"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// CharacterLookup 按 ID 查询角色，character.Client 实现了该接口。
type CharacterLookup interface {
	Get(ctx context.Context, id int64) (*model.Character, error)
}

// Handler 主页聊天动作的HTTP处理器
type Handler struct {
	chatState  *state.ChatStore
	authState  *state.AuthStore
	characters CharacterLookup
}

// New 创建聊天处理器
func New(chatState *state.ChatStore, authState *state.AuthStore, characters CharacterLookup) *Handler {
	return &Handler{chatState: chatState, authState: authState, characters: characters}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(router.PathHome, h.handleHome)
	r.Get(router.PathHome+"/characters", h.handleCharacters)
	r.Post(router.PathHome+"/select", h.handleSelect)
	r.Post(router.PathHome+"/send", h.handleSend)
}

// Routes 返回需要登录的聊天动作路由。
func Routes() []router.Route {
	return []router.Route{
		{Path: router.PathHome + "/characters", Name: "Characters", RequiresAuth: true},
		{Path: router.PathHome + "/select", Name: "SelectCharacter", RequiresAuth: true},
		{Path: router.PathHome + "/send", Name: "SendMessage", RequiresAuth: true},
	}
}

type homeResponse struct {
	Route string             `json:"route"`
	Auth  state.AuthSnapshot `json:"auth"`
	Chat  state.ChatSnapshot `json:"chat"`
}

// handleHome 返回主页视图状态，首次进入时加载角色列表。
func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	if len(h.chatState.Snapshot().Characters) == 0 {
		h.chatState.LoadCharacters(r.Context())
	}
	utils.RespondJSON(w, http.StatusOK, homeResponse{
		Route: "Home",
		Auth:  h.authState.Snapshot(),
		Chat:  h.chatState.Snapshot(),
	})
}

func (h *Handler) handleCharacters(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	if query == "" {
		h.chatState.LoadCharacters(r.Context())
	} else {
		h.chatState.SearchCharacters(r.Context(), query)
	}
	utils.RespondJSON(w, http.StatusOK, h.chatState.Snapshot().Characters)
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CharacterID int64 `json:"characterId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.CharacterID == 0 {
		utils.RespondError(w, http.StatusBadRequest, "characterId is required")
		return
	}

	character, err := h.findCharacter(r.Context(), payload.CharacterID)
	if err != nil {
		utils.RespondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if character == nil {
		utils.RespondError(w, http.StatusNotFound, "character not found")
		return
	}

	h.chatState.SelectCharacter(r.Context(), *character)
	utils.RespondJSON(w, http.StatusOK, h.chatState.Snapshot())
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Message string `json:"message"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.chatState.SendMessage(r.Context(), payload.Message)
	switch {
	case err == nil:
		utils.RespondJSON(w, http.StatusOK, h.chatState.Snapshot())
	case errors.Is(err, state.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message is required")
	case errors.Is(err, state.ErrNoCharacter):
		utils.RespondError(w, http.StatusConflict, state.MsgSelectCharacter)
	default:
		utils.RespondError(w, http.StatusBadGateway, state.MsgSendFailed)
	}
}

// findCharacter 优先使用已加载的列表，找不到时再查询远端。
func (h *Handler) findCharacter(ctx context.Context, id int64) (*model.Character, error) {
	for _, c := range h.chatState.Snapshot().Characters {
		if c.ID == id {
			found := c
			return &found, nil
		}
	}
	if h.characters == nil {
		return nil, nil
	}
	return h.characters.Get(ctx, id)
}
