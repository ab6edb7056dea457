package session

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/z-tavern/client/internal/model/session"
	"github.com/zhouzirui/z-tavern/client/internal/router"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	authService "github.com/zhouzirui/z-tavern/client/internal/service/auth"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// 登录相关的提示文案。
const (
	msgLoginFailed    = "登录失败，请检查用户名和密码"
	msgGuestFailed    = "游客登录失败，请稍后再试"
	msgRegisterFailed = "注册失败，请稍后再试"
	msgRegistered     = "注册成功，请登录"
)

// Handler 登录页与会话动作的HTTP处理器
type Handler struct {
	auth      *authService.Client
	authState *state.AuthStore
	chatState *state.ChatStore
}

// New 创建会话处理器
func New(auth *authService.Client, authState *state.AuthStore, chatState *state.ChatStore) *Handler {
	return &Handler{auth: auth, authState: authState, chatState: chatState}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(router.PathRoot, h.handleRoot)
	r.Get(router.PathLogin, h.handleLoginView)
	r.Post(router.PathLogin+"/password", h.handlePasswordLogin)
	r.Post(router.PathLogin+"/guest", h.handleGuestLogin)
	r.Post(router.PathLogin+"/register", h.handleRegister)
	r.Post(router.PathHome+"/logout", h.handleLogout)
}

// Routes 返回本处理器需要加入守卫路由表的动作路由。
func Routes() []router.Route {
	return []router.Route{
		{Path: router.PathLogin + "/password", Name: "LoginPassword", GuestOnly: true},
		{Path: router.PathLogin + "/guest", Name: "LoginGuest", GuestOnly: true},
		{Path: router.PathLogin + "/register", Name: "LoginRegister", GuestOnly: true},
		{Path: router.PathHome + "/logout", Name: "Logout", RequiresAuth: true},
	}
}

type viewResponse struct {
	Route    string             `json:"route"`
	Auth     state.AuthSnapshot `json:"auth"`
	Redirect string             `json:"redirect,omitempty"`
	Message  string             `json:"message,omitempty"`
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, viewResponse{Route: "Root", Auth: h.authState.Snapshot()})
}

func (h *Handler) handleLoginView(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, viewResponse{Route: "Login", Auth: h.authState.Snapshot()})
}

func (h *Handler) handlePasswordLogin(w http.ResponseWriter, r *http.Request) {
	var creds model.Credentials
	if err := utils.DecodeJSON(r, &creds); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.begin()
	_, err := h.auth.Login(r.Context(), creds)
	if err != nil {
		h.fail(w, err, msgLoginFailed)
		return
	}
	h.succeed(w, r, http.StatusOK, "")
}

func (h *Handler) handleGuestLogin(w http.ResponseWriter, r *http.Request) {
	h.begin()
	if _, err := h.auth.GuestLogin(r.Context()); err != nil {
		h.fail(w, err, msgGuestFailed)
		return
	}
	h.succeed(w, r, http.StatusOK, "")
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var data model.Registration
	if err := utils.DecodeJSON(r, &data); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.begin()
	resp, err := h.auth.Register(r.Context(), data)
	if err != nil {
		h.fail(w, err, msgRegisterFailed)
		return
	}

	if resp.Token == "" {
		// 未返回 token 时停留在登录页。
		h.authState.SetLoading(false)
		message := resp.Message
		if message == "" {
			message = msgRegistered
		}
		utils.RespondJSON(w, http.StatusCreated, viewResponse{
			Route:    "Login",
			Auth:     h.authState.Snapshot(),
			Redirect: router.PathLogin,
			Message:  message,
		})
		return
	}
	h.succeed(w, r, http.StatusCreated, resp.Message)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		log.Printf("[session] logout left keys behind: %v", err)
	}
	h.authState.Clear()
	h.chatState.ClearCurrentSession()

	utils.RespondJSON(w, http.StatusOK, viewResponse{
		Route:    "Login",
		Auth:     h.authState.Snapshot(),
		Redirect: router.PathLogin,
	})
}

func (h *Handler) begin() {
	h.authState.SetLoading(true)
	h.authState.SetError("")
}

func (h *Handler) succeed(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.authState.Hydrate(r.Context())
	h.authState.SetLoading(false)
	utils.RespondJSON(w, status, viewResponse{
		Route:    "Home",
		Auth:     h.authState.Snapshot(),
		Redirect: router.PathHome,
		Message:  message,
	})
}

func (h *Handler) fail(w http.ResponseWriter, err error, fallback string) {
	status, message := classify(err, fallback)
	h.authState.SetLoading(false)
	h.authState.SetError(message)
	utils.RespondError(w, status, message)
}

// classify 将认证错误映射为状态码与提示。
func classify(err error, fallback string) (int, string) {
	var rejected *authService.RejectedError
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, authService.ErrUsernameRequired):
		return http.StatusBadRequest, "请输入用户名"
	case errors.Is(err, authService.ErrPasswordRequired):
		return http.StatusBadRequest, "请输入密码"
	case errors.As(err, &rejected):
		if rejected.Message != "" {
			return http.StatusUnauthorized, rejected.Message
		}
		return http.StatusUnauthorized, fallback
	case errors.As(err, &statusErr):
		if statusErr.Message != "" {
			fallback = statusErr.Message
		}
		if api.IsUnauthorized(err) {
			return http.StatusUnauthorized, fallback
		}
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 {
			return http.StatusBadRequest, fallback
		}
		return http.StatusBadGateway, fallback
	default:
		return http.StatusBadGateway, fallback
	}
}
