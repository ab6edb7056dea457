package handler

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/z-tavern/client/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/client/internal/handler/session"
	"github.com/zhouzirui/z-tavern/client/internal/handler/speech"
	"github.com/zhouzirui/z-tavern/client/internal/handler/stream"
	"github.com/zhouzirui/z-tavern/client/internal/metrics"
	"github.com/zhouzirui/z-tavern/client/internal/router"
	authService "github.com/zhouzirui/z-tavern/client/internal/service/auth"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/pkg/utils"
)

// Deps 是 shell 依赖的客户端与状态。
type Deps struct {
	Auth       *authService.Client
	AuthState  *state.AuthStore
	ChatState  *state.ChatStore
	Characters chat.CharacterLookup
	// Heartbeat 是事件流心跳间隔，零值使用默认值。
	Heartbeat time.Duration
}

// ShellTable 返回 shell 的守卫路由表：三个页面路由加上各动作路由。
func ShellTable() (*router.Table, error) {
	routes := router.DefaultRoutes()
	routes = append(routes, session.Routes()...)
	routes = append(routes, chat.Routes()...)
	routes = append(routes, speech.Routes()...)
	routes = append(routes, stream.Routes()...)
	return router.NewTable(routes...)
}

// NewRouter wires the guarded shell routes to the client stores.
func NewRouter(deps Deps) (http.Handler, error) {
	if deps.Auth == nil || deps.AuthState == nil || deps.ChatState == nil {
		return nil, fmt.Errorf("shell router: auth client and stores are required")
	}

	table, err := ShellTable()
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}
	for _, rt := range table.Routes() {
		log.Printf("[shell] route %s name=%s guest_only=%t requires_auth=%t", rt.Path, rt.Name, rt.GuestOnly, rt.RequiresAuth)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// 不经过守卫的运维端点
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	loggedIn := func(req *http.Request) bool {
		return deps.Auth.IsLoggedIn(req.Context())
	}

	r.Group(func(guarded chi.Router) {
		guarded.Use(router.Middleware(table, loggedIn))

		session.New(deps.Auth, deps.AuthState, deps.ChatState).RegisterRoutes(guarded)
		chat.New(deps.ChatState, deps.AuthState, deps.Characters).RegisterRoutes(guarded)
		speech.New(deps.ChatState).RegisterRoutes(guarded)
		stream.New(deps.ChatState, deps.Heartbeat).RegisterRoutes(guarded)

		// 未知路径交给守卫的兜底路由处理（重定向到登录页）。
		guarded.HandleFunc("/*", func(w http.ResponseWriter, req *http.Request) {
			http.Redirect(w, req, router.PathLogin, http.StatusFound)
		})
	})

	return r, nil
}
