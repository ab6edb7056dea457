package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/metrics"
	model "github.com/zhouzirui/z-tavern/client/internal/model/character"
	"github.com/zhouzirui/z-tavern/client/internal/router"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	"github.com/zhouzirui/z-tavern/client/internal/service/auth"
	"github.com/zhouzirui/z-tavern/client/internal/service/character"
	"github.com/zhouzirui/z-tavern/client/internal/service/voice"
	"github.com/zhouzirui/z-tavern/client/internal/state"
	"github.com/zhouzirui/z-tavern/client/internal/storage"
)

// app 持有一次命令执行所需的全部客户端与状态。
type app struct {
	cfg        *config.Config
	kv         storage.KV
	auth       *auth.Client
	characters *character.Client
	voice      *voice.Client
	recorder   *voice.Recorder
	authState  *state.AuthStore
	chatState  *state.ChatStore
	table      *router.Table
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	metrics.Init()

	kv, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}

	transport := api.New(api.Options{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		RateBurst: cfg.API.RateBurst,
	}, kv)

	a := &app{
		cfg:        cfg,
		kv:         kv,
		auth:       auth.NewClient(transport, kv),
		characters: character.NewClient(transport, model.NewMemoryStore(model.Seed())),
		voice:      voice.NewClient(transport),
		table:      router.DefaultTable(),
	}

	// 未配置录音设备时只调用远端语音会话接口。
	var recognizer state.VoiceRecognizer = a.characters
	if cfg.Voice.Enabled() {
		device, err := voice.NewDevice(cfg.Voice.Device)
		if err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("configure voice device: %w", err)
		}
		a.recorder = voice.NewRecorder(device, a.voice, voice.RecorderOptions{
			Language:   cfg.Voice.Language,
			SampleRate: cfg.Voice.SampleRate,
		})
		recognizer = a.recorder
		log.Printf("voice device configured: %s", cfg.Voice.Device)
	}

	a.authState = state.NewAuthStore(a.auth)
	a.chatState = state.NewChatStore(a.characters, recognizer)
	a.authState.Hydrate(ctx)
	return a, nil
}

// requireLogin 复用路由守卫判断能否进入主页。
func (a *app) requireLogin(ctx context.Context) error {
	final, err := a.table.Follow(router.PathHome, a.auth.IsLoggedIn(ctx))
	if err != nil {
		return err
	}
	if final != router.PathHome {
		return errors.New("not logged in, run `tavern login` or `tavern guest` first")
	}
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close())
	}
	errs = append(errs, a.kv.Close())
	return errors.Join(errs...)
}
