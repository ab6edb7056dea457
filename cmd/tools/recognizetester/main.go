package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/client/internal/config"
	"github.com/zhouzirui/z-tavern/client/internal/service/api"
	"github.com/zhouzirui/z-tavern/client/internal/service/voice"
	"github.com/zhouzirui/z-tavern/client/internal/storage"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "upload", "测试模式: upload (直接上传文件) 或 record (完整录音会话)")
	source := flag.String("audio", cfg.Voice.Device, "音频文件路径或 ws:// 音频桥地址")
	language := flag.String("lang", cfg.Voice.Language, "识别语言")
	sampleRate := flag.Int("rate", cfg.Voice.SampleRate, "采样率")
	duration := flag.Duration("duration", 5*time.Second, "record 模式下音频桥的录音时长")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *source == "" {
		flag.Usage()
		log.Fatal("请通过 -audio 指定音频文件或音频桥地址")
	}

	// 复用已保存的登录令牌。
	kv, err := storage.Open(context.Background(), cfg.Storage)
	if err != nil {
		log.Fatalf("打开会话存储失败: %v", err)
	}
	defer kv.Close()

	transport := api.New(api.Options{BaseURL: cfg.API.BaseURL, Timeout: *timeout}, kv)
	client := voice.NewClient(transport)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "upload":
		runUpload(ctx, client, *source, *language, *sampleRate)
	case "record":
		runRecord(ctx, client, *source, *language, *sampleRate, *duration)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=upload 或 -mode=record 指定测试模式")
	}
}

func runUpload(ctx context.Context, client *voice.Client, audioPath, language string, sampleRate int) {
	if _, ok := voice.MimeTypeForExt(filepath.Ext(audioPath)); !ok {
		log.Fatalf("不支持的音频格式: %s", filepath.Ext(audioPath))
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	log.Printf("开始上传识别: file=%s language=%s rate=%d", audioPath, language, sampleRate)

	text, err := client.Recognize(ctx, voice.Upload{
		Audio:      file,
		Filename:   filepath.Base(audioPath),
		Language:   language,
		SampleRate: sampleRate,
	})
	if err != nil {
		log.Fatalf("识别失败: %v", err)
	}
	log.Printf("识别成功: text=%q", text)
}

func runRecord(ctx context.Context, client *voice.Client, source, language string, sampleRate int, duration time.Duration) {
	device, err := voice.NewDevice(source)
	if err != nil {
		log.Fatalf("创建录音设备失败: %v", err)
	}

	recorder := voice.NewRecorder(device, client, voice.RecorderOptions{Language: language, SampleRate: sampleRate})
	defer recorder.Close()

	if err := recorder.Probe(ctx); err != nil {
		log.Fatalf("录音设备不可用: %v", err)
	}

	sessionID, err := recorder.StartVoiceRecognition(ctx)
	if err != nil {
		log.Fatalf("开始录音失败: %v", err)
	}
	log.Printf("录音会话已开始: session=%s, %s 后结束", sessionID, duration)

	select {
	case <-ctx.Done():
		log.Printf("[WARN] 超时，提前结束录音")
	case <-time.After(duration):
	}

	text, err := recorder.StopVoiceRecognition(context.Background(), sessionID)
	if err != nil {
		log.Fatalf("识别失败: %v", err)
	}
	log.Printf("识别成功: session=%s text=%q", sessionID, text)
}
