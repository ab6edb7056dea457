package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-tavern/client/internal/metrics"
)

var (
	ErrAlreadyRecording = errors.New("a recording is already in progress")
	ErrNotRecording     = errors.New("no recording in progress")
	ErrSessionMismatch  = errors.New("session id does not match the active recording")
)

// Backend is the remote half of a recognition session.
type Backend interface {
	Start(ctx context.Context) (string, error)
	Recognize(ctx context.Context, upload Upload) (string, error)
}

var _ Backend = (*Client)(nil)

// RecorderOptions 配置录音会话。
type RecorderOptions struct {
	Language   string
	SampleRate int
}

// Recorder owns at most one capture session at a time. The device is
// acquired on start and released on stop or on any failure.
type Recorder struct {
	device  Device
	backend Backend
	opts    RecorderOptions

	mu     sync.Mutex
	active *recording
}

type recording struct {
	sessionID string
	stream    Stream
	cancel    context.CancelFunc
	group     *errgroup.Group
	closeOnce sync.Once
	failed    atomic.Bool

	mu     sync.Mutex
	buffer bytes.Buffer
}

// NewRecorder creates a recorder for device.
func NewRecorder(device Device, backend Backend, opts RecorderOptions) *Recorder {
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	return &Recorder{device: device, backend: backend, opts: opts}
}

// Recording reports whether a capture session is active. A session whose
// capture failed no longer counts.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil && !r.active.failed.Load()
}

// Probe acquires the device and releases it immediately.
func (r *Recorder) Probe(ctx context.Context) error {
	stream, err := r.device.Open(ctx)
	if err != nil {
		return err
	}
	return stream.Close()
}

// StartVoiceRecognition acquires the device, starts capturing and opens the
// remote session. It returns the remote session id.
func (r *Recorder) StartVoiceRecognition(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		if !r.active.failed.Load() {
			return "", ErrAlreadyRecording
		}
		// 上一次采集已失败且设备已释放，丢弃它再开始新的会话。
		stale := r.active
		r.active = nil
		log.Printf("[voice] discarding failed session %s: %v", stale.sessionID, stale.release())
		metrics.RecordRecording("device_error")
	}

	stream, err := r.device.Open(ctx)
	if err != nil {
		metrics.RecordRecording("device_error")
		return "", fmt.Errorf("open audio device: %w", err)
	}

	// 采集与发起请求的 ctx 解耦，录音持续到 Stop。
	pumpCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(pumpCtx)
	rec := &recording{stream: stream, cancel: cancel, group: group}
	group.Go(func() error {
		return rec.pump(groupCtx)
	})

	id, err := r.backend.Start(ctx)
	if err != nil {
		if releaseErr := rec.release(); releaseErr != nil {
			log.Printf("[voice] release after failed start: %v", releaseErr)
		}
		metrics.RecordRecording("start_error")
		return "", err
	}

	rec.sessionID = id
	r.active = rec
	log.Printf("[voice] recording started, session=%s mime=%s", id, stream.MimeType())
	return id, nil
}

// StopVoiceRecognition stops capturing, uploads the audio and returns the
// recognised text. An empty sessionID matches the active recording.
func (r *Recorder) StopVoiceRecognition(ctx context.Context, sessionID string) (string, error) {
	r.mu.Lock()
	rec := r.active
	if rec == nil {
		r.mu.Unlock()
		return "", ErrNotRecording
	}
	if sessionID != "" && sessionID != rec.sessionID {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrSessionMismatch, sessionID)
	}
	r.active = nil
	r.mu.Unlock()

	pumpErr := rec.release()
	audio := rec.bytes()
	if pumpErr != nil {
		metrics.RecordRecording("device_error")
		return "", fmt.Errorf("capture audio: %w", pumpErr)
	}
	if len(audio) == 0 {
		metrics.RecordRecording("empty")
		return "", ErrEmptyAudio
	}

	filename := fmt.Sprintf("recording_%d%s", time.Now().UnixMilli(), ExtForMimeType(rec.stream.MimeType()))
	text, err := r.backend.Recognize(ctx, Upload{
		Audio:      bytes.NewReader(audio),
		Filename:   filename,
		Language:   r.opts.Language,
		SampleRate: r.opts.SampleRate,
	})
	if err != nil {
		metrics.RecordRecording("recognize_error")
		return "", err
	}

	metrics.RecordRecording("ok")
	log.Printf("[voice] session %s recognised %d bytes of audio", rec.sessionID, len(audio))
	return text, nil
}

// Close releases the device if a recording is still active.
func (r *Recorder) Close() error {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	r.mu.Unlock()

	if rec == nil {
		return nil
	}
	metrics.RecordRecording("abandoned")
	return rec.release()
}

func (rec *recording) pump(ctx context.Context) error {
	for {
		chunk, err := rec.stream.Read(ctx)
		if len(chunk) > 0 {
			rec.mu.Lock()
			rec.buffer.Write(chunk)
			rec.mu.Unlock()
		}
		if err != nil {
			// 停止录音时关闭设备产生的错误不算采集失败。
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			rec.failed.Store(true)
			rec.closeStream()
			log.Printf("[voice] capture failed, device released: %v", err)
			return err
		}
	}
}

// release stops the pump, closes the stream and waits for capture to end.
// The returned error is the pump's failure, if any.
func (rec *recording) release() error {
	rec.cancel()
	rec.closeStream()
	return rec.group.Wait()
}

func (rec *recording) closeStream() {
	rec.closeOnce.Do(func() {
		if err := rec.stream.Close(); err != nil {
			log.Printf("[voice] close audio stream: %v", err)
		}
	})
}

func (rec *recording) bytes() []byte {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]byte(nil), rec.buffer.Bytes()...)
}
