package voice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-tavern/client/internal/service/api"
)

type fakeStream struct {
	mu      sync.Mutex
	chunks  [][]byte
	drained chan struct{}
	once    sync.Once
	closed  bool
	closeCh chan struct{}
	failErr error
}

func newFakeStream(chunks ...string) *fakeStream {
	s := &fakeStream{drained: make(chan struct{}), closeCh: make(chan struct{})}
	for _, c := range chunks {
		s.chunks = append(s.chunks, []byte(c))
	}
	return s
}

func (s *fakeStream) Read(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		next := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return next, nil
	}
	failErr := s.failErr
	s.mu.Unlock()

	s.once.Do(func() { close(s.drained) })
	if failErr != nil {
		return nil, failErr
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeStream) MimeType() string { return "audio/ogg;codecs=opus" }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.closeCh)
	}
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDevice struct {
	stream  *fakeStream
	openErr error
	opens   int
}

func (d *fakeDevice) Open(context.Context) (Stream, error) {
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.stream, nil
}

type fakeBackend struct {
	startErr     error
	recognizeErr error
	uploaded     []byte
	upload       Upload
}

func (b *fakeBackend) Start(context.Context) (string, error) {
	if b.startErr != nil {
		return "", b.startErr
	}
	return "session-1", nil
}

func (b *fakeBackend) Recognize(_ context.Context, upload Upload) (string, error) {
	if b.recognizeErr != nil {
		return "", b.recognizeErr
	}
	data, err := io.ReadAll(upload.Audio)
	if err != nil {
		return "", err
	}
	b.uploaded = data
	b.upload = upload
	return "你好", nil
}

func TestRecorderStartStopUploadsAudio(t *testing.T) {
	stream := newFakeStream("ab", "cd")
	backend := &fakeBackend{}
	rec := NewRecorder(&fakeDevice{stream: stream}, backend, RecorderOptions{})

	id, err := rec.StartVoiceRecognition(context.Background())
	if err != nil {
		t.Fatalf("start err: %v", err)
	}
	if id != "session-1" || !rec.Recording() {
		t.Fatalf("unexpected start state: id=%q recording=%v", id, rec.Recording())
	}
	<-stream.drained

	text, err := rec.StopVoiceRecognition(context.Background(), id)
	if err != nil {
		t.Fatalf("stop err: %v", err)
	}
	if text != "你好" {
		t.Fatalf("unexpected text: %q", text)
	}
	if string(backend.uploaded) != "abcd" {
		t.Fatalf("unexpected uploaded audio: %q", backend.uploaded)
	}
	if !strings.HasPrefix(backend.upload.Filename, "recording_") || !strings.HasSuffix(backend.upload.Filename, ".ogg") {
		t.Fatalf("unexpected filename: %s", backend.upload.Filename)
	}
	if backend.upload.Language != DefaultLanguage || backend.upload.SampleRate != DefaultSampleRate {
		t.Fatalf("unexpected upload params: %+v", backend.upload)
	}
	if !stream.isClosed() || rec.Recording() {
		t.Fatal("device must be released after stop")
	}
}

func TestRecorderRejectsOverlappingSessions(t *testing.T) {
	stream := newFakeStream("x")
	device := &fakeDevice{stream: stream}
	rec := NewRecorder(device, &fakeBackend{}, RecorderOptions{})

	if _, err := rec.StopVoiceRecognition(context.Background(), ""); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("expected ErrNotRecording, got %v", err)
	}

	if _, err := rec.StartVoiceRecognition(context.Background()); err != nil {
		t.Fatalf("start err: %v", err)
	}
	if _, err := rec.StartVoiceRecognition(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
	if device.opens != 1 {
		t.Fatalf("device must not be acquired twice, opened %d times", device.opens)
	}

	if _, err := rec.StopVoiceRecognition(context.Background(), "other"); !errors.Is(err, ErrSessionMismatch) {
		t.Fatalf("expected ErrSessionMismatch, got %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close err: %v", err)
	}
	if !stream.isClosed() {
		t.Fatal("Close must release the device")
	}
}

func TestRecorderReleasesDeviceOnFailures(t *testing.T) {
	t.Run("start", func(t *testing.T) {
		stream := newFakeStream("x")
		rec := NewRecorder(&fakeDevice{stream: stream}, &fakeBackend{startErr: errors.New("boom")}, RecorderOptions{})

		if _, err := rec.StartVoiceRecognition(context.Background()); err == nil {
			t.Fatal("expected start error")
		}
		if !stream.isClosed() || rec.Recording() {
			t.Fatal("device must be released when the remote session cannot be opened")
		}
	})

	t.Run("recognize", func(t *testing.T) {
		stream := newFakeStream("x")
		rec := NewRecorder(&fakeDevice{stream: stream}, &fakeBackend{recognizeErr: errors.New("asr down")}, RecorderOptions{})

		id, err := rec.StartVoiceRecognition(context.Background())
		if err != nil {
			t.Fatalf("start err: %v", err)
		}
		<-stream.drained
		if _, err := rec.StopVoiceRecognition(context.Background(), id); err == nil {
			t.Fatal("expected recognize error")
		}
		if !stream.isClosed() || rec.Recording() {
			t.Fatal("device must be released when recognition fails")
		}
	})

	t.Run("capture", func(t *testing.T) {
		stream := newFakeStream("x")
		stream.failErr = errors.New("mic unplugged")
		rec := NewRecorder(&fakeDevice{stream: stream}, &fakeBackend{}, RecorderOptions{})

		id, err := rec.StartVoiceRecognition(context.Background())
		if err != nil {
			t.Fatalf("start err: %v", err)
		}
		<-stream.drained
		if _, err := rec.StopVoiceRecognition(context.Background(), id); err == nil || !strings.Contains(err.Error(), "mic unplugged") {
			t.Fatalf("expected capture error, got %v", err)
		}
		if !stream.isClosed() {
			t.Fatal("device must be released when capture fails")
		}
	})

	t.Run("empty", func(t *testing.T) {
		stream := newFakeStream()
		rec := NewRecorder(&fakeDevice{stream: stream}, &fakeBackend{}, RecorderOptions{})

		id, err := rec.StartVoiceRecognition(context.Background())
		if err != nil {
			t.Fatalf("start err: %v", err)
		}
		if _, err := rec.StopVoiceRecognition(context.Background(), id); !errors.Is(err, ErrEmptyAudio) {
			t.Fatalf("expected ErrEmptyAudio, got %v", err)
		}
	})
}

func TestRecorderReleasesDeviceWhenCaptureDrops(t *testing.T) {
	stream := newFakeStream("x")
	stream.failErr = errors.New("bridge dropped")
	device := &fakeDevice{stream: stream}
	rec := NewRecorder(device, &fakeBackend{}, RecorderOptions{})

	id, err := rec.StartVoiceRecognition(context.Background())
	if err != nil {
		t.Fatalf("start err: %v", err)
	}

	select {
	case <-stream.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("device must be released as soon as capture fails")
	}
	if rec.Recording() {
		t.Fatal("failed capture should not count as recording")
	}

	if _, err := rec.StopVoiceRecognition(context.Background(), id); err == nil || !strings.Contains(err.Error(), "bridge dropped") {
		t.Fatalf("expected capture error, got %v", err)
	}

	t.Run("start after failure", func(t *testing.T) {
		stream := newFakeStream("y")
		stream.failErr = errors.New("bridge dropped")
		device.stream = stream
		if _, err := rec.StartVoiceRecognition(context.Background()); err != nil {
			t.Fatalf("start err: %v", err)
		}
		<-stream.closeCh

		next := newFakeStream("ok")
		device.stream = next
		id, err := rec.StartVoiceRecognition(context.Background())
		if err != nil {
			t.Fatalf("start after failed capture: %v", err)
		}
		<-next.drained
		text, err := rec.StopVoiceRecognition(context.Background(), id)
		if err != nil || text != "你好" {
			t.Fatalf("unexpected stop result: %q %v", text, err)
		}
	})
}

func TestRecorderDeviceUnavailable(t *testing.T) {
	device := &fakeDevice{openErr: ErrNoDevice}
	rec := NewRecorder(device, &fakeBackend{}, RecorderOptions{})

	if _, err := rec.StartVoiceRecognition(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if err := rec.Probe(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected probe ErrNoDevice, got %v", err)
	}
}

func TestRecorderProbeReleases(t *testing.T) {
	stream := newFakeStream()
	rec := NewRecorder(&fakeDevice{stream: stream}, &fakeBackend{}, RecorderOptions{})

	if err := rec.Probe(context.Background()); err != nil {
		t.Fatalf("probe err: %v", err)
	}
	if !stream.isClosed() {
		t.Fatal("probe must release the device")
	}
}

func TestFileDevice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.wav")
	if err := os.WriteFile(path, []byte("RIFFdata"), 0o600); err != nil {
		t.Fatalf("write sample: %v", err)
	}

	stream, err := FileDevice{Path: path, ChunkSize: 4}.Open(context.Background())
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	defer stream.Close()

	if stream.MimeType() != "audio/wav" {
		t.Fatalf("unexpected mime: %s", stream.MimeType())
	}

	var got []string
	for {
		chunk, err := stream.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read err: %v", err)
		}
		got = append(got, string(chunk))
	}
	if strings.Join(got, "|") != "RIFF|data" {
		t.Fatalf("unexpected chunks: %v", got)
	}

	if _, err := (FileDevice{Path: filepath.Join(dir, "missing.wav")}).Open(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if _, err := (FileDevice{Path: filepath.Join(dir, "sample.flac")}).Open(context.Background()); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestWebSocketDevice(t *testing.T) {
	upgrader := websocket.Upgrader{}
	r := chi.NewRouter()
	r.Get("/mic", func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("frame-1"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("level:0.4"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("frame-2"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("end"))
		// 等待客户端关闭。
		_, _, _ = conn.ReadMessage()
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream, err := WebSocketDevice{URL: wsURL + "/mic"}.Open(context.Background())
	if err != nil {
		t.Fatalf("open err: %v", err)
	}
	defer stream.Close()

	var got []string
	for {
		chunk, err := stream.Read(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read err: %v", err)
		}
		got = append(got, string(chunk))
	}
	if strings.Join(got, ",") != "frame-1,frame-2" {
		t.Fatalf("unexpected frames: %v", got)
	}

	if _, err := (WebSocketDevice{URL: wsURL + "/nowhere"}).Open(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}

func TestClientRecognizeSendsMultipart(t *testing.T) {
	var fields map[string]string
	var fileBody string
	r := chi.NewRouter()
	r.Post("/api/speech/recognize", func(w http.ResponseWriter, req *http.Request) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fields = map[string]string{
			"language":    req.FormValue("language"),
			"sample_rate": req.FormValue("sample_rate"),
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		fileBody = header.Filename + ":" + string(data)
		_, _ = w.Write([]byte(`{"text":"识别结果"}`))
	})
	r.Post("/api/voice/start", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"v-1"}`))
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	client := NewClient(api.New(api.Options{BaseURL: srv.URL + "/api"}, nil))

	text, err := client.Recognize(context.Background(), Upload{Audio: strings.NewReader("pcm"), Filename: "clip.wav"})
	if err != nil {
		t.Fatalf("recognize err: %v", err)
	}
	if text != "识别结果" {
		t.Fatalf("unexpected text: %q", text)
	}
	if fields["language"] != "zh-CN" || fields["sample_rate"] != "16000" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fileBody != "clip.wav:pcm" {
		t.Fatalf("unexpected file part: %s", fileBody)
	}

	if _, err := client.Recognize(context.Background(), Upload{Filename: "x.wav"}); !errors.Is(err, ErrEmptyAudio) {
		t.Fatalf("expected ErrEmptyAudio, got %v", err)
	}

	id, err := client.Start(context.Background())
	if err != nil || id != "v-1" {
		t.Fatalf("unexpected start: %q (%v)", id, err)
	}
}

func TestNewDevice(t *testing.T) {
	if _, err := NewDevice(" "); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	device, err := NewDevice("wss://bridge.local/mic")
	if err != nil {
		t.Fatalf("NewDevice err: %v", err)
	}
	if _, ok := device.(WebSocketDevice); !ok {
		t.Fatalf("expected websocket device, got %T", device)
	}
	device, err = NewDevice("/tmp/clip.webm")
	if err != nil {
		t.Fatalf("NewDevice err: %v", err)
	}
	if fd, ok := device.(FileDevice); !ok || fd.Path != "/tmp/clip.webm" {
		t.Fatalf("expected file device, got %#v", device)
	}
}
