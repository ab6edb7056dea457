package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNoDevice          = errors.New("no audio input device available")
	ErrUnsupportedFormat = errors.New("no supported audio recording format")
)

// Device is an audio capture capability, the microphone of the client.
type Device interface {
	// Open acquires the device. The returned stream owns every acquired
	// resource until Close.
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired capture handle.
type Stream interface {
	// Read returns the next chunk, or io.EOF when the source is exhausted.
	Read(ctx context.Context) ([]byte, error)
	MimeType() string
	// Close releases the device. It is safe to call more than once.
	Close() error
}

// preferredFormats mirrors the recorder's format negotiation order.
var preferredFormats = []struct {
	ext  string
	mime string
}{
	{".webm", "audio/webm;codecs=opus"},
	{".ogg", "audio/ogg;codecs=opus"},
	{".wav", "audio/wav"},
	{".mp3", "audio/mpeg"},
}

// MimeTypeForExt returns the recording mime type for a file extension.
func MimeTypeForExt(ext string) (string, bool) {
	ext = strings.ToLower(ext)
	for _, f := range preferredFormats {
		if f.ext == ext {
			return f.mime, true
		}
	}
	return "", false
}

// ExtForMimeType returns the upload file extension for a mime type.
func ExtForMimeType(mime string) string {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mime, ";", 2)[0]))
	for _, f := range preferredFormats {
		if strings.HasPrefix(f.mime, base) {
			return f.ext
		}
	}
	return ".webm"
}

// FileDevice replays an audio file as microphone input.
type FileDevice struct {
	Path      string
	ChunkSize int
}

const defaultChunkSize = 16 << 10

// Open opens the file for chunked reading.
func (d FileDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mime, ok := MimeTypeForExt(filepath.Ext(d.Path))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(d.Path))
	}

	f, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, d.Path)
		}
		return nil, fmt.Errorf("open audio file: %w", err)
	}

	size := d.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	return &fileStream{file: f, mime: mime, chunk: size}, nil
}

type fileStream struct {
	mu     sync.Mutex
	file   *os.File
	mime   string
	chunk  int
	closed bool
}

func (s *fileStream) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}

	buf := make([]byte, s.chunk)
	n, err := s.file.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (s *fileStream) MimeType() string { return s.mime }

func (s *fileStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}

// NewDevice builds a device from a configuration value: a ws:// or wss://
// URL selects a WebSocketDevice, anything else is treated as an audio file.
func NewDevice(spec string) (Device, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "":
		return nil, ErrNoDevice
	case strings.HasPrefix(spec, "ws://"), strings.HasPrefix(spec, "wss://"):
		return WebSocketDevice{URL: spec}, nil
	default:
		return FileDevice{Path: spec}, nil
	}
}
