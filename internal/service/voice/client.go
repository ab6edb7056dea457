package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zhouzirui/z-tavern/client/internal/service/api"
)

// 识别参数默认值，与服务端 ASR 配置一致。
const (
	DefaultLanguage   = "zh-CN"
	DefaultSampleRate = 16000
)

var ErrEmptyAudio = errors.New("recorded audio is empty")

// Transport is the subset of api.Client used for voice calls.
type Transport interface {
	PostJSON(ctx context.Context, path string, in, out any) error
	PostMultipart(ctx context.Context, path string, file api.FilePart, fields map[string]string, out any) error
}

var _ Transport = (*api.Client)(nil)

// Client wraps the remote voice session and speech recognition endpoints.
type Client struct {
	transport Transport
}

func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Start opens a remote recognition session.
func (c *Client) Start(ctx context.Context) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.transport.PostJSON(ctx, "/voice/start", nil, &resp); err != nil {
		return "", fmt.Errorf("start voice session: %w", err)
	}
	if resp.ID == "" {
		return "", errors.New("start voice session: empty session id")
	}
	return resp.ID, nil
}

// Upload 描述一次识别上传。
type Upload struct {
	Audio      io.Reader
	Filename   string
	Language   string
	SampleRate int
}

// Recognize uploads recorded audio to /speech/recognize and returns the text.
func (c *Client) Recognize(ctx context.Context, upload Upload) (string, error) {
	if upload.Audio == nil {
		return "", ErrEmptyAudio
	}

	filename := upload.Filename
	if filename == "" {
		filename = "recording.webm"
	}
	language := strings.TrimSpace(upload.Language)
	if language == "" {
		language = DefaultLanguage
	}
	sampleRate := upload.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	var resp struct {
		Text string `json:"text"`
	}
	err := c.transport.PostMultipart(ctx, "/speech/recognize",
		api.FilePart{Field: "file", Filename: filename, Data: upload.Audio},
		map[string]string{
			"language":    language,
			"sample_rate": strconv.Itoa(sampleRate),
		},
		&resp,
	)
	if err != nil {
		return "", fmt.Errorf("recognize speech: %w", err)
	}
	return resp.Text, nil
}
