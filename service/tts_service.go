package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"lawsim-backend/storage"

	"github.com/google/uuid"
)

var ErrTTSConfig = errors.New("tts provider misconfigured")

const (
	volcTTSAPI         = "https://openspeech.bytedance.com/api/v1/tts"
	defaultVolcCluster = "volcano_tts"
	defaultVolcVoice   = "BV001_streaming"

	// Mock synthesis parameters: 250ms of silence, 16kHz mono PCM16.
	mockSampleRate = 16000
	mockDurationMS = 250
)

// TTSProvider converts answer text into playable audio bytes.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string) (data []byte, contentType string, err error)
}

// NewTTSProviderFromEnv selects the speech backend via TTS_PROVIDER
// (mock, volc or none). "none" disables audio entirely.
func NewTTSProviderFromEnv() (TTSProvider, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("TTS_PROVIDER")))
	switch provider {
	case "none":
		return nil, nil
	case "", "mock":
		return &MockTTS{}, nil
	case "volc":
		appID := os.Getenv("VOLC_TTS_APPID")
		token := os.Getenv("VOLC_TTS_TOKEN")
		if appID == "" || token == "" {
			return nil, fmt.Errorf("%w: VOLC_TTS_APPID and VOLC_TTS_TOKEN are required", ErrTTSConfig)
		}
		cluster := os.Getenv("VOLC_TTS_CLUSTER")
		if cluster == "" {
			cluster = defaultVolcCluster
		}
		voice := os.Getenv("VOLC_TTS_VOICE")
		if voice == "" {
			voice = defaultVolcVoice
		}
		return &VolcTTS{
			appID:   appID,
			token:   token,
			cluster: cluster,
			voice:   voice,
			client:  &http.Client{Timeout: 30 * time.Second},
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown TTS_PROVIDER %q", ErrTTSConfig, provider)
	}
}

// MockTTS emits a short silent WAV clip. Output length is independent of
// the input text, so callers can exercise the audio pipeline offline.
type MockTTS struct{}

func (m *MockTTS) Synthesize(_ context.Context, _ string) ([]byte, string, error) {
	return silentWAV(mockSampleRate, mockDurationMS), "audio/wav", nil
}

// silentWAV builds a minimal RIFF/WAVE container around zeroed PCM16
// mono samples.
func silentWAV(sampleRate, durationMS int) []byte {
	sampleCount := sampleRate * durationMS / 1000
	dataSize := sampleCount * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}

// VolcTTS calls the Volcengine speech synthesis API.
type VolcTTS struct {
	appID   string
	token   string
	cluster string
	voice   string
	client  *http.Client
}

type volcTTSRequest struct {
	App struct {
		AppID   string `json:"appid"`
		Token   string `json:"token"`
		Cluster string `json:"cluster"`
	} `json:"app"`
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	Audio struct {
		VoiceType string `json:"voice_type"`
		Encoding  string `json:"encoding"`
	} `json:"audio"`
	Request struct {
		ReqID     string `json:"reqid"`
		Text      string `json:"text"`
		Operation string `json:"operation"`
	} `json:"request"`
}

type volcTTSResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"` // base64 audio
}

func (v *VolcTTS) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	var reqBody volcTTSRequest
	reqBody.App.AppID = v.appID
	reqBody.App.Token = v.token
	reqBody.App.Cluster = v.cluster
	reqBody.User.UID = "lawsim"
	reqBody.Audio.VoiceType = v.voice
	reqBody.Audio.Encoding = "mp3"
	reqBody.Request.ReqID = uuid.NewString()
	reqBody.Request.Text = text
	reqBody.Request.Operation = "query"

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", volcTTSAPI, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer;"+v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, "", fmt.Errorf("API error: %d - %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp volcTTSResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Code != 3000 {
		return nil, "", fmt.Errorf("API error: %d - %s", apiResp.Code, apiResp.Message)
	}

	audio, err := base64.StdEncoding.DecodeString(apiResp.Data)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return audio, "audio/mpeg", nil
}

// TTSService attaches an optional audio rendering to a dialogue turn.
// With storage configured the audio is persisted and served by URL path,
// otherwise it is inlined as a data URL. Synthesis failure never fails
// the turn.
type TTSService struct {
	provider TTSProvider
	store    storage.Storage
	urlBase  string
}

// TTSServiceOption is a functional option for TTSService
type TTSServiceOption func(*TTSService)

// TTSWithProvider sets the speech synthesis backend
func TTSWithProvider(provider TTSProvider) TTSServiceOption {
	return func(s *TTSService) {
		s.provider = provider
	}
}

// TTSWithStorage sets the audio blob store
func TTSWithStorage(store storage.Storage) TTSServiceOption {
	return func(s *TTSService) {
		s.store = store
	}
}

// TTSWithURLBase sets the public path prefix for persisted audio
func TTSWithURLBase(urlBase string) TTSServiceOption {
	return func(s *TTSService) {
		s.urlBase = urlBase
	}
}

// NewTTSService creates a new TTS service
func NewTTSService(opts ...TTSServiceOption) *TTSService {
	s := &TTSService{urlBase: "/audio"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Speak returns a playback URL for the text, or nil when audio is
// disabled or synthesis failed.
func (s *TTSService) Speak(ctx context.Context, text string) *string {
	if s.provider == nil || strings.TrimSpace(text) == "" {
		return nil
	}

	audio, contentType, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		log.Printf("Warning: speech synthesis failed: %v. Continuing without audio.", err)
		return nil
	}

	if s.store != nil {
		audioID := uuid.New()
		path, err := s.store.Upload(ctx, audioID, "answer"+extensionFor(contentType), bytes.NewReader(audio))
		if err != nil {
			log.Printf("Warning: failed to persist audio: %v. Falling back to data URL.", err)
		} else {
			url := strings.TrimSuffix(s.urlBase, "/") + "/" + path
			return &url
		}
	}

	url := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(audio)
	return &url
}

func extensionFor(contentType string) string {
	switch contentType {
	case "audio/wav":
		return ".wav"
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	default:
		return ".bin"
	}
}
