package announce

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Synthesizer renders a phrase as audio. The queue core only ever hands
// phrases across this boundary; synthesis failures must never touch ticket
// state.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceName string) ([]byte, error)
}

type Config struct {
	Provider string
	Endpoint string
	Key      string
}

func NewSynthesizer(cfg Config) Synthesizer {
	switch cfg.Provider {
	case "", "log":
		return logSynthesizer{}
	case "azure":
		if cfg.Endpoint == "" || cfg.Key == "" {
			log.Printf("azure tts not configured, falling back to log provider")
			return logSynthesizer{}
		}
		return &azureSynthesizer{
			endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
			key:      cfg.Key,
			client:   &http.Client{Timeout: 10 * time.Second},
		}
	default:
		return logSynthesizer{}
	}
}

type logSynthesizer struct{}

func (logSynthesizer) Synthesize(ctx context.Context, text, voiceName string) ([]byte, error) {
	log.Printf("announce voice=%s text=%q", voiceName, text)
	return nil, nil
}

type azureSynthesizer struct {
	endpoint string
	key      string
	client   *http.Client
}

func (s *azureSynthesizer) Synthesize(ctx context.Context, text, voiceName string) ([]byte, error) {
	if voiceName == "" {
		voiceName = "pt-BR-FranciscaNeural"
	}
	ssml := fmt.Sprintf(
		"<speak version='1.0' xml:lang='pt-BR'><voice xml:lang='pt-BR' name='%s'>%s</voice></speak>",
		voiceName, escapeXML(text),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/cognitiveservices/v1", bytes.NewReader([]byte(ssml)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", s.key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", "audio-16khz-32kbitrate-mono-mp3")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.New("tts provider rejected request: " + strings.TrimSpace(string(body)))
	}
	return io.ReadAll(resp.Body)
}

func escapeXML(value string) string {
	replacer := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return replacer.Replace(value)
}
