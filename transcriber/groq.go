package transcriber

import "context"

type Groq struct {
	baseTranscriber
	apiKey string
}

func NewGroq(apiKey string) *Groq {
	return &Groq{
		baseTranscriber: baseTranscriber{
			client: newUploadClient(),
			apiURL: "https://api.groq.com/openai/v1/audio/transcriptions",
		},
		apiKey: apiKey,
	}
}

func (g *Groq) Name() string { return "groq" }

func (g *Groq) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	return g.whisperUpload(ctx, "groq", g.apiKey, "whisper-large-v3-turbo", "verbose_json", audio, mimeType)
}
