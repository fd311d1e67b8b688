package transcriber

import "context"

type OpenAI struct {
	baseTranscriber
	apiKey string
}

func NewOpenAI(apiKey string) *OpenAI {
	return &OpenAI{
		baseTranscriber: baseTranscriber{
			client: newUploadClient(),
			apiURL: "https://api.openai.com/v1/audio/transcriptions",
		},
		apiKey: apiKey,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Transcribe(ctx context.Context, audio []byte, mimeType string) (*Result, error) {
	return o.whisperUpload(ctx, "openai", o.apiKey, "gpt-4o-transcribe", "json", audio, mimeType)
}
