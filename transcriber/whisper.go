package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
)

type whisperResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Text         string  `json:"text"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		NoSpeechProb float64 `json:"no_speech_prob"`
		AvgLogProb   float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// whisperUpload posts audio as an OpenAI-compatible multipart transcription
// request. Groq and OpenAI share the format.
func (b *baseTranscriber) whisperUpload(ctx context.Context, name, apiKey, model, responseFormat string, audio []byte, mimeType string) (*Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "audio."+fileExtension(mimeType))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}

	writer.WriteField("model", model)
	writer.WriteField("response_format", responseFormat)
	if b.lang != "" {
		writer.WriteField("language", b.lang)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, "POST", b.apiURL, &body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.client.Upload(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%s API error %d: %s", name, resp.StatusCode, string(resp.Body))
	}

	var wResp whisperResponse
	if err := json.Unmarshal(resp.Body, &wResp); err != nil {
		return nil, fmt.Errorf("%s response parse error: %w", name, err)
	}

	var noSpeechProb float64
	var segments []Segment
	for _, seg := range wResp.Segments {
		noSpeechProb = max(noSpeechProb, seg.NoSpeechProb)
		segments = append(segments, Segment{
			Text:         seg.Text,
			NoSpeechProb: seg.NoSpeechProb,
			AvgLogProb:   seg.AvgLogProb,
			Start:        seg.Start,
			End:          seg.End,
		})
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:         wResp.Text,
		Metrics:      resp.Metrics,
		RateLimit:    remaining + "/" + limit,
		NoSpeechProb: noSpeechProb,
		Duration:     wResp.Duration,
		Segments:     segments,
	}, nil
}
