package transcribe

import (
	"context"
	"fmt"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

type deepgram struct {
	apiKey string
	model  string
	host   string
}

func newDeepgram(apiKey, model string, opts *options) *deepgram {
	if model == "" {
		model = "nova-2"
	}
	return &deepgram{apiKey: apiKey, model: model, host: opts.baseURL}
}

func (d *deepgram) Transcribe(ctx context.Context, audioPath string) (string, error) {
	clientOpts := &interfaces.ClientOptions{}
	if d.host != "" {
		clientOpts.Host = d.host
	}

	rest := client.NewREST(d.apiKey, clientOpts)
	api := prerecorded.New(rest)

	resp, err := api.FromFile(ctx, audioPath, &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.model,
		SmartFormat: true,
		Punctuate:   true,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}

	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return "", fmt.Errorf("deepgram: no alternatives in response")
	}
	return strings.TrimSpace(resp.Results.Channels[0].Alternatives[0].Transcript), nil
}
