package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/mjones3/architect-transcript-insights/domain/repositories"
)

// ErrNoAudio is returned when a stream ends before any audio was sent.
var ErrNoAudio = errors.New("no audio data received")

// GoogleDiarizer implements repositories.Diarizer with Google Cloud
// Speech-to-Text streaming recognition and speaker diarization.
type GoogleDiarizer struct {
	logger *zap.Logger
}

// NewGoogleDiarizer creates a Google Cloud diarizer. Credentials are taken
// from the environment (GOOGLE_APPLICATION_CREDENTIALS).
func NewGoogleDiarizer(logger *zap.Logger) *GoogleDiarizer {
	return &GoogleDiarizer{logger: logger}
}

// InitDiarizedStreaming implements repositories.Diarizer
func (g *GoogleDiarizer) InitDiarizedStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.DiarizationStream, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         recognitionConfig(config, encoding),
				InterimResults: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	s := &GoogleDiarizationStream{
		client: client,
		stream: stream,
		ctx:    ctx,
		config: config,
		logger: g.logger,
		done:   make(chan struct{}),
	}
	go s.receiveResults()
	return s, nil
}

func recognitionConfig(config repositories.AudioConfig, encoding speechpb.RecognitionConfig_AudioEncoding) *speechpb.RecognitionConfig {
	minSpeakers, maxSpeakers := config.MinSpeakers, config.MaxSpeakers
	if minSpeakers <= 0 {
		minSpeakers = 1
	}
	if maxSpeakers < minSpeakers {
		maxSpeakers = 6
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(config.SampleRate),
		LanguageCode:               config.Language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		DiarizationConfig: &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          int32(minSpeakers),
			MaxSpeakerCount:          int32(maxSpeakers),
		},
	}
}

// GoogleDiarizationStream buffers the streamed audio so each diarized
// utterance can carry its own slice of it.
type GoogleDiarizationStream struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	config repositories.AudioConfig
	logger *zap.Logger

	mu    sync.Mutex
	audio []byte

	done   chan struct{}
	words  []*speechpb.WordInfo
	recErr error
}

// Stream implements repositories.DiarizationStream
func (g *GoogleDiarizationStream) Stream(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	g.mu.Lock()
	g.audio = append(g.audio, data...)
	g.mu.Unlock()

	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

// End implements repositories.DiarizationStream
func (g *GoogleDiarizationStream) End() ([]repositories.DiarizedUtterance, error) {
	defer g.client.Close()

	g.mu.Lock()
	audio := g.audio
	g.mu.Unlock()
	if len(audio) == 0 {
		g.stream.CloseSend()
		return nil, ErrNoAudio
	}

	if err := g.stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return nil, fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case <-g.done:
	}
	if g.recErr != nil {
		return nil, g.recErr
	}

	utterances := groupWords(g.words)
	for i := range utterances {
		utterances[i].Audio = sliceAudio(audio, g.config, utterances[i].StartMs, utterances[i].EndMs)
	}

	g.logger.Info("Diarization completed",
		zap.Int("utterances", len(utterances)),
		zap.Int("words", len(g.words)))
	return utterances, nil
}

// receiveResults keeps the word list of the latest final result. With
// diarization enabled, each final result repeats every word recognized so far
// with its speaker tag.
func (g *GoogleDiarizationStream) receiveResults() {
	defer close(g.done)

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			g.recErr = fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.Results {
			if !result.IsFinal || len(result.Alternatives) == 0 {
				continue
			}
			if words := result.Alternatives[0].Words; len(words) > 0 && words[len(words)-1].SpeakerTag != 0 {
				g.words = words
			}
		}
	}
}

// groupWords turns consecutive words with the same speaker tag into one
// utterance each.
func groupWords(words []*speechpb.WordInfo) []repositories.DiarizedUtterance {
	var (
		out  []repositories.DiarizedUtterance
		text []string
		cur  *repositories.DiarizedUtterance
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, " ")
			out = append(out, *cur)
		}
	}

	for _, w := range words {
		label := fmt.Sprintf("spk_%d", w.SpeakerTag)
		start := w.StartTime.AsDuration().Milliseconds()
		end := w.EndTime.AsDuration().Milliseconds()

		if cur == nil || cur.Label != label {
			flush()
			cur = &repositories.DiarizedUtterance{Label: label, StartMs: start}
			text = text[:0]
		}
		cur.EndMs = end
		text = append(text, w.Word)
	}
	flush()
	return out
}

// sliceAudio cuts [startMs, endMs) out of LINEAR16 audio. Other encodings are
// not sample-addressable and return the whole stream.
func sliceAudio(audio []byte, config repositories.AudioConfig, startMs, endMs int64) []byte {
	if !isLinear16(config.Encoding) || config.SampleRate <= 0 {
		return audio
	}
	offset := func(ms int64) int {
		n := int(ms * int64(config.SampleRate) / 1000 * 2)
		if n > len(audio) {
			n = len(audio) &^ 1
		}
		return n
	}
	from, to := offset(startMs), offset(endMs)
	if to <= from {
		return nil
	}
	return audio[from:to]
}

func isLinear16(encoding string) bool {
	return encoding == "LINEAR16" || encoding == "WAV"
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
