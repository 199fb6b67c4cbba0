package recognizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

// CloudSpeechStreamer runs recognition sessions on Google Cloud Speech v2
// streaming recognize.
type CloudSpeechStreamer struct {
	projectID       string
	credentialsJSON string
	defaultLanguage string
	location        string
	model           string
}

func NewCloudSpeechStreamer(cfg CloudSpeechConfig) *CloudSpeechStreamer {
	return &CloudSpeechStreamer{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		defaultLanguage: cfg.Language,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
	}
}

var _ recognition.Streamer = (*CloudSpeechStreamer)(nil)

type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

func (s *CloudSpeechStreamer) Open(ctx context.Context, params recognition.Params) (recognition.Stream, error) {
	language := params.Language
	if language == "" {
		language = s.defaultLanguage
	}
	model := params.Model
	if model == "" {
		model = s.model
	}
	slog.Info("starting cloud speech streaming", "location", s.location, "language", language, "model", model)

	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		CredentialsJSON: []byte(s.credentialsJSON),
		Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
	})
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{
		option.WithAuthCredentials(creds),
	}
	if s.location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", s.location, speechAPIEndpointPort)))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_", s.projectID, s.location)
	if err := stream.Send(streamingConfigRequest(recognizer, model, language, params)); err != nil {
		_ = stream.CloseSend()
		cancel()
		_ = client.Close()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	slog.Info("cloud speech stream initialized", "recognizer", recognizer)

	return newCloudSpeechStream(stream, func() error {
		cancel()
		return client.Close()
	}), nil
}

func streamingConfigRequest(recognizer, model, language string, params recognition.Params) *speechpb.StreamingRecognizeRequest {
	features := &speechpb.RecognitionFeatures{
		EnableWordTimeOffsets:      params.TimestampAlignment,
		EnableAutomaticPunctuation: true,
	}
	if params.SpecialWordFilter != "" {
		features.ProfanityFilter = true
	}
	if params.Diarization && params.SpeakerCount > 0 {
		features.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			MinSpeakerCount: 1,
			MaxSpeakerCount: int32(params.SpeakerCount),
		}
	}
	return &speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         model,
					LanguageCodes: []string{language},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(params.SampleRate),
							AudioChannelCount: int32(params.Channels),
						},
					},
					Features: features,
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{InterimResults: true},
			},
		},
	}
}

type cloudSpeechStream struct {
	stream  recognizeStream
	closeFn func() error

	pending   []*recognition.Response
	billed    int
	closeOnce sync.Once
	closeErr  error
}

func newCloudSpeechStream(stream recognizeStream, closeFn func() error) *cloudSpeechStream {
	return &cloudSpeechStream{stream: stream, closeFn: closeFn}
}

func (s *cloudSpeechStream) Send(frame audio.Frame) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{Audio: frame},
	})
}

func (s *cloudSpeechStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *cloudSpeechStream) Recv() (*recognition.Response, error) {
	for len(s.pending) == 0 {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			mapped, ok := responseFromError(err)
			if !ok {
				return nil, err
			}
			return mapped, nil
		}
		s.pending = s.responsesFrom(resp)
	}
	next := s.pending[0]
	s.pending = s.pending[1:]
	return next, nil
}

func (s *cloudSpeechStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.closeFn()
	})
	return s.closeErr
}

// responsesFrom reports billed time as the delta since the previous usage
// record; the service reports a running total.
func (s *cloudSpeechStream) responsesFrom(resp *speechpb.StreamingRecognizeResponse) []*recognition.Response {
	var out []*recognition.Response
	total := int(resp.GetMetadata().GetTotalBilledDuration().AsDuration().Seconds())
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		sentence := &recognition.Sentence{
			Text:  result.GetAlternatives()[0].GetTranscript(),
			EndMs: result.GetResultEndOffset().AsDuration().Milliseconds(),
			End:   result.GetIsFinal(),
		}
		r := &recognition.Response{StatusCode: recognition.StatusOK, Sentence: sentence}
		if sentence.End && total > s.billed {
			r.Usage = &recognition.Usage{EndMs: sentence.EndMs, DurationSeconds: total - s.billed}
			s.billed = total
		}
		out = append(out, r)
	}
	return out
}

// responseFromError turns gRPC failures into service responses. Canceled
// streams are reported as plain errors.
func responseFromError(err error) (*recognition.Response, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	switch st.Code() {
	case codes.Canceled:
		return nil, false
	case codes.DeadlineExceeded:
		return recognition.TimeoutResponse(st.Message(), ""), true
	case codes.Aborted:
		if isStreamTimeoutMessage(st.Message()) {
			return recognition.TimeoutResponse(st.Message(), ""), true
		}
	}
	return &recognition.Response{
		StatusCode: httpStatusFromCode(st.Code()),
		Code:       st.Code().String(),
		Message:    st.Message(),
	}, true
}

func isStreamTimeoutMessage(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "max duration of 5 minutes") ||
		strings.Contains(msg, "stream timed out after receiving no more client requests")
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
