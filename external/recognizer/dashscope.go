package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/audio"
	"github.com/foxseedlab/vrchat-asr/internal/recognition"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	eventTaskStarted     = "task-started"
	eventTaskFinished    = "task-finished"
	eventTaskFailed      = "task-failed"
	eventResultGenerated = "result-generated"

	taskStartTimeout  = 10 * time.Second
	closeWriteTimeout = time.Second
)

// DashScopeStreamer opens duplex recognition tasks over the DashScope
// inference websocket.
type DashScopeStreamer struct {
	endpoint     string
	dialer       *websocket.Dialer
	startTimeout time.Duration
}

func NewDashScopeStreamer(endpoint string) *DashScopeStreamer {
	return &DashScopeStreamer{
		endpoint:     endpoint,
		dialer:       websocket.DefaultDialer,
		startTimeout: taskStartTimeout,
	}
}

var _ recognition.Streamer = (*DashScopeStreamer)(nil)

type taskHeader struct {
	Action    string `json:"action"`
	TaskID    string `json:"task_id"`
	Streaming string `json:"streaming"`
}

type taskResource struct {
	ResourceID   string `json:"resource_id"`
	ResourceType string `json:"resource_type"`
}

type taskPayload struct {
	TaskGroup  string         `json:"task_group,omitempty"`
	Task       string         `json:"task,omitempty"`
	Function   string         `json:"function,omitempty"`
	Model      string         `json:"model,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Resources  []taskResource `json:"resources,omitempty"`
	Input      struct{}       `json:"input"`
}

type taskCommand struct {
	Header  taskHeader  `json:"header"`
	Payload taskPayload `json:"payload"`
}

type serverEvent struct {
	Header struct {
		TaskID       string `json:"task_id"`
		Event        string `json:"event"`
		ErrorCode    string `json:"error_code"`
		ErrorMessage string `json:"error_message"`
	} `json:"header"`
	Payload struct {
		Output struct {
			Sentence *serverSentence `json:"sentence"`
		} `json:"output"`
		Usage *struct {
			Duration int `json:"duration"`
		} `json:"usage"`
	} `json:"payload"`
}

type serverSentence struct {
	BeginTime   int64  `json:"begin_time"`
	EndTime     *int64 `json:"end_time"`
	Text        string `json:"text"`
	SentenceEnd bool   `json:"sentence_end"`
	Heartbeat   bool   `json:"heartbeat"`
}

func runTaskCommand(taskID string, params recognition.Params) taskCommand {
	parameters := map[string]any{
		"format":      params.Format,
		"sample_rate": params.SampleRate,
	}
	if params.Language != "" {
		parameters["language_hints"] = []string{params.Language}
	}
	if params.DisfluencyRemoval {
		parameters["disfluency_removal_enabled"] = true
	}
	if params.Diarization {
		parameters["diarization_enabled"] = true
		if params.SpeakerCount > 0 {
			parameters["speaker_count"] = params.SpeakerCount
		}
	}
	if params.TimestampAlignment {
		parameters["timestamp_alignment_enabled"] = true
	}
	if params.SpecialWordFilter != "" {
		parameters["special_word_filter"] = params.SpecialWordFilter
	}
	if params.AudioEventDetection {
		parameters["audio_event_detection_enabled"] = true
	}

	cmd := taskCommand{
		Header: taskHeader{Action: "run-task", TaskID: taskID, Streaming: "duplex"},
		Payload: taskPayload{
			TaskGroup:  "audio",
			Task:       "asr",
			Function:   "recognition",
			Model:      params.Model,
			Parameters: parameters,
		},
	}
	if params.PhraseID != "" {
		cmd.Payload.Resources = []taskResource{{ResourceID: params.PhraseID, ResourceType: "asr_phrase"}}
	}
	return cmd
}

func finishTaskCommand(taskID string) taskCommand {
	return taskCommand{Header: taskHeader{Action: "finish-task", TaskID: taskID, Streaming: "duplex"}}
}

// Open dials the service, submits run-task and blocks until the task is
// acknowledged, ctx is done or the start timeout elapses.
func (s *DashScopeStreamer) Open(ctx context.Context, params recognition.Params) (recognition.Stream, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "bearer "+params.APIKey)
	hdr.Set("X-DashScope-DataInspection", "enable")
	if params.Workspace != "" {
		hdr.Set("X-DashScope-WorkSpace", params.Workspace)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.endpoint, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial dashscope: status=%d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial dashscope: %w", err)
	}

	taskID := uuid.NewString()
	if err := conn.WriteJSON(runTaskCommand(taskID, params)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send run-task: %w", err)
	}
	if err := s.awaitStarted(ctx, conn, taskID); err != nil {
		_ = conn.Close()
		return nil, err
	}
	slog.Debug("dashscope task started", "task_id", taskID, "model", params.Model)
	return &dashScopeStream{conn: conn, taskID: taskID}, nil
}

func (s *DashScopeStreamer) awaitStarted(ctx context.Context, conn *websocket.Conn, taskID string) error {
	deadline := time.Now().Add(s.startTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fmt.Errorf("wait for task-started: %w", ctxErr)
			}
			return fmt.Errorf("wait for task-started: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var event serverEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return fmt.Errorf("decode dashscope event: %w", err)
		}
		switch event.Header.Event {
		case eventTaskStarted:
			return conn.SetReadDeadline(time.Time{})
		case eventTaskFailed:
			resp := failedResponse(event, taskID)
			return &recognition.SessionError{
				StatusCode: resp.StatusCode,
				Code:       resp.Code,
				Message:    resp.Message,
				RequestID:  resp.RequestID,
			}
		}
	}
}

type dashScopeStream struct {
	conn   *websocket.Conn
	taskID string

	writeMu   sync.Mutex
	closeOnce sync.Once
	finished  bool
}

func (s *dashScopeStream) Send(frame audio.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *dashScopeStream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(finishTaskCommand(s.taskID))
}

func (s *dashScopeStream) Recv() (*recognition.Response, error) {
	for {
		if s.finished {
			return nil, io.EOF
		}
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil, io.EOF
			}
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var event serverEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("decode dashscope event: %w", err)
		}

		switch event.Header.Event {
		case eventResultGenerated:
			resp, ok := generatedResponse(event, s.taskID)
			if !ok {
				continue
			}
			return resp, nil
		case eventTaskFinished:
			s.finished = true
			return &recognition.Response{StatusCode: recognition.StatusOK, RequestID: requestID(event, s.taskID)}, nil
		case eventTaskFailed:
			s.finished = true
			return failedResponse(event, s.taskID), nil
		default:
			slog.Debug("ignored dashscope event", "event", event.Header.Event, "task_id", s.taskID)
		}
	}
}

func (s *dashScopeStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		err = s.conn.Close()
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func requestID(event serverEvent, taskID string) string {
	if event.Header.TaskID != "" {
		return event.Header.TaskID
	}
	return taskID
}

// generatedResponse reports false for heartbeats and empty payloads.
func generatedResponse(event serverEvent, taskID string) (*recognition.Response, bool) {
	sentence := event.Payload.Output.Sentence
	if sentence == nil || sentence.Heartbeat {
		return nil, false
	}
	resp := &recognition.Response{
		StatusCode: recognition.StatusOK,
		RequestID:  requestID(event, taskID),
		Sentence: &recognition.Sentence{
			Text:    sentence.Text,
			BeginMs: sentence.BeginTime,
			End:     sentence.EndTime != nil || sentence.SentenceEnd,
		},
	}
	if sentence.EndTime != nil {
		resp.Sentence.EndMs = *sentence.EndTime
	}
	if resp.Sentence.End && event.Payload.Usage != nil {
		resp.Usage = &recognition.Usage{
			EndMs:           resp.Sentence.EndMs,
			DurationSeconds: event.Payload.Usage.Duration,
		}
	}
	return resp, true
}

func failedResponse(event serverEvent, taskID string) *recognition.Response {
	id := requestID(event, taskID)
	if event.Header.ErrorCode == recognition.DefaultTimeoutCode {
		return recognition.TimeoutResponse(event.Header.ErrorMessage, id)
	}
	return &recognition.Response{
		StatusCode: http.StatusBadRequest,
		Code:       event.Header.ErrorCode,
		Message:    event.Header.ErrorMessage,
		RequestID:  id,
	}
}
