package voicerecognition

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"study-agent-backend/config"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	taskStartTimeout = 10 * time.Second

	// 每次发送的音频分片大小，约对应100ms的16kHz音频
	audioChunkSize = 1024
)

// 识别服务推送的事件类型
const (
	eventTaskStarted     = "task-started"
	eventResultGenerated = "result-generated"
	eventTaskFinished    = "task-finished"
	eventTaskFailed      = "task-failed"
)

type Header struct {
	Action       string `json:"action"`
	TaskID       string `json:"task_id"`
	Streaming    string `json:"streaming"`
	Event        string `json:"event"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Output struct {
	Sentence struct {
		BeginTime   int64  `json:"begin_time"`
		EndTime     *int64 `json:"end_time"`
		Text        string `json:"text"`
		SentenceEnd bool   `json:"sentence_end"`
	} `json:"sentence"`
}

type Payload struct {
	TaskGroup  string `json:"task_group"`
	Task       string `json:"task"`
	Function   string `json:"function"`
	Model      string `json:"model"`
	Parameters Params `json:"parameters"`
	Input      Input  `json:"input"`
	Output     Output `json:"output,omitempty"`
}

type Params struct {
	Format        string   `json:"format"`
	SampleRate    int      `json:"sample_rate"`
	LanguageHints []string `json:"language_hints"`
}

type Input struct {
}

type Event struct {
	Header  Header  `json:"header"`
	Payload Payload `json:"payload"`
}

// Recognize 将上传的语音笔记转写为文本
func Recognize(audioFile *multipart.FileHeader) (string, error) {
	conn, err := wsConnectionPool.Get()
	if err != nil {
		return "", fmt.Errorf("failed to get WebSocket connection: %v", err)
	}

	transcript, err := runRecognitionTask(conn, audioFile)
	if err != nil {
		// 任务失败后流状态未知，连接不放回池中
		conn.conn.Close()
		return "", err
	}

	wsConnectionPool.Put(conn)
	return transcript, nil
}

func runRecognitionTask(conn *WSConnection, audioFile *multipart.FileHeader) (string, error) {
	taskStarted := make(chan struct{})
	taskDone := make(chan error, 1)
	var transcript strings.Builder

	// 异步接收WebSocket消息
	go receiveEvents(conn, taskStarted, taskDone, &transcript)

	taskID, err := sendRunTaskCmd(conn)
	if err != nil {
		return "", fmt.Errorf("failed to send run-task cmd: %v", err)
	}

	if err := waitForTaskStarted(taskStarted); err != nil {
		return "", err
	}

	if err := streamAudio(conn, audioFile); err != nil {
		return "", err
	}

	if err := sendFinishTaskCmd(conn, taskID); err != nil {
		return "", fmt.Errorf("failed to send finish-task cmd: %v", err)
	}

	if err := <-taskDone; err != nil {
		return "", err
	}

	return transcript.String(), nil
}

func receiveEvents(conn *WSConnection, taskStarted chan<- struct{}, taskDone chan<- error, transcript *strings.Builder) {
	for {
		_, message, err := conn.conn.ReadMessage()
		if err != nil {
			taskDone <- fmt.Errorf("failed to read server message: %v", err)
			return
		}

		var event Event
		if err = json.Unmarshal(message, &event); err != nil {
			slog.Error("Failed to parse recognition event", "err", err)
			continue
		}

		if handleEvent(event, taskStarted, taskDone, transcript) {
			return
		}
	}
}

// handleEvent 处理单个事件，任务结束时返回true
func handleEvent(event Event, taskStarted chan<- struct{}, taskDone chan<- error, transcript *strings.Builder) bool {
	switch event.Header.Event {
	case eventTaskStarted:
		close(taskStarted)
	case eventResultGenerated:
		// 只收集识别出的完整句子
		if event.Payload.Output.Sentence.SentenceEnd {
			transcript.WriteString(event.Payload.Output.Sentence.Text)
		}
	case eventTaskFinished:
		taskDone <- nil
		return true
	case eventTaskFailed:
		taskDone <- fmt.Errorf("recognition task failed: %s: %s",
			event.Header.ErrorCode, event.Header.ErrorMessage)
		return true
	default:
		slog.Info("Unexpected recognition event", "event", event.Header.Event)
	}
	return false
}

func sendRunTaskCmd(conn *WSConnection) (string, error) {
	taskID := uuid.New().String()
	runTaskCmd := Event{
		Header: Header{
			Action:    "run-task",
			TaskID:    taskID,
			Streaming: "duplex",
		},
		Payload: Payload{
			TaskGroup: "audio",
			Task:      "asr",
			Function:  "recognition",
			Model:     config.Cfg.Voice.Model,
			Parameters: Params{
				Format:     config.Cfg.Voice.Format,
				SampleRate: config.Cfg.Voice.SampleRate,
			},
			Input: Input{},
		},
	}

	payload, err := json.Marshal(runTaskCmd)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run-task cmd: %v", err)
	}

	if err := conn.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return "", fmt.Errorf("failed to write message: %v", err)
	}

	return taskID, nil
}

func waitForTaskStarted(taskStarted <-chan struct{}) error {
	select {
	case <-taskStarted:
		return nil
	case <-time.After(taskStartTimeout):
		return fmt.Errorf("timeout waiting for task-started")
	}
}

func streamAudio(conn *WSConnection, audioFile *multipart.FileHeader) error {
	file, err := audioFile.Open()
	if err != nil {
		return fmt.Errorf("failed to open audio file: %v", err)
	}
	defer file.Close()

	buf := make([]byte, audioChunkSize)
	for {
		n, err := file.Read(buf)
		if n > 0 {
			if err := conn.conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
				return fmt.Errorf("failed to send audio data: %v", err)
			}
		}

		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error reading audio file: %v", err)
		}
	}
}

func sendFinishTaskCmd(conn *WSConnection, taskID string) error {
	finishTaskCmd := Event{
		Header: Header{
			Action:    "finish-task",
			TaskID:    taskID,
			Streaming: "duplex",
		},
		Payload: Payload{
			Input: Input{},
		},
	}

	payload, err := json.Marshal(finishTaskCmd)
	if err != nil {
		return fmt.Errorf("failed to marshal finish-task cmd: %v", err)
	}

	if err := conn.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write message: %v", err)
	}
	return nil
}
