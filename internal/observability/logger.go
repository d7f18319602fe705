package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeExtraction    EventType = "extraction"
	EventTypeGroupPrepared EventType = "group_prepared"
	EventTypeGroupFailed   EventType = "group_failed"
	EventTypeGroupDone     EventType = "group_done"
	EventTypeToolCall      EventType = "tool_call"
	EventTypeToolResult    EventType = "tool_result"
	EventTypeDependency    EventType = "dependency"
	EventTypeNarration     EventType = "narration"
	EventTypePolicyCheck   EventType = "policy_check"
	EventTypeWorkflowDone  EventType = "workflow_done"
	EventTypeMaintenance   EventType = "maintenance"
	EventTypeLLM           EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultMaxLLMLogSize = 10 * 1024 * 1024

// Logger handles structured logging. A nil *Logger discards events.
type Logger struct {
	mu         sync.Mutex
	out        io.Writer
	llmLogPath string
	maxSize    int64

	file    *os.File
	written int64
}

func NewLogger() *Logger {
	return &Logger{
		out:        os.Stdout,
		llmLogPath: filepath.Join("logs", "llm.jsonl"),
		maxSize:    defaultMaxLLMLogSize,
	}
}

// NewLoggerTo writes events to w and llm events to llmLogPath. An empty path
// disables the llm file.
func NewLoggerTo(w io.Writer, llmLogPath string) *Logger {
	return &Logger{out: w, llmLogPath: llmLogPath, maxSize: defaultMaxLLMLogSize}
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		data = []byte(fmt.Sprintf("{\"error\": \"failed to marshal event: %v\"}", err))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, string(data))

	if evt.Type == EventTypeLLM && l.llmLogPath != "" {
		l.writeToFile(data)
	}
}

// writeToFile appends to the llm log, keeping the handle open between
// events. Called with l.mu held.
func (l *Logger) writeToFile(data []byte) {
	if l.file == nil {
		if err := l.openLLMLog(); err != nil {
			log.Printf("failed to open llm log: %v", err)
			return
		}
	}
	if l.written+int64(len(data))+1 > l.maxSize {
		l.rotateLogs()
		if err := l.openLLMLog(); err != nil {
			log.Printf("failed to reopen llm log: %v", err)
			return
		}
	}

	n, err := l.file.Write(append(data, '\n'))
	l.written += int64(n)
	if err != nil {
		log.Printf("failed to write llm log: %v", err)
	}
}

func (l *Logger) openLLMLog() error {
	if err := os.MkdirAll(filepath.Dir(l.llmLogPath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.llmLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	l.file, l.written = f, info.Size()
	return nil
}

// rotateLogs moves the current llm log to .old, replacing any previous one.
func (l *Logger) rotateLogs() {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	oldPath := l.llmLogPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.llmLogPath, oldPath)
	l.written = 0
}

// Close releases the llm log file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Helper methods for common events

func (l *Logger) LogExtraction(chatID, taskID string, steps any) {
	l.Log(Event{
		Type:   EventTypeExtraction,
		ChatID: chatID,
		TaskID: taskID,
		Data:   map[string]any{"steps": steps},
	})
}

func (l *Logger) LogGroup(typ EventType, chatID, taskID string, index int, toolkit string, detail map[string]any) {
	data := map[string]any{"index": index, "toolkit": toolkit}
	for k, v := range detail {
		data[k] = v
	}
	l.Log(Event{Type: typ, ChatID: chatID, TaskID: taskID, Data: data})
}

func (l *Logger) LogToolCall(chatID, taskID, tool, args string) {
	l.Log(Event{
		Type:   EventTypeToolCall,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]string{
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogToolResult(chatID, taskID, tool string, successful bool) {
	l.Log(Event{
		Type:   EventTypeToolResult,
		ChatID: chatID,
		TaskID: taskID,
		Data:   map[string]any{"tool": tool, "successful": successful},
	})
}

func (l *Logger) LogLLM(chatID, taskID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:   EventTypeLLM,
		ChatID: chatID,
		TaskID: taskID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
