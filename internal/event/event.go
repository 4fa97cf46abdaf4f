package event

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Task events
	TaskCreated       EventType = "task.created"
	TaskStatusChanged EventType = "task.status_changed"
	TaskPruned        EventType = "task.pruned"

	// Agent events
	AgentStatusChanged EventType = "agent.status_changed"

	// Cost events
	CostRecorded EventType = "cost.recorded"

	// Queue events
	QueueTaskFinished EventType = "queue.task_finished"
)

// Data is implemented by every event payload.
type Data interface {
	EventType() EventType
}

// Event represents a typed system event
type Event[T Data] struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Data      T         `json:"data"`
}

// Message represents a serialized event for transport and logging
type Message struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// NewMessage serializes data into a transport message.
func NewMessage(source string, data Data) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        newID(),
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Data:      raw,
	}, nil
}

// FromMessage converts a transport message to a typed event
func FromMessage[T Data](msg *Message) (*Event[T], error) {
	var data T
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		return nil, err
	}
	return &Event[T]{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Source:    msg.Source,
		Data:      data,
	}, nil
}

type TaskCreatedData struct {
	TaskID      string `json:"task_id"`
	Type        string `json:"type"`
	Agent       string `json:"agent"`
	Description string `json:"description"`
}

func (TaskCreatedData) EventType() EventType { return TaskCreated }

type TaskStatusChangedData struct {
	TaskID     string `json:"task_id"`
	Type       string `json:"type"`
	Agent      string `json:"agent"`
	Command    string `json:"command,omitempty"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Error      string `json:"error,omitempty"`
}

func (TaskStatusChangedData) EventType() EventType { return TaskStatusChanged }

type TaskPrunedData struct {
	TaskIDs []string `json:"task_ids"`
	Before  string   `json:"before"`
}

func (TaskPrunedData) EventType() EventType { return TaskPruned }

type AgentStatusChangedData struct {
	Agent      string `json:"agent"`
	TaskID     string `json:"task_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

func (AgentStatusChangedData) EventType() EventType { return AgentStatusChanged }

type CostRecordedData struct {
	TaskID     string  `json:"task_id"`
	Amount     float64 `json:"amount"`
	DailyTotal float64 `json:"daily_total"`
	OverBudget bool    `json:"over_budget"`
}

func (CostRecordedData) EventType() EventType { return CostRecorded }

type QueueTaskFinishedData struct {
	QueueTaskID string `json:"queue_task_id"`
	LedgerID    string `json:"ledger_id,omitempty"`
	Agent       string `json:"agent"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

func (QueueTaskFinishedData) EventType() EventType { return QueueTaskFinished }
