// Package api defines the daemon's Connect procedures and their JSON
// messages. The server and the client share these definitions.
package api

import (
	"encoding/json"
	"time"

	"github.com/kazz187/triguild/internal/agent"
	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/consensus"
	"github.com/kazz187/triguild/internal/cost"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/internal/queue"
	"github.com/kazz187/triguild/internal/task"
)

const (
	TaskServiceName      = "triguild.v1.TaskService"
	AgentServiceName     = "triguild.v1.AgentService"
	CostServiceName      = "triguild.v1.CostService"
	CommandServiceName   = "triguild.v1.CommandService"
	QueueServiceName     = "triguild.v1.QueueService"
	ConsensusServiceName = "triguild.v1.ConsensusService"
	NotifyServiceName    = "triguild.v1.NotifyService"
	EventServiceName     = "triguild.v1.EventService"
)

const (
	CreateTaskProcedure       = "/" + TaskServiceName + "/CreateTask"
	GetTaskProcedure          = "/" + TaskServiceName + "/GetTask"
	ListTasksProcedure        = "/" + TaskServiceName + "/ListTasks"
	UpdateTaskStatusProcedure = "/" + TaskServiceName + "/UpdateTaskStatus"
	CancelTaskProcedure       = "/" + TaskServiceName + "/CancelTask"
	RecordTaskResultProcedure = "/" + TaskServiceName + "/RecordTaskResult"
	TaskMetricsProcedure      = "/" + TaskServiceName + "/TaskMetrics"
	PruneTasksProcedure       = "/" + TaskServiceName + "/PruneTasks"

	ListAgentsProcedure   = "/" + AgentServiceName + "/ListAgents"
	AcquireAgentProcedure = "/" + AgentServiceName + "/AcquireAgent"
	ReleaseAgentProcedure = "/" + AgentServiceName + "/ReleaseAgent"
	StatusProcedure       = "/" + AgentServiceName + "/Status"

	AddCostProcedure     = "/" + CostServiceName + "/AddCost"
	CostSummaryProcedure = "/" + CostServiceName + "/CostSummary"

	ListCommandsProcedure = "/" + CommandServiceName + "/ListCommands"
	RunCommandProcedure   = "/" + CommandServiceName + "/RunCommand"

	AddQueueTaskProcedure    = "/" + QueueServiceName + "/AddQueueTask"
	GetQueueTaskProcedure    = "/" + QueueServiceName + "/GetQueueTask"
	ListQueueProcedure       = "/" + QueueServiceName + "/ListQueue"
	DeleteQueueTaskProcedure = "/" + QueueServiceName + "/DeleteQueueTask"
	CompleteQueueProcedure   = "/" + QueueServiceName + "/CompleteQueueTask"
	FailQueueProcedure       = "/" + QueueServiceName + "/FailQueueTask"
	RetryQueueProcedure      = "/" + QueueServiceName + "/RetryQueueTask"
	SetPriorityProcedure     = "/" + QueueServiceName + "/SetPriority"
	QueueHistoryProcedure    = "/" + QueueServiceName + "/QueueHistory"
	QueueStatsProcedure      = "/" + QueueServiceName + "/QueueStats"
	NextBatchProcedure       = "/" + QueueServiceName + "/NextBatch"
	ImportResultsProcedure   = "/" + QueueServiceName + "/ImportResults"
	ImportTasksProcedure     = "/" + QueueServiceName + "/ImportTasks"
	BoostQueueProcedure      = "/" + QueueServiceName + "/BoostQueue"

	VerifyProcedure           = "/" + ConsensusServiceName + "/Verify"
	GetConsensusProcedure     = "/" + ConsensusServiceName + "/GetConsensus"
	ListConsensusProcedure    = "/" + ConsensusServiceName + "/ListConsensus"
	RecordVoteProcedure       = "/" + ConsensusServiceName + "/RecordVote"
	ConsensusMetricsProcedure = "/" + ConsensusServiceName + "/ConsensusMetrics"
	ConsensusReportProcedure  = "/" + ConsensusServiceName + "/ConsensusReport"

	SubscribePushProcedure     = "/" + NotifyServiceName + "/Subscribe"
	UnsubscribePushProcedure   = "/" + NotifyServiceName + "/Unsubscribe"
	ListSubscriptionsProcedure = "/" + NotifyServiceName + "/ListSubscriptions"
	VAPIDKeyProcedure          = "/" + NotifyServiceName + "/VAPIDKey"
	TestNotifyProcedure        = "/" + NotifyServiceName + "/Test"

	WatchEventsProcedure = "/" + EventServiceName + "/WatchEvents"
	ListEventsProcedure  = "/" + EventServiceName + "/ListEvents"
)

// Codec encodes messages as plain JSON. It replaces connect's built-in
// "json" codec, which only accepts protobuf messages.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type Empty struct{}

type IDRequest struct {
	ID string `json:"id"`
}

// Task

type GetTaskResponse struct {
	Task *task.Task `json:"task"`
}

type ListTasksRequest struct {
	Filter task.Filter `json:"filter"`
	Limit  int         `json:"limit,omitempty"`
	Offset int         `json:"offset,omitempty"`
}

type ListTasksResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Total int          `json:"total"`
}

type UpdateTaskStatusRequest struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}

type RecordTaskResultRequest struct {
	ID         string  `json:"id"`
	Output     string  `json:"output"`
	ActualCost float64 `json:"actual_cost"`
	Tokens     int     `json:"tokens"`
}

type PruneTasksRequest struct {
	// Before is a YYYY-MM-DD calendar day.
	Before string `json:"before"`
}

type PruneTasksResponse struct {
	Pruned []string `json:"pruned"`
}

// Agent

type ListAgentsResponse struct {
	Agents    []agent.Agent `json:"agents"`
	Available []agent.Kind  `json:"available"`
}

type AgentRequest struct {
	Agent  agent.Kind `json:"agent"`
	TaskID string     `json:"task_id,omitempty"`
}

// Cost

type AddCostRequest struct {
	TaskID string  `json:"task_id,omitempty"`
	Amount float64 `json:"amount"`
}

type AddCostResponse struct {
	Total float64 `json:"total"`
}

type CostSummaryResponse struct {
	Summary cost.Summary `json:"summary"`
}

// Command

type ListCommandsResponse struct {
	Commands []*command.Command `json:"commands"`
}

type RunCommandRequest struct {
	Name  string        `json:"name"`
	Input command.Input `json:"input"`
}

type RunCommandResponse struct {
	Outcome *command.Outcome `json:"outcome"`
}

// Queue

type AddQueueTaskRequest struct {
	ID          string         `json:"id,omitempty"`
	Description string         `json:"description"`
	Priority    queue.Priority `json:"priority"`
	Category    queue.Category `json:"category,omitempty"`
	Agent       string         `json:"agent,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	MaxRetries  int            `json:"max_retries,omitempty"`
}

type QueueTaskResponse struct {
	Task *queue.Task `json:"task"`
}

type ListQueueRequest struct {
	Status   queue.Status    `json:"status,omitempty"`
	Category queue.Category  `json:"category,omitempty"`
	Priority *queue.Priority `json:"priority,omitempty"`
	Limit    int             `json:"limit,omitempty"`
}

type ListQueueResponse struct {
	Tasks []*queue.Task `json:"tasks"`
}

type FinishQueueTaskRequest struct {
	ID string `json:"id"`
	// Text is the result on completion and the error on failure.
	Text string `json:"text"`
}

type SetPriorityRequest struct {
	ID       string         `json:"id"`
	Priority queue.Priority `json:"priority"`
}

type QueueHistoryResponse struct {
	History []*queue.HistoryEntry `json:"history"`
}

type QueueStatsResponse struct {
	Stats *queue.Stats `json:"stats"`
}

type NextBatchResponse struct {
	Batch *queue.Batch `json:"batch"`
	// Prompt is the batch exported as a single prompt.
	Prompt string `json:"prompt"`
}

type ImportRequest struct {
	Text     string         `json:"text"`
	Category queue.Category `json:"category,omitempty"`
}

type ImportResultsResponse struct {
	Report *queue.ImportReport `json:"report"`
}

type ImportTasksResponse struct {
	Tasks []*queue.Task `json:"tasks"`
}

type BoostQueueResponse struct {
	Boosted int `json:"boosted"`
}

// Consensus

type VerifyRequest struct {
	TaskID      string             `json:"task_id"`
	Description string             `json:"description,omitempty"`
	Implementer agent.Kind         `json:"implementer"`
	Scope       string             `json:"scope,omitempty"`
	Request     *consensus.Request `json:"request,omitempty"`
}

type VerifyResponse struct {
	Outcome *consensus.Outcome `json:"outcome"`
}

type ConsensusResponse struct {
	Session *consensus.Session  `json:"session"`
	Ballots []*consensus.Ballot `json:"ballots"`
}

type ListConsensusRequest struct {
	TaskID string `json:"task_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListConsensusResponse struct {
	Sessions []*consensus.Session `json:"sessions"`
}

type RecordVoteRequest struct {
	Ballot *consensus.Ballot `json:"ballot"`
	// Evaluate decides the session after recording the vote.
	Evaluate bool `json:"evaluate"`
}

type RecordVoteResponse struct {
	Result consensus.Result `json:"result,omitempty"`
}

type ConsensusMetricsRequest struct {
	Days int `json:"days"`
}

type ConsensusMetricsResponse struct {
	Metrics *consensus.Metrics `json:"metrics"`
}

type ConsensusReportRequest struct {
	ID     string           `json:"id"`
	Format consensus.Format `json:"format"`
}

type ConsensusReportResponse struct {
	Report string `json:"report"`
}

// Notify

type SubscribeRequest struct {
	Endpoint  string `json:"endpoint"`
	P256dhKey string `json:"p256dh_key"`
	AuthKey   string `json:"auth_key"`
}

type SubscribeResponse struct {
	Subscription *notify.Subscription `json:"subscription"`
}

type ListSubscriptionsResponse struct {
	Subscriptions []*notify.Subscription `json:"subscriptions"`
}

type VAPIDKeyResponse struct {
	PublicKey string `json:"public_key"`
}

type TestNotifyRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Event

type WatchEventsRequest struct {
	Types []string `json:"types,omitempty"`
}

type ListEventsRequest struct {
	Day  time.Time `json:"day"`
	Type string    `json:"type,omitempty"`
}

type ListEventsResponse struct {
	Events []*EventMessage `json:"events"`
}

// EventMessage mirrors event.Message for the wire.
type EventMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}
