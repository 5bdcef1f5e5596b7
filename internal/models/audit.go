package models

import "time"

// Stage names an audited operation.
type Stage string

const (
	StageUpload    Stage = "upload"
	StageParse     Stage = "parse"
	StageClassify  Stage = "classify"
	StageExtract   Stage = "extract"
	StageSummarize Stage = "summarize"
	StageScore     Stage = "score"
	StageFormat    Stage = "format"
	StageExport    Stage = "export"
)

// PipelineStages is the fixed execution order of the coordinator.
var PipelineStages = []Stage{StageParse, StageClassify, StageExtract, StageSummarize, StageScore, StageFormat}

type AuditStatus string

const (
	AuditStarted   AuditStatus = "started"
	AuditCompleted AuditStatus = "completed"
	AuditFailed    AuditStatus = "failed"
)

// AuditEntry is one immutable audit record. Each attempt of an operation
// produces a started entry followed by a completed or failed entry.
type AuditEntry struct {
	ID           string      `firestore:"id" json:"id"`
	DocumentID   string      `firestore:"documentId" json:"documentId"`
	Stage        Stage       `firestore:"stage" json:"stage"`
	Scope        string      `firestore:"scope" json:"scope"`
	Attempt      int         `firestore:"attempt" json:"attempt"`
	StartedAt    time.Time   `firestore:"startedAt" json:"startedAt"`
	CompletedAt  *time.Time  `firestore:"completedAt" json:"completedAt"`
	Status       AuditStatus `firestore:"status" json:"status"`
	ErrorDetails *string     `firestore:"errorDetails" json:"errorDetails"`
}
