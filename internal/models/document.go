package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an ingested document.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Format is the declared upload format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatPPT  Format = "ppt"
	FormatPPTX Format = "pptx"
)

// ParseFormat normalises a declared format or file extension ("PDF", ".pptx").
func ParseFormat(s string) (Format, bool) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "."))
	switch f {
	case FormatPDF, FormatPPT, FormatPPTX:
		return f, true
	}
	return "", false
}

// Document is the persisted record for one upload. It is created at
// ingestion and afterwards mutated only by the pipeline coordinator.
type Document struct {
	ID                string     `firestore:"id" json:"id"`
	Filename          string     `firestore:"filename" json:"filename"`
	Format            Format     `firestore:"format" json:"format"`
	SizeBytes         int64      `firestore:"sizeBytes" json:"sizeBytes"`
	Fingerprint       string     `firestore:"contentFingerprint" json:"contentFingerprint"`
	Status            Status     `firestore:"status" json:"status"`
	OverallConfidence *float64   `firestore:"overallConfidence" json:"overallConfidence"`
	ErrorDetails      *string    `firestore:"errorDetails" json:"errorDetails"`
	CacheHit          bool       `firestore:"cacheHit" json:"cacheHit"`
	ResultDocumentID  string     `firestore:"resultDocumentId" json:"resultDocumentId"`
	QueuedAt          time.Time  `firestore:"queuedAt" json:"queuedAt"`
	StartedAt         *time.Time `firestore:"startedAt" json:"startedAt"`
	CompletedAt       *time.Time `firestore:"completedAt" json:"completedAt"`
}

// Fail moves the document to the failed state with a human-readable reason.
func (d *Document) Fail(reason string, at time.Time) {
	d.Status = StatusFailed
	d.ErrorDetails = &reason
	d.CompletedAt = &at
}

// Complete moves the document to the completed state.
func (d *Document) Complete(confidence float64, at time.Time) {
	d.Status = StatusCompleted
	d.OverallConfidence = &confidence
	d.ErrorDetails = nil
	d.CompletedAt = &at
}
