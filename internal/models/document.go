package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a Document in the analysis pipeline.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusParsing   Status = "parsing"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// validTransitions lists, per current status, the statuses it may move to.
// Completed is terminal; Failed only re-enters the pipeline on an explicit request.
var validTransitions = map[Status]map[Status]bool{
	StatusUploading: {StatusParsing: true, StatusFailed: true},
	StatusParsing:   {StatusAnalyzing: true, StatusFailed: true},
	StatusAnalyzing: {StatusCompleted: true, StatusFailed: true},
	StatusCompleted: {},
	StatusFailed:    {StatusParsing: true, StatusAnalyzing: true},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to Status) bool {
	return validTransitions[from][to]
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validTransitions[s]
	return ok
}

// InProgress reports whether an orchestration run currently owns the document.
func (s Status) InProgress() bool {
	return s == StatusParsing || s == StatusAnalyzing
}

// Document is the registry record for an uploaded contract.
// It tracks the pipeline status and the cached results of each finished step.
type Document struct {
	ID            string    `json:"id" firestore:"-"`
	OwnerID       string    `json:"ownerId" firestore:"ownerId"`
	FileName      string    `json:"fileName" firestore:"fileName"`
	FileType      string    `json:"fileType" firestore:"fileType"`
	MIMEType      string    `json:"mimeType" firestore:"mimeType"`
	FileSizeBytes int64     `json:"fileSizeBytes" firestore:"fileSizeBytes"`
	FileHash      string    `json:"fileHash,omitempty" firestore:"fileHash,omitempty"`
	PageCount     int       `json:"pageCount,omitempty" firestore:"pageCount,omitempty"`
	StorageRef    *string   `json:"storageRef,omitempty" firestore:"storageRef"`
	ExtractedText *string   `json:"-" firestore:"extractedText"`
	Status        Status    `json:"status" firestore:"status"`
	ErrorDetails  string    `json:"errorDetails,omitempty" firestore:"errorDetails,omitempty"`
	CreatedAt     time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" firestore:"updatedAt"`
}

// HasExtractedText reports whether extraction already ran for this document.
func (d *Document) HasExtractedText() bool {
	return d.ExtractedText != nil
}

// DocumentView is a document joined with its analysis, if one exists.
type DocumentView struct {
	Document
	Analysis *Analysis `json:"analysis,omitempty"`
}

// DocumentPage is one page of an owner's document listing.
type DocumentPage struct {
	Items      []DocumentView `json:"data"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	TotalPages int            `json:"totalPages"`
}

// ListFilter narrows a document listing. Nil fields are not applied.
type ListFilter struct {
	Status    *Status
	RiskLevel *RiskLevel
}

// Statistics summarises an owner's documents and analyses.
type Statistics struct {
	TotalDocuments      int        `json:"totalDocuments"`
	CompletedDocuments  int        `json:"completedDocuments"`
	CompletionRate      int        `json:"completionRate"`
	TotalAnalyses       int        `json:"totalAnalyses"`
	MonthlyAnalyses     int        `json:"monthlyAnalyses"`
	AverageRiskLevel    *RiskLevel `json:"averageRiskLevel"`
	AverageProcessingMs int64      `json:"averageProcessingMs"`
}

// Accepted upload file types, keyed by extension.
var fileTypeMIME = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"txt":  "text/plain",
}

// MIMETypeFor returns the MIME type of an accepted file type.
func MIMETypeFor(fileType string) (string, bool) {
	m, ok := fileTypeMIME[fileType]
	return m, ok
}

// DetectFileType resolves the file type from the file name extension,
// falling back to the declared MIME type.
func DetectFileType(fileName, mimeType string) (string, bool) {
	if i := strings.LastIndexByte(fileName, '.'); i >= 0 {
		ext := strings.ToLower(fileName[i+1:])
		if _, ok := fileTypeMIME[ext]; ok {
			return ext, true
		}
	}
	mimeType = strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	for ext, m := range fileTypeMIME {
		if m == mimeType {
			return ext, true
		}
	}
	return "", false
}
