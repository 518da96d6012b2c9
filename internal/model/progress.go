package model

import "time"

// ProgressState is the aggregate progress of one import session.
// ProcessedFiles never decreases and counts both successes and failures.
type ProgressState struct {
	TotalFiles     int `json:"totalFiles"`
	ProcessedFiles int `json:"processedFiles"`
}

// Done reports whether every dispatched item reached a terminal outcome.
func (p ProgressState) Done() bool {
	return p.ProcessedFiles >= p.TotalFiles
}

// Fraction returns ProcessedFiles/TotalFiles in [0,1]. An empty batch is
// complete.
func (p ProgressState) Fraction() float64 {
	if p.TotalFiles <= 0 {
		return 1
	}
	f := float64(p.ProcessedFiles) / float64(p.TotalFiles)
	if f > 1 {
		return 1
	}
	return f
}

// ImportStatus is the lifecycle stage of an import session.
type ImportStatus string

const (
	ImportRenamed    ImportStatus = "renamed"
	ImportProcessing ImportStatus = "processing"
	ImportFinalized  ImportStatus = "finalized"
	ImportAbandoned  ImportStatus = "abandoned"
	ImportPurged     ImportStatus = "purged"
)

// ImportState is the persisted record of an import session. The latest one
// is read to resume or purge a previous import.
type ImportState struct {
	ID             string         `json:"id"`
	CollectionName string         `json:"collectionName"`
	CollectionType ProcessingType `json:"collectionType"`
	Prefix         string         `json:"prefix"`
	BaseNumber     int            `json:"baseNumber"`
	LastCode       string         `json:"lastCode"`
	FolderPath     string         `json:"folderPath"`
	Status         ImportStatus   `json:"status"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// BaseCode is the first inventory code issued by the recorded import.
func (s ImportState) BaseCode() string {
	return FolderCode(s.Prefix, s.BaseNumber)
}
