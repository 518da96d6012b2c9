// Package model contains the struct definitions shared by the renaming
// engine, the worker pool and the processing jobs.
package model

import "fmt"

// ProcessingType selects the transformation pipeline applied to an item.
type ProcessingType string

const (
	TypeImage    ProcessingType = "image"
	TypeMovie    ProcessingType = "movie"
	TypeAudio    ProcessingType = "audio"
	TypeDocument ProcessingType = "document"
)

// ParseProcessingType validates a user supplied type name.
func ParseProcessingType(s string) (ProcessingType, error) {
	switch t := ProcessingType(s); t {
	case TypeImage, TypeMovie, TypeAudio, TypeDocument:
		return t, nil
	}
	return "", fmt.Errorf("unknown processing type %q", s)
}

// RenameRecord describes one filesystem entry renamed during a session.
// Names are base names; ParentFolder is the current (renamed) name of the
// containing folder, empty for entries at the collection root.
type RenameRecord struct {
	CurrentName  string `json:"currentName"`
	OriginalName string `json:"originalName"`
	IsDirectory  bool   `json:"isDirectory"`
	ParentFolder string `json:"parentFolder,omitempty"`
}

// ProcessingItem is the unit handed to the worker pool. Jobs only append
// result fields; the descriptive fields come from the caller.
type ProcessingItem struct {
	Code       string            `json:"code"`
	SourcePath string            `json:"sourcePath"`
	Type       ProcessingType    `json:"type"`
	Folder     string            `json:"folder,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`

	// GroupPath is set on the representative item of a multi-page
	// document folder; the document job processes the whole folder.
	GroupPath string `json:"groupPath,omitempty"`

	Processed   bool              `json:"processed"`
	Error       string            `json:"error,omitempty"`
	Hash        string            `json:"hash,omitempty"`
	StorageKeys map[string]string `json:"storageKeys,omitempty"`
	Pages       int               `json:"pages,omitempty"`
}

// Clone returns a deep copy so a job never shares maps with the caller.
func (it ProcessingItem) Clone() ProcessingItem {
	out := it
	out.Fields = cloneMap(it.Fields)
	out.StorageKeys = cloneMap(it.StorageKeys)
	return out
}

// Fail marks the item as failed with err's message.
func (it ProcessingItem) Fail(err error) ProcessingItem {
	it.Processed = false
	if err != nil {
		it.Error = err.Error()
	} else {
		it.Error = "unknown error"
	}
	return it
}

// SetStorageKey records an uploaded object key under a role such as
// "archival" or "access".
func (it *ProcessingItem) SetStorageKey(role, key string) {
	if it.StorageKeys == nil {
		it.StorageKeys = make(map[string]string)
	}
	it.StorageKeys[role] = key
}

func cloneMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
