package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodes(t *testing.T) {
	assert.Equal(t, "XYZ_0000005", FolderCode("XYZ", 5))
	assert.Equal(t, "XYZ_0000005_02", FileCode("XYZ", 5, 2))
	assert.Equal(t, "ABC_1234567_12", FileCode("ABC", 1234567, 12))
}

func TestValidatePrefix(t *testing.T) {
	assert.NoError(t, ValidatePrefix("ABC"))
	assert.NoError(t, ValidatePrefix("a1"))
	assert.Error(t, ValidatePrefix(""))
	assert.Error(t, ValidatePrefix("AB C"))
	assert.Error(t, ValidatePrefix("ABC_"))
}

func TestIsMultiPageGroup(t *testing.T) {
	tests := []struct {
		name string
		root bool
		want bool
	}{
		{"ABC_0000001", false, true},
		{"ABC_0000001", true, false},
		{"ABC_0000001_01", false, true},
		{"letters", false, false},
		{"ABC_draft", false, false},
		{"ABC_", false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsMultiPageGroup(tt.name, tt.root), tt.name)
	}
}

func TestProgressFraction(t *testing.T) {
	assert.Equal(t, 1.0, ProgressState{}.Fraction())
	assert.Equal(t, 0.5, ProgressState{TotalFiles: 4, ProcessedFiles: 2}.Fraction())
	assert.True(t, ProgressState{TotalFiles: 4, ProcessedFiles: 4}.Done())
}

func TestCloneDoesNotShareMaps(t *testing.T) {
	it := ProcessingItem{Code: "A_0000001_01", Fields: map[string]string{"title": "x"}}
	c := it.Clone()
	c.Fields["title"] = "y"
	c.SetStorageKey("archival", "k")
	assert.Equal(t, "x", it.Fields["title"])
	assert.Nil(t, it.StorageKeys)
}
