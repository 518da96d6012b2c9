package s3storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "images/archival/ABC_0000001_01.jpg", Key(ArchivalImages, "ABC_0000001_01", "", ".JPG"))
	assert.Equal(t, "files/ABC_0000002_01_deadbeef.mp4", Key(Files, "ABC_0000002_01", "deadbeef", ".mp4"))
	assert.Equal(t, "files/ABC_0000003_deadbeef.pdf", Key(Files, "ABC_0000003", "deadbeef", ".pdf"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "ABC_0000002_01_deadbeef.mp4", FileName("files/ABC_0000002_01_deadbeef.mp4"))
	assert.Equal(t, "x", FileName("x"))
}
