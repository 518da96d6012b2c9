// Package s3storage stores processed outputs in a MinIO/S3 bucket.
//
// Keys are namespaced by media category. Images are stored under their
// inventory code; every other output carries a content hash suffix:
//
//	images/archival/ABC_0000001_01.jpg
//	images/access/ABC_0000001_01.jpg
//	files/ABC_0000002_01_<hash>.mp4
package s3storage

import (
	"path"
	"strings"
)

// Key categories.
const (
	ArchivalImages = "images/archival/"
	AccessImages   = "images/access/"
	Files          = "files/"
)

// Categories lists every key category.
var Categories = []string{ArchivalImages, AccessImages, Files}

// Key builds the object key for an output of code. hash may be empty; ext
// includes the dot.
func Key(category, code, hash, ext string) string {
	name := code
	if hash != "" {
		name += "_" + hash
	}
	return category + name + strings.ToLower(ext)
}

// FileName returns the last element of key.
func FileName(key string) string {
	return path.Base(key)
}
