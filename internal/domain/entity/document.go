package entity

import "time"

// Document 上传的文档/归档 blob, 入库后不可变
type Document struct {
	ID             string
	Workspace      string
	FileName       string
	ContentType    string
	CompressedBlob []byte
	OriginalSize   int64
	CreatedAt      time.Time
	Metadata       map[string]any
}
