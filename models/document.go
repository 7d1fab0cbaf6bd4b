package models

import "time"

type Document struct {
	ID          string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	UserID      string    `bson:"user_id" json:"user_id" gorm:"size:36;not null;uniqueIndex:unique_user_document,priority:1;index:idx_document_user_created,priority:1"`
	Filename    string    `bson:"filename" json:"filename" gorm:"size:255;not null"`
	ContentHash string    `bson:"content_hash" json:"content_hash" gorm:"size:64;not null;uniqueIndex:unique_user_document,priority:2;index:idx_document_hash"`
	ChunkCount  int       `bson:"chunk_count" json:"chunk_count"`
	FileSize    int64     `bson:"file_size" json:"file_size" gorm:"not null"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at" gorm:"index:idx_document_user_created,priority:2"`
}

// DocumentInfo is the listing view.
type DocumentInfo struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	ChunkCount int       `json:"chunk_count"`
	FileSize   int64     `json:"file_size"`
	CreatedAt  time.Time `json:"created_at"`
}

func (d *Document) Info() DocumentInfo {
	return DocumentInfo{
		ID:         d.ID,
		Filename:   d.Filename,
		ChunkCount: d.ChunkCount,
		FileSize:   d.FileSize,
		CreatedAt:  d.CreatedAt,
	}
}
