package models

import "time"

type QueryLog struct {
	ID             string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	UserID         string    `bson:"user_id" json:"user_id" gorm:"size:36;not null;index:idx_query_user_date,priority:1"`
	Question       string    `bson:"question" json:"question" gorm:"type:text;not null"`
	Answer         string    `bson:"answer" json:"answer" gorm:"type:text;not null"`
	ResponseTimeMS int64     `bson:"response_time_ms" json:"response_time_ms"`
	ChunksUsed     int       `bson:"chunks_used" json:"chunks_used"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at" gorm:"index:idx_query_created_at;index:idx_query_user_date,priority:2"`
}

type QueryLogInfo struct {
	ID             string    `json:"id"`
	Question       string    `json:"question"`
	Answer         string    `json:"answer"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	ChunksUsed     int       `json:"chunks_used"`
	CreatedAt      time.Time `json:"created_at"`
}

func (q *QueryLog) Info() QueryLogInfo {
	return QueryLogInfo{
		ID:             q.ID,
		Question:       q.Question,
		Answer:         q.Answer,
		ResponseTimeMS: q.ResponseTimeMS,
		ChunksUsed:     q.ChunksUsed,
		CreatedAt:      q.CreatedAt,
	}
}
