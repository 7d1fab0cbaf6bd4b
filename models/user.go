package models

import (
	"time"
)

// DateLayout is the format of User.LastQueryDate. Dates compare correctly
// as strings in this layout, which the daily quota reset relies on.
const DateLayout = "2006-01-02"

type User struct {
	ID              string    `bson:"_id" json:"id" gorm:"primaryKey;size:36"`
	Email           string    `bson:"email,omitempty" json:"email,omitempty" gorm:"size:255;index:idx_user_email"`
	IsActive        bool      `bson:"is_active" json:"is_active" gorm:"index:idx_user_active;default:true"`
	DocumentCount   int       `bson:"document_count" json:"document_count"`
	QueryCountToday int       `bson:"query_count_today" json:"query_count_today"`
	LastQueryDate   string    `bson:"last_query_date,omitempty" json:"last_query_date,omitempty" gorm:"size:10"`
	LastActiveAt    time.Time `bson:"last_active_at,omitempty" json:"last_active_at,omitempty"`
	CreatedAt       time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at" json:"updated_at"`
}

// UserInfo is the public view returned by the API.
type UserInfo struct {
	ID              string    `json:"id"`
	Email           string    `json:"email,omitempty"`
	DocumentCount   int       `json:"document_count"`
	QueryCountToday int       `json:"query_count_today"`
	MemberSince     time.Time `json:"member_since"`
}

func (u *User) Info() UserInfo {
	return UserInfo{
		ID:              u.ID,
		Email:           u.Email,
		DocumentCount:   u.DocumentCount,
		QueryCountToday: u.QueryCountToday,
		MemberSince:     u.CreatedAt,
	}
}

// QueriesToday is the counter value as of day, which is zero once the
// stored date has rolled over.
func (u *User) QueriesToday(day string) int {
	if u.LastQueryDate != day {
		return 0
	}
	return u.QueryCountToday
}
