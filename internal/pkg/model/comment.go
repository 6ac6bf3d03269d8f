package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Comment is an immutable snapshot of one participation event. Only Likes
// changes after insert.
type Comment struct {
	Id              uint64          `gorm:"primaryKey" json:"id"`
	GameAddress     string          `gorm:"index;size:42;not null" json:"gameAddress"`
	Author          string          `gorm:"size:42;not null" json:"author"`
	Message         string          `gorm:"not null" json:"message"`
	Likes           uint64          `gorm:"not null;default:0" json:"likes"`
	EndTimeSnapshot time.Time       `json:"endTimeSnapshot"`
	PrizeSnapshot   decimal.Decimal `gorm:"type:numeric;not null" json:"prizeSnapshot"`
	TxHash          string          `gorm:"uniqueIndex:idx_comment_log;size:66;not null" json:"txHash"`
	LogIndex        uint            `gorm:"uniqueIndex:idx_comment_log;not null" json:"logIndex"`
	TimeCreated     time.Time       `json:"timeCreated"`
}

func (Comment) TableName() string {
	return "comment"
}
