package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Game struct {
	Id            uint64          `gorm:"primaryKey" json:"-"`
	Address       string          `gorm:"uniqueIndex;size:42;not null" json:"address"`
	TokenAddress  string          `gorm:"size:42;not null" json:"tokenAddress"`
	Initiator     string          `gorm:"size:42;not null" json:"initiator"`
	EndTime       time.Time       `json:"endTime"`
	PrizeAmount   decimal.Decimal `gorm:"type:numeric;not null" json:"prizeAmount"`
	LastPlayer    string          `gorm:"size:42" json:"lastPlayer"`
	Ended         bool            `gorm:"not null;default:false" json:"ended"`
	Claimed       bool            `gorm:"not null;default:false" json:"claimed"`
	CreatedTxHash string          `gorm:"size:66" json:"createdTxHash"`
	TimeCreated   time.Time       `json:"timeCreated"`
	TimeUpdated   time.Time       `json:"timeUpdated"`
}

func (Game) TableName() string {
	return "game"
}
