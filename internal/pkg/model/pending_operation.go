package model

import (
	"time"
)

type PendingOperation struct {
	Id          uint64          `gorm:"primaryKey" json:"-"`
	Reference   string          `gorm:"uniqueIndex;size:66;not null" json:"reference"`
	GameAddress string          `gorm:"size:42" json:"gameAddress"`
	Kind        OperationKind   `gorm:"size:32;not null" json:"kind"`
	Status      OperationStatus `gorm:"index;size:16;not null" json:"status"`
	RetryCount  int             `gorm:"not null;default:0" json:"retryCount"`
	LastError   *string         `json:"lastError,omitempty"`
	TimeCreated time.Time       `json:"timeCreated"`
	TimeUpdated time.Time       `json:"timeUpdated"`
}

func (PendingOperation) TableName() string {
	return "pending_operation"
}
