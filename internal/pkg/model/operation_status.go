package model

type OperationStatus string

const (
	OperationPending   OperationStatus = "PENDING"
	OperationConfirmed OperationStatus = "CONFIRMED"
	OperationFailed    OperationStatus = "FAILED"
)

func (s OperationStatus) Terminal() bool {
	return s == OperationConfirmed || s == OperationFailed
}
