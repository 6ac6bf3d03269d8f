package model

type OperationKind string

const (
	KindGameCreated  OperationKind = "GAME_CREATED"
	KindCommentAdded OperationKind = "COMMENT_ADDED"
	KindPrizeFunded  OperationKind = "PRIZE_FUNDED"
	KindPrizeClaimed OperationKind = "PRIZE_CLAIMED"
)

func (k OperationKind) Known() bool {
	switch k {
	case KindGameCreated, KindCommentAdded, KindPrizeFunded, KindPrizeClaimed:
		return true
	}
	return false
}
