package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const factoryAbi = `[
	{"type":"event","name":"GameCreated","anonymous":false,"inputs":[
		{"name":"game","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"initiator","type":"address","indexed":true},
		{"name":"endTime","type":"uint256","indexed":false},
		{"name":"prizeAmount","type":"uint256","indexed":false}
	]}
]`

const hubAbi = `[
	{"type":"event","name":"CommentAdded","anonymous":false,"inputs":[
		{"name":"game","type":"address","indexed":true},
		{"name":"author","type":"address","indexed":true},
		{"name":"message","type":"string","indexed":false},
		{"name":"endTime","type":"uint256","indexed":false},
		{"name":"prizeDelta","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"PrizeFunded","anonymous":false,"inputs":[
		{"name":"game","type":"address","indexed":true},
		{"name":"funder","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"prizePool","type":"uint256","indexed":false}
	]},
	{"type":"event","name":"PrizeClaimed","anonymous":false,"inputs":[
		{"name":"game","type":"address","indexed":true},
		{"name":"winner","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}
	]}
]`

const (
	EventGameCreated  = "GameCreated"
	EventCommentAdded = "CommentAdded"
	EventPrizeFunded  = "PrizeFunded"
	EventPrizeClaimed = "PrizeClaimed"
)

// LogRef identifies the ledger log an event was decoded from.
type LogRef struct {
	TxHash      common.Hash
	LogIndex    uint
	BlockNumber uint64
}

type GameCreated struct {
	LogRef
	Game        common.Address
	Token       common.Address
	Initiator   common.Address
	EndTime     time.Time
	PrizeAmount decimal.Decimal
}

type CommentAdded struct {
	LogRef
	Game       common.Address
	Author     common.Address
	Message    string
	EndTime    time.Time
	PrizeDelta decimal.Decimal
}

type PrizeFunded struct {
	LogRef
	Game      common.Address
	Funder    common.Address
	Amount    decimal.Decimal
	PrizePool decimal.Decimal
}

type PrizeClaimed struct {
	LogRef
	Game   common.Address
	Winner common.Address
	Amount decimal.Decimal
}

// raw shapes mirror the ABI argument names so abi.ParseTopics and
// UnpackIntoInterface can fill them

type rawGameCreated struct {
	Game        common.Address
	Token       common.Address
	Initiator   common.Address
	EndTime     *big.Int
	PrizeAmount *big.Int
}

type rawCommentAdded struct {
	Game       common.Address
	Author     common.Address
	Message    string
	EndTime    *big.Int
	PrizeDelta *big.Int
}

type rawPrizeFunded struct {
	Game      common.Address
	Funder    common.Address
	Amount    *big.Int
	PrizePool *big.Int
}

type rawPrizeClaimed struct {
	Game   common.Address
	Winner common.Address
	Amount *big.Int
}
