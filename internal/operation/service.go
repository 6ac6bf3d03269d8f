package operation

import (
	"context"
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/ledger"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/reject"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	alreadyRegistered string = "error.operation.already-registered"
)

type RegisterRequest struct {
	Reference   string              `json:"reference"`
	GameAddress string              `json:"gameAddress"`
	Kind        model.OperationKind `json:"kind"`
}

type RegisterResult struct {
	Created   bool                   `json:"created"`
	Reference string                 `json:"reference"`
	Status    model.OperationStatus  `json:"status"`
	Operation model.PendingOperation `json:"operation"`
}

type Service struct {
	operations *Repository
}

func NewService(operations *Repository) *Service {
	return &Service{operations: operations}
}

// Register starts tracking the ledger outcome of reference. Registering the
// same reference again returns the stored record.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (RegisterResult, *reject.ProblemWithTrace) {
	if details := validate(req); len(details) > 0 {
		return RegisterResult{}, &reject.ProblemWithTrace{Problem: reject.RequestValidationProblem(details...)}
	}

	reference := ledger.NormalizeReference(req.Reference)
	gameAddress := ""
	if req.GameAddress != "" {
		gameAddress = common.HexToAddress(req.GameAddress).Hex()
	}

	op, created, err := s.operations.Upsert(ctx, reference, gameAddress, req.Kind)
	if err != nil {
		return RegisterResult{}, &reject.ProblemWithTrace{Problem: reject.DatabaseProblem(err), Cause: err}
	}

	if !created && (op.GameAddress != gameAddress || op.Kind != req.Kind) {
		return RegisterResult{}, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Operation already registered").
				WithStatus(http.StatusConflict).
				WithCode(alreadyRegistered).
				WithParam("reference", reference).
				Build(),
		}
	}

	if created {
		log.Info().Str("reference", reference).Str("kind", string(req.Kind)).Str("game", gameAddress).Msg("Operation registered")
	}

	return RegisterResult{
		Created:   created,
		Reference: op.Reference,
		Status:    op.Status,
		Operation: op,
	}, nil
}

func (s *Service) Get(ctx context.Context, reference string) (*model.PendingOperation, *reject.ProblemWithTrace) {
	if !ledger.IsReference(reference) {
		return nil, &reject.ProblemWithTrace{Problem: reject.RequestParamsProblem()}
	}

	op, err := s.operations.Get(ctx, ledger.NormalizeReference(reference))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: err}
	}
	if err != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.DatabaseProblem(err), Cause: err}
	}
	return op, nil
}

func validate(req RegisterRequest) []reject.ProblemDetail {
	var details []reject.ProblemDetail

	if !ledger.IsReference(req.Reference) {
		details = append(details, reject.ProblemDetail{Property: "reference", Info: "must be a 0x-prefixed 32 byte hash", Code: "error.validation.reference"})
	}
	if !req.Kind.Known() {
		details = append(details, reject.ProblemDetail{Property: "kind", Info: "unknown operation kind", Code: "error.validation.kind"})
	}

	switch {
	case req.GameAddress != "" && !common.IsHexAddress(req.GameAddress):
		details = append(details, reject.ProblemDetail{Property: "gameAddress", Info: "must be a hex address", Code: "error.validation.address"})
	case req.GameAddress == "" && req.Kind != model.KindGameCreated:
		details = append(details, reject.ProblemDetail{Property: "gameAddress", Info: "required for this operation kind", Code: "error.validation.required"})
	}

	return details
}
