package game

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/model"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/reject"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/utils"
	"gorm.io/gorm"
)

type gameService struct {
	games *Repository
}

func (gs *gameService) getGame(ctx context.Context, address string) (*model.Game, *reject.ProblemWithTrace) {
	normalized, problem := normalizeAddress(address)
	if problem != nil {
		return nil, problem
	}

	game, err := gs.games.GetGame(ctx, normalized)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &reject.ProblemWithTrace{Problem: reject.NotFoundProblem(), Cause: err}
	}
	if err != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.DatabaseProblem(err), Cause: err}
	}
	return game, nil
}

func (gs *gameService) getComments(ctx context.Context, address string, page utils.PageRequest) (*utils.PageResponse[model.Comment], *reject.ProblemWithTrace) {
	normalized, problem := normalizeAddress(address)
	if problem != nil {
		return nil, problem
	}

	comments, total, err := gs.games.ListComments(ctx, normalized, page.Size, page.Offset)
	if err != nil {
		return nil, &reject.ProblemWithTrace{Problem: reject.DatabaseProblem(err), Cause: err}
	}

	return utils.NewPageResponse[model.Comment]().
		WithItems(comments).
		WithItemCount(total).
		WithNextPage(page, total).
		Build(), nil
}

func normalizeAddress(address string) (string, *reject.ProblemWithTrace) {
	if !common.IsHexAddress(address) {
		return "", &reject.ProblemWithTrace{
			Problem: reject.RequestParamsProblem(),
			Cause:   errors.New("invalid game address"),
		}
	}
	return common.HexToAddress(address).Hex(), nil
}
