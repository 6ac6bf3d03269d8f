package utils

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/reject"
)

const (
	pageSizeInvalid  string = "error.request.page-size-invalid"
	pageTokenInvalid string = "error.request.page-token-invalid"

	DefaultPageSize = 20
	MaxPageSize     = 100
)

type PageRequest struct {
	Size   int
	Token  int
	Offset int
}

// NewPageRequest reads page_size and page_token. Both are optional; the size
// is capped at MaxPageSize.
func NewPageRequest(c *gin.Context) (PageRequest, *reject.ProblemWithTrace) {
	pageSize, err := queryInt(c, "page_size", DefaultPageSize)
	if err != nil || pageSize <= 0 {
		return PageRequest{}, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Page size must be a positive number").
				WithStatus(http.StatusBadRequest).
				WithCode(pageSizeInvalid).
				Build(),
			Cause: errors.Join(errors.New("invalid page_size"), err),
		}
	}

	pageToken, err := queryInt(c, "page_token", 0)
	if err != nil || pageToken < 0 {
		return PageRequest{}, &reject.ProblemWithTrace{
			Problem: reject.NewProblem().
				WithTitle("Page token must be a non-negative number").
				WithStatus(http.StatusBadRequest).
				WithCode(pageTokenInvalid).
				Build(),
			Cause: errors.Join(errors.New("invalid page_token"), err),
		}
	}

	pageSize = min(pageSize, MaxPageSize)

	return PageRequest{
		Size:   pageSize,
		Token:  pageToken,
		Offset: pageSize * pageToken,
	}, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
