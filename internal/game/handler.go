package game

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/utils"
)

type gameHandler struct {
	gameService gameService
}

func RegisterRoutes(rg *gin.RouterGroup, games *Repository) {
	handler := gameHandler{
		gameService: gameService{games: games},
	}

	routes := rg.Group("/games")
	routes.GET("/:address", handler.getGame)
	routes.GET("/:address/comments", handler.getComments)
}

func (gh *gameHandler) getGame(c *gin.Context) {
	game, err := gh.gameService.getGame(c.Request.Context(), c.Param("address"))
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, game)
}

func (gh *gameHandler) getComments(c *gin.Context) {
	page, err := utils.NewPageRequest(c)
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	comments, err := gh.gameService.getComments(c.Request.Context(), c.Param("address"), page)
	if err != nil {
		c.JSON(err.Problem.Status, err.Problem)
		return
	}

	c.JSON(http.StatusOK, comments)
}
