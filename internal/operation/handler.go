package operation

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/lastcall-backend/internal/pkg/reject"
)

type operationHandler struct {
	service *Service
}

func RegisterRoutes(rg *gin.RouterGroup, service *Service) {
	handler := operationHandler{service: service}

	routes := rg.Group("/operations")
	routes.POST("", handler.register)
	routes.GET("/:reference", handler.get)
}

func (h *operationHandler) register(c *gin.Context) {
	body := RegisterRequest{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, reject.BodyParseProblem())
		return
	}

	result, problem := h.service.Register(c.Request.Context(), body)
	if problem != nil {
		c.JSON(problem.Problem.Status, problem.Problem)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

func (h *operationHandler) get(c *gin.Context) {
	op, problem := h.service.Get(c.Request.Context(), c.Param("reference"))
	if problem != nil {
		c.JSON(problem.Problem.Status, problem.Problem)
		return
	}
	c.JSON(http.StatusOK, op)
}
