package controller

import (
	"strings"

	"ojeval/internal/contest"
	"ojeval/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// ContestController serves contest standings.
type ContestController struct {
	contests *contest.Service
}

func NewContestController(contests *contest.Service) *ContestController {
	return &ContestController{contests: contests}
}

// Register mounts the routes on an authenticated group.
func (h *ContestController) Register(group *gin.RouterGroup) {
	group.GET("/contests/:id/leaderboard", h.Leaderboard)
}

// Leaderboard returns ranked standings. With detail=true every participant
// is returned with per-problem results.
func (h *ContestController) Leaderboard(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.BadRequest(c, "Invalid contest id")
		return
	}
	ctx := c.Request.Context()
	if c.Query("detail") == "true" {
		rows, err := h.contests.Standings(ctx, id)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, rows)
		return
	}
	rows, err := h.contests.Leaderboard(ctx, id, contest.ParseLimit(c.Query("limit")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rows)
}
