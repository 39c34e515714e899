package handler

import (
	"strconv"

	"kernel-leaderboard/api"
	v1 "kernel-leaderboard/api/v1"
	"kernel-leaderboard/internal/model"
	"kernel-leaderboard/internal/service"
	"kernel-leaderboard/internal/task/dsl"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// EvaluationHandler 评测结果与排行榜查询
type EvaluationHandler struct {
	engine *service.Engine
}

func NewEvaluationHandler(engine *service.Engine) *EvaluationHandler {
	return &EvaluationHandler{engine: engine}
}

// Leaderboard GET /api/v1/leaderboard/:operation/:overload/:dsl/:device
func (h *EvaluationHandler) Leaderboard(c *gin.Context) {
	key := model.LeaderboardKey{
		Operation: c.Param("operation"),
		Overload:  c.Param("overload"),
		DSL:       dsl.Normalize(c.Param("dsl")),
		Device:    c.Param("device"),
	}
	entries, err := h.engine.GetLeaderboard(c.Request.Context(), key)
	if err != nil {
		zap.L().Error("查询排行榜失败", zap.String("key", key.String()), zap.Error(err))
		api.ResponseEngineError(c, err)
		return
	}
	api.ResponseSuccess(c, &v1.LeaderboardResp{Key: key, Entries: entries})
}

// Evaluation GET /api/v1/evaluations/:id
func (h *EvaluationHandler) Evaluation(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	result, err := h.engine.GetEvaluation(c.Request.Context(), jobID)
	if err != nil {
		api.ResponseEngineError(c, err)
		return
	}
	api.ResponseSuccess(c, result)
}

// Cancel POST /api/v1/evaluations/:id/cancel
func (h *EvaluationHandler) Cancel(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}
	if err := h.engine.CancelEvaluation(jobID); err != nil {
		zap.L().Info("取消评测失败", zap.Int64("job_id", jobID), zap.Error(err))
		api.ResponseEngineError(c, err)
		return
	}
	api.ResponseSuccess(c, &v1.CancelResp{JobID: jobID})
}

func parseJobID(c *gin.Context) (int64, bool) {
	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || jobID <= 0 {
		api.ResponseErrorWithMsg(c, api.CodeInvalidParam, "无效的任务ID")
		return 0, false
	}
	return jobID, true
}
