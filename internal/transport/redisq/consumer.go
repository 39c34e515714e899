// Package redisq 通过 Redis 列表接收提交与取消请求，并把评测结果写入 Redis Stream。
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	v1 "kernel-leaderboard/api/v1"
	"kernel-leaderboard/internal/conf"
	"kernel-leaderboard/internal/constants"
	"kernel-leaderboard/internal/model"
	judgeErr "kernel-leaderboard/pkg/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Evaluator 评测引擎中接入层用到的部分
type Evaluator interface {
	EnqueueEvaluation(req *model.SubmissionRequest) (int64, error)
	AwaitEvaluation(ctx context.Context, jobID int64) (*model.EvaluationResult, error)
	CancelEvaluation(jobID int64) error
}

// Consumer Redis 接入层
type Consumer struct {
	client *redis.Client
	cfg    conf.RedisQueueConfig
	eval   Evaluator
	now    func() time.Time
	newID  func() string

	// publish 写入结果流，测试时可替换
	publish func(ctx context.Context, values map[string]interface{}) error

	pending sync.WaitGroup // 等待结果的协程
}

// NewConsumer 创建接入层
func NewConsumer(client *redis.Client, cfg conf.RedisQueueConfig, eval Evaluator) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = constants.DefaultIntakeWorkers
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = constants.DefaultPopTimeout
	}
	c := &Consumer{
		client: client,
		cfg:    cfg,
		eval:   eval,
		now:    time.Now,
		newID:  uuid.NewString,
	}
	c.publish = c.xadd
	return c
}

// Run 启动消费协程，阻塞直到 ctx 取消且所有结果都已发布
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.consume(ctx, c.cfg.SubmissionKey, c.handleSubmission)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.consume(ctx, c.cfg.CancelKey, c.handleCancel)
	}()

	zap.L().Info("Redis 接入层已启动",
		zap.String("submission_key", c.cfg.SubmissionKey),
		zap.String("cancel_key", c.cfg.CancelKey),
		zap.String("result_stream", c.cfg.ResultStream),
		zap.Int("workers", c.cfg.Workers),
	)
	wg.Wait()
	c.pending.Wait()
	zap.L().Info("Redis 接入层已停止")
}

func (c *Consumer) consume(ctx context.Context, key string, handle func(ctx context.Context, payload string)) {
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := c.client.BRPop(ctx, c.cfg.PopTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Error("读取 Redis 队列失败", zap.String("key", key), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP 返回 [key, value]
		if len(res) == 2 {
			handle(ctx, res[1])
		}
	}
}

// handleSubmission 入队并在后台等待结果
func (c *Consumer) handleSubmission(ctx context.Context, payload string) {
	var msg v1.SubmissionMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		zap.L().Warn("无法解析提交消息", zap.Error(err))
		c.emit(ctx, &v1.ResultEvent{
			Type:      v1.EventRejected,
			ErrorCode: int(judgeErr.ErrCodeInvalidParam),
			Error:     "无法解析提交消息: " + err.Error(),
		})
		return
	}

	req := msg.ToSubmission(c.now(), c.newID)
	jobID, err := c.eval.EnqueueEvaluation(req)
	if err != nil {
		c.emit(ctx, &v1.ResultEvent{
			Type:         v1.EventRejected,
			SubmissionID: req.ID,
			Key:          req.Key().String(),
			Submitter:    req.Submitter,
			ErrorCode:    int(judgeErr.GetErrorCode(err)),
			Error:        err.Error(),
		})
		return
	}
	c.emit(ctx, &v1.ResultEvent{
		Type:         v1.EventAccepted,
		JobID:        jobID,
		SubmissionID: req.ID,
		Key:          req.Key().String(),
		Submitter:    req.Submitter,
		Outcome:      model.StateQueued,
	})

	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		// 停止接收新消息后仍要发布已入队任务的结果，引擎关闭时会让它们结束
		awaitCtx := context.WithoutCancel(ctx)
		result, err := c.eval.AwaitEvaluation(awaitCtx, jobID)
		if err != nil {
			zap.L().Error("等待评测结果失败", zap.Int64("job_id", jobID), zap.Error(err))
			return
		}
		c.emit(awaitCtx, v1.NewResultEvent(result))
	}()
}

func (c *Consumer) handleCancel(ctx context.Context, payload string) {
	var msg v1.CancelMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		zap.L().Warn("无法解析取消消息", zap.Error(err))
		return
	}
	event := &v1.ResultEvent{Type: v1.EventCancel, JobID: msg.JobID}
	if err := c.eval.CancelEvaluation(msg.JobID); err != nil {
		event.ErrorCode = int(judgeErr.GetErrorCode(err))
		event.Error = err.Error()
	}
	c.emit(ctx, event)
}

func (c *Consumer) emit(ctx context.Context, event *v1.ResultEvent) {
	if err := c.publish(context.WithoutCancel(ctx), event.Values()); err != nil {
		zap.L().Error("写入结果流失败",
			zap.String("type", event.Type),
			zap.Int64("job_id", event.JobID),
			zap.Error(err),
		)
	}
}

func (c *Consumer) xadd(ctx context.Context, values map[string]interface{}) error {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.ResultStream,
		MaxLen: constants.DefaultResultStreamMaxLen,
		Approx: true,
		Values: values,
	}).Err()
}
