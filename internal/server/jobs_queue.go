package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sketchbook/internal/config"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const TypeRenderTopic = "topic:render"

type renderPayload struct {
	Title string `json:"title"`
}

// QueuePipeline hands titles to a worker process through asynq and polls
// the task until it completes or is archived.
type QueuePipeline struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
	timeout   time.Duration
	retries   int
	poll      time.Duration
}

func RedisClientOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func NewQueuePipeline(cfg config.Config) *QueuePipeline {
	opt := RedisClientOpt(cfg)
	poll := cfg.JobPollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &QueuePipeline{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		queue:     cfg.JobQueueName,
		timeout:   cfg.GenerationTimeout,
		retries:   cfg.GenerationRetries,
		poll:      poll,
	}
}

func (p *QueuePipeline) Start(ctx context.Context, title string) *Future {
	f := newFuture()
	go func() {
		f.resolve(p.run(ctx, title))
	}()
	return f
}

func (p *QueuePipeline) run(ctx context.Context, title string) (Render, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	payload, err := json.Marshal(renderPayload{Title: title})
	if err != nil {
		return Render{}, err
	}
	info, err := p.client.EnqueueContext(ctx, asynq.NewTask(TypeRenderTopic, payload),
		asynq.Queue(p.queue),
		asynq.MaxRetry(p.retries),
		asynq.Timeout(p.timeout),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return Render{}, fmt.Errorf("enqueue render: %w", err)
	}
	log := logrus.WithFields(logrus.Fields{"task_id": info.ID, "queue": info.Queue})
	log.Debug("render task enqueued")

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return Render{}, ctx.Err()
		case <-ticker.C:
		}
		task, err := p.inspector.GetTaskInfo(info.Queue, info.ID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) {
				return Render{}, fmt.Errorf("render task %s disappeared", info.ID)
			}
			log.WithError(err).Warn("inspect render task")
			continue
		}
		switch task.State {
		case asynq.TaskStateCompleted:
			var result Render
			if err := json.Unmarshal(task.Result, &result); err != nil {
				return Render{}, fmt.Errorf("decode render result: %w", err)
			}
			return result, nil
		case asynq.TaskStateArchived:
			return Render{}, fmt.Errorf("render task failed: %s", task.LastErr)
		}
	}
}

func (p *QueuePipeline) Close() error {
	if err := p.inspector.Close(); err != nil {
		logrus.WithError(err).Warn("close asynq inspector")
	}
	return p.client.Close()
}

// RenderHandler processes render tasks inside the worker binary.
type RenderHandler struct {
	pipeline *LocalPipeline
}

func NewRenderHandler(pipeline *LocalPipeline) *RenderHandler {
	return &RenderHandler{pipeline: pipeline}
}

func (h *RenderHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	retry, _ := asynq.GetRetryCount(ctx)
	log := logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     retry,
	})

	var payload renderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.WithError(err).Error("failed to unmarshal render payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	result, err := h.pipeline.Run(ctx, payload.Title)
	if err != nil {
		if errors.Is(err, ErrRejectedPrompt) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	if rw := t.ResultWriter(); rw != nil {
		if _, err := rw.Write(data); err != nil {
			return fmt.Errorf("write render result: %w", err)
		}
	}
	log.Info("render task completed")
	return nil
}

func NewWorkerMux(pipeline *LocalPipeline) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRenderTopic, NewRenderHandler(pipeline).ProcessTask)
	return mux
}

// NewWorkerServer builds the asynq server consuming the render queue.
func NewWorkerServer(cfg config.Config) *asynq.Server {
	log := logrus.WithField("component", "worker_server")
	return asynq.NewServer(RedisClientOpt(cfg), asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{cfg.JobQueueName: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retry, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.WithFields(logrus.Fields{
				"task_type": task.Type(),
				"retries":   retry,
				"max_retry": maxRetry,
			}).WithError(err).Error("task failed")
		}),
	})
}
