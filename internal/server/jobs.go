package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"sketchbook/internal/config"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Render is the outcome of one title going through translation and image
// generation.
type Render struct {
	Prompt string `json:"prompt"`
	URL    string `json:"url"`
}

// Pipeline turns a topic title into an image. Start never blocks; the
// returned Future resolves exactly once.
type Pipeline interface {
	Start(ctx context.Context, title string) *Future
}

type Future struct {
	done   chan struct{}
	result Render
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result Render, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the render finishes or ctx ends, whichever comes first.
func (f *Future) Wait(ctx context.Context) (Render, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Render{}, ctx.Err()
	}
}

// LocalPipeline runs translation and generation in process with bounded
// retries and an overall timeout per title.
type LocalPipeline struct {
	translator Translator
	generator  ImageGenerator
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
}

func NewLocalPipeline(translator Translator, generator ImageGenerator, timeout time.Duration, retries int, retryDelay time.Duration) *LocalPipeline {
	if translator == nil {
		translator = IdentityTranslator{}
	}
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &LocalPipeline{
		translator: translator,
		generator:  generator,
		timeout:    timeout,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

func (p *LocalPipeline) Start(ctx context.Context, title string) *Future {
	f := newFuture()
	go func() {
		f.resolve(p.Run(ctx, title))
	}()
	return f
}

// Run translates and renders title synchronously. A failed translation falls
// back to the original title; a failed generation is returned as an error.
func (p *LocalPipeline) Run(ctx context.Context, title string) (Render, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	prompt, err := retry(ctx, p, func() (string, error) {
		return p.translator.Translate(ctx, title)
	})
	if err != nil {
		if ctx.Err() != nil {
			return Render{}, ctx.Err()
		}
		logrus.WithError(err).WithField("title", title).Warn("translation failed, using original title")
		prompt = title
	}
	prompt = strings.TrimSpace(prompt)

	url, err := retry(ctx, p, func() (string, error) {
		return p.generator.GenerateImage(ctx, prompt)
	})
	if err != nil {
		return Render{Prompt: prompt}, err
	}
	return Render{Prompt: prompt, URL: url}, nil
}

func retry(ctx context.Context, p *LocalPipeline, op func() (string, error)) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.retryDelay
	policy.MaxInterval = 10 * p.retryDelay
	return backoff.Retry(ctx, func() (string, error) {
		out, err := op()
		if err != nil && errors.Is(err, ErrRejectedPrompt) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(p.retries+1)))
}

// NewLocalPipelineFromConfig wires the OpenAI clients when a key is
// configured and the placeholder generator otherwise. Translations are cached
// in Redis when REDIS_ADDR is set.
func NewLocalPipelineFromConfig(cfg config.Config) (*LocalPipeline, func()) {
	var translator Translator = IdentityTranslator{}
	var generator ImageGenerator = PlaceholderGenerator{}
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		translator = NewOpenAITranslator(cfg)
		generator = NewOpenAIImageGenerator(cfg)
	} else {
		logrus.Warn("OPENAI_API_KEY not set, using placeholder images")
	}
	cleanup := func() {}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		translator = NewCachedTranslator(translator, client, cfg.TranslationCacheTTL)
		cleanup = func() { _ = client.Close() }
	}
	pipeline := NewLocalPipeline(translator, generator, cfg.GenerationTimeout, cfg.GenerationRetries, cfg.GenerationRetryDelay)
	return pipeline, cleanup
}

// NewPipeline selects the inline pipeline or the asynq-backed queue
// according to JOB_QUEUE.
func NewPipeline(cfg config.Config) (Pipeline, func(), error) {
	if cfg.JobQueue == config.JobQueueAsynq {
		queue := NewQueuePipeline(cfg)
		return queue, func() { _ = queue.Close() }, nil
	}
	pipeline, cleanup := NewLocalPipelineFromConfig(cfg)
	return pipeline, cleanup, nil
}
