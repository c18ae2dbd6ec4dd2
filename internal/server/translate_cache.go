package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const translationKeyPrefix = "sketchbook:translate:"

// CachedTranslator memoizes translations in Redis. Cache failures are logged
// and fall through to the wrapped translator.
type CachedTranslator struct {
	next   Translator
	client *redis.Client
	ttl    time.Duration
}

func NewCachedTranslator(next Translator, client *redis.Client, ttl time.Duration) *CachedTranslator {
	return &CachedTranslator{next: next, client: client, ttl: ttl}
}

func (t *CachedTranslator) Translate(ctx context.Context, text string) (string, error) {
	key := translationKey(text)
	cached, err := t.client.Get(ctx, key).Result()
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		logrus.WithError(err).Warn("translation cache read failed")
	}

	translated, err := t.next.Translate(ctx, text)
	if err != nil {
		return "", err
	}
	if err := t.client.Set(ctx, key, translated, t.ttl).Err(); err != nil {
		logrus.WithError(err).Warn("translation cache write failed")
	}
	return translated, nil
}

func translationKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return translationKeyPrefix + hex.EncodeToString(sum[:])
}
