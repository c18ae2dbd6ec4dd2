package server

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// beginRendering closes the submission barrier. It runs under the room lock
// and fires once per round: the phase leaves collecting before it returns.
func (c *Coordinator) beginRendering(st *roomState) {
	st.phase = phaseRendering
	st.submitted = make(map[uint]struct{})
	st.epoch++
	game, round, epoch := st.game, st.round, st.epoch

	c.persistRoom(context.Background(), st, 0)
	c.gateway.Broadcast(st.id, Message{Event: eventLoading, Data: loadingData{Round: round}})

	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.render(ctx, st.id, game, round, epoch)
	}()
}

// render generates an image for every topic of the round, then reveals.
// Failed generations are stored as an empty URL with the failed flag set.
func (c *Coordinator) render(ctx context.Context, roomID uint, game, round, epoch int) {
	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "game": game, "round": round})
	topics, err := readWithRetry(ctx, func() ([]Topic, error) {
		return c.store.ListRoundTopics(ctx, roomID, game, round)
	})
	if err != nil {
		log.WithError(err).Error("list round topics")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.renders)
	for _, topic := range topics {
		g.Go(func() error {
			result, err := c.pipeline.Start(gctx, topic.Title).Wait(gctx)
			failed := err != nil || result.URL == ""
			if failed {
				log.WithError(err).WithField("topic_id", topic.ID).Warn("image generation failed")
				result.URL = ""
			}
			if err := c.store.UpdateTopicImage(ctx, topic.ID, result.URL, failed); err != nil {
				log.WithError(err).WithField("topic_id", topic.ID).Error("store topic image")
			}
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		log.Debug("render cancelled")
		return
	}
	c.reveal(ctx, roomID, game, round, epoch)
}

// reveal hands each seat the image drawn from its neighbour's topic and
// either opens the next round or ends the game. The room always leaves the
// rendering phase: topics that cannot be read are revealed as failed, and a
// seat list that cannot be read ends the game.
func (c *Coordinator) reveal(ctx context.Context, roomID uint, game, round, epoch int) {
	st, err := c.acquire(ctx, roomID)
	if err != nil {
		return
	}
	defer st.mu.Unlock()
	if st.epoch != epoch || st.phase != phaseRendering {
		return
	}
	st.cancel = nil

	log := logrus.WithFields(logrus.Fields{"room_id": roomID, "game": game, "round": round})
	seats, err := readWithRetry(ctx, func() ([]Seat, error) {
		return c.dir.ListLiveSeats(ctx, roomID)
	})
	if err != nil {
		log.WithError(err).Error("list seats for reveal, ending game")
		st.phase = phaseFinished
		c.persistRoom(ctx, st, 0)
		c.gateway.Broadcast(roomID, Message{Event: eventEnd, Data: endData{Round: round, Players: []PlayerView{}}})
		c.record(ctx, roomID, 0, "game_finished", EventPayload{Game: game, Round: round})
		return
	}
	topics, err := readWithRetry(ctx, func() ([]Topic, error) {
		return c.store.ListRoundTopics(ctx, roomID, game, round)
	})
	if err != nil {
		log.WithError(err).Error("list topics for reveal, marking images failed")
	}
	bySeat := make(map[uint]Topic, len(topics))
	for _, topic := range topics {
		bySeat[topic.SeatID] = topic
	}
	st.phase = phaseRevealing

	next := round + 1
	if next > len(seats) {
		st.phase = phaseFinished
		c.persistRoom(ctx, st, 0)
		c.gateway.Broadcast(roomID, Message{Event: eventEnd, Data: endData{Round: round, Players: playerViews(seats)}})
		c.record(ctx, roomID, 0, "game_finished", EventPayload{Game: game, Round: round, Players: len(seats)})
		return
	}

	st.phase = phaseCollecting
	st.round = next
	c.persistRoom(ctx, st, 0)
	for i, seat := range seats {
		source, ok := bySeat[seats[mod(i-1, len(seats))].ID]
		msg := moveNextRoundData{Round: next, Complete: 0, Failed: !ok || source.Failed}
		if ok {
			msg.URL = source.Image()
		}
		c.gateway.Deliver(roomID, seat.ID, Message{Event: eventMoveNextRound, Data: msg})
		st.reveals++
	}
	c.record(ctx, roomID, 0, "round_revealed", EventPayload{Game: game, Round: round, Players: len(seats)})
}

const (
	storageReadTries = 3
	storageReadDelay = 20 * time.Millisecond
)

func readWithRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = storageReadDelay
	policy.MaxInterval = 4 * storageReadDelay
	return backoff.Retry(ctx, op, backoff.WithBackOff(policy), backoff.WithMaxTries(storageReadTries))
}
