package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/srinidhi621/knowledge-atlas/models"
)

const (
	journalEventStart   = "start"
	journalEventAttempt = "attempt"
	journalEventFinish  = "finish"
)

// StreamJournal appends attempts to a per-run Redis stream.
type StreamJournal struct {
	client redis.Cmdable
	prefix string
	maxLen int64
	ttl    time.Duration
}

// StreamJournalOption configures a StreamJournal.
type StreamJournalOption func(*StreamJournal)

// WithStreamPrefix overrides the key prefix ("atlas:trace").
func WithStreamPrefix(prefix string) StreamJournalOption {
	return func(j *StreamJournal) {
		if prefix != "" {
			j.prefix = prefix
		}
	}
}

// WithStreamMaxLen caps each stream at approximately maxLen entries.
func WithStreamMaxLen(maxLen int64) StreamJournalOption {
	return func(j *StreamJournal) {
		if maxLen > 0 {
			j.maxLen = maxLen
		}
	}
}

// WithStreamTTL expires a run's stream ttl after it finishes.
func WithStreamTTL(ttl time.Duration) StreamJournalOption {
	return func(j *StreamJournal) {
		j.ttl = ttl
	}
}

// NewStreamJournal creates a journal writing to client.
func NewStreamJournal(client redis.Cmdable, opts ...StreamJournalOption) *StreamJournal {
	j := &StreamJournal{client: client, prefix: "atlas:trace", maxLen: 1000, ttl: 24 * time.Hour}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// StreamKey returns the stream holding a run's journal.
func (j *StreamJournal) StreamKey(runID string) string {
	return fmt.Sprintf("%s:%s:observations", j.prefix, runID)
}

func (j *StreamJournal) StartRun(ctx context.Context, runID string, plan models.Plan) error {
	return j.append(ctx, runID, journalEventStart, plan)
}

func (j *StreamJournal) RecordAttempt(ctx context.Context, runID string, obs models.Observation) error {
	return j.append(ctx, runID, journalEventAttempt, obs)
}

func (j *StreamJournal) FinishRun(ctx context.Context, runID string, outcome Outcome) error {
	if err := j.append(ctx, runID, journalEventFinish, map[string]string{"outcome": string(outcome)}); err != nil {
		return err
	}
	if j.ttl > 0 {
		if err := j.client.Expire(ctx, j.StreamKey(runID), j.ttl).Err(); err != nil {
			return fmt.Errorf("expire journal: %w", err)
		}
	}
	return nil
}

func (j *StreamJournal) append(ctx context.Context, runID, event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s entry: %w", event, err)
	}
	args := &redis.XAddArgs{
		Stream: j.StreamKey(runID),
		Values: map[string]interface{}{"event": event, "payload": raw},
	}
	if j.maxLen > 0 {
		args.MaxLen = j.maxLen
		args.Approx = true
	}
	if err := j.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}

// JournalReplay is what a journal holds for one run.
type JournalReplay struct {
	Plan         models.Plan
	Observations []models.Observation
	// Outcome is empty when the run never finished.
	Outcome Outcome
}

// Finished reports whether the run reached a terminal outcome.
func (r JournalReplay) Finished() bool { return r.Outcome != "" }

// Replay reads a run's journal back in append order. It returns (nil, nil) when the
// stream does not exist.
func (j *StreamJournal) Replay(ctx context.Context, runID string) (*JournalReplay, error) {
	msgs, err := j.client.XRange(ctx, j.StreamKey(runID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	out := &JournalReplay{}
	for _, msg := range msgs {
		event, _ := msg.Values["event"].(string)
		raw, ok := msg.Values["payload"].(string)
		if !ok {
			return nil, fmt.Errorf("journal entry %s has no payload", msg.ID)
		}
		switch event {
		case journalEventStart:
			if err := json.Unmarshal([]byte(raw), &out.Plan); err != nil {
				return nil, fmt.Errorf("decode plan entry %s: %w", msg.ID, err)
			}
		case journalEventAttempt:
			var obs models.Observation
			if err := json.Unmarshal([]byte(raw), &obs); err != nil {
				return nil, fmt.Errorf("decode attempt entry %s: %w", msg.ID, err)
			}
			out.Observations = append(out.Observations, obs)
		case journalEventFinish:
			var fin map[string]string
			if err := json.Unmarshal([]byte(raw), &fin); err != nil {
				return nil, fmt.Errorf("decode finish entry %s: %w", msg.ID, err)
			}
			out.Outcome = Outcome(fin["outcome"])
		}
	}
	return out, nil
}

var _ StepJournal = (*StreamJournal)(nil)
