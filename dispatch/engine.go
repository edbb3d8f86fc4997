// Package dispatch turns a candidate member list into a deduplicated,
// presence-filtered, batched sequence of mention sends against one
// conversation.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/transport"
)

const (
	DefaultBatchSize  = 20
	DefaultBatchDelay = 400 * time.Millisecond
)

// Sender is the slice of the session the engine needs.
type Sender interface {
	FetchRoster(ctx context.Context, conversationID string) (transport.Roster, error)
	Send(ctx context.Context, conversationID string, req transport.SendRequest) error
}

type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	Logger     *slog.Logger

	// Sleep is the inter-batch pacing suspension; replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine performs strictly sequential batch sends with fixed pacing between
// batches. Sequential delivery is the backpressure policy that keeps the bot
// under platform throughput limits; it is not incidental.
type Engine struct {
	batchSize int
	delay     time.Duration
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// Result summarizes one dispatch invocation.
type Result struct {
	Batches       int
	Mentioned     int
	NobodyPresent bool
}

func NewEngine(opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = DefaultBatchDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Engine{
		batchSize: opts.BatchSize,
		delay:     opts.BatchDelay,
		logger:    opts.Logger,
		sleep:     opts.Sleep,
	}
}

// Dispatch fetches the live roster, intersects candidates against it
// (excluding selfAddress by canonical digits), and sends the survivors in
// order as batches of mention messages. The quoted reference is attached to
// the first batch only so the thread gets a single anchor. A failed batch
// send aborts the remaining batches and surfaces the error.
func (e *Engine) Dispatch(ctx context.Context, sender Sender, conversationID, selfAddress string, candidates []string, quote *transport.MessageRef) (Result, error) {
	invocationID := "disp_" + uuid.NewString()

	roster, err := sender.FetchRoster(ctx, conversationID)
	if err != nil {
		return Result{}, fmt.Errorf("fetch roster for %s: %w", conversationID, err)
	}

	members := presentMembers(roster, selfAddress, candidates)
	if len(members) == 0 {
		e.logger.Info("dispatch_nobody_present",
			"invocation", invocationID,
			"conversation", conversationID,
			"candidates", len(candidates))
		return Result{NobodyPresent: true}, nil
	}

	batches := chunk(members, e.batchSize)
	e.logger.Info("dispatch_start",
		"invocation", invocationID,
		"conversation", conversationID,
		"members", len(members),
		"batches", len(batches))

	sent := 0
	for i, batch := range batches {
		req := transport.SendRequest{
			Text:     mentionText(batch),
			Mentions: batch,
		}
		if i == 0 {
			req.Quote = quote
		}
		if err := sender.Send(ctx, conversationID, req); err != nil {
			e.logger.Error("dispatch_batch_failed",
				"invocation", invocationID,
				"batch", i,
				"error", err.Error())
			return Result{Batches: i, Mentioned: sent}, fmt.Errorf("send batch %d/%d: %w", i+1, len(batches), err)
		}
		sent += len(batch)
		if i < len(batches)-1 {
			if err := e.sleep(ctx, e.delay); err != nil {
				return Result{Batches: i + 1, Mentioned: sent}, err
			}
		}
	}

	e.logger.Info("dispatch_done", "invocation", invocationID, "batches", len(batches), "mentioned", len(members))
	return Result{Batches: len(batches), Mentioned: len(members)}, nil
}

// presentMembers intersects candidates with the roster in candidate order:
// each candidate's canonical digits are looked up in a presence map keyed by
// every digit form the roster knows for a participant (aliased groups carry
// distinct digits per form), all mapping to the roster's preferred mention
// address. The bot's identity and duplicates are dropped.
func presentMembers(roster transport.Roster, selfAddress string, candidates []string) []string {
	selfDigits := identity.Normalize(selfAddress)

	present := make(map[string]string)  // digits (any form) -> mention address
	dedupKey := make(map[string]string) // digits (any form) -> phone-preferred participant key
	for _, p := range roster.Participants {
		if identity.SameIdentity(p.PhoneAddress, selfAddress) || identity.SameIdentity(p.Address, selfAddress) {
			continue
		}
		key := identity.Normalize(p.PhoneAddress)
		if key == "" {
			key = identity.Normalize(p.Address)
		}
		for _, form := range []string{p.PhoneAddress, p.Address} {
			digits := identity.Normalize(form)
			if digits == "" || digits == selfDigits {
				continue
			}
			if _, exists := present[digits]; !exists {
				present[digits] = p.Address
				dedupKey[digits] = key
			}
		}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, candidate := range candidates {
		digits := identity.Normalize(candidate)
		mapped, ok := present[digits]
		if !ok {
			continue
		}
		if _, dup := seen[dedupKey[digits]]; dup {
			continue
		}
		seen[dedupKey[digits]] = struct{}{}
		out = append(out, mapped)
	}
	return out
}

func mentionText(batch []string) string {
	tokens := make([]string, len(batch))
	for i, member := range batch {
		tokens[i] = identity.MentionToken(member)
	}
	return strings.Join(tokens, " ")
}

func chunk(members []string, size int) [][]string {
	var out [][]string
	for len(members) > size {
		out = append(out, members[:size])
		members = members[size:]
	}
	if len(members) > 0 {
		out = append(out, members)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
