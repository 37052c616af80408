package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

// ErrChainExhausted is returned when no backend produced text for a page.
var ErrChainExhausted = errors.New("all ocr backends failed")

// Observer receives one call per backend attempt. metrics.Metrics
// implements it.
type Observer interface {
	ObserveOCRAttempt(backend, outcome string, d time.Duration)
}

// Chain tries backends in order until one returns non-blank text.
type Chain struct {
	backends    []Backend
	callTimeout time.Duration
	observer    Observer
}

func NewChain(callTimeout time.Duration, backends ...Backend) *Chain {
	return &Chain{backends: backends, callTimeout: callTimeout}
}

// WithObserver sets the attempt observer and returns the chain.
func (c *Chain) WithObserver(o Observer) *Chain {
	c.observer = o
	return c
}

func (c *Chain) Names() []string {
	if c == nil {
		return []string{}
	}
	out := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, b.Name())
	}
	return out
}

// Available reports whether any backend in the chain is ready. The
// accessors are safe on a nil chain.
func (c *Chain) Available() bool {
	if c == nil {
		return false
	}
	for _, b := range c.backends {
		if b.IsAvailable() {
			return true
		}
	}
	return false
}

func (c *Chain) Availability() map[string]bool {
	if c == nil {
		return map[string]bool{}
	}
	out := make(map[string]bool, len(c.backends))
	for _, b := range c.backends {
		out[b.Name()] = b.IsAvailable()
	}
	return out
}

func (c *Chain) Info() []types.BackendInfo {
	if c == nil {
		return []types.BackendInfo{}
	}
	out := make([]types.BackendInfo, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, types.BackendInfo{Name: b.Name(), Available: b.IsAvailable()})
	}
	return out
}

// Extract runs the chain for one page. The returned page errors describe
// every failed attempt, including those preceding a success. When every
// backend fails the error wraps ErrChainExhausted. A cancelled parent
// context stops the chain early.
func (c *Chain) Extract(ctx context.Context, src Source, page int) (Result, []types.PageError, error) {
	var pageErrs []types.PageError
	attempted := 0

	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return Result{}, pageErrs, fmt.Errorf("%w: %v", ErrChainExhausted, err)
		}
		if !b.IsAvailable() {
			log.Debug().Str("backend", b.Name()).Int("page", page).Msg("ocr backend unavailable, skipping")
			continue
		}
		attempted++

		res, err := c.attempt(ctx, b, src, page)
		if err == nil {
			return res, pageErrs, nil
		}

		kind := KindOf(err)
		pageErrs = append(pageErrs, types.PageError{
			PageNumber: page,
			Backend:    b.Name(),
			Kind:       kind,
			Error:      err.Error(),
		})

		ev := log.Warn()
		if kind == "fatal" {
			ev = log.Error()
		}
		logAttempt(ev, b.Name(), page, err).Msg("ocr backend failed, trying next")
	}

	if attempted == 0 {
		pageErrs = append(pageErrs, types.PageError{
			PageNumber: page,
			Kind:       "unavailable",
			Error:      "no ocr backend available",
		})
	}
	return Result{}, pageErrs, fmt.Errorf("%w for page %d", ErrChainExhausted, page)
}

func (c *Chain) attempt(ctx context.Context, b Backend, src Source, page int) (Result, error) {
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := b.ExtractText(callCtx, src, page)
	if err == nil && strings.TrimSpace(res.Text) == "" {
		err = transient(b.Name(), errors.New("empty result"))
	}
	if err != nil && callCtx.Err() != nil && !errors.Is(err, ErrBackendTransient) {
		err = transient(b.Name(), fmt.Errorf("call timed out: %w", err))
	}

	outcome := "success"
	if err != nil {
		outcome = KindOf(err)
	}
	if c.observer != nil {
		c.observer.ObserveOCRAttempt(b.Name(), outcome, time.Since(start))
	}
	if err != nil {
		return Result{}, err
	}
	if res.Method == "" {
		res.Method = b.Name()
	}
	return res, nil
}

func logAttempt(ev *zerolog.Event, backend string, page int, err error) *zerolog.Event {
	return ev.Err(err).Str("backend", backend).Int("page", page)
}
