package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quoteflow/contentpolicy"
	"quoteflow/metrics"
)

var (
	// ErrSuspended refuses any mutating action by a suspended account.
	ErrSuspended = errors.New("compliance: account suspended")
	// ErrPolicyViolation is matched by every *ViolationError.
	ErrPolicyViolation = errors.New("compliance: content policy violation")
)

// Tracker is the subset of Ledger the gate needs.
type Tracker interface {
	Status(ctx context.Context, userID string) (Standing, error)
	RecordViolation(ctx context.Context, vc ViolationContext) (Outcome, error)
}

// Field is one named piece of free text submitted with an action.
type Field struct {
	Name string
	Text string
}

// Check describes a mutating action about to be committed.
type Check struct {
	ActorID  string
	Location string
	Fields   []Field
}

// ViolationError is returned when submitted text was refused. The action
// stays refused whether or not the violation could be recorded.
type ViolationError struct {
	Location string
	Fields   []string
	Result   contentpolicy.Result
	// Outcome is nil when recording the violation failed.
	Outcome *Outcome
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("compliance: %s refused: contains %s", e.Location, contentpolicy.Summary(e.Result.Categories()))
}

func (e *ViolationError) Unwrap() error {
	return ErrPolicyViolation
}

// Message is the explanation shown to the submitting user.
func (e *ViolationError) Message() string {
	return e.Result.Message()
}

func (e *ViolationError) Categories() []contentpolicy.Category {
	return e.Result.Categories()
}

// Gate is consulted before every mutating negotiation or discussion action:
// suspension first, then a scan of every free-text field.
type Gate struct {
	tracker       Tracker
	scanner       contentpolicy.TextScanner
	logger        zerolog.Logger
	recordTimeout time.Duration
}

func NewGate(tracker Tracker, scanner contentpolicy.TextScanner) *Gate {
	if scanner == nil {
		scanner = contentpolicy.NewDetector()
	}
	return &Gate{
		tracker:       tracker,
		scanner:       scanner,
		logger:        zerolog.Nop(),
		recordTimeout: 5 * time.Second,
	}
}

func (g *Gate) WithLogger(l zerolog.Logger) *Gate {
	g.logger = l
	return g
}

// Authorize refuses suspended accounts. A failed lookup also refuses.
func (g *Gate) Authorize(ctx context.Context, actorID, location string) error {
	if actorID == "" {
		return fmt.Errorf("compliance: missing actor id")
	}
	st, err := g.tracker.Status(ctx, actorID)
	if err != nil {
		return fmt.Errorf("compliance: check status: %w", err)
	}
	if st.Suspended {
		metrics.BlockedActions.WithLabelValues(location, "suspended").Inc()
		return ErrSuspended
	}
	return nil
}

// Scan checks fields without touching the ledger.
func (g *Gate) Scan(fields ...Field) (contentpolicy.Result, []string) {
	var (
		results []contentpolicy.Result
		dirty   []string
	)
	for _, f := range fields {
		res := g.scanner.Scan(f.Text)
		if res.Matched {
			dirty = append(dirty, f.Name)
			results = append(results, res)
		}
	}
	return contentpolicy.Merge(results...), dirty
}

// Screen authorizes the actor and scans every field. On a match the action is
// refused immediately; the violation is then recorded best-effort and any
// recording failure is logged, never returned.
func (g *Gate) Screen(ctx context.Context, c Check) error {
	if err := g.Authorize(ctx, c.ActorID, c.Location); err != nil {
		return err
	}

	res, dirty := g.Scan(c.Fields...)
	if !res.Matched {
		return nil
	}

	verr := &ViolationError{Location: c.Location, Fields: dirty, Result: res}
	metrics.BlockedActions.WithLabelValues(c.Location, "policy").Inc()
	for _, cat := range res.Categories() {
		metrics.PolicyFindings.WithLabelValues(string(cat)).Inc()
	}

	// The refusal above is final; recording must not depend on the caller's
	// request surviving.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.recordTimeout)
	defer cancel()
	out, err := g.tracker.RecordViolation(rctx, ViolationContext{
		UserID:     c.ActorID,
		Location:   c.Location,
		Categories: res.Categories(),
		Text:       offendingText(c.Fields, dirty),
	})
	if err != nil {
		metrics.ViolationLogFailures.Inc()
		g.logger.Warn().Err(err).
			Str("user_id", c.ActorID).
			Str("location", c.Location).
			Msg("violation blocked but not recorded")
		return verr
	}
	verr.Outcome = &out
	return verr
}

func offendingText(fields []Field, dirty []string) string {
	parts := make([]string, 0, len(dirty))
	for _, f := range fields {
		for _, name := range dirty {
			if f.Name == name {
				parts = append(parts, f.Text)
				break
			}
		}
	}
	return strings.Join(parts, " | ")
}
