// Package processor runs one natural-language question through generation,
// validation and execution and folds every failure into an Outcome.
package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/statline/statline/internal/history"
	"github.com/statline/statline/internal/nl2sql"
	"github.com/statline/statline/internal/observability"
	"github.com/statline/statline/internal/prompt"
	"github.com/statline/statline/internal/query"
	"github.com/statline/statline/internal/schema"
	"github.com/statline/statline/internal/sqlguard"
)

type Stage string

const (
	StageGeneration Stage = "generation"
	StageValidation Stage = "validation"
	StageExecution  Stage = "execution"
	stageCompleted  Stage = "completed"
)

const (
	KindInvalidRequest = "invalidRequest"
	KindExtraction     = "extraction"
	KindTimeout        = "timeout"
	KindEngine         = "engine"
	KindCancelled      = "cancelled"
)

const recordTimeout = 5 * time.Second

// Executor runs validated statements. *query.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, stmt sqlguard.Statement) (query.Result, error)
	Timeout() time.Duration
}

type Dependencies struct {
	Registry  *nl2sql.Registry
	Schema    *schema.Descriptor
	Examples  []schema.Example
	Builder   prompt.Builder
	Validator sqlguard.Validator
	Executor  Executor
	// Recorder is optional. Recording failures never change an outcome.
	Recorder history.Recorder
	Logger   *slog.Logger
	Clock    func() time.Time
}

type Request struct {
	Question string
	ModelID  string
	Caller   string
}

type Timing struct {
	Generation time.Duration
	Validation time.Duration
	Execution  time.Duration
	Total      time.Duration
}

type Failure struct {
	Stage   Stage
	Kind    string
	Message string
	// Retryable marks failures the caller may retry unchanged.
	Retryable bool
}

// Outcome is either a result set or a staged failure. Failure is nil on
// success; Result is the zero value on failure.
type Outcome struct {
	ID           string
	Success      bool
	Question     string
	ModelID      string
	GeneratedSQL string
	Result       query.Result
	Timing       Timing
	Failure      *Failure
}

type Stats struct {
	Successful int64 `json:"successful_queries"`
	Failed     int64 `json:"failed_queries"`
}

type Processor struct {
	deps       Dependencies
	successful atomic.Int64
	failed     atomic.Int64
}

func New(deps Dependencies) (*Processor, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if deps.Schema == nil {
		return nil, fmt.Errorf("schema descriptor is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if deps.Validator.Schema == nil {
		deps.Validator.Schema = deps.Schema
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Processor{deps: deps}, nil
}

func (p *Processor) Stats() Stats {
	return Stats{Successful: p.successful.Load(), Failed: p.failed.Load()}
}

// Providers lists every registered backend, available or not.
func (p *Processor) Providers() []nl2sql.Descriptor {
	return p.deps.Registry.List()
}

// Process never returns an error: every failure becomes Outcome.Failure.
func (p *Processor) Process(ctx context.Context, req Request) Outcome {
	defer observability.TrackInFlight()()

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	started := p.deps.Clock()
	out := Outcome{
		ID:       id.String(),
		Question: strings.TrimSpace(req.Question),
		ModelID:  strings.TrimSpace(req.ModelID),
	}
	if out.ModelID == "" {
		out.ModelID = p.deps.Registry.Default()
	}
	ctx = observability.ContextWithQueryID(ctx, out.ID)

	p.run(ctx, &out)

	out.Timing.Total = p.deps.Clock().Sub(started)
	p.finish(ctx, req.Caller, &out)
	return out
}

func (p *Processor) run(ctx context.Context, out *Outcome) {
	if out.Question == "" {
		out.fail(StageGeneration, KindInvalidRequest, "A question is required.", false)
		return
	}

	// Generating
	provider, err := p.deps.Registry.Lookup(out.ModelID)
	if err != nil {
		out.failGeneration(err, out.ModelID)
		return
	}
	out.ModelID = provider.Describe().ID
	request := p.deps.Builder.Build(out.ModelID, out.Question, p.deps.Schema, p.deps.Examples)

	stageStart := p.deps.Clock()
	generated, err := provider.Generate(ctx, request)
	out.Timing.Generation = p.deps.Clock().Sub(stageStart)
	observability.ObserveStageDuration(string(StageGeneration), out.Timing.Generation)
	if err != nil {
		out.failGeneration(err, out.ModelID)
		return
	}

	// Validating
	stageStart = p.deps.Clock()
	stmt, err := p.validate(generated.RawText, out)
	out.Timing.Validation = p.deps.Clock().Sub(stageStart)
	observability.ObserveStageDuration(string(StageValidation), out.Timing.Validation)
	if err != nil {
		return
	}

	// Executing
	stageStart = p.deps.Clock()
	result, err := p.deps.Executor.Execute(ctx, stmt)
	out.Timing.Execution = p.deps.Clock().Sub(stageStart)
	observability.ObserveStageDuration(string(StageExecution), out.Timing.Execution)
	if err != nil {
		p.failExecution(err, out)
		return
	}

	out.Success = true
	out.Result = result
	observability.ObserveRowsReturned(result.RowCount, result.Truncated)
}

func (p *Processor) validate(raw string, out *Outcome) (sqlguard.Statement, error) {
	extracted, err := sqlguard.Extract(raw)
	if err != nil {
		out.fail(StageValidation, KindExtraction, "No SQL statement could be found in the model response.", false)
		return sqlguard.Statement{}, err
	}
	out.GeneratedSQL = extracted

	stmt, err := p.deps.Validator.Validate(extracted)
	if err != nil {
		var verr *sqlguard.ValidationError
		if errors.As(err, &verr) {
			out.fail(StageValidation, string(verr.Reason), verr.Error(), false)
		} else {
			out.fail(StageValidation, string(sqlguard.ReasonUnsafeStatement), "The generated SQL could not be validated.", false)
		}
		return sqlguard.Statement{}, err
	}
	out.GeneratedSQL = stmt.SQL()
	return stmt, nil
}

func (o *Outcome) failGeneration(err error, modelID string) {
	var gerr *nl2sql.GenerationError
	if !errors.As(err, &gerr) {
		o.fail(StageGeneration, string(nl2sql.KindTransient), generationMessage(nl2sql.KindTransient, modelID), true)
		return
	}
	o.fail(StageGeneration, string(gerr.Kind), generationMessage(gerr.Kind, modelID), gerr.Retryable())
}

func generationMessage(kind nl2sql.ErrorKind, modelID string) string {
	switch kind {
	case nl2sql.KindAuth:
		return "The language model rejected our credentials."
	case nl2sql.KindMalformed:
		return "The language model returned an unusable response."
	case nl2sql.KindUnavailable:
		return fmt.Sprintf("Model %s is not available.", modelID)
	default:
		return "The language model is temporarily unavailable, please try again."
	}
}

func (p *Processor) failExecution(err error, out *Outcome) {
	var eerr *query.ExecutionError
	switch {
	case errors.Is(err, query.ErrExecutionTimeout):
		out.fail(StageExecution, KindTimeout, fmt.Sprintf("The query took longer than %s and was cancelled.", p.deps.Executor.Timeout()), true)
	case errors.As(err, &eerr):
		out.fail(StageExecution, KindEngine, eerr.EngineMessage, false)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		out.fail(StageExecution, KindCancelled, "The query was cancelled.", true)
	default:
		out.fail(StageExecution, KindEngine, "The query could not be executed.", false)
	}
}

func (o *Outcome) fail(stage Stage, kind, message string, retryable bool) {
	o.Success = false
	o.Result = query.Result{}
	o.Failure = &Failure{Stage: stage, Kind: kind, Message: message, Retryable: retryable}
}

// unknownModel labels outcomes for model ids the registry does not hold, so
// callers cannot grow the metric with arbitrary ids.
const unknownModel = "unknown"

func (p *Processor) modelLabel(id string) string {
	for _, descriptor := range p.deps.Registry.List() {
		if descriptor.ID == id {
			return id
		}
	}
	return unknownModel
}

func (p *Processor) finish(ctx context.Context, caller string, out *Outcome) {
	stage, kind := string(stageCompleted), ""
	if out.Failure != nil {
		stage, kind = string(out.Failure.Stage), out.Failure.Kind
		p.failed.Add(1)
	} else {
		p.successful.Add(1)
	}
	observability.ObserveQueryOutcome(p.modelLabel(out.ModelID), stage, kind)

	attrs := []any{
		slog.String("model", out.ModelID),
		slog.String("stage", stage),
		slog.Duration("total", out.Timing.Total),
	}
	if out.Failure != nil {
		attrs = append(attrs, slog.String("kind", kind))
		p.deps.Logger.WarnContext(ctx, "query failed", attrs...)
	} else {
		attrs = append(attrs, slog.Int("rows", out.Result.RowCount))
		p.deps.Logger.InfoContext(ctx, "query completed", attrs...)
	}

	if p.deps.Recorder == nil {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := p.deps.Recorder.Record(recordCtx, entryFor(caller, out, p.deps.Clock())); err != nil {
		p.deps.Logger.WarnContext(ctx, "record query history failed", slog.Any("error", err))
	}
}

func entryFor(caller string, out *Outcome, now time.Time) history.Entry {
	entry := history.Entry{
		ID:           out.ID,
		Caller:       caller,
		Question:     out.Question,
		ModelID:      out.ModelID,
		GeneratedSQL: out.GeneratedSQL,
		Success:      out.Success,
		RowCount:     out.Result.RowCount,
		GenerationMS: out.Timing.Generation.Milliseconds(),
		ExecutionMS:  out.Timing.Execution.Milliseconds(),
		TotalMS:      out.Timing.Total.Milliseconds(),
		CreatedAt:    now.UTC(),
	}
	if out.Failure != nil {
		entry.Stage = string(out.Failure.Stage)
		entry.Kind = out.Failure.Kind
		entry.Message = out.Failure.Message
	}
	return entry
}
