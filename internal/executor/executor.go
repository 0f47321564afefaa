// Package executor runs the export behind a due schedule: it fetches the
// report data, renders it and emails it to the schedule's recipients.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/models"
	"github.com/RandaGharbi/Dar-Darkom-sub004/internal/tracing"
	"github.com/RandaGharbi/Dar-Darkom-sub004/pkg/clock"
)

// Executor produces one DueJobResult per attempt. Implementations enforce
// their own timeouts and never return without a result.
type Executor interface {
	Execute(ctx context.Context, sched *models.Schedule) models.DueJobResult
}

// Func adapts a function to the Executor interface.
type Func func(ctx context.Context, sched *models.Schedule) models.DueJobResult

// Execute calls f.
func (f Func) Execute(ctx context.Context, sched *models.Schedule) models.DueJobResult {
	return f(ctx, sched)
}

// DefaultTimeout bounds one report execution when none is configured.
const DefaultTimeout = 5 * time.Minute

// ReportExecutor fetches, renders and emails a schedule's report.
type ReportExecutor struct {
	source    DataSource
	renderers map[models.Format]Renderer
	mailer    Mailer
	civil     *clock.CivilClock
	clock     clock.Clock
	timeout   time.Duration
	logger    zerolog.Logger
}

// NewReportExecutor creates a report executor. A non-positive timeout uses
// DefaultTimeout.
func NewReportExecutor(source DataSource, mailer Mailer, civil *clock.CivilClock, clk clock.Clock, timeout time.Duration, logger zerolog.Logger) *ReportExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ReportExecutor{
		source:    source,
		renderers: Renderers(),
		mailer:    mailer,
		civil:     civil,
		clock:     clk,
		timeout:   timeout,
		logger:    logger.With().Str("component", "executor").Logger(),
	}
}

// Execute runs one export. ExecutedAt is the start of the attempt.
func (e *ReportExecutor) Execute(ctx context.Context, sched *models.Schedule) models.DueJobResult {
	executedAt := e.clock.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.run(ctx, sched, executedAt); err != nil {
		e.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("Export failed")
		return models.Failed(executedAt, err)
	}
	return models.Succeeded(executedAt)
}

func (e *ReportExecutor) run(ctx context.Context, sched *models.Schedule, executedAt time.Time) error {
	renderer, ok := e.renderers[sched.Format]
	if !ok {
		return fmt.Errorf("unsupported format %q", sched.Format)
	}

	fetchCtx, span := tracing.StartExecutorSpan(ctx, "fetch")
	rep, err := e.source.Fetch(fetchCtx, sched.ReportType)
	if err != nil {
		tracing.RecordError(span, err)
		span.End()
		return fmt.Errorf("fetch %s report: %w", sched.ReportType, err)
	}
	span.End()

	_, span = tracing.StartExecutorSpan(ctx, "render")
	var buf bytes.Buffer
	if err := renderer.Render(&buf, rep, sched.IncludeHeaders); err != nil {
		tracing.RecordError(span, err)
		span.End()
		return fmt.Errorf("render %s: %w", sched.Format, err)
	}
	span.End()

	day := e.civil.ToCivil(executedAt)
	date := fmt.Sprintf("%04d-%02d-%02d", day.Year, int(day.Month), day.Day)

	msg := Message{
		To:      sched.Recipients,
		Subject: fmt.Sprintf("Scheduled export: %s (%s)", sched.Name, date),
		Body: fmt.Sprintf("Please find attached the %s export generated on %s.\n\nSchedule: %s\n",
			sched.ReportType, day, sched.Name),
		Attachment: Attachment{
			Filename:    fmt.Sprintf("%s-%s.%s", sched.ReportType, date, renderer.Extension()),
			ContentType: renderer.ContentType(),
			Data:        buf.Bytes(),
		},
	}

	sendCtx, span := tracing.StartExecutorSpan(ctx, "send")
	defer span.End()
	if err := e.mailer.Send(sendCtx, msg); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	e.logger.Info().
		Str("schedule_id", sched.ID).
		Int("recipients", len(sched.Recipients)).
		Str("attachment", msg.Attachment.Filename).
		Int("bytes", buf.Len()).
		Msg("Export sent")
	return nil
}
