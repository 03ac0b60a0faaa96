package jobs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"reservoir/pkg/apperror"
	"reservoir/pkg/audit"
	"reservoir/pkg/backend"
	"reservoir/pkg/domain"
	"reservoir/pkg/events"
	"reservoir/pkg/telemetry"
)

// work исполняет одну задачу: проверка, запуск, разбор. Всегда доводит
// задачу до терминального состояния.
func (o *Orchestrator) work(ctx context.Context, j *job) {
	defer o.wg.Done()
	defer o.complete(j)

	name := j.backend.Name()
	ctx, span := telemetry.StartSpan(ctx, "Orchestrator.run",
		telemetry.WithAttributes(telemetry.JobAttributes(j.id, name)...),
		telemetry.WithAttributes(telemetry.GridAttributes(
			j.req.Grid.NX, j.req.Grid.NY, j.req.Grid.NZ, len(j.req.Wells), len(j.req.ReportTimes))...),
	)

	o.tracker.Start(name)
	defer o.tracker.End(name)

	o.log(j).Info("job started")
	o.publish(ctx, j, events.TypeStarted)
	o.record(ctx, audit.NewEntry(audit.ActionRun).Job(j.id, name))

	res, err := o.execute(ctx, j)
	switch {
	case err != nil:
		if j.isCancelled() {
			err = apperror.Wrap(err, apperror.CodeCancelled, "job cancelled")
		}
		j.finish(domain.StatusFailed, nil, err)
	case res.Status != domain.StatusCompleted:
		msg := strings.Join(res.Metadata.Warnings, "; ")
		if msg == "" {
			msg = fmt.Sprintf("%s reported status %s", name, res.Status)
		}
		err = apperror.New(apperror.CodeDataUnavailable, msg)
		j.finish(domain.StatusFailed, res, err)
	default:
		j.finish(domain.StatusCompleted, res, nil)
		if o.cache != nil {
			if cerr := o.cache.Set(ctx, j.req, name, res, o.cacheTTL); cerr != nil {
				o.log(j).Warn("failed to cache result", "error", cerr)
			}
		}
	}
	telemetry.EndSpan(span, err)
}

// execute вызывает бэкенд. Паника бэкенда превращается в ошибку задачи.
func (o *Orchestrator) execute(ctx context.Context, j *job) (res *domain.UnifiedResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = apperror.Newf(apperror.CodeInternal, "backend %s panicked: %v", j.backend.Name(), p)
		}
	}()

	if problems := j.backend.Validate(j.req); len(problems) > 0 {
		return nil, apperror.New(apperror.CodeValidationFailed,
			"validation failed: "+strings.Join(problems, "; ")).
			WithDetails("problems", problems)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if o.workDir != "" {
		if err := os.MkdirAll(o.workDir, 0o755); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "failed to create work dir root")
		}
	}
	dir, err := os.MkdirTemp(o.workDir, "job-"+j.id[:8]+"-")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInfrastructure, "failed to create work dir")
	}
	defer o.removeWorkDir(j, dir)

	progress := backend.ProgressFunc(j.setProgress)
	raw, err := j.backend.Run(ctx, j.req, dir, progress)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, apperror.Newf(apperror.CodeDataUnavailable, "%s returned no output", j.backend.Name())
	}

	res = j.backend.ParseResult(raw, j.req)
	if res == nil {
		return nil, apperror.Newf(apperror.CodeDataUnavailable, "%s produced no result", j.backend.Name())
	}
	progress.Report(backend.ProgressParsed, "results parsed")
	return res, nil
}

// complete общие действия после терминального состояния: метрики, архив,
// события, аудит, освобождение места
func (o *Orchestrator) complete(j *job) {
	defer o.table.release()

	st := j.snapshot()
	if !st.Terminal() {
		// сюда попадаем только при панике вне execute
		j.finish(domain.StatusFailed, nil, apperror.New(apperror.CodeInternal, "job aborted"))
		st = j.snapshot()
	}

	o.metrics.RecordFinished(st.Backend, string(st.State), st.Duration())

	logArgs := []any{"state", st.State, "duration", st.Duration(), "cached", st.Cached}
	if st.State == domain.StatusFailed {
		o.log(j).Warn("job failed", append(logArgs, "error", st.Error)...)
	} else {
		o.log(j).Info("job completed", logArgs...)
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	if o.archive != nil {
		if err := o.archive.Save(ctx, newRecord(j)); err != nil {
			o.log(j).Error("failed to archive job", "error", err)
		}
	}

	entry := audit.NewEntry(audit.ActionComplete).Job(j.id, st.Backend).Duration(st.Duration())
	evType := events.TypeCompleted
	if st.State == domain.StatusFailed {
		evType = events.TypeFailed
		action := audit.ActionFail
		if st.ErrorCode == string(apperror.CodeCancelled) {
			action = audit.ActionCancel
		}
		entry = audit.NewEntry(action).Job(j.id, st.Backend).Duration(st.Duration()).
			Error(st.ErrorCode, st.Error)
	}
	if st.Cached {
		entry.Meta("cached", true)
	}
	o.record(ctx, entry)
	o.publish(ctx, j, evType)
}
