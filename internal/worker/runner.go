package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"MailBlast/internal/email"
	"MailBlast/internal/metrics"
	"MailBlast/internal/models"
	"MailBlast/internal/render"
)

// Store is the slice of the job state store a runner mutates. The runner
// never caches job state outside it: every update is visible to concurrent
// readers as soon as the call returns.
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	Transition(ctx context.Context, id uuid.UUID, status models.Status) error
	SetTotal(ctx context.Context, id uuid.UUID, total int) error
	IncrementSent(ctx context.Context, id uuid.UUID) error
	IncrementFailed(ctx context.Context, entry models.FailureEntry) error
}

// RecipientSource streams validated recipients in file order. Single pass.
type RecipientSource interface {
	Next() (models.Recipient, error)
}

// Session is one authenticated relay connection, reused for every send in
// a job.
type Session interface {
	Send(msg models.Message) error
	Close() error
}

// Runner drives one job from Running to a terminal status. One runner per
// job; runners never share a transport session.
type Runner struct {
	jobID   uuid.UUID
	subject string
	from    string

	store    Store
	source   RecipientSource
	tmplName string
	tmplSrc  string
	dial     func(ctx context.Context) (Session, error)

	limiter *rate.Limiter // per-runner pacing
	global  *rate.Limiter // shared hourly cap, nil when disabled
	log     *zap.Logger
}

func (r *Runner) Run(ctx context.Context) {
	log := r.log.With(zap.String("job_id", r.jobID.String()))

	metrics.ActiveRunners.Inc()
	defer metrics.ActiveRunners.Dec()

	if err := r.store.Transition(ctx, r.jobID, models.Running()); err != nil {
		log.Error("failed to transition job to running", zap.Error(err))
		return
	}

	// Drain the resolver before any send: total_count must be known up
	// front, and send order is file order.
	var recipients []models.Recipient
	for {
		rc, err := r.source.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error("recipient resolution failed", zap.Error(err))
			r.finish(ctx, log, models.Errored(models.ReasonResolutionFailed))
			return
		}
		recipients = append(recipients, rc)
	}

	// Readers rely on total_count being present once the job proceeds; a
	// job must not reach a loop terminal status with it still unset.
	if err := r.store.SetTotal(ctx, r.jobID, len(recipients)); err != nil {
		log.Error("failed to set total count", zap.Error(err))
		r.finish(ctx, log, models.Errored(models.ReasonResolutionFailed))
		return
	}
	log.Info("recipients resolved", zap.Int("total", len(recipients)))

	if len(recipients) == 0 {
		r.finish(ctx, log, models.Errored(models.ReasonNoValidRecipients))
		return
	}

	tmpl, err := render.Compile(r.tmplName, r.tmplSrc)
	if err != nil {
		log.Error("template compilation failed", zap.Error(err))
		r.finish(ctx, log, models.Errored(models.ReasonTemplateInvalid))
		return
	}

	// One authenticated session per job. A failure here means nothing has
	// been attempted, so the job carries no failure entries.
	session, err := r.dial(ctx)
	if err != nil {
		log.Error("transport session establishment failed", zap.Error(err))
		r.finish(ctx, log, models.Errored(models.ReasonConnectFailed))
		return
	}
	defer func() { _ = session.Close() }()

	sent, failed := 0, 0
	for i, rc := range recipients {
		if err := r.pace(ctx); err != nil {
			log.Warn("job cancelled between sends",
				zap.Int("sent", sent),
				zap.Int("failed", failed),
			)
			r.finish(ctx, log, models.Errored(models.ReasonCancelled))
			return
		}

		body, err := tmpl.Render(rc)
		if err != nil {
			r.recordFailure(ctx, log, rc.Email, err)
			failed++
			continue
		}

		err = session.Send(models.Message{
			From:     r.from,
			To:       rc.Email,
			Subject:  r.subject,
			HTMLBody: body,
		})
		if err == nil {
			if dbErr := r.store.IncrementSent(ctx, r.jobID); dbErr != nil {
				log.Error("failed to update sent count", zap.Error(dbErr))
			}
			metrics.EmailsSent.Inc()
			sent++
			continue
		}

		r.recordFailure(ctx, log, rc.Email, err)
		failed++

		if email.IsConnectionError(err) {
			// The session is gone. No reconnection: every remaining
			// recipient is recorded failed with a transport reason so
			// the counters still account for the whole recipient set.
			log.Error("transport session dropped mid-job",
				zap.String("to", rc.Email),
				zap.Int("unattempted", len(recipients)-sent-failed),
				zap.Error(err),
			)
			for _, rest := range recipients[i+1:] {
				r.recordFailure(ctx, log, rest.Email,
					fmt.Errorf("not attempted, transport session dropped: %w", err))
				failed++
			}
			r.finish(ctx, log, models.Errored(models.ReasonTransportAborted))
			return
		}
	}

	switch {
	case failed == 0:
		r.finish(ctx, log, models.Completed())
	case sent > 0:
		r.finish(ctx, log, models.PartialFailure())
	default:
		r.finish(ctx, log, models.Failed())
	}
}

// pace enforces the minimum delay between sends, plus the shared hourly cap
// when one is configured. Each runner paces independently; only the issuing
// runner blocks here.
func (r *Runner) pace(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	if r.global != nil {
		return r.global.Wait(ctx)
	}
	return nil
}

func (r *Runner) recordFailure(ctx context.Context, log *zap.Logger, recipient string, cause error) {
	log.Warn("send failed",
		zap.String("to", recipient),
		zap.Error(cause),
	)

	entry := models.FailureEntry{
		JobID:          r.jobID,
		RecipientEmail: recipient,
		ErrorMessage:   cause.Error(),
	}
	if err := r.store.IncrementFailed(ctx, entry); err != nil {
		log.Error("failed to record failure entry", zap.Error(err))
	}
	metrics.EmailFailures.Inc()
}

// finish transitions the job to a terminal status. The write uses a
// detached context so a cancelled run still persists its outcome.
func (r *Runner) finish(ctx context.Context, log *zap.Logger, status models.Status) {
	if err := r.store.Transition(context.WithoutCancel(ctx), r.jobID, status); err != nil {
		log.Error("failed to finalize job status",
			zap.String("status", status.String()),
			zap.Error(err),
		)
		return
	}
	metrics.JobsFinished.WithLabelValues(status.String()).Inc()
	log.Info("job finished", zap.String("status", status.String()))
}
