package worker

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"MailBlast/internal/csvparser"
	"MailBlast/internal/email"
	"MailBlast/internal/models"
)

// Options configures the supervisor and the runners it spawns.
type Options struct {
	// SendDelay is the minimum pacing delay between a job's sends.
	SendDelay time.Duration

	// HourlyLimit caps sends per hour across all jobs. 0 disables it.
	HourlyLimit int

	// DialTimeout bounds transport session establishment per job.
	DialTimeout time.Duration
}

// Request is one bulk-send submission: recipients, template, message
// metadata and relay credentials. Upload handling happened upstream; the
// supervisor only sees byte streams.
type Request struct {
	Subject     string
	SenderEmail string

	CSVFilename string
	CSV         io.Reader

	TemplateFilename string
	TemplateSource   string

	SMTP email.Config
}

// Supervisor owns every live runner: it creates job records, spawns one
// runner goroutine per job, and can enumerate what is in flight.
type Supervisor struct {
	ctx   context.Context
	store Store
	log   *zap.Logger
	opts  Options

	// shared across runners when an hourly cap is configured
	global *rate.Limiter

	mu      sync.Mutex
	runners map[uuid.UUID]*Runner
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor whose runners live until ctx is
// cancelled or their job reaches a terminal status.
func NewSupervisor(ctx context.Context, store Store, logger *zap.Logger, opts Options) *Supervisor {
	var global *rate.Limiter
	if opts.HourlyLimit > 0 {
		global = rate.NewLimiter(rate.Every(time.Hour/time.Duration(opts.HourlyLimit)), 1)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}

	return &Supervisor{
		ctx:     ctx,
		store:   store,
		log:     logger,
		opts:    opts,
		global:  global,
		runners: make(map[uuid.UUID]*Runner),
	}
}

// Submit validates the recipient header, records the job as pending and
// starts its runner asynchronously. A header missing the required columns
// fails here, before any job record exists.
func (s *Supervisor) Submit(ctx context.Context, req Request) (uuid.UUID, error) {
	resolver, err := csvparser.NewResolver(req.CSV)
	if err != nil {
		return uuid.Nil, err
	}

	job := &models.Job{
		ID:               uuid.New(),
		Subject:          req.Subject,
		CSVFilename:      req.CSVFilename,
		TemplateFilename: req.TemplateFilename,
		Status:           models.Pending(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, err
	}

	smtpCfg := req.SMTP
	smtpCfg.DialTimeout = s.opts.DialTimeout
	dialer := email.NewDialer(smtpCfg)

	runner := &Runner{
		jobID:    job.ID,
		subject:  req.Subject,
		from:     req.SenderEmail,
		store:    s.store,
		source:   resolver,
		tmplName: req.TemplateFilename,
		tmplSrc:  req.TemplateSource,
		dial: func(ctx context.Context) (Session, error) {
			return dialer.Dial(ctx)
		},
		limiter: rate.NewLimiter(rate.Every(s.opts.SendDelay), 1),
		global:  s.global,
		log:     s.log,
	}

	s.mu.Lock()
	s.runners[job.ID] = runner
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(job.ID)
		runner.Run(s.ctx)
	}()

	s.log.Info("job submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("subject", req.Subject),
	)
	return job.ID, nil
}

func (s *Supervisor) remove(id uuid.UUID) {
	s.mu.Lock()
	delete(s.runners, id)
	s.mu.Unlock()
}

// Active returns the ids of jobs with a live runner.
func (s *Supervisor) Active() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(s.runners))
	for id := range s.runners {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every live runner has finished. Used on shutdown after
// the supervisor's context is cancelled.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
