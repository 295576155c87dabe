package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/UtkarshTheDev/HomeMeal-sub000/supabase"
)

// Refresher is the slice of the validator the keep-alive loop needs.
type Refresher interface {
	RefreshSilently(ctx context.Context) *supabase.Session
}

var _ Refresher = (*Validator)(nil)

// KeepAlive periodically refreshes the session in the background so tokens do
// not expire between foreground validations. Refreshes are best effort and
// rate limited so overlapping schedule fires cannot stampede the token
// endpoint.
type KeepAlive struct {
	refresher Refresher
	cron      *cron.Cron
	limiter   *rate.Limiter
	log       logrus.FieldLogger
	timeout   time.Duration
}

// NewKeepAlive schedules background refreshes. The schedule uses cron syntax,
// e.g. "@every 10m".
func NewKeepAlive(refresher Refresher, schedule string, log logrus.FieldLogger) (*KeepAlive, error) {
	if log == nil {
		logger := logrus.New()
		logger.SetLevel(logrus.WarnLevel)
		log = logger
	}

	ka := &KeepAlive{
		refresher: refresher,
		cron:      cron.New(),
		limiter:   rate.NewLimiter(rate.Every(time.Minute), 1),
		log:       log,
		timeout:   2 * time.Minute,
	}

	if _, err := ka.cron.AddFunc(schedule, ka.tick); err != nil {
		return nil, fmt.Errorf("invalid keep-alive schedule %q: %w", schedule, err)
	}
	return ka, nil
}

func (k *KeepAlive) tick() {
	if !k.limiter.Allow() {
		k.log.Debug("keep-alive tick skipped by rate limiter")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	if sess := k.refresher.RefreshSilently(ctx); sess != nil {
		k.log.WithField("expires_at", sess.ExpiresAt).Debug("keep-alive refresh succeeded")
	}
}

// Start begins the schedule.
func (k *KeepAlive) Start() {
	k.cron.Start()
}

// Stop halts the schedule and waits for a running tick to finish.
func (k *KeepAlive) Stop() {
	<-k.cron.Stop().Done()
}
