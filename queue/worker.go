package queue

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/utils"
)

// jobSource is the part of MailQueue the worker consumes.
type jobSource interface {
	Dequeue(ctx context.Context) (*Job, error)
	Retry(ctx context.Context, job *Job) (bool, error)
}

// Worker drains the mail queue until its context ends.
type Worker struct {
	source    jobSource
	deliverer *Deliverer
	backoff   time.Duration
}

func NewWorker(q *MailQueue, deliverer *Deliverer) *Worker {
	return &Worker{source: q, deliverer: deliverer, backoff: RetryBackoff}
}

// Run processes jobs one at a time. A failing job is retried through the
// queue and never stops the loop.
func (w *Worker) Run(ctx context.Context) {
	utils.InfoLogger.Info("mail worker started")
	for {
		select {
		case <-ctx.Done():
			utils.InfoLogger.Info("mail worker stopping")
			return
		default:
		}

		job, err := w.source.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			utils.ErrorLogger.Errorf("mail dequeue: %v", err)
			w.pause(ctx)
			continue
		}
		if job == nil {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	err := w.deliverer.Deliver(ctx, job.NotificationID, job.Attempt+1 >= MaxAttempts)
	if err == nil {
		return
	}

	utils.ErrorLogger.WithFields(logrus.Fields{
		"job_id":          job.ID,
		"notification_id": job.NotificationID,
		"attempt":         job.Attempt + 1,
	}).Errorf("mail delivery failed: %v", err)

	dead, reErr := w.source.Retry(ctx, job)
	if reErr != nil {
		utils.ErrorLogger.Errorf("mail retry enqueue failed: %v", reErr)
		w.deliverer.MarkFailed(ctx, job.NotificationID, reErr.Error())
		return
	}
	if !dead {
		w.pause(ctx)
	}
}

func (w *Worker) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.backoff):
	}
}
