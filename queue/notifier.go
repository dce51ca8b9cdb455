package queue

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/utils"
)

// Notifier stores outbound mail and hands it to the Redis queue, or
// delivers it on a goroutine when no queue is configured. Notify never
// blocks the caller and never fails it; problems are logged.
type Notifier struct {
	db        *gorm.DB
	queue     *MailQueue
	deliverer *Deliverer
}

func NewNotifier(db *gorm.DB, queue *MailQueue, deliverer *Deliverer) *Notifier {
	return &Notifier{db: db, queue: queue, deliverer: deliverer}
}

func (n *Notifier) Notify(ctx context.Context, venueID *uint, recipient, title, message string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				utils.ErrorLogger.Errorf("mail to %s panicked: %v", recipient, rec)
			}
		}()
		n.notify(ctx, venueID, recipient, title, message)
	}()
}

func (n *Notifier) notify(ctx context.Context, venueID *uint, recipient, title, message string) {
	row := models.Notification{
		VenueID:   venueID,
		Recipient: recipient,
		Title:     title,
		Message:   message,
		Status:    models.NotificationQueued,
	}
	if err := n.db.WithContext(ctx).Create(&row).Error; err != nil {
		utils.ErrorLogger.Errorf("storing mail to %s: %v", recipient, err)
		return
	}

	if n.queue != nil {
		err := n.queue.Enqueue(ctx, row.ID)
		if err == nil {
			return
		}
		utils.ErrorLogger.Errorf("enqueue mail %d, delivering in process: %v", row.ID, err)
	}
	n.deliverLocal(ctx, row.ID)
}

func (n *Notifier) deliverLocal(ctx context.Context, id uint) {
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err := n.deliverer.Deliver(ctx, id, attempt == MaxAttempts)
		if err == nil {
			return
		}
		utils.ErrorLogger.Errorf("mail %d attempt %d: %v", id, attempt, err)
		if attempt < MaxAttempts {
			time.Sleep(localBackoff)
		}
	}
}

var localBackoff = RetryBackoff
