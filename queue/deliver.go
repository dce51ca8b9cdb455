package queue

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/utils"
)

// Sender hands a notification to a mail transport.
type Sender interface {
	Send(ctx context.Context, n *models.Notification) error
}

// LogSender writes mail to the info log instead of sending it.
type LogSender struct {
	From string
}

func (s LogSender) Send(_ context.Context, n *models.Notification) error {
	utils.InfoLogger.Printf("mail from %s to %s: %s | %s", s.From, n.Recipient, n.Title, n.Message)
	return nil
}

// Deliverer sends stored notifications and records the outcome on the row.
type Deliverer struct {
	db     *gorm.DB
	sender Sender
}

func NewDeliverer(db *gorm.DB, sender Sender) *Deliverer {
	return &Deliverer{db: db, sender: sender}
}

// Deliver sends notification id once. A failure counts the attempt and is
// returned so the caller can retry; final is set on the last allowed attempt.
func (d *Deliverer) Deliver(ctx context.Context, id uint, final bool) error {
	var n models.Notification
	if err := d.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.ErrorLogger.Errorf("mail job for missing notification %d dropped", id)
			return nil
		}
		return err
	}
	if n.Status == models.NotificationSent {
		return nil
	}

	sendErr := d.sender.Send(ctx, &n)

	updates := map[string]interface{}{"attempts": n.Attempts + 1}
	switch {
	case sendErr == nil:
		updates["status"] = models.NotificationSent
		updates["last_error"] = ""
	case final:
		updates["status"] = models.NotificationFailed
		updates["last_error"] = sendErr.Error()
	default:
		updates["last_error"] = sendErr.Error()
	}
	if err := d.db.WithContext(ctx).Model(&n).Updates(updates).Error; err != nil {
		utils.ErrorLogger.Errorf("recording delivery of notification %d: %v", id, err)
	}
	return sendErr
}

// MarkFailed records a job that will not be retried.
func (d *Deliverer) MarkFailed(ctx context.Context, id uint, reason string) {
	err := d.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.NotificationFailed, "last_error": reason}).Error
	if err != nil {
		utils.ErrorLogger.Errorf("marking notification %d failed: %v", id, err)
	}
}
