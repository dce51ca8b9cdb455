package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/testutil"
)

type flakySender struct {
	mu       sync.Mutex
	failures int
	sent     []string
}

func (s *flakySender) Send(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("smtp unavailable")
	}
	s.sent = append(s.sent, n.Recipient)
	return nil
}

// memorySource stands in for Redis in worker tests.
type memorySource struct {
	mu   sync.Mutex
	jobs []*Job
	dead []*Job
}

func (m *memorySource) Dequeue(context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.jobs) == 0 {
		return nil, nil
	}
	job := m.jobs[0]
	m.jobs = m.jobs[1:]
	return job, nil
}

func (m *memorySource) Retry(_ context.Context, job *Job) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Attempt++
	if job.Attempt >= MaxAttempts {
		m.dead = append(m.dead, job)
		return true, nil
	}
	m.jobs = append(m.jobs, job)
	return false, nil
}

func (m *memorySource) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

func storeNotification(t *testing.T, db *gorm.DB) models.Notification {
	t.Helper()
	n := models.Notification{Recipient: "a@example.com", Title: "Hello", Message: "Hi", Status: models.NotificationQueued}
	require.NoError(t, db.Create(&n).Error)
	return n
}

func TestDeliverRecordsOutcome(t *testing.T) {
	db := testutil.NewDB(t)
	sender := &flakySender{failures: 1}
	d := NewDeliverer(db, sender)
	n := storeNotification(t, db)
	ctx := context.Background()

	assert.Error(t, d.Deliver(ctx, n.ID, false))
	var got models.Notification
	require.NoError(t, db.First(&got, n.ID).Error)
	assert.Equal(t, models.NotificationQueued, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "smtp unavailable", got.LastError)

	require.NoError(t, d.Deliver(ctx, n.ID, false))
	require.NoError(t, db.First(&got, n.ID).Error)
	assert.Equal(t, models.NotificationSent, got.Status)
	assert.Equal(t, 2, got.Attempts)

	require.NoError(t, d.Deliver(ctx, n.ID, false), "sent mail is not sent twice")
	assert.Len(t, sender.sent, 1)

	assert.NoError(t, d.Deliver(ctx, 999, false), "missing rows are dropped")
}

func TestWorkerRetriesThenDeadLetters(t *testing.T) {
	db := testutil.NewDB(t)
	sender := &flakySender{failures: 10}
	source := &memorySource{}
	w := &Worker{source: source, deliverer: NewDeliverer(db, sender), backoff: time.Millisecond}
	n := storeNotification(t, db)
	source.jobs = []*Job{{ID: "job-1", NotificationID: n.ID}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		source.mu.Lock()
		defer source.mu.Unlock()
		return len(source.dead) == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, source.pending())
	var got models.Notification
	require.NoError(t, db.First(&got, n.ID).Error)
	assert.Equal(t, models.NotificationFailed, got.Status)
	assert.Equal(t, MaxAttempts, got.Attempts)
}

func TestWorkerDeliversQueuedMail(t *testing.T) {
	db := testutil.NewDB(t)
	sender := &flakySender{failures: 1}
	source := &memorySource{}
	w := &Worker{source: source, deliverer: NewDeliverer(db, sender), backoff: time.Millisecond}
	n := storeNotification(t, db)
	source.jobs = []*Job{{ID: "job-1", NotificationID: n.ID}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		var got models.Notification
		return db.First(&got, n.ID).Error == nil && got.Status == models.NotificationSent
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNotifierDeliversInProcessWithoutRedis(t *testing.T) {
	db := testutil.NewDB(t)
	sender := &flakySender{}
	notifier := NewNotifier(db, nil, NewDeliverer(db, sender))
	venueID := uint(1)

	notifier.Notify(context.Background(), &venueID, "guest@example.com", "Join us", "link")

	require.Eventually(t, func() bool {
		var got models.Notification
		err := db.Where("recipient = ?", "guest@example.com").First(&got).Error
		return err == nil && got.Status == models.NotificationSent
	}, 2*time.Second, 5*time.Millisecond)
	sender.mu.Lock()
	defer sender.mu.Unlock()
	assert.Equal(t, []string{"guest@example.com"}, sender.sent)
}
