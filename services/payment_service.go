package services

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

// PaymentService groups orders into payments. An order is held by at most
// one live payment: the orders' row locks serialize competing payments and
// order.payment_id records the holder.
type PaymentService struct {
	db     *gorm.DB
	events EventPublisher
	now    func() time.Time
}

func NewPaymentService(db *gorm.DB, events EventPublisher) *PaymentService {
	return &PaymentService{
		db:     db,
		events: publisherOrNop(events),
		now:    time.Now,
	}
}

// PaymentUpdate changes a pending payment. Nil fields are left alone.
type PaymentUpdate struct {
	OrderIDs []uint
	Method   *string
}

func validPaymentMethod(method string) bool {
	switch method {
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodTransfer:
		return true
	}
	return false
}

// Create aggregates orderIDs into a new pending payment whose amount is the
// sum of the orders' totals at this moment.
func (s *PaymentService) Create(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderIDs []uint, method string) (*models.Payment, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if !validPaymentMethod(method) {
		return nil, apperr.ErrValidation.New(nil, "unknown payment method %q", method)
	}
	ids := uniqueIDs(orderIDs)
	if len(ids) == 0 {
		return nil, apperr.ErrValidation.New(nil, "a payment needs at least one order")
	}
	if !caller.IsStaff() && !caller.HasTableSession() {
		return nil, apperr.ErrMissingSessionContext
	}

	var payment models.Payment
	var orders []models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		orders, err = s.lockPayable(tx, tc, caller, ids, 0)
		if err != nil {
			return err
		}

		payment = models.Payment{
			VenueID:   tc.VenueID,
			Status:    models.PaymentStatusPending,
			Method:    method,
			CreatedBy: caller.Subject,
			Amount:    sumTotals(orders),
		}
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		return attach(tx, payment.ID, ids, s.now())
	})
	if err != nil {
		return nil, err
	}
	payment.OrderIDs = ids

	utils.InfoLogger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"orders":     ids,
		"amount":     payment.Amount,
	}).Info("payment created")

	s.publish(&payment, orders)
	return &payment, nil
}

// Update replaces the order set and/or the method of a pending payment and
// recomputes the amount from the orders' current totals.
func (s *PaymentService) Update(ctx context.Context, tc tenant.Context, caller auth.SessionContext, paymentID uint, upd PaymentUpdate) (*models.Payment, error) {
	var method string
	if upd.Method != nil {
		method = strings.ToUpper(strings.TrimSpace(*upd.Method))
		if !validPaymentMethod(method) {
			return nil, apperr.ErrValidation.New(paymentID, "unknown payment method %q", method)
		}
	}

	var payment *models.Payment
	var touched []models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = lockPayment(tx, tc, paymentID)
		if err != nil {
			return err
		}
		if !caller.IsStaff() && caller.Subject != payment.CreatedBy {
			return apperr.ErrForbidden.New(payment.ID, "payment was created by someone else")
		}
		if payment.Status != models.PaymentStatusPending {
			return apperr.ErrPaymentNotModifiable.New(payment.ID, "payment is %s", payment.Status)
		}

		var current []models.Order
		if err := tx.Clauses(forUpdate).Where("payment_id = ?", payment.ID).Order("id").Find(&current).Error; err != nil {
			return err
		}
		touched = append(touched, current...)

		if upd.OrderIDs != nil {
			next := uniqueIDs(upd.OrderIDs)
			if len(next) == 0 {
				return apperr.ErrValidation.New(payment.ID, "a payment needs at least one order")
			}
			keep := make(map[uint]bool, len(next))
			for _, id := range next {
				keep[id] = true
			}

			var removed []uint
			held := make(map[uint]bool, len(current))
			for _, o := range current {
				held[o.ID] = true
				if !keep[o.ID] {
					removed = append(removed, o.ID)
				}
			}
			var added []uint
			for _, id := range next {
				if !held[id] {
					added = append(added, id)
				}
			}

			if len(added) > 0 {
				addedOrders, err := s.lockPayable(tx, tc, caller, added, payment.ID)
				if err != nil {
					return err
				}
				touched = append(touched, addedOrders...)
				if err := attach(tx, payment.ID, added, s.now()); err != nil {
					return err
				}
			}
			if len(removed) > 0 {
				if err := tx.Model(&models.Order{}).Where("id IN ?", removed).Update("payment_id", nil).Error; err != nil {
					return err
				}
				if err := tx.Where("payment_id = ? AND order_id IN ?", payment.ID, removed).Delete(&models.PaymentOrder{}).Error; err != nil {
					return err
				}
			}
		}
		if upd.Method != nil {
			payment.Method = method
		}

		var held []models.Order
		if err := tx.Where("payment_id = ?", payment.ID).Order("id").Find(&held).Error; err != nil {
			return err
		}
		payment.Amount = sumTotals(held)
		payment.OrderIDs = orderIDsOf(held)

		return tx.Model(payment).Updates(map[string]interface{}{
			"amount": payment.Amount,
			"method": payment.Method,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.publish(payment, touched)
	return payment, nil
}

// UpdateStatus completes or cancels a pending payment. Both outcomes are
// final. Cancelling releases the orders; the link history is kept.
func (s *PaymentService) UpdateStatus(ctx context.Context, tc tenant.Context, caller auth.SessionContext, paymentID uint, status string) (*models.Payment, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != models.PaymentStatusCompleted && status != models.PaymentStatusCancelled {
		return nil, apperr.ErrValidation.New(paymentID, "payment status must be COMPLETED or CANCELLED")
	}
	if !caller.IsStaff() {
		return nil, apperr.ErrForbidden.New(paymentID, "only staff can settle payments")
	}

	var payment *models.Payment
	var orders []models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		payment, err = lockPayment(tx, tc, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusPending {
			return apperr.ErrPaymentNotModifiable.New(payment.ID, "payment is %s", payment.Status)
		}

		if err := tx.Clauses(forUpdate).Where("payment_id = ?", payment.ID).Order("id").Find(&orders).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"status": status}
		if status == models.PaymentStatusCompleted {
			paidAt := s.now()
			payment.PaidAt = &paidAt
			updates["paid_at"] = paidAt
		} else if len(orders) > 0 {
			if err := tx.Model(&models.Order{}).Where("payment_id = ?", payment.ID).Update("payment_id", nil).Error; err != nil {
				return err
			}
		}
		payment.Status = status
		payment.OrderIDs = orderIDsOf(orders)
		return tx.Model(payment).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"payment_id": payment.ID,
		"status":     payment.Status,
		"by":         caller.Subject,
	}).Info("payment settled")

	s.publish(payment, orders)
	return payment, nil
}

// Get returns a payment with the ids of every order ever attached to it.
// Diners only see payments touching their own table session.
func (s *PaymentService) Get(ctx context.Context, tc tenant.Context, caller auth.SessionContext, paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Scopes(tc.Scope).
		Preload("Links", func(db *gorm.DB) *gorm.DB { return db.Order("order_id") }).
		First(&payment, paymentID).Error
	if err != nil {
		return nil, notFound(err, "payment", paymentID)
	}
	payment.OrderIDs = linkedOrderIDs(&payment)

	if caller.IsStaff() || caller.Subject == payment.CreatedBy {
		return &payment, nil
	}
	if caller.HasTableSession() && len(payment.OrderIDs) > 0 {
		var mine int64
		err := s.db.WithContext(ctx).Model(&models.Order{}).
			Where("id IN ? AND table_session_id = ?", payment.OrderIDs, *caller.TableSessionID).
			Count(&mine).Error
		if err != nil {
			return nil, err
		}
		if mine > 0 {
			return &payment, nil
		}
	}
	return nil, apperr.ErrForbidden.New(payment.ID, "payment belongs to another table session")
}

// List returns the venue's payments, optionally filtered by status. Staff only.
func (s *PaymentService) List(ctx context.Context, tc tenant.Context, caller auth.SessionContext, status string) ([]models.Payment, error) {
	if !caller.IsStaff() {
		return nil, apperr.ErrForbidden.New(nil, "staff only")
	}
	q := s.db.WithContext(ctx).Scopes(tc.Scope).Preload("Links")
	if status != "" {
		q = q.Where("status = ?", strings.ToUpper(status))
	}
	var payments []models.Payment
	if err := q.Order("created_at DESC, id DESC").Find(&payments).Error; err != nil {
		return nil, err
	}
	for i := range payments {
		payments[i].OrderIDs = linkedOrderIDs(&payments[i])
	}
	return payments, nil
}

// lockPayable locks the venue's orders ids and checks that each can join
// payment paymentID (0 for a new payment). Missing ids are reported
// together; an order held by another live payment is a conflict.
func (s *PaymentService) lockPayable(tx *gorm.DB, tc tenant.Context, caller auth.SessionContext, ids []uint, paymentID uint) ([]models.Order, error) {
	var orders []models.Order
	if err := tx.Clauses(forUpdate).Scopes(tc.Scope).Where("id IN ?", ids).Order("id").Find(&orders).Error; err != nil {
		return nil, err
	}
	if len(orders) != len(ids) {
		found := make(map[uint]bool, len(orders))
		for _, o := range orders {
			found[o.ID] = true
		}
		var missing []uint
		for _, id := range ids {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, apperr.ErrOrdersNotFound.New(missing, "orders not found")
	}

	for i := range orders {
		o := &orders[i]
		if !caller.IsStaff() && !inSession(caller, o.TableSessionID) {
			return nil, apperr.ErrForbidden.New(o.ID, "order belongs to another table session")
		}
		if o.Status == models.OrderStatusCancelled {
			return nil, apperr.ErrValidation.New(o.ID, "order is cancelled")
		}
		if o.PaymentID != nil && *o.PaymentID != paymentID {
			var holder models.Payment
			if err := tx.Select("id", "status").First(&holder, *o.PaymentID).Error; err != nil {
				return nil, notFound(err, "payment", *o.PaymentID)
			}
			if holder.IsLive() {
				return nil, apperr.ErrOrderAlreadyPaid.New(o.ID, "order %d is held by payment %d", o.ID, holder.ID)
			}
		}
	}
	return orders, nil
}

func lockPayment(tx *gorm.DB, tc tenant.Context, paymentID uint) (*models.Payment, error) {
	var payment models.Payment
	if err := tx.Clauses(forUpdate).Scopes(tc.Scope).First(&payment, paymentID).Error; err != nil {
		return nil, notFound(err, "payment", paymentID)
	}
	return &payment, nil
}

func attach(tx *gorm.DB, paymentID uint, orderIDs []uint, now time.Time) error {
	if err := tx.Model(&models.Order{}).Where("id IN ?", orderIDs).Update("payment_id", paymentID).Error; err != nil {
		return err
	}
	links := make([]models.PaymentOrder, 0, len(orderIDs))
	for _, id := range orderIDs {
		links = append(links, models.PaymentOrder{PaymentID: paymentID, OrderID: id, CreatedAt: now})
	}
	return tx.Create(&links).Error
}

// publish tells every table session touched by the payment.
func (s *PaymentService) publish(payment *models.Payment, orders []models.Order) {
	seen := make(map[uint]bool)
	for _, o := range orders {
		if seen[o.TableSessionID] {
			continue
		}
		seen[o.TableSessionID] = true
		s.events.Publish(o.TableSessionID, hub.EventPaymentUpdated, payment)
	}
}

func sumTotals(orders []models.Order) int64 {
	var total int64
	for _, o := range orders {
		total += o.TotalPrice
	}
	return total
}

func orderIDsOf(orders []models.Order) []uint {
	ids := make([]uint, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}

func linkedOrderIDs(p *models.Payment) []uint {
	ids := make([]uint, 0, len(p.Links))
	for _, l := range p.Links {
		ids = append(ids, l.OrderID)
	}
	return ids
}
