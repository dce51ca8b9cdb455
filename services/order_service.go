package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

// OrderLine is one requested line of a new order or an added detail.
type OrderLine struct {
	ProductID           uint   `json:"product_id" binding:"required"`
	Quantity            int    `json:"quantity" binding:"required,min=1"`
	SpecialInstructions string `json:"special_instructions"`
}

// Order status moves. CANCELLED is reachable from every non-terminal status.
var orderTransitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusInProgress, models.OrderStatusCancelled},
	models.OrderStatusInProgress: {models.OrderStatusReady, models.OrderStatusCancelled},
	models.OrderStatusReady:      {models.OrderStatusDelivered, models.OrderStatusCancelled},
}

func canTransition(from, to string) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func validOrderStatus(status string) bool {
	switch status {
	case models.OrderStatusPending, models.OrderStatusInProgress, models.OrderStatusReady,
		models.OrderStatusDelivered, models.OrderStatusCancelled:
		return true
	}
	return false
}

// OrderService is the stock-aware order engine. Every mutation of an order
// runs in one transaction holding the order's row lock, and every stock
// change goes through the catalog's conditional update, so stock and totals
// move together or not at all.
type OrderService struct {
	db      *gorm.DB
	catalog Catalog
	events  EventPublisher
	now     func() time.Time
}

func NewOrderService(db *gorm.DB, catalog Catalog, events EventPublisher) *OrderService {
	if catalog == nil {
		catalog = NewCatalog()
	}
	return &OrderService{
		db:      db,
		catalog: catalog,
		events:  publisherOrNop(events),
		now:     time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateOrder places an order for the caller's participant in the caller's
// open table session. Either every line is reserved from stock or nothing is.
func (s *OrderService) CreateOrder(ctx context.Context, tc tenant.Context, caller auth.SessionContext, lines []OrderLine) (*models.Order, error) {
	if !caller.HasTableSession() {
		return nil, apperr.ErrMissingSessionContext
	}
	if *caller.VenueID != tc.VenueID {
		return nil, apperr.ErrNotFound.New(*caller.TableSessionID, "table session not found")
	}
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	var order models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.TableSession
		if err := tx.Clauses(forUpdate).Scopes(tc.Scope).First(&session, *caller.TableSessionID).Error; err != nil {
			return notFound(err, "table session", *caller.TableSessionID)
		}
		if !session.IsOpen() {
			return apperr.ErrSessionClosed.WithID(session.ID)
		}

		var participant models.Participant
		err := tx.Where("table_session_id = ?", session.ID).First(&participant, *caller.ParticipantID).Error
		if err != nil {
			return notFound(err, "participant", *caller.ParticipantID)
		}

		// Reserve in product id order so concurrent orders lock rows in
		// the same sequence.
		byProduct := make([]int, len(lines))
		for i := range byProduct {
			byProduct[i] = i
		}
		sort.SliceStable(byProduct, func(a, b int) bool {
			return lines[byProduct[a]].ProductID < lines[byProduct[b]].ProductID
		})

		details := make([]models.OrderDetail, len(lines))
		for _, i := range byProduct {
			line := lines[i]
			product, err := s.catalog.FindProductInTenant(tx, tc.VenueID, line.ProductID)
			if err != nil {
				return err
			}
			if err := s.catalog.AdjustStock(tx, product.ID, -line.Quantity); err != nil {
				return err
			}
			details[i] = models.OrderDetail{
				ProductID:           product.ID,
				Quantity:            line.Quantity,
				UnitPrice:           product.Price,
				SpecialInstructions: strings.TrimSpace(line.SpecialInstructions),
			}
		}

		day := s.now().UTC().Format("2006-01-02")
		number, err := nextOrderNumber(tx, tc.VenueID, day)
		if err != nil {
			return err
		}

		order = models.Order{
			VenueID:        tc.VenueID,
			TableSessionID: session.ID,
			ParticipantID:  participant.ID,
			Number:         number,
			BusinessDay:    day,
			Status:         models.OrderStatusPending,
			Details:        details,
		}
		order.TotalPrice = order.ComputeTotal()
		return tx.Create(&order).Error
	})
	if err != nil {
		return nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"order_id":         order.ID,
		"number":           order.Number,
		"table_session_id": order.TableSessionID,
		"total":            order.TotalPrice,
	}).Info("order created")

	s.events.Publish(order.TableSessionID, hub.EventNewOrder, order)
	return &order, nil
}

// AddDetail adds a line to a non-terminal order and reserves its stock.
func (s *OrderService) AddDetail(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID uint, line OrderLine) (*models.Order, error) {
	if err := validateLines([]OrderLine{line}); err != nil {
		return nil, err
	}
	return s.mutate(ctx, tc, caller, orderID, func(tx *gorm.DB, order *models.Order) error {
		product, err := s.catalog.FindProductInTenant(tx, tc.VenueID, line.ProductID)
		if err != nil {
			return err
		}
		if err := s.catalog.AdjustStock(tx, product.ID, -line.Quantity); err != nil {
			return err
		}
		detail := models.OrderDetail{
			OrderID:             order.ID,
			ProductID:           product.ID,
			Quantity:            line.Quantity,
			UnitPrice:           product.Price,
			SpecialInstructions: strings.TrimSpace(line.SpecialInstructions),
		}
		if err := tx.Create(&detail).Error; err != nil {
			return err
		}
		order.Details = append(order.Details, detail)
		return nil
	})
}

// RemoveDetail marks a line removed and returns its quantity to stock.
func (s *OrderService) RemoveDetail(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID, detailID uint) (*models.Order, error) {
	return s.mutate(ctx, tc, caller, orderID, func(tx *gorm.DB, order *models.Order) error {
		detail, err := liveDetail(order, detailID)
		if err != nil {
			return err
		}
		if err := s.catalog.AdjustStock(tx, detail.ProductID, detail.Quantity); err != nil {
			return err
		}
		detail.Removed = true
		return tx.Model(detail).Update("removed", true).Error
	})
}

// DetailUpdate changes one order line. Nil fields are left alone.
type DetailUpdate struct {
	Quantity            *int
	SpecialRequirements *string
}

// UpdateDetail applies every field of upd to a line in one transaction: a
// quantity change moves the difference in or out of stock.
func (s *OrderService) UpdateDetail(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID, detailID uint, upd DetailUpdate) (*models.Order, error) {
	if upd.Quantity == nil && upd.SpecialRequirements == nil {
		return nil, apperr.ErrValidation.New(detailID, "nothing to update")
	}
	if upd.Quantity != nil && *upd.Quantity < 1 {
		return nil, apperr.ErrValidation.New(detailID, "quantity must be at least 1")
	}
	return s.mutate(ctx, tc, caller, orderID, func(tx *gorm.DB, order *models.Order) error {
		detail, err := liveDetail(order, detailID)
		if err != nil {
			return err
		}
		changes := map[string]interface{}{}
		if upd.Quantity != nil && *upd.Quantity != detail.Quantity {
			delta := *upd.Quantity - detail.Quantity
			if err := s.catalog.AdjustStock(tx, detail.ProductID, -delta); err != nil {
				return err
			}
			detail.Quantity = *upd.Quantity
			changes["quantity"] = detail.Quantity
		}
		if upd.SpecialRequirements != nil {
			detail.SpecialInstructions = strings.TrimSpace(*upd.SpecialRequirements)
			changes["special_instructions"] = detail.SpecialInstructions
		}
		if len(changes) == 0 {
			return nil
		}
		return tx.Model(detail).Updates(changes).Error
	})
}

// UpdateDetailQuantity changes a line's quantity.
func (s *OrderService) UpdateDetailQuantity(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID, detailID uint, quantity int) (*models.Order, error) {
	return s.UpdateDetail(ctx, tc, caller, orderID, detailID, DetailUpdate{Quantity: &quantity})
}

// UpdateSpecialRequirements replaces a line's free-text instructions.
func (s *OrderService) UpdateSpecialRequirements(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID, detailID uint, text string) (*models.Order, error) {
	return s.UpdateDetail(ctx, tc, caller, orderID, detailID, DetailUpdate{SpecialRequirements: &text})
}

// UpdateStatus moves an order along the status table. Diners may only
// cancel their own orders; staff drive every other move. Cancelling returns
// the stock of every live line.
func (s *OrderService) UpdateStatus(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID uint, status string) (*models.Order, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if !validOrderStatus(status) {
		return nil, apperr.ErrValidation.New(orderID, "unknown order status %q", status)
	}

	var order *models.Order
	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(tx, tc, orderID)
		if err != nil {
			return err
		}
		if !caller.IsStaff() {
			if status != models.OrderStatusCancelled || !ownsOrder(caller, order) {
				return apperr.ErrForbidden.New(order.ID, "not allowed to move order to %s", status)
			}
		}
		if !canTransition(order.Status, status) {
			return apperr.ErrInvalidStateTransition.New(order.ID, "cannot move order from %s to %s", order.Status, status)
		}

		if status == models.OrderStatusCancelled {
			if err := ensureNotHeld(tx, order); err != nil {
				return err
			}
			for i := range order.Details {
				d := &order.Details[i]
				if d.Removed {
					continue
				}
				if err := s.catalog.AdjustStock(tx, d.ProductID, d.Quantity); err != nil {
					return err
				}
			}
		}

		previous = order.Status
		order.Status = status
		return tx.Model(order).Update("status", status).Error
	})
	if err != nil {
		return nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"from":     previous,
		"to":       status,
		"by":       caller.Subject,
	}).Info("order status changed")

	s.events.Publish(order.TableSessionID, hub.EventOrderStatusChanged, map[string]interface{}{
		"order_id":        order.ID,
		"number":          order.Number,
		"status":          order.Status,
		"previous_status": previous,
	})
	return order, nil
}

// GetOrder returns an order visible to the caller: staff see the whole
// venue, diners their own table session.
func (s *OrderService) GetOrder(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Scopes(tc.Scope).
		Preload("Details", models.NotRemoved).
		First(&order, orderID).Error
	if err != nil {
		return nil, notFound(err, "order", orderID)
	}
	if !caller.IsStaff() && !inSession(caller, order.TableSessionID) {
		return nil, apperr.ErrForbidden.New(order.ID, "order belongs to another table session")
	}
	return &order, nil
}

// ListBySession returns the orders of one table session in creation order.
func (s *OrderService) ListBySession(ctx context.Context, tc tenant.Context, caller auth.SessionContext, sessionID uint) ([]models.Order, error) {
	if !caller.IsStaff() && !inSession(caller, sessionID) {
		return nil, apperr.ErrForbidden.New(sessionID, "not a member of this table session")
	}
	var orders []models.Order
	err := s.db.WithContext(ctx).Scopes(tc.Scope).
		Preload("Details", models.NotRemoved).
		Where("table_session_id = ?", sessionID).
		Order("id").
		Find(&orders).Error
	return orders, err
}

// ListByVenue returns the venue's orders, optionally filtered by status.
// Staff only.
func (s *OrderService) ListByVenue(ctx context.Context, tc tenant.Context, caller auth.SessionContext, status string) ([]models.Order, error) {
	if !caller.IsStaff() {
		return nil, apperr.ErrForbidden.New(nil, "staff only")
	}
	q := s.db.WithContext(ctx).Scopes(tc.Scope).Preload("Details", models.NotRemoved)
	if status != "" {
		status = strings.ToUpper(status)
		if !validOrderStatus(status) {
			return nil, apperr.ErrValidation.New(nil, "unknown order status %q", status)
		}
		q = q.Where("status = ?", status)
	}
	var orders []models.Order
	err := q.Order("created_at DESC, id DESC").Find(&orders).Error
	return orders, err
}

// mutate locks a modifiable order, applies fn and stores the recomputed total.
func (s *OrderService) mutate(ctx context.Context, tc tenant.Context, caller auth.SessionContext, orderID uint, fn func(tx *gorm.DB, order *models.Order) error) (*models.Order, error) {
	var order *models.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = lockOrder(tx, tc, orderID)
		if err != nil {
			return err
		}
		if !caller.IsStaff() && !ownsOrder(caller, order) {
			return apperr.ErrForbidden.New(order.ID, "order belongs to another participant")
		}
		if order.IsTerminal() {
			return apperr.ErrOrderNotModifiable.New(order.ID, "order is %s", order.Status)
		}
		if err := ensureNotSettled(tx, order); err != nil {
			return err
		}

		if err := fn(tx, order); err != nil {
			return err
		}

		order.TotalPrice = order.ComputeTotal()
		return tx.Model(order).Update("total_price", order.TotalPrice).Error
	})
	if err != nil {
		return nil, err
	}

	live := order.Details[:0:0]
	for _, d := range order.Details {
		if !d.Removed {
			live = append(live, d)
		}
	}
	order.Details = live

	s.events.Publish(order.TableSessionID, hub.EventOrderUpdated, order)
	return order, nil
}

// lockOrder takes the order's row lock, then loads every line including
// removed ones.
func lockOrder(tx *gorm.DB, tc tenant.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := tx.Clauses(forUpdate).Scopes(tc.Scope).First(&order, orderID).Error; err != nil {
		return nil, notFound(err, "order", orderID)
	}
	if err := tx.Where("order_id = ?", order.ID).Order("id").Find(&order.Details).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ensureNotSettled rejects changes to an order whose payment has completed.
func ensureNotSettled(tx *gorm.DB, order *models.Order) error {
	if order.PaymentID == nil {
		return nil
	}
	var payment models.Payment
	if err := tx.Select("id", "status").First(&payment, *order.PaymentID).Error; err != nil {
		return notFound(err, "payment", *order.PaymentID)
	}
	if payment.Status == models.PaymentStatusCompleted {
		return apperr.ErrOrderNotModifiable.New(order.ID, "order is settled by payment %d", payment.ID)
	}
	return nil
}

// ensureNotHeld rejects cancelling an order that a live payment holds. A
// pending payment has to drop the order or be cancelled first.
func ensureNotHeld(tx *gorm.DB, order *models.Order) error {
	if err := ensureNotSettled(tx, order); err != nil {
		return err
	}
	if order.PaymentID != nil {
		return apperr.ErrOrderAlreadyPaid.New(order.ID, "order is held by pending payment %d", *order.PaymentID)
	}
	return nil
}

// nextOrderNumber hands out the venue's next number for day under the
// sequence row's lock.
func nextOrderNumber(tx *gorm.DB, venueID uint, day string) (int, error) {
	seq := models.OrderSequence{VenueID: venueID, Day: day}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return 0, err
	}
	if err := tx.Clauses(forUpdate).
		Where("venue_id = ? AND day = ?", venueID, day).
		First(&seq).Error; err != nil {
		return 0, err
	}
	seq.Last++
	if err := tx.Model(&models.OrderSequence{}).
		Where("venue_id = ? AND day = ?", venueID, day).
		Update("last", seq.Last).Error; err != nil {
		return 0, err
	}
	return seq.Last, nil
}

func liveDetail(order *models.Order, detailID uint) (*models.OrderDetail, error) {
	for i := range order.Details {
		d := &order.Details[i]
		if d.ID == detailID && !d.Removed {
			return d, nil
		}
	}
	return nil, apperr.ErrNotFound.New(detailID, "order detail not found")
}

func validateLines(lines []OrderLine) error {
	if len(lines) == 0 {
		return apperr.ErrValidation.New(nil, "an order needs at least one line")
	}
	for _, l := range lines {
		if l.ProductID == 0 {
			return apperr.ErrValidation.New(nil, "product_id is required")
		}
		if l.Quantity < 1 {
			return apperr.ErrValidation.New(l.ProductID, "quantity must be at least 1")
		}
	}
	return nil
}

func ownsOrder(caller auth.SessionContext, order *models.Order) bool {
	return caller.ParticipantID != nil && *caller.ParticipantID == order.ParticipantID
}
