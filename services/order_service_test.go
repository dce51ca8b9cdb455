package services_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/testutil"
)

func TestCreateOrderReservesStockAndSnapshotsPrice(t *testing.T) {
	f := newFixture(t)
	soup := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	tea := testutil.Product(t, f.db, f.venue.ID, "Tea", 500, 10)
	_, host := f.seat(t)

	o := f.order(t, host, line(tea.ID, 2), line(soup.ID, 1))

	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, int64(2*500+1500), o.TotalPrice)
	assert.Equal(t, 1, o.Number)
	require.Len(t, o.Details, 2)
	assert.Equal(t, tea.ID, o.Details[0].ProductID, "lines keep request order")
	assert.Equal(t, 8, testutil.StockOf(t, f.db, tea.ID))
	assert.Equal(t, 9, testutil.StockOf(t, f.db, soup.ID))
	assert.Equal(t, 1, f.events.count(hub.EventNewOrder))

	require.NoError(t, f.db.Model(&models.Product{}).Where("id = ?", tea.ID).Update("price", 900).Error)
	stored := f.reload(t, o.ID)
	assert.Equal(t, int64(500), stored.Details[0].UnitPrice)
	assert.Equal(t, o.TotalPrice, stored.TotalPrice)
}

func TestCreateOrderNeedsTableSession(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)

	_, err := f.orders.CreateOrder(f.ctx, f.tc, f.staff(models.RoleWaiter), []services.OrderLine{line(p.ID, 1)})
	assert.True(t, errors.Is(err, apperr.ErrMissingSessionContext))
}

func TestCreateOrderValidatesLines(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	_, host := f.seat(t)

	_, err := f.orders.CreateOrder(f.ctx, f.tc, host, nil)
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = f.orders.CreateOrder(f.ctx, f.tc, host, []services.OrderLine{line(p.ID, 0)})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestCreateOrderRejectsOtherVenueProduct(t *testing.T) {
	f := newFixture(t)
	other := testutil.Venue(t, f.db, "Other")
	foreign := testutil.Product(t, f.db, other.ID, "Foreign", 100, 5)
	local := testutil.Product(t, f.db, f.venue.ID, "Local", 100, 5)
	_, host := f.seat(t)

	_, err := f.orders.CreateOrder(f.ctx, f.tc, host, []services.OrderLine{line(local.ID, 1), line(foreign.ID, 1)})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
	assert.False(t, errors.Is(err, apperr.ErrForbidden))
	assert.Equal(t, 5, testutil.StockOf(t, f.db, local.ID))
	assert.Equal(t, 5, testutil.StockOf(t, f.db, foreign.ID))
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	plenty := testutil.Product(t, f.db, f.venue.ID, "Rice", 100, 10)
	scarce := testutil.Product(t, f.db, f.venue.ID, "Crab", 9000, 1)
	_, host := f.seat(t)

	_, err := f.orders.CreateOrder(f.ctx, f.tc, host, []services.OrderLine{line(plenty.ID, 3), line(scarce.ID, 2)})
	require.True(t, errors.Is(err, apperr.ErrInsufficientStock))

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, scarce.ID, appErr.EntityID)

	assert.Equal(t, 10, testutil.StockOf(t, f.db, plenty.ID))
	assert.Equal(t, 1, testutil.StockOf(t, f.db, scarce.ID))

	var orders int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
}

func TestLastUnitGoesToExactlyOneParticipant(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Last slice", 700, 1)
	_, host := f.seat(t)
	guest := f.join(t, "Bea")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, sc := range []auth.SessionContext{host, guest} {
		wg.Add(1)
		go func(i int, sc auth.SessionContext) {
			defer wg.Done()
			_, errs[i] = f.orders.CreateOrder(f.ctx, f.tc, sc, []services.OrderLine{line(p.ID, 1)})
		}(i, sc)
	}
	wg.Wait()

	ok, short := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrInsufficientStock):
			short++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, testutil.StockOf(t, f.db, p.ID))

	var pending int64
	require.NoError(t, f.db.Model(&models.Order{}).Where("status = ?", models.OrderStatusPending).Count(&pending).Error)
	assert.Equal(t, int64(1), pending)
}

func TestNoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	const stock, buyers = 5, 12
	p := testutil.Product(t, f.db, f.venue.ID, "Special", 1000, stock)
	_, host := f.seat(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, short := 0, 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orders.CreateOrder(f.ctx, f.tc, host, []services.OrderLine{line(p.ID, 1)})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, apperr.ErrInsufficientStock) {
				short++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, stock, ok)
	assert.Equal(t, buyers-stock, short)
	assert.Equal(t, 0, testutil.StockOf(t, f.db, p.ID))
}

func TestDetailMutationsKeepTotalAndStock(t *testing.T) {
	f := newFixture(t)
	soup := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	tea := testutil.Product(t, f.db, f.venue.ID, "Tea", 500, 10)
	_, host := f.seat(t)
	o := f.order(t, host, line(soup.ID, 1))

	o, err := f.orders.AddDetail(f.ctx, f.tc, host, o.ID, line(tea.ID, 3))
	require.NoError(t, err)
	assert.Equal(t, int64(1500+1500), o.TotalPrice)
	assert.Equal(t, 7, testutil.StockOf(t, f.db, tea.ID))
	teaLine := o.Details[1].ID

	o, err = f.orders.UpdateDetailQuantity(f.ctx, f.tc, host, o.ID, teaLine, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1500+500), o.TotalPrice)
	assert.Equal(t, 9, testutil.StockOf(t, f.db, tea.ID))

	_, err = f.orders.UpdateDetailQuantity(f.ctx, f.tc, host, o.ID, teaLine, 20)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))
	assert.Equal(t, 9, testutil.StockOf(t, f.db, tea.ID))

	o, err = f.orders.UpdateSpecialRequirements(f.ctx, f.tc, host, o.ID, teaLine, " no sugar ")
	require.NoError(t, err)
	assert.Equal(t, "no sugar", o.Details[1].SpecialInstructions)

	o, err = f.orders.RemoveDetail(f.ctx, f.tc, host, o.ID, teaLine)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), o.TotalPrice)
	assert.Len(t, o.Details, 1)
	assert.Equal(t, 10, testutil.StockOf(t, f.db, tea.ID))

	_, err = f.orders.RemoveDetail(f.ctx, f.tc, host, o.ID, teaLine)
	assert.True(t, errors.Is(err, apperr.ErrNotFound), "a line is only returned to stock once")
	assert.Equal(t, 10, testutil.StockOf(t, f.db, tea.ID))

	stored := f.reload(t, o.ID)
	assert.Equal(t, stored.ComputeTotal(), stored.TotalPrice)
	assert.Equal(t, stored.TotalPrice, stored.ComputeTotal(), "recomputing is idempotent")
}

func TestUpdateDetailAppliesAllFieldsTogether(t *testing.T) {
	f := newFixture(t)
	tea := testutil.Product(t, f.db, f.venue.ID, "Tea", 500, 10)
	_, host := f.seat(t)
	o := f.order(t, host, line(tea.ID, 2))
	teaLine := o.Details[0].ID
	before := f.events.count(hub.EventOrderUpdated)

	tooMany, note := 20, "no sugar"
	_, err := f.orders.UpdateDetail(f.ctx, f.tc, host, o.ID, teaLine, services.DetailUpdate{
		Quantity:            &tooMany,
		SpecialRequirements: &note,
	})
	assert.True(t, errors.Is(err, apperr.ErrInsufficientStock))

	stored := f.reload(t, o.ID)
	assert.Equal(t, 2, stored.Details[0].Quantity)
	assert.Empty(t, stored.Details[0].SpecialInstructions, "a failed quantity change leaves the note alone")
	assert.Equal(t, 8, testutil.StockOf(t, f.db, tea.ID))

	three := 3
	o, err = f.orders.UpdateDetail(f.ctx, f.tc, host, o.ID, teaLine, services.DetailUpdate{
		Quantity:            &three,
		SpecialRequirements: &note,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, o.Details[0].Quantity)
	assert.Equal(t, "no sugar", o.Details[0].SpecialInstructions)
	assert.Equal(t, int64(1500), o.TotalPrice)
	assert.Equal(t, 7, testutil.StockOf(t, f.db, tea.ID))
	assert.Equal(t, before+1, f.events.count(hub.EventOrderUpdated))

	_, err = f.orders.UpdateDetail(f.ctx, f.tc, host, o.ID, teaLine, services.DetailUpdate{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestOnlyOwnerOrStaffMutatesOrder(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	_, host := f.seat(t)
	guest := f.join(t, "Bea")
	o := f.order(t, host, line(p.ID, 1))

	_, err := f.orders.AddDetail(f.ctx, f.tc, guest, o.ID, line(p.ID, 1))
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = f.orders.AddDetail(f.ctx, f.tc, f.staff(models.RoleWaiter), o.ID, line(p.ID, 1))
	assert.NoError(t, err)
}

func TestConcurrentDetailChangesConserveStock(t *testing.T) {
	f := newFixture(t)
	const initial = 100
	p := testutil.Product(t, f.db, f.venue.ID, "Dumpling", 300, initial)
	_, host := f.seat(t)
	guest := f.join(t, "Bea")
	a := f.order(t, host, line(p.ID, 1))
	b := f.order(t, guest, line(p.ID, 2))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			o, err := f.orders.AddDetail(f.ctx, f.tc, host, a.ID, line(p.ID, 1+i%3))
			if err != nil {
				t.Errorf("add: %v", err)
				return
			}
			if i%2 == 0 {
				last := o.Details[len(o.Details)-1]
				if _, err := f.orders.RemoveDetail(f.ctx, f.tc, host, a.ID, last.ID); err != nil {
					t.Errorf("remove: %v", err)
				}
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			if _, err := f.orders.AddDetail(f.ctx, f.tc, guest, b.ID, line(p.ID, 2)); err != nil {
				t.Errorf("add: %v", err)
			}
		}(i)
	}
	wg.Wait()

	_, err := f.orders.UpdateStatus(f.ctx, f.tc, guest, b.ID, models.OrderStatusCancelled)
	require.NoError(t, err)

	held := 0
	for _, id := range []uint{a.ID, b.ID} {
		o := f.reload(t, id)
		assert.Equal(t, o.ComputeTotal(), o.TotalPrice, "total tracks the live lines")
		if o.Status == models.OrderStatusCancelled {
			continue
		}
		for _, d := range o.Details {
			if !d.Removed {
				held += d.Quantity
			}
		}
	}
	assert.Equal(t, initial-held, testutil.StockOf(t, f.db, p.ID))
}

func TestUpdateStatusRules(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	_, host := f.seat(t)
	guest := f.join(t, "Bea")
	chef := f.staff(models.RoleChef)
	o := f.order(t, host, line(p.ID, 2))

	_, err := f.orders.UpdateStatus(f.ctx, f.tc, host, o.ID, models.OrderStatusInProgress)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "diners cannot advance orders")

	_, err = f.orders.UpdateStatus(f.ctx, f.tc, guest, o.ID, models.OrderStatusCancelled)
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "diners only cancel their own orders")

	_, err = f.orders.UpdateStatus(f.ctx, f.tc, chef, o.ID, models.OrderStatusReady)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))

	_, err = f.orders.UpdateStatus(f.ctx, f.tc, chef, o.ID, "SHIPPED")
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	for _, status := range []string{models.OrderStatusInProgress, models.OrderStatusReady, models.OrderStatusDelivered} {
		got, err := f.orders.UpdateStatus(f.ctx, f.tc, chef, o.ID, status)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
	}
	assert.Equal(t, 3, f.events.count(hub.EventOrderStatusChanged))

	_, err = f.orders.UpdateStatus(f.ctx, f.tc, chef, o.ID, models.OrderStatusCancelled)
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))

	_, err = f.orders.AddDetail(f.ctx, f.tc, chef, o.ID, line(p.ID, 1))
	assert.True(t, errors.Is(err, apperr.ErrOrderNotModifiable))
	assert.Equal(t, 8, testutil.StockOf(t, f.db, p.ID), "delivered lines stay consumed")
}

func TestCancelRestoresStock(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	q := testutil.Product(t, f.db, f.venue.ID, "Tea", 500, 10)
	_, host := f.seat(t)
	o := f.order(t, host, line(p.ID, 2), line(q.ID, 4))
	o, err := f.orders.RemoveDetail(f.ctx, f.tc, host, o.ID, o.Details[1].ID)
	require.NoError(t, err)

	_, err = f.orders.UpdateStatus(f.ctx, f.tc, host, o.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 10, testutil.StockOf(t, f.db, p.ID))
	assert.Equal(t, 10, testutil.StockOf(t, f.db, q.ID), "removed lines are not returned twice")

	_, err = f.orders.RemoveDetail(f.ctx, f.tc, host, o.ID, o.Details[0].ID)
	assert.True(t, errors.Is(err, apperr.ErrOrderNotModifiable))
}

func TestClosedSessionBlocksNewOrdersButNotCancellation(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	res, host := f.seat(t)
	o := f.order(t, host, line(p.ID, 1))

	_, err := f.sessions.Close(f.ctx, f.tc, host, res.Session.ID)
	require.NoError(t, err)

	_, err = f.orders.CreateOrder(f.ctx, f.tc, host, []services.OrderLine{line(p.ID, 1)})
	assert.True(t, errors.Is(err, apperr.ErrSessionClosed))
	assert.True(t, errors.Is(err, apperr.ErrInvalidStateTransition))

	cancelled, err := f.orders.UpdateStatus(f.ctx, f.tc, host, o.ID, models.OrderStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, testutil.StockOf(t, f.db, p.ID))
}

func TestOrderNumbersArePerVenuePerDay(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	_, host := f.seat(t)

	day := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.orders.SetClock(func() time.Time { return day })
	assert.Equal(t, 1, f.order(t, host, line(p.ID, 1)).Number)
	assert.Equal(t, 2, f.order(t, host, line(p.ID, 1)).Number)

	f.orders.SetClock(func() time.Time { return day.Add(24 * time.Hour) })
	next := f.order(t, host, line(p.ID, 1))
	assert.Equal(t, 1, next.Number)
	assert.Equal(t, "2026-03-02", next.BusinessDay)

	other := testutil.Venue(t, f.db, "Other")
	otherTable := testutil.Table(t, f.db, other.ID, "A1")
	op := testutil.Product(t, f.db, other.ID, "Noodles", 800, 5)
	res, err := f.sessions.Enter(f.ctx, otherTable.ID, nil, "")
	require.NoError(t, err)
	o, err := f.orders.CreateOrder(f.ctx, tenantOf(other), f.scope(t, res), []services.OrderLine{line(op.ID, 1)})
	require.NoError(t, err)
	assert.Equal(t, 1, o.Number)
}

func TestOrderVisibility(t *testing.T) {
	f := newFixture(t)
	p := testutil.Product(t, f.db, f.venue.ID, "Soup", 1500, 10)
	_, host := f.seat(t)
	guest := f.join(t, "Bea")
	o := f.order(t, host, line(p.ID, 1))

	got, err := f.orders.GetOrder(f.ctx, f.tc, guest, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	otherTable := testutil.Table(t, f.db, f.venue.ID, "T2")
	res, err := f.sessions.Enter(f.ctx, otherTable.ID, nil, "")
	require.NoError(t, err)
	stranger := f.scope(t, res)

	_, err = f.orders.GetOrder(f.ctx, f.tc, stranger, o.ID)
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	other := testutil.Venue(t, f.db, "Other")
	_, err = f.orders.GetOrder(f.ctx, tenantOf(other), testutil.Staff(other.ID, models.RoleAdmin), o.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	list, err := f.orders.ListBySession(f.ctx, f.tc, host, o.TableSessionID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.orders.ListByVenue(f.ctx, f.tc, host, "")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	pending, err := f.orders.ListByVenue(f.ctx, f.tc, f.staff(models.RoleWaiter), "pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
