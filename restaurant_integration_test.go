package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/config"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/router"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/testutil"
	"github.com/yeremiapane/dinein/utils"
)

func TestMain(m *testing.M) {
	utils.InitLogger("error")
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type app struct {
	t        *testing.T
	db       *gorm.DB
	handler  http.Handler
	registry *hub.Registry
}

func newApp(t *testing.T) *app {
	db := testutil.NewDB(t)

	tokens := auth.NewTokenService("integration-secret", time.Hour)
	issuer := auth.NewIssuer(tokens, auth.NewRefreshStore(db, 24*time.Hour, 30*time.Second))
	tenants := tenant.NewResolver(db)
	registry := hub.NewRegistry(hub.DefaultOptions())
	notifier := services.LogNotifier{}
	employments := services.NewEmploymentService(db, notifier)

	r := router.SetupRouter(router.Deps{
		Server:      config.ServerConfig{CORSAllowedOrigins: []string{"*"}},
		Tokens:      tokens,
		Tenants:     tenants,
		Auth:        services.NewAuthService(issuer, employments, tenants),
		Sessions:    services.NewSessionService(db, issuer, registry, notifier, "http://dinein.test"),
		Orders:      services.NewOrderService(db, services.NewCatalog(), registry),
		Payments:    services.NewPaymentService(db, registry),
		Employments: employments,
		Registry:    registry,
	})
	return &app{t: t, db: db, handler: r, registry: registry}
}

func (a *app) do(method, path, token string, body interface{}) (int, envelope) {
	a.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)

	var env envelope
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v), string(env.Data))
}

func errorCode(t *testing.T, env envelope) string {
	var data struct {
		Code string `json:"code"`
	}
	decode(t, env, &data)
	return data.Code
}

type entered struct {
	Session     models.TableSession `json:"session"`
	Participant models.Participant  `json:"participant"`
	Credentials auth.Credentials    `json:"credentials"`
}

// TestDineInFlow walks a table from first seat to closing: enter, order,
// prepare, pay, close.
func TestDineInFlow(t *testing.T) {
	a := newApp(t)
	venue := testutil.Venue(t, a.db, "Harbor")
	table := testutil.Table(t, a.db, venue.ID, "T1")
	soup := testutil.Product(t, a.db, venue.ID, "Soup", 10000, 5)
	waiter := testutil.User(t, a.db, "Wendy", "wendy@harbor.test", "secret123")
	testutil.Employ(t, a.db, venue.ID, waiter.ID, models.RoleWaiter)

	// A guest opens the table.
	code, env := a.do(http.MethodPost, fmt.Sprintf("/tables/%d/enter", table.ID), "", nil)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var host entered
	decode(t, env, &host)
	require.NotEmpty(t, host.Credentials.AccessToken)
	assert.Equal(t, models.RoleGuest, host.Participant.Role)
	guest := host.Credentials.AccessToken

	// The table is now occupied.
	code, env = a.do(http.MethodPost, fmt.Sprintf("/tables/%d/enter", table.ID), "", nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "table_already_occupied", errorCode(t, env))

	// A second diner joins instead.
	code, env = a.do(http.MethodPost, fmt.Sprintf("/tables/%d/join", table.ID), "", map[string]string{"nickname": "Sam"})
	require.Equal(t, http.StatusOK, code, env.Message)
	var joiner entered
	decode(t, env, &joiner)
	assert.Equal(t, host.Session.ID, joiner.Session.ID)
	assert.Equal(t, "Sam", joiner.Participant.Nickname)

	// Ordering.
	code, env = a.do(http.MethodPost, "/orders", guest, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": soup.ID, "quantity": 2}},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var order models.Order
	decode(t, env, &order)
	assert.Equal(t, int64(20000), order.TotalPrice)
	assert.Equal(t, 1, order.Number)
	assert.Equal(t, 3, testutil.StockOf(t, a.db, soup.ID))

	code, env = a.do(http.MethodPost, "/orders", guest, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": soup.ID, "quantity": 10}},
	})
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "insufficient_stock", errorCode(t, env))
	assert.Equal(t, 3, testutil.StockOf(t, a.db, soup.ID))

	// Diners cannot drive the kitchen.
	code, _ = a.do(http.MethodPatch, fmt.Sprintf("/orders/%d/status", order.ID), guest, map[string]string{"status": models.OrderStatusInProgress})
	assert.Equal(t, http.StatusForbidden, code)

	// Staff sign in for the venue.
	code, env = a.do(http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email": "wendy@harbor.test", "password": "secret123", "venue_id": venue.ID,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var login struct {
		Credentials auth.Credentials    `json:"credentials"`
		Context     auth.SessionContext `json:"context"`
	}
	decode(t, env, &login)
	assert.Equal(t, models.RoleWaiter, login.Context.Role)
	staff := login.Credentials.AccessToken

	code, env = a.do(http.MethodPatch, fmt.Sprintf("/orders/%d/status", order.ID), staff, map[string]string{"status": models.OrderStatusInProgress})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(http.MethodGet, "/orders?status=IN_PROGRESS", staff, nil)
	require.Equal(t, http.StatusOK, code)
	var inProgress []models.Order
	decode(t, env, &inProgress)
	require.Len(t, inProgress, 1)
	assert.Equal(t, order.ID, inProgress[0].ID)

	// Paying.
	code, env = a.do(http.MethodPost, "/payments", guest, map[string]interface{}{
		"order_ids": []uint{order.ID}, "payment_method": models.PaymentMethodCash,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var payment models.Payment
	decode(t, env, &payment)
	assert.Equal(t, int64(20000), payment.Amount)

	code, _ = a.do(http.MethodPatch, fmt.Sprintf("/payments/%d/status", payment.ID), guest, map[string]string{"status": models.PaymentStatusCompleted})
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(http.MethodPatch, fmt.Sprintf("/payments/%d/status", payment.ID), staff, map[string]string{"status": models.PaymentStatusCompleted})
	require.Equal(t, http.StatusOK, code, env.Message)

	// A settled order is frozen.
	code, env = a.do(http.MethodPost, fmt.Sprintf("/orders/%d/details", order.ID), guest, map[string]interface{}{"product_id": soup.ID, "quantity": 1})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "order_not_modifiable", errorCode(t, env))

	// Staff see the venue's sessions; diners do not.
	code, _ = a.do(http.MethodGet, "/sessions?open=true", guest, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = a.do(http.MethodGet, "/sessions?open=true", staff, nil)
	require.Equal(t, http.StatusOK, code)
	var open []models.TableSession
	decode(t, env, &open)
	require.Len(t, open, 1)
	assert.Len(t, open[0].Participants, 2)

	// Closing ends ordering.
	code, env = a.do(http.MethodPost, fmt.Sprintf("/sessions/%d/close", host.Session.ID), guest, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = a.do(http.MethodPost, "/orders", guest, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": soup.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "session_closed", errorCode(t, env))

	// The table is free again.
	code, _ = a.do(http.MethodPost, fmt.Sprintf("/tables/%d/enter", table.ID), "", nil)
	assert.Equal(t, http.StatusCreated, code)
}

func TestScopedRoutesRequireCredential(t *testing.T) {
	a := newApp(t)

	code, env := a.do(http.MethodGet, "/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credential", errorCode(t, env))

	code, _ = a.do(http.MethodGet, "/orders", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env = a.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "nobody@dinein.test", "password": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credential", errorCode(t, env))
}

func TestOtherVenueIsInvisible(t *testing.T) {
	a := newApp(t)
	harbor := testutil.Venue(t, a.db, "Harbor")
	hill := testutil.Venue(t, a.db, "Hill")
	table := testutil.Table(t, a.db, harbor.ID, "T1")
	soup := testutil.Product(t, a.db, harbor.ID, "Soup", 10000, 5)
	hillWaiter := testutil.User(t, a.db, "Hugo", "hugo@hill.test", "secret123")
	testutil.Employ(t, a.db, hill.ID, hillWaiter.ID, models.RoleWaiter)

	_, env := a.do(http.MethodPost, fmt.Sprintf("/tables/%d/enter", table.ID), "", nil)
	var host entered
	decode(t, env, &host)
	_, env = a.do(http.MethodPost, "/orders", host.Credentials.AccessToken, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": soup.ID, "quantity": 1}},
	})
	var order models.Order
	decode(t, env, &order)

	_, env = a.do(http.MethodPost, "/auth/login", "", map[string]interface{}{
		"email": "hugo@hill.test", "password": "secret123", "venue_id": hill.ID,
	})
	var login struct {
		Credentials auth.Credentials `json:"credentials"`
	}
	decode(t, env, &login)

	code, _ := a.do(http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), login.Credentials.AccessToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWebsocketReceivesSessionEvents(t *testing.T) {
	a := newApp(t)
	venue := testutil.Venue(t, a.db, "Harbor")
	table := testutil.Table(t, a.db, venue.ID, "T1")
	soup := testutil.Product(t, a.db, venue.ID, "Soup", 10000, 5)

	_, env := a.do(http.MethodPost, fmt.Sprintf("/tables/%d/enter", table.ID), "", nil)
	var host entered
	decode(t, env, &host)
	token := host.Credentials.AccessToken

	srv := httptest.NewServer(a.handler)
	defer srv.Close()

	// Without a table session the upgrade is refused.
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws?token="+token, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg hub.Message
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, hub.EventConnectionAck, msg.Event)
	assert.Equal(t, host.Session.ID, msg.TableSessionID)

	code, env := a.do(http.MethodPost, "/orders", token, map[string]interface{}{
		"items": []map[string]interface{}{{"product_id": soup.ID, "quantity": 1}},
	})
	require.Equal(t, http.StatusCreated, code, env.Message)

	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, hub.EventNewOrder, msg.Event)
	assert.Equal(t, 1, a.registry.Count(host.Session.ID))
}
