// Package testutil provides shared helpers for the fulfillment test suites:
// sqlmock-backed gorm handles, gin test contexts, order fixtures and an
// in-memory CRM.
package testutil

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	fulfillmentapp "github.com/thegunfirm/Mag-Lock-sub003/internal/application/fulfillment"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockDB wraps a GORM database with sqlmock for testing.
type MockDB struct {
	DB    *gorm.DB
	Mock  sqlmock.Sqlmock
	SqlDB *sql.DB
}

// NewMockDB creates a new mock database for testing.
// The caller is responsible for calling Close() when done.
func NewMockDB(t *testing.T) *MockDB {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create sqlmock")

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err, "Failed to open GORM connection")

	return &MockDB{
		DB:    gormDB,
		Mock:  mock,
		SqlDB: mockDB,
	}
}

// Close closes the mock database connection.
func (m *MockDB) Close() error {
	return m.SqlDB.Close()
}

// ExpectationsWereMet verifies that all expectations were met.
func (m *MockDB) ExpectationsWereMet(t *testing.T) {
	t.Helper()
	require.NoError(t, m.Mock.ExpectationsWereMet(), "Unmet database expectations")
}

// TestContext wraps a Gin test context with HTTP recorder.
type TestContext struct {
	Context  *gin.Context
	Recorder *httptest.ResponseRecorder
	Engine   *gin.Engine
}

// NewTestContext creates a new Gin test context.
func NewTestContext(t *testing.T) *TestContext {
	t.Helper()

	w := httptest.NewRecorder()
	c, engine := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	return &TestContext{
		Context:  c,
		Recorder: w,
		Engine:   engine,
	}
}

// SetRequestID sets the request ID the logging middleware would assign.
func (tc *TestContext) SetRequestID(id string) {
	tc.Context.Set("request_id", id)
}

// ResponseCode returns the HTTP status code.
func (tc *TestContext) ResponseCode() int {
	return tc.Recorder.Code
}

// LineItem describes a fixture line item
type LineItem struct {
	SKU       string
	Quantity  int
	UnitPrice string
	Regulated bool
	DropShip  bool
	InHouse   bool
}

// Regulated returns a line item that must ship to a licensed dealer
func Regulated(sku string, qty int) LineItem {
	return LineItem{SKU: sku, Quantity: qty, UnitPrice: "899.00", Regulated: true}
}

// DropShip returns a line item the distributor ships directly
func DropShip(sku string, qty int) LineItem {
	return LineItem{SKU: sku, Quantity: qty, UnitPrice: "24.50", DropShip: true}
}

// InHouse returns a line item shipped from the store's own stock
func InHouse(sku string, qty int) LineItem {
	return LineItem{SKU: sku, Quantity: qty, UnitPrice: "450.00", InHouse: true}
}

// NewOrderRequest builds a storefront order submission
func NewOrderRequest(sequence int64, items ...LineItem) fulfillmentapp.CreateOrderRequest {
	req := fulfillmentapp.CreateOrderRequest{
		Sequence: sequence,
		Customer: fulfillmentapp.CustomerRequest{
			Email:     "buyer@example.com",
			FirstName: "Pat",
			LastName:  "Doe",
		},
	}
	for _, it := range items {
		req.Items = append(req.Items, fulfillmentapp.CreateLineItemRequest{
			ProductSKU:            it.SKU,
			Name:                  "Item " + it.SKU,
			Manufacturer:          "Acme",
			Quantity:              it.Quantity,
			UnitPrice:             decimal.RequireFromString(it.UnitPrice),
			RequiresLicenseHolder: it.Regulated,
			DropShipEligible:      it.DropShip,
			InHouseOnly:           it.InHouse,
		})
	}
	return req
}

// ContextWithTimeout creates a context with a timeout that is cancelled on cleanup.
func ContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// RequireEventually polls condition until it holds or the timeout expires.
func RequireEventually(t *testing.T, condition func() bool, timeout, interval time.Duration, msgAndArgs ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(interval)
	}

	require.Fail(t, "Condition not met within timeout", msgAndArgs...)
}
