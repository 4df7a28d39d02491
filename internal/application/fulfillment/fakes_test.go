package fulfillment

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/compliance"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
	domain "github.com/thegunfirm/Mag-Lock-sub003/internal/domain/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/shared"
)

var baseTime = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// ---- orders ----

type fakeOrders struct {
	mu     sync.Mutex
	orders map[int64]*domain.Order
	nextID int64
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{orders: make(map[int64]*domain.Order), nextID: 1}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.LineItem(nil), o.Items...)
	return &c
}

func (r *fakeOrders) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.ID == 0 {
		for r.orders[r.nextID] != nil {
			r.nextID++
		}
		order.ID = r.nextID
	}
	if _, exists := r.orders[order.ID]; exists {
		return fmt.Errorf("order %d exists", order.ID)
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *fakeOrders) FindByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (r *fakeOrders) FindPending(_ context.Context, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Order
	for _, o := range r.orders {
		if o.Status == domain.OrderStatusPending || o.Status == domain.OrderStatusProcessing {
			out = append(out, *cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeOrders) Update(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	stored.ExternalOrderNumber = order.ExternalOrderNumber
	stored.Status = order.Status
	stored.DealerRef = order.DealerRef
	stored.CancelledAt = order.CancelledAt
	stored.UpdatedAt = order.UpdatedAt
	return nil
}

func (r *fakeOrders) CountRegulatedUnits(_ context.Context, email string, since time.Time, exclude int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	units := 0
	for id, o := range r.orders {
		if id == exclude || o.IsCancelled() || o.Customer.NormalizedEmail() != email || o.CreatedAt.Before(since) {
			continue
		}
		units += o.RegulatedUnits()
	}
	return units, nil
}

func (r *fakeOrders) status(t *testing.T, id int64) domain.OrderStatus {
	t.Helper()
	o, err := r.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("order %d: %v", id, err)
	}
	return o.Status
}

// ---- groups ----

type groupKey struct {
	orderID int64
	index   int
}

type fakeGroups struct {
	mu     sync.Mutex
	groups map[groupKey]domain.FulfillmentGroup
	// onSave runs after a save with the lock released
	onSave func(g domain.FulfillmentGroup)
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{groups: make(map[groupKey]domain.FulfillmentGroup)}
}

func (r *fakeGroups) CreateAll(_ context.Context, groups []domain.FulfillmentGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range groups {
		k := groupKey{g.OrderID, g.GroupIndex}
		if _, exists := r.groups[k]; exists {
			continue
		}
		r.groups[k] = g
	}
	return nil
}

func (r *fakeGroups) FindByOrder(_ context.Context, orderID int64) ([]domain.FulfillmentGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.FulfillmentGroup
	for k, g := range r.groups {
		if k.orderID == orderID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupIndex < out[j].GroupIndex })
	return out, nil
}

func (r *fakeGroups) FindOne(_ context.Context, orderID int64, index int) (*domain.FulfillmentGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupKey{orderID, index}]
	if !ok {
		return nil, domain.ErrGroupNotFound
	}
	return &g, nil
}

func (r *fakeGroups) Save(_ context.Context, group *domain.FulfillmentGroup) error {
	r.mu.Lock()
	k := groupKey{group.OrderID, group.GroupIndex}
	stored, ok := r.groups[k]
	if !ok {
		r.mu.Unlock()
		return domain.ErrGroupNotFound
	}
	stored.Status = group.Status
	stored.Attempts = group.Attempts
	stored.LastErrorClass = group.LastErrorClass
	stored.LastError = group.LastError
	stored.ConsigneeRef = group.ConsigneeRef
	stored.UpdatedAt = group.UpdatedAt
	r.groups[k] = stored
	hook := r.onSave
	r.mu.Unlock()
	if hook != nil {
		hook(stored)
	}
	return nil
}

func (r *fakeGroups) get(t *testing.T, orderID int64, index int) domain.FulfillmentGroup {
	t.Helper()
	g, err := r.FindOne(context.Background(), orderID, index)
	if err != nil {
		t.Fatalf("group %d/%d: %v", orderID, index, err)
	}
	return *g
}

// ---- deal records ----

type fakeDeals struct {
	mu      sync.Mutex
	records map[groupKey]domain.ExternalDealRecord
}

func newFakeDeals() *fakeDeals {
	return &fakeDeals{records: make(map[groupKey]domain.ExternalDealRecord)}
}

func (r *fakeDeals) Find(_ context.Context, orderID int64, index int) (*domain.ExternalDealRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[groupKey{orderID, index}]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (r *fakeDeals) FindByOrder(_ context.Context, orderID int64) ([]domain.ExternalDealRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExternalDealRecord
	for k, rec := range r.records {
		if k.orderID == orderID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupIndex < out[j].GroupIndex })
	return out, nil
}

func (r *fakeDeals) Save(_ context.Context, record *domain.ExternalDealRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := groupKey{record.OrderID, record.GroupIndex}
	if existing, ok := r.records[k]; ok && existing.ExternalDealID != "" && existing.ExternalDealID != record.ExternalDealID {
		return domain.ErrDealIDImmutable
	}
	rec := *record
	rec.ProductRecordIDs = append([]string(nil), record.ProductRecordIDs...)
	r.records[k] = rec
	return nil
}

// ---- holds ----

type fakeHolds struct {
	mu    sync.Mutex
	holds []compliance.ComplianceHold
}

func (r *fakeHolds) FindLatest(_ context.Context, orderID int64, index int) (*compliance.ComplianceHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *compliance.ComplianceHold
	for i := range r.holds {
		h := r.holds[i]
		if h.OrderID != orderID || h.GroupIndex != index {
			continue
		}
		switch {
		case latest == nil:
		case latest.IsActive():
			continue
		case !h.IsActive() && !h.StartedAt.After(latest.StartedAt):
			continue
		}
		latest = &h
	}
	return latest, nil
}

func (r *fakeHolds) FindByOrder(_ context.Context, orderID int64) ([]compliance.ComplianceHold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []compliance.ComplianceHold
	for _, h := range r.holds {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *fakeHolds) Save(_ context.Context, hold *compliance.ComplianceHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.holds {
		if r.holds[i].ID == hold.ID {
			r.holds[i] = *hold
			return nil
		}
	}
	r.holds = append(r.holds, *hold)
	return nil
}

func (r *fakeHolds) Replace(_ context.Context, previous, next *compliance.ComplianceHold) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.holds {
		if r.holds[i].ID != previous.ID {
			continue
		}
		if !r.holds[i].IsActive() {
			return compliance.ErrHoldNotActive
		}
		r.holds[i] = *previous
		r.holds = append(r.holds, *next)
		return nil
	}
	return compliance.ErrHoldNotActive
}

func (r *fakeHolds) forGroup(orderID int64, index int) []compliance.ComplianceHold {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []compliance.ComplianceHold
	for _, h := range r.holds {
		if h.OrderID == orderID && h.GroupIndex == index {
			out = append(out, h)
		}
	}
	return out
}

// ---- ledger ----

type fakeLedger struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (l *fakeLedger) Append(_ context.Context, entry activity.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *fakeLedger) ListByOrder(_ context.Context, orderID int64) ([]activity.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []activity.Entry
	for _, e := range l.entries {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLedger) count(orderID int64, event activity.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.OrderID == orderID && e.EventType == event {
			n++
		}
	}
	return n
}

// ---- dealers ----

type fakeDealers struct {
	mu      sync.Mutex
	dealers map[string]compliance.DealerRecord
}

func newFakeDealers() *fakeDealers {
	return &fakeDealers{dealers: make(map[string]compliance.DealerRecord)}
}

func (r *fakeDealers) Lookup(_ context.Context, ref string) (*compliance.DealerRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dealers[ref]
	if !ok {
		return nil, compliance.ErrDealerNotFound
	}
	return &d, nil
}

func (r *fakeDealers) add(ref string, expires time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dealers[ref] = compliance.DealerRecord{Ref: ref, Name: "Dealer " + ref, LicenseNumber: "LIC-" + ref, ExpiresAt: expires}
}

// ---- claims ----

type fakeClaims struct {
	mu     sync.Mutex
	held   map[string]string
	next   int
	claims int
}

func newFakeClaims() *fakeClaims {
	return &fakeClaims{held: make(map[string]string)}
}

func (s *fakeClaims) Claim(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.held[key]; taken {
		return "", false, nil
	}
	s.next++
	s.claims++
	token := fmt.Sprintf("token-%d", s.next)
	s.held[key] = token
	return token, true, nil
}

func (s *fakeClaims) Release(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] == token {
		delete(s.held, key)
	}
	return nil
}

func (s *fakeClaims) hold(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held[key] = "foreign"
}

func (s *fakeClaims) outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

// ---- CRM ----

const (
	opFindContact   = "find_contact"
	opCreateContact = "create_contact"
	opFindProduct   = "find_product"
	opCreateProduct = "create_product"
	opCreateDeal    = "create_deal"
	opUpdateDeal    = "update_deal"
)

type fakeCRM struct {
	mu       sync.Mutex
	contacts map[string]string
	products map[string]string
	deals    map[string]crm.Deal
	next     int
	calls    map[string]int
	// failures are returned, in order, before an operation behaves normally
	failures map[string][]error
	// onCall runs before each call with the lock released
	onCall func(op string)
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		contacts: make(map[string]string),
		products: make(map[string]string),
		deals:    make(map[string]crm.Deal),
		calls:    make(map[string]int),
		failures: make(map[string][]error),
	}
}

func (c *fakeCRM) fail(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], errs...)
}

func (c *fakeCRM) callCount(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *fakeCRM) dealCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deals)
}

// begin records the call and pops a queued failure. The caller holds no lock.
func (c *fakeCRM) begin(op string) error {
	if hook := c.onCall; hook != nil {
		hook(op)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[op]++
	if q := c.failures[op]; len(q) > 0 {
		c.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (c *fakeCRM) newID(prefix string) string {
	c.next++
	return fmt.Sprintf("%s-%d", prefix, c.next)
}

func (c *fakeCRM) FindContact(_ context.Context, email string) (string, error) {
	if err := c.begin(opFindContact); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.contacts[email]; ok {
		return id, nil
	}
	return "", crm.NewError(crm.ClassNotFound, opFindContact, nil)
}

func (c *fakeCRM) CreateContact(_ context.Context, contact crm.Contact) (string, error) {
	if err := c.begin(opCreateContact); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.contacts[contact.Email]; ok {
		return "", crm.NewError(crm.ClassDuplicate, opCreateContact, nil)
	}
	id := c.newID("contact")
	c.contacts[contact.Email] = id
	return id, nil
}

func (c *fakeCRM) FindProduct(_ context.Context, sku string) (string, error) {
	if err := c.begin(opFindProduct); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.products[sku]; ok {
		return id, nil
	}
	return "", crm.NewError(crm.ClassNotFound, opFindProduct, nil)
}

func (c *fakeCRM) CreateProduct(_ context.Context, product crm.Product) (string, error) {
	if err := c.begin(opCreateProduct); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.products[product.SKU]; ok {
		return "", crm.NewError(crm.ClassDuplicate, opCreateProduct, nil)
	}
	id := c.newID("product")
	c.products[product.SKU] = id
	return id, nil
}

func (c *fakeCRM) UpsertDeal(_ context.Context, dealID string, deal crm.Deal) (string, error) {
	op := opCreateDeal
	if dealID != "" {
		op = opUpdateDeal
	}
	if err := c.begin(op); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if dealID == "" {
		id := c.newID("deal")
		c.deals[id] = deal
		return id, nil
	}
	if _, ok := c.deals[dealID]; !ok {
		return "", crm.NewError(crm.ClassNotFound, opUpdateDeal, nil)
	}
	c.deals[dealID] = deal
	return dealID, nil
}

// ---- archiver ----

type MockLedgerArchiver struct {
	mock.Mock
}

func (m *MockLedgerArchiver) Archive(ctx context.Context, orderID int64, label string, entries []activity.Entry) (string, error) {
	args := m.Called(ctx, orderID, label, entries)
	return args.String(0), args.Error(1)
}

// ---- harness ----

type harness struct {
	orders  *fakeOrders
	groups  *fakeGroups
	deals   *fakeDeals
	holds   *fakeHolds
	ledger  *fakeLedger
	dealers *fakeDealers
	claims  *fakeClaims
	crm     *fakeCRM
	waits   []time.Duration
	waitsMu sync.Mutex
	orch    *Orchestrator
}

func newHarness(t *testing.T, mutate func(*Config, *compliance.Rules), opts ...Option) *harness {
	t.Helper()
	h := &harness{
		orders:  newFakeOrders(),
		groups:  newFakeGroups(),
		deals:   newFakeDeals(),
		holds:   &fakeHolds{},
		ledger:  &fakeLedger{},
		dealers: newFakeDealers(),
		claims:  newFakeClaims(),
		crm:     newFakeCRM(),
	}
	cfg := DefaultConfig()
	rules := compliance.Rules{PerOrderLimit: 10}
	if mutate != nil {
		mutate(&cfg, &rules)
	}
	sleeper := func(_ context.Context, d time.Duration) error {
		h.waitsMu.Lock()
		defer h.waitsMu.Unlock()
		h.waits = append(h.waits, d)
		return nil
	}
	all := append([]Option{WithClock(shared.NewFixedClock(baseTime)), WithSleeper(sleeper)}, opts...)
	h.orch = NewOrchestrator(Dependencies{
		Orders:    h.orders,
		Groups:    h.groups,
		Deals:     h.deals,
		Holds:     h.holds,
		Dealers:   h.dealers,
		Ledger:    h.ledger,
		CRM:       h.crm,
		Claims:    h.claims,
		Evaluator: compliance.NewEvaluator(rules),
	}, cfg, all...)
	return h
}

func (h *harness) addOrder(t *testing.T, order *domain.Order) *domain.Order {
	t.Helper()
	if err := h.orders.Create(context.Background(), order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func newOrder(id int64, isTest bool, items ...domain.LineItem) *domain.Order {
	for i := range items {
		items[i].LineNumber = i + 1
	}
	o := &domain.Order{
		ID:        id,
		Customer:  domain.Customer{Email: "Buyer@Example.com", FirstName: "Pat", LastName: "Doe"},
		Items:     items,
		Status:    domain.OrderStatusPending,
		IsTest:    isTest,
		CreatedAt: baseTime.Add(-time.Hour),
		UpdatedAt: baseTime.Add(-time.Hour),
	}
	o.TotalAmount = o.ItemsTotal()
	return o
}

func regulated(sku string, qty int) domain.LineItem {
	return domain.LineItem{ProductSKU: sku, Name: "Rifle " + sku, Quantity: qty, UnitPrice: decimal.NewFromInt(899), RequiresLicenseHolder: true}
}

func inHouse(sku string, qty int) domain.LineItem {
	return domain.LineItem{ProductSKU: sku, Name: "Safe " + sku, Quantity: qty, UnitPrice: decimal.NewFromInt(450), InHouseOnly: true}
}

func dropShip(sku string, qty int) domain.LineItem {
	return domain.LineItem{ProductSKU: sku, Name: "Optic " + sku, Quantity: qty, UnitPrice: decimal.RequireFromString("129.99"), DropShipEligible: true}
}

func transientErr(op string) error {
	return crm.NewError(crm.ClassTransient, op, fmt.Errorf("connection reset"))
}
