package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/crm"
)

// InMemoryCRM is a crm.Client that keeps records in maps. Failures can be
// scripted per operation.
type InMemoryCRM struct {
	mu       sync.Mutex
	seq      int
	contacts map[string]string
	products map[string]string
	deals    map[string]crm.Deal
	failures map[string][]error
	calls    map[string]int
}

// NewInMemoryCRM creates an empty CRM
func NewInMemoryCRM() *InMemoryCRM {
	return &InMemoryCRM{
		contacts: make(map[string]string),
		products: make(map[string]string),
		deals:    make(map[string]crm.Deal),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next len(errs) calls of op return errs in order.
// Operations are FindContact, CreateContact, FindProduct, CreateProduct and UpsertDeal.
func (c *InMemoryCRM) FailNext(op string, errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], errs...)
}

// Calls returns how often op was invoked
func (c *InMemoryCRM) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Deals returns a copy of the stored deals keyed by deal ID
func (c *InMemoryCRM) Deals() map[string]crm.Deal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]crm.Deal, len(c.deals))
	for k, v := range c.deals {
		out[k] = v
	}
	return out
}

func (c *InMemoryCRM) enter(op string) error {
	c.calls[op]++
	if errs := c.failures[op]; len(errs) > 0 {
		c.failures[op] = errs[1:]
		return errs[0]
	}
	return nil
}

func (c *InMemoryCRM) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%d", prefix, c.seq)
}

func (c *InMemoryCRM) FindContact(_ context.Context, email string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("FindContact"); err != nil {
		return "", err
	}
	if id, ok := c.contacts[strings.ToLower(email)]; ok {
		return id, nil
	}
	return "", crm.ErrNotFound
}

func (c *InMemoryCRM) CreateContact(_ context.Context, contact crm.Contact) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateContact"); err != nil {
		return "", err
	}
	key := strings.ToLower(contact.Email)
	if _, ok := c.contacts[key]; ok {
		return "", crm.ErrDuplicate
	}
	id := c.nextID("contact")
	c.contacts[key] = id
	return id, nil
}

func (c *InMemoryCRM) FindProduct(_ context.Context, sku string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("FindProduct"); err != nil {
		return "", err
	}
	if id, ok := c.products[sku]; ok {
		return id, nil
	}
	return "", crm.ErrNotFound
}

func (c *InMemoryCRM) CreateProduct(_ context.Context, product crm.Product) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateProduct"); err != nil {
		return "", err
	}
	if _, ok := c.products[product.SKU]; ok {
		return "", crm.ErrDuplicate
	}
	id := c.nextID("product")
	c.products[product.SKU] = id
	return id, nil
}

func (c *InMemoryCRM) UpsertDeal(_ context.Context, dealID string, deal crm.Deal) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("UpsertDeal"); err != nil {
		return "", err
	}
	if dealID == "" {
		dealID = c.nextID("deal")
	} else if _, ok := c.deals[dealID]; !ok {
		return "", crm.ErrNotFound
	}
	c.deals[dealID] = deal
	return dealID, nil
}

var _ crm.Client = (*InMemoryCRM)(nil)
