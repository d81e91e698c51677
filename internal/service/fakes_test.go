package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func fixedClock() time.Time { return testNow }

// memStore is an in-memory stand-in for every repository the services use.
type memStore struct {
	mu sync.Mutex

	users     map[int]*entity.User
	addresses map[int]*entity.Address
	carts     map[int]*entity.Cart // by user id
	stock     map[int]int
	coupons   map[string]*entity.Coupon
	usages    []entity.CouponUsage
	taxRates  map[string]*entity.TaxRate
	methods   map[int]*entity.ShippingMethod
	orders    map[int]*entity.Order
	payments  map[int]*entity.Payment
	sequences map[string]int
	nextID    int

	// stale holds one outdated read per transaction id, served before the live row
	stale map[string]*entity.Payment
}

func newMemStore() *memStore {
	return &memStore{
		users:     map[int]*entity.User{},
		addresses: map[int]*entity.Address{},
		carts:     map[int]*entity.Cart{},
		stock:     map[int]int{},
		coupons:   map[string]*entity.Coupon{},
		taxRates:  map[string]*entity.TaxRate{},
		methods:   map[int]*entity.ShippingMethod{},
		orders:    map[int]*entity.Order{},
		payments:  map[int]*entity.Payment{},
		sequences: map[string]int{},
		nextID:    100,
		stale:     map[string]*entity.Payment{},
	}
}

func (m *memStore) id() int {
	m.nextID++
	return m.nextID
}

func (m *memStore) addUser(id int) {
	m.users[id] = &entity.User{ID: id, Email: "buyer@example.com", FirstName: "Ada", LastName: "Buyer", Phone: "01700000000", IsActive: true}
}

func (m *memStore) addAddress(userID int) *entity.Address {
	a := &entity.Address{ID: m.id(), UserID: userID, Street: "1 Main St", City: "Dhaka", Country: "BD", IsDefault: true}
	m.addresses[a.ID] = a
	return a
}

func (m *memStore) addCartLine(userID, productID, qty int, price string, stock int) {
	cart, ok := m.carts[userID]
	if !ok {
		cart = &entity.Cart{ID: m.id(), UserID: userID}
		m.carts[userID] = cart
	}
	cart.Lines = append(cart.Lines, entity.CartLine{
		ID:          m.id(),
		ProductID:   productID,
		ProductName: "Product",
		ProductSKU:  "SKU",
		Quantity:    qty,
		Price:       dec(price),
	})
	m.stock[productID] = stock
}

func (m *memStore) GetCart(_ context.Context, userID int) (*entity.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return &entity.Cart{UserID: userID}, nil
	}
	cp := *cart
	cp.Lines = append([]entity.CartLine(nil), cart.Lines...)
	return &cp, nil
}

func (m *memStore) GetUserByID(_ context.Context, id int) (*entity.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetAddressByID(_ context.Context, id int) (*entity.Address, error) {
	a, ok := m.addresses[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (m *memStore) GetPreferredAddress(_ context.Context, userID int) (*entity.Address, error) {
	var found *entity.Address
	for _, a := range m.addresses {
		if a.UserID != userID {
			continue
		}
		if found == nil || (a.IsDefault && !found.IsDefault) || (a.IsDefault == found.IsDefault && a.ID < found.ID) {
			found = a
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (m *memStore) CreateAddress(_ context.Context, a *entity.Address) (*entity.Address, error) {
	a.ID = m.id()
	m.addresses[a.ID] = a
	return a, nil
}

func (m *memStore) GetCouponByCode(_ context.Context, code string) (*entity.Coupon, error) {
	c, ok := m.coupons[strings.ToUpper(code)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CountUserUsages(_ context.Context, couponID, userID int) (int, error) {
	n := 0
	for _, u := range m.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetActiveTaxRate(_ context.Context, region string) (*entity.TaxRate, error) {
	r, ok := m.taxRates[strings.ToUpper(region)]
	if !ok || !r.IsActive {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

func (m *memStore) GetShippingMethod(_ context.Context, id int) (*entity.ShippingMethod, error) {
	sm, ok := m.methods[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sm, nil
}

func (m *memStore) ListActiveShippingMethods(_ context.Context) ([]*entity.ShippingMethod, error) {
	var out []*entity.ShippingMethod
	for _, sm := range m.methods {
		if sm.IsActive {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PlaceOrder applies the same all-or-nothing rules as the SQL repository.
func (m *memStore) PlaceOrder(_ context.Context, p repository.PlaceOrderParams) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, item := range p.Order.Items {
		if m.stock[item.ProductID] < item.Quantity {
			return nil, repository.ErrInsufficientStock
		}
	}
	if p.Coupon != nil {
		var coupon *entity.Coupon
		for _, c := range m.coupons {
			if c.ID == p.Coupon.Usage.CouponID {
				coupon = c
			}
		}
		if coupon == nil || (coupon.MaxUsageCount != nil && coupon.UsageCount >= *coupon.MaxUsageCount) {
			return nil, repository.ErrCouponLimitReached
		}
		if p.Coupon.MaxPerCustomer != nil {
			used, _ := m.CountUserUsages(context.Background(), coupon.ID, p.Coupon.Usage.UserID)
			if used >= *p.Coupon.MaxPerCustomer {
				return nil, repository.ErrCouponCustomerLimit
			}
		}
	}
	var payment *entity.Payment
	if p.PaymentID != 0 {
		payment = m.payments[p.PaymentID]
		if payment == nil || payment.OrderID != nil {
			return nil, repository.ErrPaymentLinked
		}
	}

	order := *p.Order
	order.ID = m.id()
	day := p.Now.UTC().Format("20060102")
	m.sequences[day]++
	order.OrderNumber = repository.FormatOrderNumber(p.Now, m.sequences[day])
	order.CreatedAt = p.Now
	order.UpdatedAt = p.Now
	order.Items = append([]entity.OrderItem(nil), p.Order.Items...)
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
		m.stock[order.Items[i].ProductID] -= order.Items[i].Quantity
	}
	if p.Coupon != nil {
		for _, c := range m.coupons {
			if c.ID == p.Coupon.Usage.CouponID {
				c.UsageCount++
			}
		}
		usage := p.Coupon.Usage
		usage.OrderID = order.ID
		m.usages = append(m.usages, usage)
	}
	if payment != nil {
		id := order.ID
		payment.OrderID = &id
	}
	if p.CartID != 0 {
		for _, cart := range m.carts {
			if cart.ID == p.CartID {
				cart.Lines = nil
			}
		}
	}

	m.orders[order.ID] = &order
	cp := order
	return &cp, nil
}

func (m *memStore) GetOrderByID(_ context.Context, id int) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) ListOrders(_ context.Context, userID, limit, offset int) ([]*entity.Order, error) {
	var out []*entity.Order
	for _, o := range m.orders {
		if userID == 0 || o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CancelOrder(_ context.Context, id int, now time.Time) error {
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status != entity.OrderStatusPending {
		return repository.ErrStatusConflict
	}
	for _, item := range o.Items {
		m.stock[item.ProductID] += item.Quantity
	}
	o.Status = entity.OrderStatusCancelled
	o.UpdatedAt = now
	return nil
}

func (m *memStore) UpdateOrderStatus(_ context.Context, id int, from, to entity.OrderStatus, now time.Time) error {
	o, ok := m.orders[id]
	if !ok || o.Status != from {
		return repository.ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

func (m *memStore) UpdatePaymentState(_ context.Context, id int, u repository.OrderPaymentUpdate, now time.Time) error {
	o, ok := m.orders[id]
	if !ok {
		return repository.ErrNotFound
	}
	o.PaymentStatus = u.PaymentStatus
	if u.Status != "" {
		o.Status = u.Status
	}
	if u.Method != "" {
		o.PaymentMethod = u.Method
	}
	if u.TransactionID != "" {
		o.PaymentTransactionID = u.TransactionID
	}
	o.UpdatedAt = now
	return nil
}

func (m *memStore) CreatePayment(_ context.Context, p *entity.Payment) (*entity.Payment, error) {
	for _, existing := range m.payments {
		if existing.Gateway == p.Gateway && existing.TransactionID == p.TransactionID {
			return nil, errors.New("duplicate transaction")
		}
	}
	p.ID = m.id()
	m.payments[p.ID] = p
	return p, nil
}

func (m *memStore) GetPaymentByTransactionID(_ context.Context, gw, txn string) (*entity.Payment, error) {
	if p, ok := m.stale[txn]; ok {
		delete(m.stale, txn)
		return p, nil
	}
	for _, p := range m.payments {
		if p.Gateway == gw && p.TransactionID == txn {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetLatestPaymentForOrder(_ context.Context, orderID int) (*entity.Payment, error) {
	payments, _ := m.ListPaymentsByOrder(context.Background(), orderID)
	if len(payments) == 0 {
		return nil, repository.ErrNotFound
	}
	return payments[len(payments)-1], nil
}

func (m *memStore) ListPaymentsByOrder(_ context.Context, orderID int) ([]*entity.Payment, error) {
	var out []*entity.Payment
	for _, p := range m.payments {
		if p.OrderID != nil && *p.OrderID == orderID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) UpdatePaymentStatus(_ context.Context, id int, status, reason, code string, now time.Time) error {
	p, ok := m.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	if reason != "" {
		p.FailureReason = reason
	}
	if code != "" {
		p.FailureCode = code
	}
	p.UpdatedAt = now
	return nil
}

func (m *memStore) RecordRefund(_ context.Context, rec repository.RefundRecord) error {
	if p, ok := m.payments[rec.PaymentID]; ok {
		amount := rec.Amount
		at := rec.At
		p.Status = entity.PaymentRowRefunded
		p.IsRefunded = true
		p.RefundedAmount = &amount
		p.RefundID = rec.RefundID
		p.RefundedAt = &at
		p.RefundReason = rec.Reason
	}
	o, ok := m.orders[rec.OrderID]
	if !ok {
		return repository.ErrNotFound
	}
	o.PaymentStatus = entity.PaymentStatusRefunded
	o.Status = entity.OrderStatusCancelled
	return nil
}

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, order *entity.Order, event string) error {
	p.events = append(p.events, event)
	return nil
}

type memKeys struct {
	keys map[string]bool
}

func newMemKeys() *memKeys { return &memKeys{keys: map[string]bool{}} }

func (k *memKeys) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	if k.keys[key] {
		return false, nil
	}
	k.keys[key] = true
	return true, nil
}

func (k *memKeys) Release(_ context.Context, key string) error {
	delete(k.keys, key)
	return nil
}

type memDecimalCache struct {
	values map[string]decimal.Decimal
}

func (c *memDecimalCache) GetDecimal(_ context.Context, key string) (decimal.Decimal, bool, error) {
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memDecimalCache) SetDecimal(_ context.Context, key string, value decimal.Decimal, _ time.Duration) error {
	c.values[key] = value
	return nil
}

type fakeCardGateway struct {
	intents   map[string]*gateway.CardIntent
	created   []gateway.CreateIntentParams
	refunds   []int64
	createErr error
	refundErr error
	event     *gateway.CardEvent
	eventErr  error
}

func newFakeCardGateway() *fakeCardGateway {
	return &fakeCardGateway{intents: map[string]*gateway.CardIntent{}}
}

func (g *fakeCardGateway) CreateIntent(_ context.Context, p gateway.CreateIntentParams) (*gateway.CardIntent, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, p)
	intent := &gateway.CardIntent{
		ID:           "pi_test_1",
		ClientSecret: "pi_test_1_secret",
		Status:       "requires_payment_method",
		AmountMinor:  p.AmountMinor,
		Currency:     p.Currency,
		Metadata:     p.Metadata,
	}
	g.intents[intent.ID] = intent
	return intent, nil
}

func (g *fakeCardGateway) GetIntent(_ context.Context, id string) (*gateway.CardIntent, error) {
	intent, ok := g.intents[id]
	if !ok {
		return nil, &gateway.Error{Gateway: "stripe", Op: "get payment intent", Message: "No such payment_intent", Status: 404}
	}
	return intent, nil
}

func (g *fakeCardGateway) CreateRefund(_ context.Context, _ string, amountMinor int64, _ string) (*gateway.CardRefund, error) {
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, amountMinor)
	return &gateway.CardRefund{ID: "re_test_1", Status: "succeeded", AmountMinor: amountMinor}, nil
}

func (g *fakeCardGateway) ParseWebhook(_ []byte, signature string) (*gateway.CardEvent, error) {
	if signature == "" || g.eventErr != nil {
		return nil, errors.New("bad signature")
	}
	return g.event, nil
}

type fakeRedirectGateway struct {
	sessions    []gateway.SessionRequest
	sessionErr  error
	validations map[string]*gateway.Validation
}

func newFakeRedirectGateway() *fakeRedirectGateway {
	return &fakeRedirectGateway{validations: map[string]*gateway.Validation{}}
}

func (g *fakeRedirectGateway) InitSession(_ context.Context, r gateway.SessionRequest) (*gateway.Session, error) {
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	g.sessions = append(g.sessions, r)
	return &gateway.Session{SessionKey: "sess", RedirectURL: "https://sandbox.sslcommerz.com/pay/sess"}, nil
}

func (g *fakeRedirectGateway) Validate(_ context.Context, valID string) (*gateway.Validation, error) {
	v, ok := g.validations[valID]
	if !ok {
		return &gateway.Validation{Status: "INVALID_TRANSACTION"}, nil
	}
	return v, nil
}
