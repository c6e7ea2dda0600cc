package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/workflow-market/internal/model"
	"github.com/mmeshcher/workflow-market/internal/payment"
	"github.com/mmeshcher/workflow-market/internal/repository"
)

// fakeRepo — хранилище в памяти с семантикой транзакций: InTx сериализует вызовы и
// откатывает состояние при ошибке, Savepoint откатывает только свои изменения.
type fakeRepo struct {
	mu sync.Mutex
	st fakeState

	txErr           error
	grantErr        map[int64]error
	recordAccessErr error
	sessionErr      error
	setArtifactErr  error
	// afterFind вызывается один раз после FindEntitlement вне транзакции.
	afterFind func(st *fakeState)
}

type fakeState struct {
	nextID int64
	users  map[int64]model.User
	items  map[int64]model.Item
	orders map[int64]model.Order
	ents   map[int64]model.Entitlement
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		st: fakeState{
			users:  map[int64]model.User{},
			items:  map[int64]model.Item{},
			orders: map[int64]model.Order{},
			ents:   map[int64]model.Entitlement{},
		},
		grantErr: map[int64]error{},
	}
}

func (s *fakeState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s fakeState) clone() fakeState {
	c := fakeState{
		nextID: s.nextID,
		users:  make(map[int64]model.User, len(s.users)),
		items:  make(map[int64]model.Item, len(s.items)),
		orders: make(map[int64]model.Order, len(s.orders)),
		ents:   make(map[int64]model.Entitlement, len(s.ents)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.orders {
		v.Items = append([]model.OrderItem(nil), v.Items...)
		c.orders[k] = v
	}
	for k, v := range s.ents {
		c.ents[k] = v
	}
	return c
}

func (s *fakeState) findEntitlement(buyerID, itemID int64) (model.Entitlement, bool) {
	for _, e := range s.ents {
		if e.BuyerID == buyerID && e.ItemID == itemID {
			return e, true
		}
	}
	return model.Entitlement{}, false
}

func (s *fakeState) addEntitlement(buyerID, itemID, orderID int64) model.Entitlement {
	e := model.Entitlement{
		ID:          s.id(),
		BuyerID:     buyerID,
		ItemID:      itemID,
		OrderID:     orderID,
		PurchasedAt: time.Now(),
	}
	s.ents[e.ID] = e
	return e
}

// seedItem добавляет воркфлоу напрямую, минуя правила сервиса.
func (r *fakeRepo) seedItem(it model.Item) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	it.ID = r.st.id()
	if it.Currency == "" {
		it.Currency = "USD"
	}
	r.st.items[it.ID] = it
	return it.ID
}

func (r *fakeRepo) item(id int64) model.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.items[id]
}

func (r *fakeRepo) order(id int64) model.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.orders[id]
}

func (r *fakeRepo) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.st.orders)
}

func (r *fakeRepo) entitlements(buyerID int64) []model.Entitlement {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Entitlement
	for _, e := range r.st.ents {
		if e.BuyerID == buyerID {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) InTx(ctx context.Context, fn func(repository.Ledger) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.txErr != nil {
		return r.txErr
	}

	snap := r.st.clone()
	if err := fn(&fakeLedger{r: r}); err != nil {
		r.st = snap
		return err
	}
	return nil
}

func (r *fakeRepo) CreateUser(ctx context.Context, email, displayName string, passwordHash []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.st.users {
		if u.Email == email || u.DisplayName == displayName {
			return 0, fmt.Errorf("%w: %s", repository.ErrUserExists, email)
		}
	}
	u := model.User{ID: r.st.id(), Email: email, DisplayName: displayName, PasswordHash: passwordHash, CreatedAt: time.Now()}
	r.st.users[u.ID] = u
	return u.ID, nil
}

func (r *fakeRepo) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeRepo) CreateItem(ctx context.Context, it *model.Item) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *it
	c.ID = r.st.id()
	c.Status = model.ItemStatusDraft
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	r.st.items[c.ID] = c
	return c.ID, nil
}

func (r *fakeRepo) sellerItem(sellerID, itemID int64) (model.Item, error) {
	it, ok := r.st.items[itemID]
	if !ok || it.SellerID != sellerID {
		return model.Item{}, repository.ErrItemNotFound
	}
	return it, nil
}

func (r *fakeRepo) UpdateItem(ctx context.Context, sellerID, itemID int64, patch model.ItemPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, err := r.sellerItem(sellerID, itemID)
	if err != nil {
		return err
	}
	if patch.Title != nil {
		it.Title = *patch.Title
	}
	if patch.Description != nil {
		it.Description = *patch.Description
	}
	if patch.Price != nil {
		it.Price = *patch.Price
	}
	if patch.Currency != nil {
		it.Currency = *patch.Currency
	}
	if patch.DeliveryType != nil {
		it.DeliveryType = *patch.DeliveryType
	}
	r.st.items[itemID] = it
	return nil
}

func (r *fakeRepo) SetItemArtifact(ctx context.Context, sellerID, itemID int64, location string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.setArtifactErr != nil {
		return r.setArtifactErr
	}

	it, err := r.sellerItem(sellerID, itemID)
	if err != nil {
		return err
	}
	it.ArtifactPath = location
	it.ArtifactSize = size
	r.st.items[itemID] = it
	return nil
}

func (r *fakeRepo) GetSellerItem(ctx context.Context, sellerID, itemID int64) (*model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, err := r.sellerItem(sellerID, itemID)
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (r *fakeRepo) ListSellerItems(ctx context.Context, sellerID int64, status model.ItemStatus) ([]model.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Item
	for _, it := range r.st.items {
		if it.SellerID != sellerID || (status != "" && it.Status != status) {
			continue
		}
		for _, e := range r.st.ents {
			if e.ItemID == it.ID {
				it.DownloadTotal += e.DownloadCount
			}
		}
		res = append(res, it)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (r *fakeRepo) TransitionToPublished(ctx context.Context, sellerID, itemID int64, check func(*model.Item) []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, err := r.sellerItem(sellerID, itemID)
	if err != nil {
		return nil, err
	}
	if issues := check(&it); len(issues) > 0 {
		return issues, nil
	}
	it.Status = model.ItemStatusPublished
	r.st.items[itemID] = it
	return nil, nil
}

func (r *fakeRepo) TransitionToDraft(ctx context.Context, sellerID, itemID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, err := r.sellerItem(sellerID, itemID)
	if err != nil {
		return err
	}
	it.Status = model.ItemStatusDraft
	r.st.items[itemID] = it
	return nil
}

func purchasable(it model.Item) model.PurchasableItem {
	return model.PurchasableItem{
		ID:       it.ID,
		Title:    it.Title,
		Price:    it.Price,
		Currency: it.Currency,
		SellerID: it.SellerID,
		Status:   it.Status,
	}
}

func (r *fakeRepo) GetPurchasableItem(ctx context.Context, itemID int64) (*model.PurchasableItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.st.items[itemID]
	if !ok || it.Status != model.ItemStatusPublished {
		return nil, repository.ErrItemNotFound
	}
	p := purchasable(it)
	return &p, nil
}

func (r *fakeRepo) ResolvePurchasableItems(ctx context.Context, itemIDs []int64) ([]model.PurchasableItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.PurchasableItem
	for _, id := range itemIDs {
		if it, ok := r.st.items[id]; ok && it.Status == model.ItemStatusPublished {
			res = append(res, purchasable(it))
		}
	}
	return res, nil
}

func (r *fakeRepo) SetOrderPaymentSession(ctx context.Context, orderID int64, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessionErr != nil {
		return r.sessionErr
	}
	o, ok := r.st.orders[orderID]
	if !ok {
		return repository.ErrOrderNotFound
	}
	o.PaymentSessionID = sessionID
	r.st.orders[orderID] = o
	return nil
}

func (r *fakeRepo) GetOrder(ctx context.Context, buyerID, orderID int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.st.orders[orderID]
	if !ok || o.BuyerID != buyerID {
		return nil, repository.ErrOrderNotFound
	}
	return &o, nil
}

func (r *fakeRepo) GetOrdersByBuyer(ctx context.Context, buyerID int64) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.st.orders {
		if o.BuyerID == buyerID {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (r *fakeRepo) FindEntitlement(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.st.findEntitlement(buyerID, itemID)
	if hook := r.afterFind; hook != nil {
		r.afterFind = nil
		hook(&r.st)
	}
	if !ok {
		return nil, repository.ErrEntitlementNotFound
	}
	return &e, nil
}

func (r *fakeRepo) RecordAccess(ctx context.Context, buyerID, entitlementID int64) (*model.Entitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recordAccessErr != nil {
		return nil, r.recordAccessErr
	}
	e, ok := r.st.ents[entitlementID]
	if !ok || e.BuyerID != buyerID {
		return nil, repository.ErrEntitlementNotFound
	}
	now := time.Now()
	if e.LastAccessedAt != nil && !now.After(*e.LastAccessedAt) {
		now = e.LastAccessedAt.Add(time.Microsecond)
	}
	e.LastAccessedAt = &now
	e.DownloadCount++
	r.st.ents[entitlementID] = e
	return &e, nil
}

func (r *fakeRepo) GetArtifactRef(ctx context.Context, buyerID, entitlementID int64) (*model.ArtifactRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.st.ents[entitlementID]
	if !ok || e.BuyerID != buyerID {
		return nil, repository.ErrEntitlementNotFound
	}
	it := r.st.items[e.ItemID]
	return &model.ArtifactRef{
		EntitlementID: e.ID,
		Title:         it.Title,
		DeliveryType:  it.DeliveryType,
		Location:      it.ArtifactPath,
	}, nil
}

func (r *fakeRepo) ListLibrary(ctx context.Context, buyerID int64) ([]model.LibraryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.LibraryEntry
	for _, e := range r.st.ents {
		if e.BuyerID != buyerID {
			continue
		}
		it := r.st.items[e.ItemID]
		res = append(res, model.LibraryEntry{Entitlement: e, Title: it.Title, Price: it.Price, Currency: it.Currency})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Entitlement.ID > res[j].Entitlement.ID })
	return res, nil
}

// fakeLedger работает под блокировкой, взятой InTx.
type fakeLedger struct {
	r *fakeRepo
}

func (l *fakeLedger) InsertOrder(ctx context.Context, o *model.Order) (int64, error) {
	st := &l.r.st
	c := *o
	c.ID = st.id()
	c.CreatedAt = time.Now()
	c.Items = nil
	if c.Status == model.OrderStatusPaid {
		now := time.Now()
		c.PaidAt = &now
	}
	st.orders[c.ID] = c
	return c.ID, nil
}

func (l *fakeLedger) InsertOrderItems(ctx context.Context, orderID int64, items []model.OrderItem) error {
	st := &l.r.st
	o, ok := st.orders[orderID]
	if !ok {
		return errors.New("order items: foreign key violation")
	}
	for _, it := range items {
		it.OrderID = orderID
		o.Items = append(o.Items, it)
	}
	st.orders[orderID] = o
	return nil
}

func (l *fakeLedger) MarkOrderPaid(ctx context.Context, orderID, buyerID int64, paymentIntentID string) (*model.Order, error) {
	st := &l.r.st
	o, ok := st.orders[orderID]
	if !ok || o.BuyerID != buyerID {
		return nil, repository.ErrOrderNotFound
	}
	o.Status = model.OrderStatusPaid
	if o.PaidAt == nil {
		now := time.Now()
		o.PaidAt = &now
	}
	if o.PaymentIntentID == "" {
		o.PaymentIntentID = paymentIntentID
	}
	st.orders[orderID] = o
	return &o, nil
}

func (l *fakeLedger) FindEntitlement(ctx context.Context, buyerID, itemID int64) (*model.Entitlement, error) {
	e, ok := l.r.st.findEntitlement(buyerID, itemID)
	if !ok {
		return nil, repository.ErrEntitlementNotFound
	}
	return &e, nil
}

func (l *fakeLedger) InsertEntitlement(ctx context.Context, buyerID, itemID, orderID int64) (*model.Entitlement, bool, error) {
	if err := l.r.grantErr[itemID]; err != nil {
		return nil, false, err
	}
	st := &l.r.st
	if _, ok := st.findEntitlement(buyerID, itemID); ok {
		return nil, false, nil
	}
	e := st.addEntitlement(buyerID, itemID, orderID)
	return &e, true, nil
}

func (l *fakeLedger) RefreshPurchaseCount(ctx context.Context, itemID int64) error {
	st := &l.r.st
	it, ok := st.items[itemID]
	if !ok {
		return repository.ErrItemNotFound
	}
	var n int64
	for _, e := range st.ents {
		if e.ItemID == itemID {
			n++
		}
	}
	it.PurchaseCount = n
	st.items[itemID] = it
	return nil
}

func (l *fakeLedger) Savepoint(ctx context.Context, fn func(repository.Ledger) error) error {
	snap := l.r.st.clone()
	if err := fn(l); err != nil {
		l.r.st = snap
		return err
	}
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	requests  []payment.SessionRequest
	createErr error
	event     *payment.Event
	verifyErr error
}

func (p *fakeProvider) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.createErr != nil {
		return nil, p.createErr
	}
	p.requests = append(p.requests, req)
	id := fmt.Sprintf("cs_test_%d", len(p.requests))
	return &payment.Session{ID: id, URL: "https://pay.example.com/" + id}, nil
}

func (p *fakeProvider) VerifyAndParseEvent(payload []byte, signature string) (*payment.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	ev := *p.event
	return &ev, nil
}

// completedEvent строит уведомление об оплате по последней созданной сессии.
func (p *fakeProvider) completedEvent() *payment.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	req := p.requests[len(p.requests)-1]
	return &payment.Event{
		ID:              "evt_1",
		Type:            payment.EventCheckoutCompleted,
		SessionID:       fmt.Sprintf("cs_test_%d", len(p.requests)),
		PaymentIntentID: "pi_1",
		Metadata:        req.Metadata.Encode(),
	}
}
