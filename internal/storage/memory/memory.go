// Package memory keeps every store in process memory. It backs local runs
// with FULFILLMENT_STORE=memory and the tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/yasunstudio/perdami-store-app-sub001/internal/apperr"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/audit"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/notification"
	"github.com/yasunstudio/perdami-store-app-sub001/internal/order"
)

const (
	RoleCustomer = "CUSTOMER"
	RoleAdmin    = "ADMIN"
)

type User struct {
	ID    string
	Name  string
	Email string
	Role  string
}

type Store struct {
	mu            sync.Mutex
	seq           int
	orders        map[string]*order.Order
	byPayment     map[string]string
	notifications []notification.Record
	ledger        map[string]struct{}
	audit         []audit.Entry
	users         map[string]User
	inbox         map[string]string

	failTransition   map[string]error
	failNotification error
	failAudit        error
}

func New() *Store {
	return &Store{
		seq:            1000,
		orders:         make(map[string]*order.Order),
		byPayment:      make(map[string]string),
		ledger:         make(map[string]struct{}),
		users:          make(map[string]User),
		inbox:          make(map[string]string),
		failTransition: make(map[string]error),
	}
}

func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Role == "" {
		u.Role = RoleCustomer
	}
	s.users[u.ID] = u
}

// FailTransitions makes ApplyTransition on orderID return err until cleared
// with a nil err.
func (s *Store) FailTransitions(orderID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failTransition, orderID)
		return
	}
	s.failTransition[orderID] = err
}

// FailNotifications makes every notification write and ledger read fail.
func (s *Store) FailNotifications(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNotification = err
}

func (s *Store) FailAudit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAudit = err
}

func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) CreateOrder(_ context.Context, o *order.Order, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAudit != nil {
		return s.failAudit
	}

	s.seq++
	o.OrderNumber = strconv.Itoa(s.seq)
	stored := o.Clone()
	s.orders[o.ID] = &stored
	s.byPayment[o.Payment.ID] = o.ID

	if entry.Details == nil {
		entry.Details = map[string]any{}
	}
	entry.Details["order_number"] = o.OrderNumber
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, id)
	}
	c := o.Clone()
	return &c, nil
}

func (s *Store) GetOrderByPaymentID(ctx context.Context, paymentID string) (*order.Order, error) {
	s.mu.Lock()
	id, ok := s.byPayment[paymentID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: payment %s", apperr.ErrNotFound, paymentID)
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) FindOrdersByPaymentAge(_ context.Context, status order.PaymentStatus, window order.AgeWindow, now time.Time, limit int) ([]order.Order, error) {
	return s.find(limit, func(a, b *order.Order) int { return a.CreatedAt.Compare(b.CreatedAt) }, func(o *order.Order) bool {
		return o.Payment.Status == status && window.Contains(o.Age(now))
	}), nil
}

func (s *Store) FindOrdersByPickupDate(_ context.Context, from, to time.Time, statuses []order.Status, limit int) ([]order.Order, error) {
	return s.find(limit, func(a, b *order.Order) int { return a.PickupDate.Compare(*b.PickupDate) }, func(o *order.Order) bool {
		if o.PickupDate == nil || o.PickupStatus != order.PickupNotPickedUp || !slices.Contains(statuses, o.Status) {
			return false
		}
		return !o.PickupDate.Before(from) && o.PickupDate.Before(to)
	}), nil
}

func (s *Store) find(limit int, cmp func(a, b *order.Order) int, match func(o *order.Order) bool) []order.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []*order.Order
	for _, o := range s.orders {
		if match(o) {
			hits = append(hits, o)
		}
	}
	slices.SortFunc(hits, func(a, b *order.Order) int {
		if c := cmp(a, b); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	result := make([]order.Order, len(hits))
	for i, o := range hits {
		result[i] = o.Clone()
	}
	return result
}

// ApplyTransition holds the store lock for the whole mutation, which is the
// in-memory equivalent of a row lock.
func (s *Store) ApplyTransition(_ context.Context, orderID string, mutate order.MutateFunc) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failTransition[orderID]; err != nil {
		return nil, err
	}
	stored, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", apperr.ErrNotFound, orderID)
	}

	working := stored.Clone()
	entries, err := mutate(&working)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &working, nil
	}
	if s.failAudit != nil {
		return nil, s.failAudit
	}

	*stored = working.Clone()
	s.audit = append(s.audit, entries...)
	return &working, nil
}

// InsertNotification fails on a done context, as a pgx write would.
func (s *Store) InsertNotification(ctx context.Context, r notification.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNotification != nil {
		return false, s.failNotification
	}
	if r.DedupKey != "" {
		if _, dup := s.ledger[r.DedupKey]; dup {
			return false, nil
		}
		s.ledger[r.DedupKey] = struct{}{}
	}
	r.Payload = maps.Clone(r.Payload)
	s.notifications = append(s.notifications, r)
	return true, nil
}

func (s *Store) NotificationExists(_ context.Context, dedupKey string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNotification != nil {
		return false, s.failNotification
	}
	_, ok := s.ledger[dedupKey]
	return ok, nil
}

func (s *Store) ListNotifications(_ context.Context, recipientID string, unreadOnly bool, limit, offset int) ([]notification.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []notification.Record
	for i := len(s.notifications) - 1; i >= 0; i-- {
		r := s.notifications[i]
		if r.RecipientID != recipientID || (unreadOnly && r.IsRead) {
			continue
		}
		hits = append(hits, r)
	}
	return page(hits, limit, offset), len(hits), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, recipientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].RecipientID == recipientID {
			s.notifications[i].IsRead = true
			return nil
		}
	}
	return fmt.Errorf("%w: notification %s", apperr.ErrNotFound, id)
}

func (s *Store) AdminUserIDs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNotification != nil {
		return nil, s.failNotification
	}
	var ids []string
	for _, u := range s.users {
		if u.Role == RoleAdmin {
			ids = append(ids, u.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) UserEmail(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[userID].Email, nil
}

func (s *Store) InsertAudit(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failAudit != nil {
		return s.failAudit
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *Store) QueryAudit(_ context.Context, f audit.Filter) ([]audit.Entry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []audit.Entry
	for _, e := range s.audit {
		if f.Match(e) {
			hits = append(hits, e)
		}
	}
	slices.SortStableFunc(hits, func(a, b audit.Entry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return page(hits, f.Limit, f.Offset), len(hits), nil
}

func (s *Store) RecordInbox(_ context.Context, eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inbox[eventID]; ok {
		return false, nil
	}
	s.inbox[eventID] = eventType
	return true, nil
}

func (s *Store) InboxSeen(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inbox[eventID]
	return ok, nil
}

// Notifications returns every stored record in insertion order.
func (s *Store) Notifications() []notification.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notifications)
}

// NotificationsFor returns the records of one type sent to one recipient.
func (s *Store) NotificationsFor(recipientID string, typ notification.Type) []notification.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hits []notification.Record
	for _, r := range s.notifications {
		if r.RecipientID == recipientID && r.Type == typ {
			hits = append(hits, r)
		}
	}
	return hits
}

// AuditEntries returns every stored entry in insertion order.
func (s *Store) AuditEntries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.audit)
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
