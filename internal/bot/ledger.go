package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrDuplicateOrder is returned by OrderLedger.Append when the order id is
// already taken.
var ErrDuplicateOrder = errors.New("bot: duplicate order id")

func putJSON(ctx context.Context, st store.Store, collection, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bot: encode %s/%s: %w", collection, key, err)
	}
	if err := st.Put(ctx, collection, key, body); err != nil {
		return fmt.Errorf("bot: save %s/%s: %w", collection, key, err)
	}
	return nil
}

// --- Message log ---

// MessageLog keeps the most recent inbound messages of each identity for
// admin review. Writes to the store happen under mu so a later mutation is
// never overwritten by an earlier one.
type MessageLog struct {
	store      store.Store
	maxEntries int

	mu      sync.RWMutex
	entries map[string][]models.MessageLogEntry
}

// NewMessageLog creates an empty log keeping maxEntries per identity.
func NewMessageLog(st store.Store, maxEntries int) *MessageLog {
	if maxEntries <= 0 {
		maxEntries = 50
	}
	return &MessageLog{
		store:      st,
		maxEntries: maxEntries,
		entries:    make(map[string][]models.MessageLogEntry),
	}
}

// Append records a message and persists the identity's log.
func (l *MessageLog) Append(ctx context.Context, identity string, e models.MessageLogEntry) {
	l.mu.Lock()
	list := append(l.entries[identity], e)
	if len(list) > l.maxEntries {
		list = append([]models.MessageLogEntry(nil), list[len(list)-l.maxEntries:]...)
	}
	l.entries[identity] = list
	if err := putJSON(ctx, l.store, store.Messages, identity, list); err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("bot: persist message log")
	}
	l.mu.Unlock()
}

// Entries returns a copy of identity's log, oldest first.
func (l *MessageLog) Entries(identity string) []models.MessageLogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.MessageLogEntry(nil), l.entries[identity]...)
}

// Total returns the number of logged messages across all identities.
func (l *MessageLog) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, list := range l.entries {
		n += len(list)
	}
	return n
}

// CountSince returns the number of logged messages at or after t.
func (l *MessageLog) CountSince(t time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, list := range l.entries {
		for _, e := range list {
			if !e.Timestamp.Before(t) {
				n++
			}
		}
	}
	return n
}

// Trim bounds every identity's log to the configured size and persists the
// logs it shortened. It returns the number of entries dropped.
func (l *MessageLog) Trim(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped := 0
	for id, list := range l.entries {
		if len(list) <= l.maxEntries {
			continue
		}
		dropped += len(list) - l.maxEntries
		list = append([]models.MessageLogEntry(nil), list[len(list)-l.maxEntries:]...)
		l.entries[id] = list
		if err := putJSON(ctx, l.store, store.Messages, id, list); err != nil {
			log.Error().Err(err).Str("identity", id).Msg("bot: persist message log")
		}
	}
	return dropped
}

// Load replaces the in-memory log with the persisted one.
func (l *MessageLog) Load(ctx context.Context) error {
	docs, err := l.store.ListAll(ctx, store.Messages)
	if err != nil {
		return fmt.Errorf("bot: load message log: %w", err)
	}
	entries := make(map[string][]models.MessageLogEntry, len(docs))
	for id, body := range docs {
		var list []models.MessageLogEntry
		if err := json.Unmarshal(body, &list); err != nil {
			log.Warn().Err(err).Str("identity", id).Msg("bot: skip unreadable message log")
			continue
		}
		entries[id] = list
	}
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
	return nil
}

// Flush persists every identity's log.
func (l *MessageLog) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id, list := range l.entries {
		if err := putJSON(ctx, l.store, store.Messages, id, list); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Order ledger ---

// OrderLedger holds confirmed orders keyed by customer identity.
type OrderLedger struct {
	store store.Store

	mu     sync.RWMutex
	orders map[string][]models.Order
}

// NewOrderLedger creates an empty ledger.
func NewOrderLedger(st store.Store) *OrderLedger {
	return &OrderLedger{store: st, orders: make(map[string][]models.Order)}
}

// NewID returns an order id not present in the ledger.
func (l *OrderLedger) NewID() string {
	for {
		id := fmt.Sprintf("ORD-%06d", rand.IntN(1000000))
		if !l.Exists(id) {
			return id
		}
	}
}

// Exists reports whether an order with id has been recorded.
func (l *OrderLedger) Exists(id string) bool {
	_, _, ok := l.Find(id)
	return ok
}

// Append records a confirmed order for identity and persists that
// identity's orders. A taken id yields ErrDuplicateOrder and nothing is
// written. Persistence failures are logged; the in-memory ledger keeps
// the order.
func (l *OrderLedger) Append(ctx context.Context, identity string, o models.Order) error {
	l.mu.Lock()
	if l.findLocked(o.ID) != nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}
	list := append(l.orders[identity], o)
	l.orders[identity] = list
	if err := putJSON(ctx, l.store, store.Orders, identity, list); err != nil {
		log.Error().Err(err).Str("identity", identity).Str("order_id", o.ID).Msg("bot: persist orders")
	}
	l.mu.Unlock()
	return nil
}

// Find looks up an order by id and returns it with its customer identity.
func (l *OrderLedger) Find(id string) (models.Order, string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for identity, list := range l.orders {
		for _, o := range list {
			if o.ID == id {
				return o, identity, true
			}
		}
	}
	return models.Order{}, "", false
}

func (l *OrderLedger) findLocked(id string) *models.Order {
	for _, list := range l.orders {
		for i := range list {
			if list[i].ID == id {
				return &list[i]
			}
		}
	}
	return nil
}

// ForIdentity returns identity's orders, oldest first.
func (l *OrderLedger) ForIdentity(identity string) []models.Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Order(nil), l.orders[identity]...)
}

// Total returns the number of recorded orders.
func (l *OrderLedger) Total() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, list := range l.orders {
		n += len(list)
	}
	return n
}

// Customers returns the number of identities with at least one order.
func (l *OrderLedger) Customers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.orders)
}

// CountSince returns the number of orders placed at or after t.
func (l *OrderLedger) CountSince(t time.Time) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, list := range l.orders {
		for _, o := range list {
			if !o.Timestamp.Before(t) {
				n++
			}
		}
	}
	return n
}

// Recent returns up to n of the most recent orders, newest first.
func (l *OrderLedger) Recent(n int) []models.Order {
	l.mu.RLock()
	var all []models.Order
	for _, list := range l.orders {
		all = append(all, list...)
	}
	l.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Load replaces the in-memory ledger with the persisted one.
func (l *OrderLedger) Load(ctx context.Context) error {
	docs, err := l.store.ListAll(ctx, store.Orders)
	if err != nil {
		return fmt.Errorf("bot: load orders: %w", err)
	}
	orders := make(map[string][]models.Order, len(docs))
	for id, body := range docs {
		var list []models.Order
		if err := json.Unmarshal(body, &list); err != nil {
			log.Warn().Err(err).Str("identity", id).Msg("bot: skip unreadable orders")
			continue
		}
		orders[id] = list
	}
	l.mu.Lock()
	l.orders = orders
	l.mu.Unlock()
	return nil
}

// Flush persists every identity's orders.
func (l *OrderLedger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	for id, list := range l.orders {
		if err := putJSON(ctx, l.store, store.Orders, id, list); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
