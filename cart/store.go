package cart

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/storeguard/storeguard/audit"
	"github.com/storeguard/storeguard/device"
	"github.com/storeguard/storeguard/session"
)

// GuestTTL is how long an anonymous cart lives.
const GuestTTL = 7 * 24 * time.Hour

// SessionResolver resolves a session token. *session.Manager implements it.
type SessionResolver interface {
	Validate(ctx context.Context, raw string) (*session.Session, error)
}

// Observer counts integrity failures, typically for metrics.
type Observer interface {
	CartTampered()
}

// Store applies cart rules over a Repository. Mutations are serialized by one mutex so
// the total, count and checksum of a cart are always written together.
type Store struct {
	mu sync.Mutex

	repo     Repository
	catalog  Catalog
	sessions SessionResolver
	audit    audit.Recorder
	observer Observer
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
	guestTTL time.Duration
	currency string
}

// Option configures a Store.
type Option func(*Store)

func WithAudit(r audit.Recorder) Option {
	return func(s *Store) {
		if r != nil {
			s.audit = r
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithGuestTTL overrides the 7 day guest cart lifetime.
func WithGuestTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.guestTTL = d
		}
	}
}

func WithCurrency(code string) Option {
	return func(s *Store) {
		if code != "" {
			s.currency = code
		}
	}
}

// NewStore builds a Store. sessions may be nil, in which case every cart is a guest cart.
func NewStore(repo Repository, catalog Catalog, sessions SessionResolver, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("cart repository is required")
	}
	if catalog == nil {
		return nil, errors.New("cart catalog is required")
	}
	s := &Store{
		repo:     repo,
		catalog:  catalog,
		sessions: sessions,
		audit:    audit.Discard,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("github.com/storeguard/storeguard/cart"),
		now:      time.Now,
		guestTTL: GuestTTL,
		currency: DefaultCurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

/*
====================================
LOOKUP
====================================
*/

// GetOrCreate returns the cart for the request. A valid session token selects the
// session's derived cart; otherwise the guest cart of the client on ctx is used.
// Crawlers get an empty guest cart that is never stored, so mutating it fails with
// ErrCartNotFound.
func (s *Store) GetOrCreate(ctx context.Context, sessionToken string) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "cart.GetOrCreate")
	defer span.End()

	owner := s.resolve(ctx, sessionToken)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		c   *Cart
		err error
	)
	if owner != nil {
		span.SetAttributes(attribute.Bool("guest", false))
		c, err = s.loadOrCreateLocked(ctx, owner.CartID, owner.UserID, owner.ID)
	} else {
		client := device.ClientFrom(ctx)
		id := GuestIDFor(client)
		bot := device.IsBot(client.UserAgent)
		span.SetAttributes(attribute.Bool("guest", true), attribute.Bool("bot", bot))
		if bot {
			c, err = s.loadLocked(ctx, id)
			if errors.Is(err, ErrCartNotFound) {
				c, err = s.newCart(id, "", ""), nil
			}
		} else {
			c, err = s.loadOrCreateLocked(ctx, id, "", "")
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cart lookup failed")
		return nil, err
	}
	return c.Clone(), nil
}

// ForSession returns the cart bound to sess, creating it when missing.
func (s *Store) ForSession(ctx context.Context, sess *session.Session) (*Cart, error) {
	if sess == nil {
		return nil, errors.New("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadOrCreateLocked(ctx, sess.CartID, sess.UserID, sess.ID)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// Get loads an existing cart by id.
func (s *Store) Get(ctx context.Context, cartID string) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.loadLocked(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

func (s *Store) resolve(ctx context.Context, raw string) *session.Session {
	if raw == "" || s.sessions == nil {
		return nil
	}
	sess, err := s.sessions.Validate(ctx, raw)
	if err != nil {
		return nil
	}
	return sess
}

// GuestIDFor returns the guest cart id of c. Login handlers pass it as the cart to merge.
func GuestIDFor(c device.Client) string {
	ip := c.IP
	if c.ForwardedFor != "" {
		ip = c.ForwardedFor
	}
	return GuestID(c.UserAgent, ip)
}

// loadLocked returns the stored cart, replacing it with an empty one when its checksum
// fails or, for guests, when it has expired.
func (s *Store) loadLocked(ctx context.Context, cartID string) (*Cart, error) {
	c, err := s.repo.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if !c.Verify() {
		s.tampered(ctx, c)
		fresh := s.newCart(c.ID, c.UserID, c.SessionID)
		if err := s.repo.Save(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	if c.Expired(s.now()) {
		fresh := s.newCart(c.ID, c.UserID, c.SessionID)
		if err := s.repo.Save(ctx, fresh); err != nil {
			return nil, err
		}
		return fresh, nil
	}
	return c, nil
}

func (s *Store) loadOrCreateLocked(ctx context.Context, cartID, userID, sessionID string) (*Cart, error) {
	c, err := s.loadLocked(ctx, cartID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrCartNotFound) {
		return nil, err
	}
	c = s.newCart(cartID, userID, sessionID)
	if err := s.repo.Save(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) newCart(id, userID, sessionID string) *Cart {
	now := s.now()
	c := &Cart{
		ID:        id,
		UserID:    userID,
		SessionID: sessionID,
		Items:     []Item{},
		Currency:  s.currency,
		CreatedAt: now,
	}
	if userID == "" {
		c.ExpiresAt = now.Add(s.guestTTL)
	}
	c.recompute(now)
	return c
}

/*
====================================
MUTATIONS
====================================
*/

// AddItem adds qty of productID. An existing line grows by qty; the call fails with
// ErrExceedsStock and leaves the cart unchanged if the line would pass the product's
// maximum quantity.
func (s *Store) AddItem(ctx context.Context, cartID, productID string, qty int) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "cart.AddItem", trace.WithAttributes(
		attribute.String("product_id", productID),
		attribute.Int("quantity", qty),
	))
	defer span.End()

	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	product, err := s.catalog.Product(ctx, productID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return s.mutate(ctx, cartID, "add_item", func(c *Cart, now time.Time) error {
		if i := c.findProduct(productID); i >= 0 {
			it := &c.Items[i]
			if it.Quantity+qty > it.MaxQuantity {
				return fmt.Errorf("%w: %d in cart, %d requested, max %d", ErrExceedsStock, it.Quantity, qty, it.MaxQuantity)
			}
			it.Quantity += qty
			it.UpdatedAt = now
			return nil
		}
		if qty > product.MaxQuantity {
			return fmt.Errorf("%w: %d requested, max %d", ErrExceedsStock, qty, product.MaxQuantity)
		}
		c.Items = append(c.Items, Item{
			ID:          uuid.NewString(),
			ProductID:   product.ID,
			Name:        product.Name,
			UnitPrice:   product.Price,
			Quantity:    qty,
			MaxQuantity: product.MaxQuantity,
			AddedAt:     now,
			UpdatedAt:   now,
		})
		return nil
	})
}

// UpdateQuantity sets an item's quantity. Zero removes the item.
func (s *Store) UpdateQuantity(ctx context.Context, cartID, itemID string, qty int) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "cart.UpdateQuantity")
	defer span.End()

	if qty < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return s.mutate(ctx, cartID, "update_quantity", func(c *Cart, now time.Time) error {
		i := c.find(itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		if qty == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		if qty > c.Items[i].MaxQuantity {
			return fmt.Errorf("%w: %d requested, max %d", ErrExceedsStock, qty, c.Items[i].MaxQuantity)
		}
		c.Items[i].Quantity = qty
		c.Items[i].UpdatedAt = now
		return nil
	})
}

// RemoveItem deletes one line.
func (s *Store) RemoveItem(ctx context.Context, cartID, itemID string) (*Cart, error) {
	return s.mutate(ctx, cartID, "remove_item", func(c *Cart, _ time.Time) error {
		i := c.find(itemID)
		if i < 0 {
			return ErrItemNotFound
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

// Clear empties the cart.
func (s *Store) Clear(ctx context.Context, cartID string) (*Cart, error) {
	return s.mutate(ctx, cartID, "clear", func(c *Cart, _ time.Time) error {
		c.Items = []Item{}
		return nil
	})
}

// mutate loads cartID, applies fn to a copy and persists the result with fresh
// integrity fields. When fn fails nothing is written.
func (s *Store) mutate(ctx context.Context, cartID, action string, fn func(*Cart, time.Time) error) (*Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.loadLocked(ctx, cartID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	next := c.Clone()
	if err := fn(next, now); err != nil {
		return nil, err
	}
	next.recompute(now)
	if err := s.repo.Save(ctx, next); err != nil {
		return nil, err
	}

	s.record(ctx, audit.KindCartUpdated, next, true, func() map[string]string {
		return map[string]string{
			"action":     action,
			"item_count": strconv.Itoa(next.ItemCount),
			"total":      strconv.FormatInt(next.Total, 10),
		}
	})
	return next.Clone(), nil
}

/*
====================================
TRANSFER / SWEEP
====================================
*/

// TransferGuestCart merges the guest cart into owner's cart on login. Quantities of the
// same product are summed and clamped to the product maximum, merged lines get fresh ids
// and the guest cart is deleted. A missing or empty guest cart leaves the user cart as is,
// so repeating the call is harmless.
func (s *Store) TransferGuestCart(ctx context.Context, guestID string, owner *session.Session) (*Cart, error) {
	ctx, span := s.tracer.Start(ctx, "cart.TransferGuestCart")
	defer span.End()

	if owner == nil {
		return nil, errors.New("session is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.loadOrCreateLocked(ctx, owner.CartID, owner.UserID, owner.ID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if guestID == "" || guestID == target.ID {
		return target.Clone(), nil
	}

	guest, err := s.loadLocked(ctx, guestID)
	if errors.Is(err, ErrCartNotFound) {
		return target.Clone(), nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(guest.Items) == 0 {
		if err := s.repo.Delete(ctx, guestID); err != nil {
			return nil, err
		}
		return target.Clone(), nil
	}

	now := s.now()
	moved := 0
	for _, gi := range guest.Items {
		if i := target.findProduct(gi.ProductID); i >= 0 {
			it := &target.Items[i]
			it.Quantity = min(it.Quantity+gi.Quantity, it.MaxQuantity)
			it.UpdatedAt = now
		} else {
			gi.ID = uuid.NewString()
			gi.Quantity = min(gi.Quantity, gi.MaxQuantity)
			gi.UpdatedAt = now
			target.Items = append(target.Items, gi)
		}
		moved++
	}
	target.recompute(now)

	if err := s.repo.Save(ctx, target); err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, guestID); err != nil {
		s.logger.Warn("delete transferred guest cart", zap.String("cart_id", guestID), zap.Error(err))
	}

	s.record(ctx, audit.KindCartTransferred, target, true, func() map[string]string {
		return map[string]string{
			"guest_cart": guestID,
			"lines":      strconv.Itoa(moved),
		}
	})
	return target.Clone(), nil
}

// Sweep removes expired guest carts.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.DeleteExpired(ctx, s.now())
}

func (s *Store) tampered(ctx context.Context, c *Cart) {
	if s.observer != nil {
		s.observer.CartTampered()
	}
	s.logger.Warn("cart checksum mismatch, recreating", zap.String("cart_id", c.ID))
	s.record(ctx, audit.KindCartTampered, c, false, func() map[string]string {
		return map[string]string{"stored_checksum": c.Checksum}
	})
}

func (s *Store) record(ctx context.Context, kind audit.Kind, c *Cart, success bool, metadataBuilder func() map[string]string) {
	client := device.ClientFrom(ctx)
	event := audit.Event{
		Kind:      kind,
		UserID:    c.UserID,
		SessionID: c.SessionID,
		IP:        client.IP,
		UserAgent: client.UserAgent,
		Success:   success,
	}
	var meta map[string]string
	if metadataBuilder != nil {
		meta = metadataBuilder()
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["cart_id"] = c.ID
	event.Metadata = meta
	s.audit.Record(ctx, event)
}
