package cart

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// DefaultCurrency is used for new carts.
const DefaultCurrency = "USD"

// Product is the catalog view the cart needs.
type Product struct {
	ID          string
	Name        string
	Price       int64
	MaxQuantity int
}

// Item is one cart line.
type Item struct {
	ID          string    `json:"id"`
	ProductID   string    `json:"product_id"`
	Name        string    `json:"name"`
	UnitPrice   int64     `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	MaxQuantity int       `json:"max_quantity"`
	AddedAt     time.Time `json:"added_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Cart is a session-bound shopping cart.
type Cart struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Items     []Item    `json:"items"`
	Total     int64     `json:"total"`
	ItemCount int       `json:"item_count"`
	Currency  string    `json:"currency"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Checksum  string    `json:"checksum"`
}

// Guest reports whether the cart belongs to an anonymous client.
func (c *Cart) Guest() bool {
	return c.UserID == ""
}

// Expired reports whether a guest cart is past its expiry.
func (c *Cart) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Clone returns a deep copy.
func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	return &cp
}

func (c *Cart) find(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) findProduct(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// recompute refreshes Total, ItemCount and Checksum from Items.
func (c *Cart) recompute(now time.Time) {
	var total int64
	count := 0
	for _, it := range c.Items {
		total += it.UnitPrice * int64(it.Quantity)
		count += it.Quantity
	}
	c.Total = total
	c.ItemCount = count
	c.UpdatedAt = now
	c.Checksum = ComputeChecksum(c.Items, c.Total, c.ItemCount)
}

// Verify reports whether the stored checksum matches the cart contents.
func (c *Cart) Verify() bool {
	return c.Checksum == ComputeChecksum(c.Items, c.Total, c.ItemCount)
}

// ComputeChecksum hashes the items, total and item count. Field values are length
// prefixed so that no two distinct carts share an input.
func ComputeChecksum(items []Item, total int64, itemCount int) string {
	h := sha256.New()
	var num [8]byte
	writeString := func(s string) {
		binary.BigEndian.PutUint64(num[:], uint64(len(s)))
		h.Write(num[:])
		h.Write([]byte(s))
	}
	writeInt := func(v int64) {
		binary.BigEndian.PutUint64(num[:], uint64(v))
		h.Write(num[:])
	}

	writeInt(int64(len(items)))
	for _, it := range items {
		writeString(it.ID)
		writeString(it.ProductID)
		writeInt(it.UnitPrice)
		writeInt(int64(it.Quantity))
		writeInt(int64(it.MaxQuantity))
	}
	writeInt(total)
	writeInt(int64(itemCount))
	return hex.EncodeToString(h.Sum(nil))
}

// GuestID derives the anonymous cart id for a client.
func GuestID(userAgent, forwardedIP string) string {
	sum := sha256.Sum256([]byte("guest\x00" + userAgent + "\x00" + forwardedIP))
	return "guest_" + hex.EncodeToString(sum[:16])
}
