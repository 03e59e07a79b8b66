package notifications

// Notification categories used by the storefront admin feed.
const (
	CategoryOrder     = "order"
	CategoryInventory = "inventory"
	CategoryCustomer  = "customer"
	CategoryPayment   = "payment"
	CategoryReview    = "review"
)

// Notification is one entry of the admin notification feed.
type Notification struct {
	ID           int    `json:"id"`
	Message      string `json:"message"`
	Category     string `json:"type"`
	Read         bool   `json:"read"`
	CreatedLabel string `json:"time"`
}

// DefaultFeed returns the feed seeded when no durable copy exists.
func DefaultFeed() []Notification {
	return []Notification{
		{ID: 1, Message: "New order #1024 received", Category: CategoryOrder, Read: false, CreatedLabel: "2 minutes ago"},
		{ID: 2, Message: "Low stock: Classic Linen Shirt (3 left)", Category: CategoryInventory, Read: false, CreatedLabel: "1 hour ago"},
		{ID: 3, Message: "New customer account registered", Category: CategoryCustomer, Read: false, CreatedLabel: "3 hours ago"},
		{ID: 4, Message: "Payment confirmed for order #1019", Category: CategoryPayment, Read: true, CreatedLabel: "5 hours ago"},
		{ID: 5, Message: "New 5-star review on Everyday Tote", Category: CategoryReview, Read: false, CreatedLabel: "1 day ago"},
	}
}

func unreadCount(feed []Notification) int {
	count := 0
	for _, notification := range feed {
		if !notification.Read {
			count++
		}
	}
	return count
}

func nextID(feed []Notification) int {
	highest := 0
	for _, notification := range feed {
		if notification.ID > highest {
			highest = notification.ID
		}
	}
	return highest + 1
}
