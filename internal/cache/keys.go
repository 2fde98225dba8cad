package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// GET /api/payments
// payment:data:{order_id}
func PaymentKey(orderID string) string {
	id := url.PathEscape(strings.ToLower(strings.TrimSpace(orderID)))
	return fmt.Sprintf("payment:data:%s", id)
}
