// Package checkout submits the cart as an order to the backend, once per checkout attempt.
package checkout

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/abgdnv/tarpets/internal/cart"
	"github.com/google/uuid"
)

// DefaultBucket is the window within which an identical cart of the same user maps to the same key.
const DefaultBucket = 10 * time.Minute

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("checkout.tarpets"))

// IdempotencyKey derives a name-based UUID from the user, the cart contents and the time bucket of at.
// Item order does not matter.
func IdempotencyKey(userID int64, items []cart.Item, at time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b cart.Item) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	var b strings.Builder
	fmt.Fprintf(&b, "user=%d;bucket=%d;", userID, at.UTC().Truncate(bucket).Unix())
	for _, it := range sorted {
		fmt.Fprintf(&b, "%d:%d@%s;", it.ID, it.Quantity, it.Price.String())
	}
	return uuid.NewSHA1(keyNamespace, []byte(b.String())).String()
}
