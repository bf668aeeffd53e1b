package redemption

import "time"

// Status of a redemption code. Expired is evaluated on read and never stored.
const (
	StatusActive   = "active"
	StatusRedeemed = "redeemed"
	StatusExpired  = "expired"
)

// Code is a single-use token exchangeable for a fixed credit amount.
type Code struct {
	Code       string
	Amount     int64
	Remark     *string
	ExpiredAt  *time.Time
	Redeemed   bool
	RedeemedBy *string
	RedeemedAt *time.Time
	CreatedAt  time.Time
}

// Status evaluates the lifecycle state of the code at now.
func (c Code) Status(now time.Time) string {
	switch {
	case c.Redeemed:
		return StatusRedeemed
	case c.expiredAt(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

func (c Code) expiredAt(now time.Time) bool {
	return c.ExpiredAt != nil && now.After(*c.ExpiredAt)
}

// CreateInput captures the administrator supplied fields of a new code.
type CreateInput struct {
	Amount    int64
	ExpiredAt *time.Time
	Remark    *string
}
