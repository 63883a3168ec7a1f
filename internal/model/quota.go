package model

import "time"

// Unlimited is the limit value for plans without a monthly cap.
const Unlimited = -1

// QuotaRecord is the per-user usage state for the current period.
type QuotaRecord struct {
	UserID    string    `json:"user_id"`
	Plan      string    `json:"plan"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Remaining returns the allowance left, or Unlimited.
func (r QuotaRecord) Remaining() int {
	if r.Limit == Unlimited {
		return Unlimited
	}
	if r.Used >= r.Limit {
		return 0
	}
	return r.Limit - r.Used
}

// View returns the client-facing quota summary.
func (r QuotaRecord) View() *QuotaView {
	return &QuotaView{
		Used:      r.Used,
		Limit:     r.Limit,
		Remaining: r.Remaining(),
		ResetAt:   r.ResetAt,
	}
}

// QuotaView is the quota block returned with every chat response.
type QuotaView struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// QueryUsageRequest is the request body of POST /query-usage.
type QueryUsageRequest struct {
	UserID string `json:"user_id"`
	Plan   string `json:"plan"`
}

// QueryUsageResponse reports whether the next request would be admitted.
type QueryUsageResponse struct {
	Allowed bool `json:"allowed"`
	QuotaView
}
