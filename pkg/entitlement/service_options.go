package entitlement

import "time"

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithClock overrides the time source, for tests with fixed time.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMaxRetries bounds how many times a conflicted compare-and-set is
// retried before surfacing ErrContention.
func WithMaxRetries(n int) ServiceOption {
	return func(s *service) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithBillingPeriod sets the billing period used for pending downgrades
// and next-billing-date reporting. Defaults to 30 days.
func WithBillingPeriod(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.billingPeriod = d
		}
	}
}

// WithPaymentTimeout bounds the payment provider call. A call exceeding
// the deadline is treated as a decline.
func WithPaymentTimeout(d time.Duration) ServiceOption {
	return func(s *service) {
		if d > 0 {
			s.paymentTimeout = d
		}
	}
}
