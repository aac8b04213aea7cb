package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		raw  string
		want Class
	}{
		{"Order Successful", ClassSuccess},
		{"delivered", ClassSuccess},
		{"COMPLETED", ClassSuccess},
		{"Your order has been processed", ClassSuccess},
		{"Failed", ClassFailure},
		{"Transaction error", ClassFailure},
		{"Order cancelled by operator", ClassFailure},
		{"canceled", ClassFailure},
		{"REJECTED: invalid recipient", ClassFailure},
		{"refund issued", ClassFailure},
		{"Unsuccessful", ClassFailure},
		{"pending", ClassInFlight},
		{"Processing", ClassInFlight},
		{"queued", ClassInFlight},
		{"", ClassInFlight},
		{"awaiting network confirmation", ClassInFlight},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.raw), "raw=%q", tc.raw)
		})
	}
}
