package push_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rentfolio/go-push-service/pkg/push"
)

func TestStatusCounts_Observe(t *testing.T) {
	var counts push.StatusCounts
	for _, s := range []push.Status{
		push.StatusPending,
		push.StatusSent,
		push.StatusDelivered,
		push.StatusClicked,
		push.StatusFailed,
	} {
		counts.Observe(s)
	}

	assert.Equal(t, 5, counts.Total)
	assert.Equal(t, 1, counts.Pending)
	assert.Equal(t, 1, counts.Failed)

	// Lifecycle attainment is cumulative: a clicked record was also sent
	// and delivered, so the ratios downstream stay within [0, 1].
	assert.Equal(t, 3, counts.Sent)
	assert.Equal(t, 2, counts.Delivered)
	assert.Equal(t, 1, counts.Clicked)
}
