package dig_container

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-billing/core"
	"github.com/trezcool/masomo-billing/core/subscription"
	"github.com/trezcool/masomo-billing/storage/cache/lrucache"
	"github.com/trezcool/masomo-billing/storage/roster/staticroster"
)

func TestNewRoster(t *testing.T) {
	conf := core.NewTestConfig()

	conf.Roster.Students = []string{"stud-a", "stud-b"}
	rp, err := newRoster(conf)
	require.NoError(t, err)
	assert.IsType(t, &staticroster.Provider{}, rp)

	conf.Roster.Source = "lol"
	_, err = newRoster(conf)
	assert.EqualError(t, err, `unknown roster source "lol"`)
}

func TestNewSubscriptionCache(t *testing.T) {
	conf := core.NewTestConfig()
	conf.Cache.TTL = time.Minute

	tests := []struct {
		driver  string
		want    subscription.Cache
		wantErr string
	}{
		{driver: "none", want: subscription.NopCache{}},
		{driver: "", want: subscription.NopCache{}},
		{driver: "memory", want: &lrucache.Cache{}},
		{driver: "lol", wantErr: `unknown cache driver "lol"`},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			conf.Cache.Driver = tt.driver
			got, err := newSubscriptionCache(conf)
			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, got)
		})
	}
}

func TestNew(t *testing.T) {
	// providers are only called on Invoke
	c := New()
	assert.NotNil(t, c)
}
