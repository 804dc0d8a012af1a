package postgres

import (
	"testing"
	"time"

	"github.com/microservices-demo/orders/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromConfig(t *testing.T) {
	p := &Postgres{}
	for _, opt := range FromConfig(&config.Postgres{
		PoolMax:        7,
		ConnAttempts:   3,
		BaseRetryDelay: 50 * time.Millisecond,
		MaxRetryDelay:  time.Second,
	}) {
		opt(p)
	}

	require.NoError(t, p.validate())
	assert.EqualValues(t, 7, p.maxPoolSize)
	assert.Equal(t, 3, p.connAttempts)
	assert.Equal(t, 50*time.Millisecond, p.baseRetryDelay)
	assert.Equal(t, time.Second, p.maxRetryDelay)
}

func TestValidate(t *testing.T) {
	valid := func() *Postgres {
		return &Postgres{maxPoolSize: 1, connAttempts: 1, baseRetryDelay: time.Millisecond, maxRetryDelay: time.Second}
	}

	testCases := []struct {
		desc   string
		mutate func(p *Postgres)
	}{
		{"pool size", func(p *Postgres) { p.maxPoolSize = 0 }},
		{"attempts", func(p *Postgres) { p.connAttempts = 0 }},
		{"zero delay", func(p *Postgres) { p.baseRetryDelay = 0 }},
		{"base above max", func(p *Postgres) { p.baseRetryDelay = time.Minute }},
	}

	require.NoError(t, valid().validate())
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			p := valid()
			tc.mutate(p)
			require.ErrorIs(t, p.validate(), errInvalidOption)
		})
	}
}
