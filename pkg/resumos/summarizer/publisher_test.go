package summarizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	trigger := msg("t", "Ana", "#resumo", 0)

	t.Run("empty result is a no-op", func(t *testing.T) {
		s := &fakeSession{}
		p := NewPublisher(s, 0, newFakeClock(baseTime), nil, testLogger)

		d, err := p.Publish(ctx, testChat, trigger, "")
		require.NoError(t, err)
		assert.Nil(t, d)
		assert.Zero(t, s.sentCount())
		assert.Empty(t, p.Pending())
	})

	t.Run("replies and deletes after retention", func(t *testing.T) {
		clock := newFakeClock(baseTime)
		s := &fakeSession{sentAt: baseTime}
		reg := prometheus.NewRegistry()
		m := NewMetrics(reg)
		p := NewPublisher(s, 0, clock, m, testLogger)

		d, err := p.Publish(ctx, testChat, trigger, "Resumo")
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, baseTime.Add(5*time.Minute), d.FireAt)
		require.Len(t, s.sent, 1)
		assert.Equal(t, "Resumo", s.sent[0].Text)
		assert.Equal(t, "t", s.sent[0].Quoted.ID)
		assert.Equal(t, testChat, s.sent[0].ChatID)
		assert.Len(t, p.Pending(), 1)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.pendingDeletions))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.published))

		clock.Advance(5*time.Minute - time.Second)
		assert.Empty(t, s.deleteCalls())

		clock.Advance(time.Second)
		calls := s.deleteCalls()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].ForEveryone)
		assert.Equal(t, d.Handle, calls[0].Handle)
		assert.Empty(t, p.Pending())
		assert.Equal(t, 0.0, testutil.ToFloat64(m.pendingDeletions))

		clock.Advance(time.Hour)
		assert.Len(t, s.deleteCalls(), 1, "deletion fires exactly once")
	})

	t.Run("fire time is relative to send time", func(t *testing.T) {
		clock := newFakeClock(baseTime.Add(10 * time.Second))
		s := &fakeSession{sentAt: baseTime}
		p := NewPublisher(s, 2*time.Minute, clock, nil, testLogger)

		d, err := p.Publish(ctx, testChat, trigger, "Resumo")
		require.NoError(t, err)
		assert.Equal(t, baseTime.Add(2*time.Minute), d.FireAt)

		clock.Advance(110 * time.Second)
		assert.Len(t, s.deleteCalls(), 1)
	})

	t.Run("missing send time uses the clock", func(t *testing.T) {
		clock := newFakeClock(baseTime)
		p := NewPublisher(&fakeSession{}, 0, clock, nil, testLogger)

		d, err := p.Publish(ctx, testChat, trigger, "Resumo")
		require.NoError(t, err)
		assert.Equal(t, baseTime.Add(DefaultRetention), d.FireAt)
	})

	t.Run("send failure is a DeliveryError", func(t *testing.T) {
		boom := errors.New("not connected")
		s := &fakeSession{sendErr: boom}
		p := NewPublisher(s, 0, newFakeClock(baseTime), nil, testLogger)

		d, err := p.Publish(ctx, testChat, trigger, "Resumo")
		assert.Nil(t, d)
		var delivery *DeliveryError
		require.ErrorAs(t, err, &delivery)
		assert.Equal(t, "send", delivery.Op)
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, p.Pending())
	})

	t.Run("delete failure is swallowed", func(t *testing.T) {
		clock := newFakeClock(baseTime)
		s := &fakeSession{sentAt: baseTime, deleteErr: errors.New("revoke window expired")}
		reg := prometheus.NewRegistry()
		m := NewMetrics(reg)
		p := NewPublisher(s, 0, clock, m, testLogger)

		_, err := p.Publish(ctx, testChat, trigger, "Resumo")
		require.NoError(t, err)

		assert.NotPanics(t, func() { clock.Advance(DefaultRetention) })
		assert.Len(t, s.deleteCalls(), 1)
		assert.Empty(t, p.Pending())
		assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("delete")))
	})
}

func TestPublisherRegistry(t *testing.T) {
	ctx := context.Background()
	trigger := msg("t", "Ana", "#resumo", 0)

	t.Run("deletions are independent", func(t *testing.T) {
		clock := newFakeClock(baseTime)
		s := &fakeSession{}
		p := NewPublisher(s, 0, clock, nil, testLogger)

		first, _ := p.Publish(ctx, testChat, trigger, "um")
		clock.Advance(time.Minute)
		second, _ := p.Publish(ctx, testChat, trigger, "dois")

		pending := p.Pending()
		require.Len(t, pending, 2)
		assert.Equal(t, first.Handle.ID, pending[0].Handle.ID, "ordered by fire time")

		clock.Advance(DefaultRetention - time.Minute)
		calls := s.deleteCalls()
		require.Len(t, calls, 1)
		assert.Equal(t, first.Handle.ID, calls[0].Handle.ID)
		require.Len(t, p.Pending(), 1)
		assert.Equal(t, second.Handle.ID, p.Pending()[0].Handle.ID)

		clock.Advance(time.Minute)
		calls = s.deleteCalls()
		require.Len(t, calls, 2)
		assert.Equal(t, second.Handle.ID, calls[1].Handle.ID)
		assert.Empty(t, p.Pending())
	})

	t.Run("close cancels pending deletions", func(t *testing.T) {
		clock := newFakeClock(baseTime)
		s := &fakeSession{}
		p := NewPublisher(s, 0, clock, nil, testLogger)

		_, _ = p.Publish(ctx, testChat, trigger, "um")
		_, _ = p.Publish(ctx, testChat, trigger, "dois")
		p.Close()
		p.Close()

		assert.Empty(t, p.Pending())
		clock.Advance(time.Hour)
		assert.Empty(t, s.deleteCalls())

		d, err := p.Publish(ctx, testChat, trigger, "três")
		require.NoError(t, err)
		assert.NotNil(t, d)
		assert.Empty(t, p.Pending(), "nothing is scheduled after close")
	})

	t.Run("system clock schedules real timers", func(t *testing.T) {
		s := &fakeSession{}
		p := NewPublisher(s, 20*time.Millisecond, nil, nil, testLogger)

		_, err := p.Publish(ctx, testChat, trigger, "rápido")
		require.NoError(t, err)
		assert.Eventually(t, func() bool { return len(s.deleteCalls()) == 1 }, 2*time.Second, 10*time.Millisecond)
	})
}
