package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBus_PublishToSubscriber(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var received []*Event
	bus.Subscribe(OptimizationStarted, func(e *Event) {
		received = append(received, e)
	})

	bus.Publish(OptimizationStarted, "corr-1", map[string]interface{}{"scenario_id": "s1"})
	bus.Publish(OptimizationCompleted, "corr-1", nil)

	assert.Len(t, received, 1)
	assert.Equal(t, OptimizationStarted, received[0].Type)
	assert.Equal(t, "corr-1", received[0].CorrelationID)
	assert.Equal(t, "s1", received[0].Data["scenario_id"])
}

func TestBus_SubscribeAllReceivesEveryType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	count := 0
	bus.SubscribeAll(func(e *Event) { count++ })

	bus.Publish(OptimizationStarted, "", nil)
	bus.Publish(OptimizationFailed, "", nil)
	bus.Publish(PlanStatusUpdated, "", nil)

	assert.Equal(t, 3, count)
}

func TestBus_PanickingHandlerDoesNotAbortOthers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	bus.Subscribe(OptimizationFailed, func(e *Event) { panic("boom") })

	delivered := false
	bus.Subscribe(OptimizationFailed, func(e *Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(OptimizationFailed, "", nil)
	})
	assert.True(t, delivered)
}

func TestBus_NoSubscribersIsNoop(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() {
		bus.Publish(OptimizationProgress, "", map[string]interface{}{"percent": 50})
	})
}
