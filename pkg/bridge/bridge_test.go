package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/CortexConsensus/internal/events"
)

type captured struct {
	topic, payload string
}

func TestNotifierUsesOwnCallback(t *testing.T) {
	var got []captured
	n := NewNotifier(func(topic, payload string) { got = append(got, captured{topic, payload}) })

	scope := events.Scope{Emitter: n, RunID: "run-1"}.WithRound(2).WithPersona("safe_analyst")
	scope.Emit(events.AgentFallback, map[string]any{"reason": "timeout"})

	require.Len(t, got, 1)
	assert.Equal(t, events.AgentFallback, got[0].topic)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(got[0].payload), &ev))
	assert.Equal(t, "run-1", ev.RunID)
	assert.Equal(t, 2, ev.Round)
	assert.Equal(t, "safe_analyst", ev.Persona)
	assert.Equal(t, "timeout", ev.Fields["reason"])
}

func TestNotifierFallsBackToGlobal(t *testing.T) {
	var topics []string
	SetNotifyImpl(func(topic, payload string) { topics = append(topics, topic) })
	t.Cleanup(func() { SetNotifyImpl(nil) })

	NewNotifier(nil).Emit(events.Event{Topic: events.RunStarted})
	assert.Equal(t, []string{events.RunStarted}, topics)
}

func TestNotifyWithoutImplIsNoop(t *testing.T) {
	SetNotifyImpl(nil)
	assert.NotPanics(t, func() { Notify("x", "{}") })
}

func TestUnencodableFieldsStillNotify(t *testing.T) {
	var got []captured
	n := NewNotifier(func(topic, payload string) { got = append(got, captured{topic, payload}) })
	n.Emit(events.Event{Topic: "odd", Fields: map[string]any{"ch": make(chan int)}})
	require.Len(t, got, 1)
	assert.Contains(t, got[0].payload, `"topic":"odd"`)
}
