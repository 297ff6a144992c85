package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, callID string) *Session {
	t.Helper()
	config := testSessionConfig()
	config.CallID = callID
	s, err := NewSession(config)
	require.NoError(t, err)
	return s
}

// TestRegistryLifecycle проверяет добавление, поиск и удаление сессий
func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	assert.Zero(t, r.Count())

	s1 := newTestSession(t, "call-1")
	s2 := newTestSession(t, "call-2")

	require.NoError(t, r.Add(s1))
	require.NoError(t, r.Add(s2))
	assert.Equal(t, 2, r.Count())

	// Повторный идентификатор отклоняется
	require.Error(t, r.Add(newTestSession(t, "call-1")))

	found, ok := r.Get("call-1")
	require.True(t, ok)
	assert.Equal(t, s1.ID(), found.ID())

	_, ok = r.Get("missing")
	assert.False(t, ok)

	r.Remove("call-1")
	assert.Equal(t, 1, r.Count())
}

// TestRegistryClear проверяет завершение всех сессий при очистке
func TestRegistryClear(t *testing.T) {
	r := NewRegistry()
	s := newTestSession(t, "call-clear")
	require.NoError(t, r.Add(s))

	r.Clear()
	assert.Zero(t, r.Count())
	assert.Equal(t, StateTerminated, s.State())
}
