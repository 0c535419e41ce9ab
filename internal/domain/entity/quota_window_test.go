package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaWindowAdmit(t *testing.T) {
	t.Run("admits exactly the request limit then rejects", func(t *testing.T) {
		// Arrange
		window := NewQuotaWindow("gemini", time.Minute, 5, 0)
		now := time.Now()

		// Act / Assert
		for i := 0; i < 5; i++ {
			assert.True(t, window.Admit(now, 100), "call %d should be admitted", i+1)
		}
		assert.False(t, window.Admit(now, 100))
		assert.Equal(t, 5, window.RequestsUsed())
	})

	t.Run("rejects when estimated tokens would exceed the token budget", func(t *testing.T) {
		window := NewQuotaWindow("gemini", time.Minute, 100, 1000)
		now := time.Now()

		assert.True(t, window.Admit(now, 800))
		assert.False(t, window.Admit(now, 300))
		assert.True(t, window.Admit(now, 200))
	})

	t.Run("window roll resets counters and resumes admission", func(t *testing.T) {
		window := NewQuotaWindow("openrouter", time.Minute, 1, 0)
		now := time.Now()

		require.True(t, window.Admit(now, 0))
		require.False(t, window.Admit(now, 0))

		later := now.Add(time.Minute + time.Second)

		assert.True(t, window.Admit(later, 0))
		assert.Equal(t, 1, window.RequestsUsed())
		assert.WithinDuration(t, later, window.WindowStart(), time.Millisecond)
	})
}

func TestQuotaWindowCooldown(t *testing.T) {
	t.Run("cool-down rejects admission until the deadline", func(t *testing.T) {
		window := NewQuotaWindow("gemini", time.Minute, 100, 0)
		now := time.Now()
		window.EnterCooldown(now.Add(30 * time.Second))

		assert.True(t, window.InCooldown(now))
		assert.False(t, window.Admit(now, 0))
	})

	t.Run("expired cool-down resumes admission", func(t *testing.T) {
		window := NewQuotaWindow("gemini", time.Minute, 100, 0)
		now := time.Now()
		window.EnterCooldown(now.Add(10 * time.Second))

		later := now.Add(11 * time.Second)

		assert.False(t, window.InCooldown(later))
		assert.True(t, window.Admit(later, 0))
	})

	t.Run("clear expired cool-down drops the deadline", func(t *testing.T) {
		window := NewQuotaWindow("gemini", time.Minute, 100, 0)
		now := time.Now()
		window.EnterCooldown(now.Add(time.Second))

		window.ClearExpiredCooldown(now.Add(2 * time.Second))

		assert.Nil(t, window.CooldownUntil())
	})
}

func TestQuotaWindowReconcile(t *testing.T) {
	t.Run("corrects pessimistic token charge with actual usage", func(t *testing.T) {
		window := NewQuotaWindow("gemini", time.Minute, 100, 10000)
		now := time.Now()
		require.True(t, window.Admit(now, 500))
		require.Equal(t, 500, window.TokensUsed())

		window.Reconcile(500, 320)

		assert.Equal(t, 320, window.TokensUsed())
	})

	t.Run("never reconciles below zero", func(t *testing.T) {
		window := NewQuotaWindow("gemini", time.Minute, 100, 10000)
		now := time.Now()
		require.True(t, window.Admit(now, 100))

		window.Reconcile(500, 0)

		assert.Equal(t, 0, window.TokensUsed())
	})
}
