// SPDX-FileCopyrightText: 2023-present Datadog, Inc.
// SPDX-License-Identifier: Apache-2.0

package kdfutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKEK(t *testing.T) {
	t.Parallel()

	password := []byte("hunter2")
	salt := []byte("0123456789abcdef")

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		k1, err := DeriveKEK(password, salt, 8, 1)
		require.NoError(t, err)
		require.Len(t, k1, KeyLength)

		k2, err := DeriveKEK(password, salt, 8, 1)
		require.NoError(t, err)
		require.Equal(t, k1, k2)
	})

	t.Run("password sensitivity", func(t *testing.T) {
		t.Parallel()

		k1, err := DeriveKEK(password, salt, 8, 1)
		require.NoError(t, err)

		k2, err := DeriveKEK([]byte("hunter3"), salt, 8, 1)
		require.NoError(t, err)
		require.NotEqual(t, k1, k2)
	})

	t.Run("salt sensitivity", func(t *testing.T) {
		t.Parallel()

		k1, err := DeriveKEK(password, salt, 8, 1)
		require.NoError(t, err)

		k2, err := DeriveKEK(password, []byte("fedcba9876543210"), 8, 1)
		require.NoError(t, err)
		require.NotEqual(t, k1, k2)
	})

	t.Run("cost sensitivity", func(t *testing.T) {
		t.Parallel()

		k1, err := DeriveKEK(password, salt, 8, 1)
		require.NoError(t, err)

		k2, err := DeriveKEK(password, salt, 16, 1)
		require.NoError(t, err)
		require.NotEqual(t, k1, k2)

		k3, err := DeriveKEK(password, salt, 8, 2)
		require.NoError(t, err)
		require.NotEqual(t, k1, k3)
	})

	t.Run("invalid salt length", func(t *testing.T) {
		t.Parallel()

		_, err := DeriveKEK(password, salt[:8], 8, 1)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("invalid memory cost", func(t *testing.T) {
		t.Parallel()

		_, err := DeriveKEK(password, salt, 4, 1)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("invalid time cost", func(t *testing.T) {
		t.Parallel()

		_, err := DeriveKEK(password, salt, 8, 0)
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidParams)
	})
}

func TestSubKey(t *testing.T) {
	t.Parallel()

	secret := []byte("ATCkaljMhYokvN08nZMX358JwPGY4DY0")

	t.Run("deterministic", func(t *testing.T) {
		t.Parallel()

		k1, err := SubKey(secret, "file:2")
		require.NoError(t, err)
		require.Len(t, k1, KeyLength)

		k2, err := SubKey(secret, "file:2")
		require.NoError(t, err)
		require.Equal(t, k1, k2)
	})

	t.Run("info separation", func(t *testing.T) {
		t.Parallel()

		k1, err := SubKey(secret, "file:2")
		require.NoError(t, err)

		k2, err := SubKey(secret, "file:3")
		require.NoError(t, err)
		require.NotEqual(t, k1, k2)

		k3, err := SubKey(secret, "chunk:1")
		require.NoError(t, err)
		require.NotEqual(t, k1, k3)
	})

	t.Run("invalid secret length", func(t *testing.T) {
		t.Parallel()

		_, err := SubKey(secret[:16], "file:2")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidParams)
	})

	t.Run("empty info", func(t *testing.T) {
		t.Parallel()

		_, err := SubKey(secret, "")
		require.Error(t, err)
		require.ErrorIs(t, err, ErrInvalidParams)
	})
}
