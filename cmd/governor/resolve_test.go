package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/robalyx/profilegov/internal/governor/resolver"
	"github.com/robalyx/profilegov/internal/governor/types"
	"github.com/robalyx/profilegov/internal/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectInputs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "handles.txt")
	require.NoError(t, os.WriteFile(path, []byte("natgeo\n\n# comment\n  nasa  \n"), 0o600))

	inputs, err := collectInputs(path, []string{"@esa"})
	require.NoError(t, err)
	assert.Equal(t, []string{"natgeo", "nasa", "@esa"}, inputs)

	_, err = collectInputs(filepath.Join(t.TempDir(), "missing.txt"), nil)
	require.Error(t, err)
}

func TestIsRetryableResolve(t *testing.T) {
	t.Parallel()

	rateLimited := &profile.APIError{StatusCode: 429, Message: "slow down", Err: profile.ErrRateLimited}
	notFound := &profile.APIError{StatusCode: 404, Message: "user not found", Err: profile.ErrProfileNotFound}

	assert.True(t, isRetryableResolve(&resolver.FetchError{Identity: "natgeo", Reason: "slow down", Err: rateLimited}))
	assert.False(t, isRetryableResolve(&resolver.FetchError{Identity: "ghost", Reason: "user not found", Err: notFound}))
	assert.False(t, isRetryableResolve(resolver.ErrInvalidIdentity))
	assert.False(t, isRetryableResolve(errors.New("other")))
}

func TestWriteRecord(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	result := &resolver.Result{
		Profile:         &types.Profile{Identity: "natgeo"},
		ServedFromCache: true,
	}
	require.NoError(t, writeRecord(&buf, newRecord(" natgeo ", result, nil)))
	require.NoError(t, writeRecord(&buf, newRecord("", nil, resolver.ErrInvalidIdentity)))

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var ok record
	require.NoError(t, sonic.Unmarshal(lines[0], &ok))
	assert.Equal(t, "natgeo", ok.Input)
	assert.Equal(t, "natgeo", ok.Identity)
	assert.True(t, ok.ServedFromCache)
	assert.Empty(t, ok.Error)

	var failed record
	require.NoError(t, sonic.Unmarshal(lines[1], &failed))
	assert.Nil(t, failed.Profile)
	assert.Equal(t, resolver.ErrInvalidIdentity.Error(), failed.Error)
}
