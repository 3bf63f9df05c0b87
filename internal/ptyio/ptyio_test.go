package ptyio

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AllocatesPair(t *testing.T) {
	pair, err := Open()
	require.NoError(t, err)
	defer pair.Close()

	assert.NotEmpty(t, pair.SlaveName())
	assert.NotNil(t, pair.Master)
	assert.NotNil(t, pair.Slave)
}

func TestPollReadable_TimesOutWithNoData(t *testing.T) {
	pair, err := Open()
	require.NoError(t, err)
	defer pair.Close()

	readable, err := PollReadable(int(pair.Master.Fd()), 10)
	assert.NoError(t, err)
	assert.False(t, readable)
}

func TestPollReadable_SeesWrittenBytes(t *testing.T) {
	pair, err := Open()
	require.NoError(t, err)
	defer pair.Close()

	_, err = pair.Slave.Write([]byte("hi"))
	require.NoError(t, err)

	readable, err := PollReadable(int(pair.Master.Fd()), 200)
	assert.NoError(t, err)
	assert.True(t, readable)
}

func TestIsBenignReadError(t *testing.T) {
	benign, eof := IsBenignReadError(syscall.EAGAIN)
	assert.True(t, benign)
	assert.False(t, eof)

	benign, eof = IsBenignReadError(syscall.EIO)
	assert.True(t, benign)
	assert.True(t, eof)

	benign, eof = IsBenignReadError(nil)
	assert.False(t, benign)
	assert.False(t, eof)
}
