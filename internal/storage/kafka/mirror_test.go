package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

func TestNew_RequiresBrokers(t *testing.T) {
	_, err := New(nil, "")
	assert.Error(t, err)
}

func TestNew_DefaultTopic(t *testing.T) {
	// the client connects lazily, so no broker is needed here
	m, err := New([]string{"127.0.0.1:1"}, "")
	require.NoError(t, err)
	defer m.client.Close()
	assert.Equal(t, DefaultTopic, m.topic)
	assert.Equal(t, DefaultProduceTimeout, m.timeout)
}

func TestAppend_UnreachableBrokerTimesOut(t *testing.T) {
	m, err := New([]string{"127.0.0.1:1"}, "", WithProduceTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer m.client.Close()
	assert.Equal(t, 100*time.Millisecond, m.timeout)

	start := time.Now()
	err = m.AppendFailure(context.Background(), "KI1I/00000001/1", types.ReasonNotFound)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
