package cache

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeInvalidation(t *testing.T, m InvalidationMessage) []byte {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func TestInvalidatorDefaults(t *testing.T) {
	n := newInvalidator(nil, &InvalidatorConfig{}, "")

	assert.NotEmpty(t, n.NodeID())
	assert.Equal(t, "volume.chunks.invalidate", n.subject)
	assert.Equal(t, 5*time.Second, n.publishTimeout)
	assert.NotZero(t, n.epoch)

	other := newInvalidator(nil, &InvalidatorConfig{}, "")
	assert.NotEqual(t, n.NodeID(), other.NodeID())
}

func TestInvalidatorHandlesRemoteMessages(t *testing.T) {
	n := newInvalidator(nil, &InvalidatorConfig{}, "node-a")

	var handled []string
	n.handler = func(key string) error {
		handled = append(handled, key)
		return nil
	}

	remote := InvalidationMessage{Key: "v:chunk:1:1:1", NodeID: "node-b", Epoch: 100, Seq: 1}
	n.handleMessage(encodeInvalidation(t, remote))
	// Повторная доставка того же сообщения
	n.handleMessage(encodeInvalidation(t, remote))
	// Новая запись того же ключа - следующий номер
	remote.Seq = 2
	n.handleMessage(encodeInvalidation(t, remote))
	// Собственное сообщение
	n.handleMessage(encodeInvalidation(t, InvalidationMessage{Key: "v:chunk:2:2:2", NodeID: "node-a", Epoch: n.epoch, Seq: 1}))
	// Мусор
	n.handleMessage([]byte("{not json"))

	assert.Equal(t, []string{"v:chunk:1:1:1", "v:chunk:1:1:1"}, handled)

	stats := n.GetMetrics()
	assert.Equal(t, "node-a", stats.NodeID)
	assert.Equal(t, int64(5), stats.Received)
	assert.Equal(t, int64(1), stats.Duplicates)
	assert.Equal(t, int64(1), stats.Errors)
	assert.False(t, stats.Connected)
}

func TestInvalidatorEpochs(t *testing.T) {
	n := newInvalidator(nil, &InvalidatorConfig{}, "node-a")

	accept := func(epoch int64, seq uint64) bool {
		return n.accept(InvalidationMessage{Key: "k", NodeID: "node-b", Epoch: epoch, Seq: seq})
	}

	for _, seq := range []uint64{1, 2, 5} {
		require.True(t, accept(100, seq))
	}
	assert.False(t, accept(100, 5))
	assert.False(t, accept(100, 3))

	// Узел перезапущен: номера начинаются заново в новой эпохе
	assert.True(t, accept(200, 1))
	assert.True(t, accept(200, 2))
	// Запоздавшее сообщение прошлого запуска
	assert.False(t, accept(100, 6))

	// Курсоры разных узлов независимы
	assert.True(t, n.accept(InvalidationMessage{Key: "k", NodeID: "node-c", Epoch: 1, Seq: 1}))
}

func TestInvalidatorCountsHandlerErrors(t *testing.T) {
	n := newInvalidator(nil, &InvalidatorConfig{}, "node-a")
	n.handler = func(string) error { return errors.New("redis down") }

	n.handleMessage(encodeInvalidation(t, InvalidationMessage{Key: "k", NodeID: "node-b", Epoch: 1, Seq: 1}))
	assert.Equal(t, int64(1), n.GetMetrics().Errors)
}

func TestInvalidatorCloseWithoutConnection(t *testing.T) {
	n := newInvalidator(nil, &InvalidatorConfig{}, "node-a")
	assert.NoError(t, n.Close())
	assert.NoError(t, n.Close())
}
