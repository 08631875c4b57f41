package eventhub

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublish(t *testing.T) {
	h := New[int](4)

	id1, c1 := h.Subscribe()
	id2, c2 := h.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Len(t, id1, 16)
	assert.Equal(t, 2, h.Len())

	require.NoError(t, h.Publish(7))
	assert.Equal(t, 7, <-c1)
	assert.Equal(t, 7, <-c2)
}

func TestPublishNeverBlocks(t *testing.T) {
	h := New[int](1)
	_, c := h.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Equal(t, 0, <-c)
	published, dropped := h.Stats()
	assert.Equal(t, uint64(10), published)
	assert.Equal(t, uint64(9), dropped)
}

func TestUnsubscribe(t *testing.T) {
	h := New[string](0)
	id, c := h.Subscribe()

	h.Unsubscribe(id)
	_, ok := <-c
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, h.Len())

	// unknown and repeated ids are ignored
	h.Unsubscribe(id)
	h.Unsubscribe("nope")
}

func TestClose(t *testing.T) {
	h := New[int](2)
	id, c := h.Subscribe()

	h.Close()
	_, ok := <-c
	assert.False(t, ok)
	assert.ErrorIs(t, h.Publish(1), ErrHubClosed)

	// safe after close
	h.Unsubscribe(id)
	h.Close()

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribe after close returns a closed channel")
	assert.Equal(t, 0, h.Len())
}

func TestConcurrentPublishers(t *testing.T) {
	h := New[int](1000)
	_, c := h.Subscribe()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(j)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c, 500)
}

type sample struct {
	Delta string `json:"delta"`
	Count int    `json:"count"`
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	h := New[sample](4)
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux, "events")

	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": ping\n", line)

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, h.Publish(sample{Delta: "entered", Count: 3}))

	for {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	assert.Equal(t, "data: {\"delta\":\"entered\",\"count\":3}\n", line)
}

func TestAttachAdminRoutes_MethodNotAllowed(t *testing.T) {
	h := New[sample](1)
	mux := http.NewServeMux()
	h.AttachAdminRoutes(mux, "events")

	req := httptest.NewRequest(http.MethodPost, "/debug/events", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
