package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSESource_ParsesNamedEvents(t *testing.T) {
	body := "event: chunk\ndata: {\"model\":\"A\",\"chunk\":\"Hel\"}\n\n" +
		": keep-alive\n\n" +
		"event:summary\ndata:[{\"model\":\"A\",\n" +
		"data: \"success_count\":1}]\n\n" +
		"event: complete\r\ndata: {}\r\n\r\n"
	src := NewSSESource(io.NopCloser(strings.NewReader(body)))

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, KindChunk, ev.Kind)
	assert.JSONEq(t, `{"model":"A","chunk":"Hel"}`, string(ev.Data))

	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, KindSummary, ev.Kind)
	assert.Equal(t, "[{\"model\":\"A\",\n\"success_count\":1}]", string(ev.Data))

	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, KindComplete, ev.Kind)
	assert.Equal(t, "{}", string(ev.Data))

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSESource_TrailingEventWithoutBlankLine(t *testing.T) {
	src := NewSSESource(io.NopCloser(strings.NewReader("event: error\ndata: {\"error\":\"x\"}")))

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, KindError, ev.Kind)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSSESource_DataWithoutEventIsMessage(t *testing.T) {
	src := NewSSESource(io.NopCloser(strings.NewReader("data: {\"type\":\"ping\"}\n\n")))

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, Kind("message"), ev.Kind)
}

func TestSocketSource_ReadsEnvelopes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, env := range []Envelope{
			{Event: KindChunk, Data: json.RawMessage(`{"model":"A","chunk":"x"}`)},
			{Event: KindComplete, Data: json.RawMessage(`{}`)},
		} {
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	src := NewSocketSource(conn)
	defer src.Close()

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, KindChunk, ev.Kind)
	assert.JSONEq(t, `{"model":"A","chunk":"x"}`, string(ev.Data))

	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, KindComplete, ev.Kind)

	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
}
