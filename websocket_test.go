package rsocket

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
)

// wsPair returns a client wsConn and the server side websocket.
func wsPair(t *testing.T) (client *wsConn, server *websocket.Conn, closer func()) {
	srvCh := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		srvCh <- ws
	}))
	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	if !assert.NoError(t, err) {
		hs.Close()
		t.FailNow()
	}
	resp.Body.Close()
	server = <-srvCh
	return newWSConn(ws), server, func() {
		server.Close()
		hs.Close()
	}
}

func Test_wsConn_WriteSplitsFrames(t *testing.T) {
	client, server, closer := wsPair(t)
	defer closer()
	defer client.Close()

	f1 := NewRequestResponseFrame(1, PayloadFromText("one", "")).Encode()
	f2 := NewCancelFrame(3).Encode()
	b := append(append([]byte{}, f1...), f2...)

	// partial frames are held back until complete
	n, err := client.Write(b[:2])
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = client.Write(b[2:len(f1)+4])
	assert.NoError(t, err)
	assert.Equal(t, len(f1)+2, n)
	_, err = client.Write(b[len(f1)+4:])
	assert.NoError(t, err)

	mt, msg, err := server.ReadMessage()
	assert.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, f1[FrameLengthSize:], msg)
	_, msg, err = server.ReadMessage()
	assert.NoError(t, err)
	assert.Equal(t, f2[FrameLengthSize:], msg)
}

func Test_wsConn_ReadPrependsLength(t *testing.T) {
	client, server, closer := wsPair(t)
	defer closer()
	defer client.Close()

	f := NewPayloadFrame(5, true, PayloadFromText("data", "meta"))
	b := f.Encode()
	assert.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("ignored")))
	assert.NoError(t, server.WriteMessage(websocket.BinaryMessage, b[FrameLengthSize:]))

	got, err := ReadFrame(client)
	assert.NoError(t, err)
	assert.Equal(t, b, got)

	pf, err := ParseFrame(got)
	assert.NoError(t, err)
	if pf, ok := pf.(*PayloadFrame); assert.True(t, ok) {
		assert.Equal(t, "data", pf.Payload.DataUTF8())
		assert.Equal(t, "meta", pf.Payload.MetadataUTF8())
	}
}

func Test_wsConn_Close(t *testing.T) {
	client, server, closer := wsPair(t)
	defer closer()

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}
