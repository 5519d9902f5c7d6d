package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"DatasetApp/catalog"
	"DatasetApp/config"
	"DatasetApp/dataset"
	iface "DatasetApp/interface"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 90, G: 90, B: 90, A: 255})
		}
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func fixtureDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	dir := t.TempDir()
	conf := 0.9
	return dataset.Restore(dataset.Info{
		ID:      "ds-1",
		Name:    "fixture",
		Type:    iface.YOLOv5Dataset,
		Root:    dir,
		Classes: []string{"person", "car"},
	}, []*dataset.Sample{
		{
			ID:       "a",
			Filepath: writePNG(t, dir, "a.png", 64, 48),
			Tags:     []string{"train"},
			Metadata: dataset.Metadata{Width: 64, Height: 48},
			Detections: []dataset.Detection{
				{Label: "person", BoundingBox: [4]float64{0.1, 0.1, 0.5, 0.5}, Confidence: &conf},
			},
		},
		{
			ID:       "b",
			Filepath: writePNG(t, dir, "b.png", 32, 32),
			Tags:     []string{"val"},
			Detections: []dataset.Detection{
				{Label: "car", BoundingBox: [4]float64{0, 0, 1, 1}},
			},
		},
	})
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1"
	cfg.Port = 0
	cfg.AutoOpen = false
	cfg.Wait = 50 * time.Millisecond
	return cfg
}

func launch(t *testing.T, cfg Config) *Session {
	t.Helper()
	s, err := LaunchApp(fixtureDataset(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func dial(t *testing.T, s *Session) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.URL(), "http")+"/ws", nil)
	require.NoError(t, err)
	var hello message
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "state", hello.Type)
	require.Equal(t, s.ID(), hello.Session)
	return conn
}

func waitAsync(s *Session, ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.Wait(ctx) }()
	return ch
}

func TestLaunchServesAPI(t *testing.T) {
	s := launch(t, testConfig())

	var ping map[string]string
	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/ping", &ping))
	assert.Equal(t, "pong", ping["message"])
	assert.Equal(t, s.ID(), ping["session"])

	var info struct {
		Data dataset.Info `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/dataset", &info))
	assert.Equal(t, "fixture", info.Data.Name)
	assert.Equal(t, 2, info.Data.SampleCount)

	var page struct {
		Data dataset.Page `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/samples?tag=val", &page))
	assert.Equal(t, 1, page.Data.Total)
	require.Len(t, page.Data.Samples, 1)
	assert.Equal(t, "b", page.Data.Samples[0].ID)

	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/samples?offset=1&limit=1", &page))
	assert.Equal(t, 2, page.Data.Total)
	assert.Equal(t, "b", page.Data.Samples[0].ID)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, s.URL()+"/api/samples?offset=x", nil))
	assert.Equal(t, http.StatusNotFound, getJSON(t, s.URL()+"/api/samples/zzz", nil))

	var names struct {
		Data []string `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/datasets", &names))
	assert.Equal(t, []string{"fixture"}, names.Data)

	var stats struct {
		Data struct {
			Labels map[string]int    `json:"labels"`
			Tags   map[string]int    `json:"tags"`
			Colors map[string]string `json:"colors"`
		} `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/stats", &stats))
	assert.Equal(t, map[string]int{"person": 1, "car": 1}, stats.Data.Labels)
	assert.Equal(t, map[string]int{"train": 1, "val": 1}, stats.Data.Tags)
	assert.Contains(t, stats.Data.Colors, "person")
}

func TestImageRoutes(t *testing.T) {
	s := launch(t, testConfig())

	resp, err := http.Get(s.URL() + "/api/samples/a/thumbnail?size=16")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 1, s.thumbs.len())

	resp, err = http.Get(s.URL() + "/api/samples/a/render")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "image/"))

	resp, err = http.Get(s.URL() + "/api/samples/a/media")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// b carries no header metadata; boxes are placed on the decoded image.
	resp, err = http.Get(s.URL() + "/api/samples/b/render")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.StatusBadRequest, getJSON(t, s.URL()+"/api/samples/a/thumbnail?size=-2", nil))
}

func TestIndexAndMetrics(t *testing.T) {
	s := launch(t, testConfig())

	resp, err := http.Get(s.URL() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "/api/samples")

	resp, err = http.Get(s.URL() + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "dataset_samples 2")
	assert.Contains(t, string(body), `route="/"`)
}

func TestDatasetsFromCatalog(t *testing.T) {
	cat := catalog.NewMemory()
	other := dataset.Restore(dataset.Info{ID: "x", Name: "other"}, nil)
	require.NoError(t, cat.Put(context.Background(), other))

	cfg := testConfig()
	cfg.Catalog = cat
	s := launch(t, cfg)

	var names struct {
		Data []string `json:"data"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, s.URL()+"/api/datasets", &names))
	assert.Equal(t, []string{"other"}, names.Data)
}

func TestWaitReturnsAfterViewersLeave(t *testing.T) {
	s := launch(t, testConfig())
	done := waitAsync(s, context.Background())

	conn := dial(t, s)
	select {
	case err := <-done:
		t.Fatalf("Wait returned while a viewer was connected: %v", err)
	case <-time.After(150 * time.Millisecond):
	}
	require.NoError(t, conn.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return after the viewer left")
	}
}

func TestWaitWithoutViewersBlocksUntilContextDone(t *testing.T) {
	s := launch(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := waitAsync(s, ctx)

	select {
	case <-done:
		t.Fatal("Wait returned before any viewer connected")
	case <-time.After(150 * time.Millisecond):
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait ignored context cancellation")
	}
}

func TestNegativeWaitIgnoresDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Wait = -1
	s := launch(t, cfg)
	done := waitAsync(s, context.Background())

	conn := dial(t, s)
	require.NoError(t, conn.Close())
	select {
	case <-done:
		t.Fatal("Wait returned with a negative wait")
	case <-time.After(200 * time.Millisecond):
	}
	require.NoError(t, s.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Close")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := launch(t, testConfig())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err := http.Get(s.URL() + "/api/ping")
	assert.Error(t, err)
}

func TestSelectionBroadcast(t *testing.T) {
	s := launch(t, testConfig())
	conn := dial(t, s)
	defer conn.Close()

	resp, err := http.Post(s.URL()+"/api/session/selected", "application/json", strings.NewReader(`{"ids":["a"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "selected", msg.Type)
	assert.Equal(t, []string{"a"}, msg.IDs)
	assert.Equal(t, []string{"a"}, s.Selected())

	resp, err = http.Post(s.URL()+"/api/session/selected", "application/json", strings.NewReader(`{"ids":["nope"]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []string{"a"}, s.Selected())

	require.NoError(t, conn.WriteJSON(message{Type: "select", IDs: []string{"b"}}))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "selected", msg.Type)
	assert.Equal(t, []string{"b"}, s.Selected())

	s.Refresh()
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "refresh", msg.Type)
}

func TestAutoOpen(t *testing.T) {
	opened := make(chan string, 1)
	prev := openBrowser
	openBrowser = func(target string) error {
		opened <- target
		return nil
	}
	t.Cleanup(func() { openBrowser = prev })

	cfg := testConfig()
	cfg.AutoOpen = true
	s := launch(t, cfg)
	assert.Equal(t, s.URL(), <-opened)
}

func TestLaunchErrors(t *testing.T) {
	_, err := LaunchApp(nil, testConfig())
	assert.Error(t, err)

	s := launch(t, testConfig())
	cfg := testConfig()
	u, err := url.Parse(s.URL())
	require.NoError(t, err)
	cfg.Port, err = strconv.Atoi(u.Port())
	require.NoError(t, err)
	_, err = LaunchApp(fixtureDataset(t), cfg)
	assert.Error(t, err)
}

func TestFromConfig(t *testing.T) {
	c := config.Default()
	c.App.Port = 8000
	c.App.WaitSeconds = -1
	c.Metrics = false
	cfg := FromConfig(c)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, -time.Second, cfg.Wait)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, DefaultConfig().IdleTimeout, cfg.IdleTimeout)
}

func TestThumbCacheEvicts(t *testing.T) {
	c := newThumbCache(2)
	c.put(thumbKey{"a", 1}, []byte("a"))
	c.put(thumbKey{"b", 1}, []byte("b"))
	_, _ = c.get(thumbKey{"a", 1})
	c.put(thumbKey{"c", 1}, []byte("c"))

	_, ok := c.get(thumbKey{"b", 1})
	assert.False(t, ok)
	data, ok := c.get(thumbKey{"a", 1})
	assert.True(t, ok)
	assert.Equal(t, []byte("a"), data)
	assert.Equal(t, 2, c.len())
}

func TestIdleViewerIsDropped(t *testing.T) {
	cfg := testConfig()
	cfg.PingInterval = 20 * time.Millisecond
	cfg.IdleTimeout = 60 * time.Millisecond
	s := launch(t, cfg)
	done := waitAsync(s, context.Background())

	// after the greeting this client never reads, so pings go unanswered
	conn := dial(t, s)
	defer conn.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("idle viewer was never dropped")
	}
	assert.Equal(t, 0, s.hub.count())
}

var errAcceptFailed = errors.New("accept failed")

// breakableListener fails every Accept once broken is set.
type breakableListener struct {
	net.Listener
	broken atomic.Bool
}

func (l *breakableListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if l.broken.Load() {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, errAcceptFailed
	}
	return conn, err
}

func TestWaitReportsServerFailure(t *testing.T) {
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &breakableListener{Listener: inner}
	s, err := serve(fixtureDataset(t), testConfig().withDefaults(), ln)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	done := waitAsync(s, context.Background())
	ln.broken.Store(true)
	conn, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	_ = conn.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errAcceptFailed)
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return after the server failed")
	}
}

func TestWebsocketRejectsForeignOrigin(t *testing.T) {
	s := launch(t, testConfig())
	wsURL := "ws" + strings.TrimPrefix(s.URL(), "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, s.hub.count())

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {s.URL()}})
	require.NoError(t, err)
	_ = conn.Close()
}
