package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dukerupert/hearth"
	"github.com/stretchr/testify/require"
)

// createTestImage renders a gradient of the given size and format.
func createTestImage(t *testing.T, width, height int, format string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / width),
				G: uint8((y * 255) / height),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	default:
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}))
	}
	return buf.Bytes()
}

func jpegUpload(t *testing.T, name string) hearth.Upload {
	return hearth.Upload{Filename: name, Data: createTestImage(t, 400, 300, "jpeg")}
}

// recorder collects pipeline events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// newTestPipeline returns a pipeline over store with predictable ids
// ("id-1", "id-2", ...) and a discarded log.
func newTestPipeline(store hearth.ObjectStore, obs Observer) *Pipeline {
	var n atomic.Int64
	return New(Config{
		Store:     store,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Observer:  obs,
		NewID:     func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
		RetryBase: 1,
	})
}
