package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func imageRequest() UploadRequest {
	return UploadRequest{
		Kind:        KindImage,
		FileName:    "rash photo.jpg",
		ContentType: "image/jpeg",
		OwnerID:     "p1",
		Scope:       "p1_w1",
	}
}

func TestUploadRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  UploadRequest
		want error
	}{
		{"valid image", imageRequest(), nil},
		{"valid audio with params", UploadRequest{Kind: KindAudio, FileName: "note.m4a", ContentType: "audio/mp4; codecs=mp4a"}, nil},
		{"valid video", UploadRequest{Kind: KindVideo, FileName: "clip.mp4", ContentType: "video/mp4"}, nil},
		{"unknown kind", UploadRequest{Kind: "document", FileName: "a.pdf", ContentType: "application/pdf"}, ErrInvalidKind},
		{"missing name", UploadRequest{Kind: KindImage, ContentType: "image/png"}, ErrMissingFileName},
		{"video type for image", UploadRequest{Kind: KindImage, FileName: "a.mp4", ContentType: "video/mp4"}, ErrInvalidContentType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestInMemoryStore_PutGet(t *testing.T) {
	store := NewInMemoryStore("http://localhost:8000/api/v1/media", 0)
	content := []byte("jpeg bytes")

	asset, err := store.Put(context.Background(), imageRequest(), bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(asset.Key, "image/p1_w1/") || !strings.HasSuffix(asset.Key, "-rash_photo.jpg") {
		t.Errorf("unexpected key %q", asset.Key)
	}
	if asset.URL != "http://localhost:8000/api/v1/media/"+asset.Key {
		t.Errorf("unexpected url %q", asset.URL)
	}
	if asset.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), asset.Size)
	}
	if asset.Hash != hashOf(content) || len(asset.Hash) != 64 {
		t.Errorf("unexpected hash %q", asset.Hash)
	}

	rc, got, err := store.Get(context.Background(), asset.Key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !bytes.Equal(data, content) || got.OwnerID != "p1" {
		t.Errorf("unexpected content or metadata: %q %+v", data, got)
	}
}

func TestInMemoryStore_FileTooLarge(t *testing.T) {
	store := NewInMemoryStore("", 8)
	_, err := store.Put(context.Background(), imageRequest(), strings.NewReader("123456789"))
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestInMemoryStore_DeleteAndNotFound(t *testing.T) {
	store := NewInMemoryStore("", 0)
	asset, _ := store.Put(context.Background(), imageRequest(), strings.NewReader("x"))

	if err := store.Delete(context.Background(), asset.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, err := store.Get(context.Background(), asset.Key); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), asset.Key); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound on second delete, got %v", err)
	}
}

func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryStore("", 0)
	var wg sync.WaitGroup
	keys := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := store.Put(context.Background(), imageRequest(), strings.NewReader("img"))
			if err != nil {
				t.Errorf("Put: %v", err)
				return
			}
			keys <- a.Key
		}()
	}
	wg.Wait()
	close(keys)

	seen := make(map[string]bool)
	for k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %s", k)
		}
		seen[k] = true
	}
}

func TestHandler_Download(t *testing.T) {
	store := NewInMemoryStore("", 0)
	asset, _ := store.Put(context.Background(), imageRequest(), strings.NewReader("jpeg"))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/media/"+asset.Key, nil), rec)
	c.SetParamNames("*")
	c.SetParamValues(asset.Key)

	if err := NewHandler(store).HandleDownload(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "jpeg" {
		t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(echo.HeaderContentType) != "image/jpeg" {
		t.Errorf("unexpected content type %q", rec.Header().Get(echo.HeaderContentType))
	}
}

func TestHandler_DownloadNotFound(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/media/image/x", nil), httptest.NewRecorder())
	c.SetParamNames("*")
	c.SetParamValues("image/x")

	err := NewHandler(NewInMemoryStore("", 0)).HandleDownload(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
