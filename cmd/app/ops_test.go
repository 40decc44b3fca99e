package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestRoomImagesUploadFieldName(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "hall.jpg")
	if err := os.WriteFile(img, []byte("jpegdata"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tours/tour-1/rooms/images" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("roomName"); got != "Hall" {
			t.Errorf("roomName: got %q", got)
		}
		// The server reads images[], the same field group the web editor sends.
		files := r.MultipartForm.File["images[]"]
		if len(files) != 1 || files[0].Filename != "hall.jpg" {
			t.Errorf("expected 1 file under images[], got %+v", files)
		}
		_, _ = w.Write([]byte(`{"panorama":"https://cdn.example.com/hall.jpg?v=1"}`))
	}))
	defer srv.Close()

	cfg := cliConfig{Transport: "http", Server: srv.URL}
	var res struct {
		Panorama string `json:"panorama"`
	}
	if err := doRoomImages(context.Background(), cfg, "tour-1", "Hall", []string{img}, &res); err != nil {
		t.Fatalf("room images: %v", err)
	}
	if res.Panorama != "https://cdn.example.com/hall.jpg?v=1" {
		t.Fatalf("unexpected panorama %q", res.Panorama)
	}
}
