package stitcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opentourtools/tourstudio/internal/domain"
)

func TestEnvelopeConfirmation(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"confirmed", 200, `{"success":true,"message":"Audio removed successfully!"}`, ""},
		{"explicit failure", 200, `{"success":false,"error":"room not found"}`, "room not found"},
		{"missing success field", 200, `{}`, "backend did not confirm the operation"},
		{"error status with envelope", 500, `{"success":false,"error":"stitcher crashed"}`, "stitcher crashed"},
		{"error status with plain body", 502, `bad gateway`, "backend error (502): bad gateway"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := New(srv.URL).DeleteAudio(context.Background(), "tour-1", "Hall")
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || err.Error() != tc.wantErr {
				t.Fatalf("got %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestRenameRoomRequestBody(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rename-room" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Room and associated data renamed successfully!"}`))
	}))
	defer srv.Close()

	if err := New(srv.URL).RenameRoom(context.Background(), "tour-1", "Hall", "Foyer"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	want := map[string]string{"tourId": "tour-1", "oldRoomName": "Hall", "newRoomName": "Foyer"}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("field %q: got %q, want %q", k, got[k], v)
		}
	}
}

func TestUpdateStartRoomRequestBody(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Start room updated successfully."}`))
	}))
	defer srv.Close()

	if err := New(srv.URL).UpdateStartRoom(context.Background(), "tour-1", "Kitchen"); err != nil {
		t.Fatalf("update start room: %v", err)
	}
	if got["newStartRoom"] != "Kitchen" || got["tourId"] != "tour-1" {
		t.Fatalf("unexpected request %v", got)
	}
}

func TestStitchTourMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("tourId"); got != "tour-1" {
			t.Errorf("tourId: got %q", got)
		}
		if got := r.FormValue("tour_name"); got != "Manor" {
			t.Errorf("tour_name: got %q", got)
		}
		files := r.MultipartForm.File["Hall[]"]
		if len(files) != 2 {
			t.Errorf("expected 2 files under Hall[], got %d", len(files))
		}
		_, _ = w.Write([]byte(`{"success":true,"panoramaUrls":{
			"Hall":"https://cdn.example.com/hall.jpg",
			"Kitchen":"https://cdn.example.com/kitchen.jpg"
		},"roomConnections":{}}`))
	}))
	defer srv.Close()

	urls, err := New(srv.URL).StitchTour(context.Background(), "tour-1", "Manor", map[string][]domain.ImageFile{
		"Hall": {
			{Name: "a.jpg", Data: []byte("aa")},
			{Name: "b.jpg", Data: []byte("bb")},
		},
	})
	if err != nil {
		t.Fatalf("stitch: %v", err)
	}
	if urls["Hall"] != "https://cdn.example.com/hall.jpg" {
		t.Fatalf("hall panorama: got %q", urls["Hall"])
	}
	if urls["Kitchen"] != "https://cdn.example.com/kitchen.jpg" {
		t.Fatalf("kitchen panorama: got %q", urls["Kitchen"])
	}
}

func TestRestitchRoomMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/restitch-room" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("roomName"); got != "Hall" {
			t.Errorf("roomName: got %q", got)
		}
		if n := len(r.MultipartForm.File["files"]); n != 1 {
			t.Errorf("expected 1 file under files, got %d", n)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Room re-stitched successfully and markers/tooltips cleared!","panoramaUrl":"https://cdn.example.com/hall-v2.jpg"}`))
	}))
	defer srv.Close()

	url, err := New(srv.URL).RestitchRoom(context.Background(), "tour-1", "Hall", []domain.ImageFile{{Name: "a.jpg", Data: []byte("aa")}})
	if err != nil {
		t.Fatalf("restitch: %v", err)
	}
	if url != "https://cdn.example.com/hall-v2.jpg" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestRestitchRoomRequiresURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).RestitchRoom(context.Background(), "tour-1", "Hall", nil); err == nil {
		t.Fatalf("expected error when backend omits the panorama url")
	}
}

func TestSaveMarkersWireFormat(t *testing.T) {
	var got struct {
		TourID   string `json:"tourId"`
		RoomFrom string `json:"roomFrom"`
		Markers  []struct {
			ID        string  `json:"id"`
			LinkTo    string  `json:"linkTo"`
			PositionX float64 `json:"position_x"`
			PositionY float64 `json:"position_y"`
		} `json:"markers"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Markers saved successfully."}`))
	}))
	defer srv.Close()

	markers := []domain.Marker{{ID: "m1", FromRoom: "Hall", ToRoom: "Kitchen", Position: domain.Position{X: 0.25, Y: 0.75}}}
	if err := New(srv.URL).SaveMarkers(context.Background(), "tour-1", "Hall", markers); err != nil {
		t.Fatalf("save markers: %v", err)
	}
	if got.TourID != "tour-1" || got.RoomFrom != "Hall" {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Markers) != 1 {
		t.Fatalf("expected 1 marker, got %d", len(got.Markers))
	}
	m := got.Markers[0]
	if m.LinkTo != "Kitchen" || m.PositionX != 0.25 || m.PositionY != 0.75 {
		t.Fatalf("unexpected wire marker %+v", m)
	}
}

func TestSaveTooltipsWireFormat(t *testing.T) {
	var got struct {
		TourID   string `json:"tourId"`
		RoomName string `json:"roomName"`
		Tooltips []struct {
			ID        string  `json:"id"`
			Content   string  `json:"content"`
			PositionX float64 `json:"position_x"`
			PositionY float64 `json:"position_y"`
		} `json:"tooltips"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Tooltips saved successfully."}`))
	}))
	defer srv.Close()

	tips := []domain.Tooltip{{ID: "t1", RoomName: "Hall", Content: "Marble", Position: domain.Position{X: 0.5, Y: 0.8}}}
	if err := New(srv.URL).SaveTooltips(context.Background(), "tour-1", "Hall", tips); err != nil {
		t.Fatalf("save tooltips: %v", err)
	}
	if got.RoomName != "Hall" {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Tooltips) != 1 {
		t.Fatalf("expected 1 tooltip, got %d", len(got.Tooltips))
	}
	tip := got.Tooltips[0]
	if tip.Content != "Marble" || tip.PositionX != 0.5 || tip.PositionY != 0.8 {
		t.Fatalf("unexpected wire tooltip %+v", tip)
	}
}

func TestUploadAudioMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		files := r.MultipartForm.File["audio"]
		if len(files) != 1 || files[0].Filename != "hall.mp3" {
			t.Errorf("unexpected audio part %+v", files)
		}
		_, _ = w.Write([]byte(`{"success":true,"message":"Audio uploaded successfully!","audioUrl":"https://cdn.example.com/hall.mp3"}`))
	}))
	defer srv.Close()

	url, err := New(srv.URL).UploadAudio(context.Background(), "tour-1", "Hall", "hall.mp3", []byte("xx"))
	if err != nil {
		t.Fatalf("upload audio: %v", err)
	}
	if url != "https://cdn.example.com/hall.mp3" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestUploadAudioRequiresURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).UploadAudio(context.Background(), "tour-1", "Hall", "a.mp3", []byte("x")); err == nil {
		t.Fatalf("expected error when backend omits the audio url")
	}
}

func TestGetTourData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get-tour-data/tour-1" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{
			"success": true,
			"panoramaUrls": {"Hall": "https://cdn.example.com/hall.jpg"},
			"markers": {"Hall": [{"id":"m1","linkTo":"Kitchen","position":{"x":0.2,"y":0.4}}]},
			"tooltips": {"Hall": [{"id":"t1","content":"Marble","position":{"x":0.5,"y":0.8}}]},
			"startRoom": "Hall",
			"audioUrls": {"Hall": "https://cdn.example.com/hall.mp3"}
		}`))
	}))
	defer srv.Close()

	data, err := New(srv.URL).GetTourData(context.Background(), "tour-1")
	if err != nil {
		t.Fatalf("get tour data: %v", err)
	}
	if data.StartRoom != "Hall" {
		t.Fatalf("start room: got %q", data.StartRoom)
	}
	if data.PanoramaURLs["Hall"] != "https://cdn.example.com/hall.jpg" {
		t.Fatalf("panorama: got %q", data.PanoramaURLs["Hall"])
	}
	m := data.Markers["Hall"]
	if len(m) != 1 || m[0].FromRoom != "Hall" || m[0].ToRoom != "Kitchen" || m[0].Position.X != 0.2 || m[0].Position.Y != 0.4 {
		t.Fatalf("unexpected markers %+v", m)
	}
	tips := data.Tooltips["Hall"]
	if len(tips) != 1 || tips[0].RoomName != "Hall" || tips[0].Content != "Marble" || tips[0].Position.Y != 0.8 {
		t.Fatalf("unexpected tooltips %+v", tips)
	}
	if data.AudioURLs["Hall"] != "https://cdn.example.com/hall.mp3" {
		t.Fatalf("audio: got %q", data.AudioURLs["Hall"])
	}
}
