package application

import (
	"math"
	"testing"

	"github.com/opentourtools/tourstudio/internal/domain"
)

func approx(t *testing.T, got, want float64, name string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s: got %v, want %v", name, got, want)
	}
}

func TestYawPitch(t *testing.T) {
	yaw, pitch := YawPitch(domain.Position{X: 0.5, Y: 0.5})
	approx(t, yaw, 0, "center yaw")
	approx(t, pitch, 0, "center pitch")

	yaw, pitch = YawPitch(domain.Position{X: 0, Y: 0.5})
	approx(t, yaw, -math.Pi, "left edge yaw")
	approx(t, pitch, 0, "left edge pitch")

	yaw, pitch = YawPitch(domain.Position{X: 1, Y: 0.5})
	approx(t, yaw, math.Pi, "right edge yaw")
	approx(t, pitch, 0, "right edge pitch")

	yaw, pitch = YawPitch(domain.Position{X: 0.5, Y: 0})
	approx(t, yaw, 0, "top yaw")
	approx(t, pitch, math.Pi/2, "top pitch")

	yaw, pitch = YawPitch(domain.Position{X: 0.5, Y: 1})
	approx(t, yaw, 0, "bottom yaw")
	approx(t, pitch, -math.Pi/2, "bottom pitch")
}

func playbackSnapshot() Snapshot {
	return Snapshot{
		TourID: "tour-1",
		Rooms:  []string{"Garden", "Hall", "Kitchen"},
		PanoramaURLs: map[string]string{
			"Hall":    "https://cdn.example.com/hall.jpg",
			"Kitchen": "https://cdn.example.com/kitchen.jpg",
			// Garden was added but never stitched.
			"Garden": "",
		},
		Markers: map[string][]domain.Marker{
			"Hall": {
				{ID: "m1", FromRoom: "Hall", ToRoom: "Kitchen", Position: domain.Position{X: 0.75, Y: 0.5}},
				{ID: "m2", FromRoom: "Hall", ToRoom: "Garden", Position: domain.Position{X: 0.25, Y: 0.5}},
			},
		},
		Tooltips: map[string][]domain.Tooltip{
			"Kitchen": {{ID: "t1", RoomName: "Kitchen", Content: "Original stove", Position: domain.Position{X: 0.5, Y: 0.25}}},
		},
		Audio:     map[string]AudioInfo{"Hall": {URL: "https://cdn.example.com/hall.mp3"}},
		StartRoom: "Kitchen",
	}
}

func TestBuildNodes(t *testing.T) {
	nodes := BuildNodes(playbackSnapshot())

	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	hall, kitchen := nodes[0], nodes[1]
	if hall.ID != "Hall" || kitchen.ID != "Kitchen" {
		t.Fatalf("unexpected node order: %q, %q", hall.ID, kitchen.ID)
	}

	if len(hall.Links) != 1 {
		t.Fatalf("link to the unstitched room must be dropped, got %v", hall.Links)
	}
	link := hall.Links[0]
	if link.TargetRoomID != "Kitchen" || link.Label != "Go to Kitchen" {
		t.Fatalf("unexpected link %+v", link)
	}
	approx(t, link.Yaw, math.Pi/2, "link yaw")
	approx(t, link.Pitch, 0, "link pitch")
	if hall.AudioURL != "https://cdn.example.com/hall.mp3" {
		t.Fatalf("audio url not carried over, got %q", hall.AudioURL)
	}

	if len(kitchen.Links) != 0 || kitchen.Links == nil {
		t.Fatalf("expected empty, non-nil link list, got %#v", kitchen.Links)
	}
	if len(kitchen.Annotations) != 1 {
		t.Fatalf("expected 1 annotation, got %v", kitchen.Annotations)
	}
	ann := kitchen.Annotations[0]
	if ann.ID != "t1" || ann.Content != "Original stove" {
		t.Fatalf("unexpected annotation %+v", ann)
	}
	approx(t, ann.Yaw, 0, "annotation yaw")
	approx(t, ann.Pitch, math.Pi/4, "annotation pitch")
	if kitchen.AudioURL != "" {
		t.Fatalf("kitchen has no audio, got %q", kitchen.AudioURL)
	}
}

func TestResolveStartNode(t *testing.T) {
	snap := playbackSnapshot()
	nodes := BuildNodes(snap)

	id, ok := ResolveStartNode(snap, nodes)
	if !ok || id != "Kitchen" {
		t.Fatalf("expected configured start room, got %q %v", id, ok)
	}

	// The configured start room never got a panorama.
	snap.StartRoom = "Garden"
	id, ok = ResolveStartNode(snap, nodes)
	if !ok || id != "Hall" {
		t.Fatalf("expected first renderable room, got %q %v", id, ok)
	}

	id, ok = ResolveStartNode(snap, nil)
	if ok || id != "" {
		t.Fatalf("expected no start node for an empty tour, got %q %v", id, ok)
	}
}
