package application

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/opentourtools/tourstudio/internal/domain"
)

var errBackendDown = errors.New("stitch backend unavailable")

// fakeBackend records calls and lets tests inject failures per operation.
type fakeBackend struct {
	mu    sync.Mutex
	calls []string

	tourData       domain.TourData
	restitchURL    string
	uploadAudioURL string

	renameErr      error
	deleteErr      error
	restitchErr    error
	saveMarkersErr error
	tooltipsErr    error
	audioErr       error
	deleteAudioErr error
	startRoomErr   error

	savedMarkers  []domain.Marker
	savedTooltips []domain.Tooltip

	onSaveMarkers  func()
	onSaveTooltips func()
}

func (f *fakeBackend) record(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) StitchTour(ctx context.Context, tourID, tourName string, rooms map[string][]domain.ImageFile) (map[string]string, error) {
	f.record("stitch")
	return nil, nil
}

func (f *fakeBackend) GetTourData(ctx context.Context, tourID string) (domain.TourData, error) {
	f.record("get-tour-data")
	return f.tourData, nil
}

func (f *fakeBackend) RenameRoom(ctx context.Context, tourID, oldName, newName string) error {
	f.record("rename-room")
	return f.renameErr
}

func (f *fakeBackend) DeleteRoom(ctx context.Context, tourID, roomName string) error {
	f.record("delete-room")
	return f.deleteErr
}

func (f *fakeBackend) RestitchRoom(ctx context.Context, tourID, roomName string, files []domain.ImageFile) (string, error) {
	f.record("restitch-room")
	if f.restitchErr != nil {
		return "", f.restitchErr
	}
	return f.restitchURL, nil
}

func (f *fakeBackend) SaveMarkers(ctx context.Context, tourID, fromRoom string, markers []domain.Marker) error {
	f.record("save-markers")
	if f.onSaveMarkers != nil {
		f.onSaveMarkers()
	}
	if f.saveMarkersErr != nil {
		return f.saveMarkersErr
	}
	f.mu.Lock()
	f.savedMarkers = append([]domain.Marker(nil), markers...)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) SaveTooltips(ctx context.Context, tourID, roomName string, tooltips []domain.Tooltip) error {
	f.record("save-tooltips")
	if f.onSaveTooltips != nil {
		f.onSaveTooltips()
	}
	if f.tooltipsErr != nil {
		return f.tooltipsErr
	}
	f.mu.Lock()
	f.savedTooltips = append([]domain.Tooltip(nil), tooltips...)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) UploadAudio(ctx context.Context, tourID, roomName, filename string, data []byte) (string, error) {
	f.record("upload-audio")
	if f.audioErr != nil {
		return "", f.audioErr
	}
	return f.uploadAudioURL, nil
}

func (f *fakeBackend) DeleteAudio(ctx context.Context, tourID, roomName string) error {
	f.record("delete-audio")
	return f.deleteAudioErr
}

func (f *fakeBackend) UpdateStartRoom(ctx context.Context, tourID, newStartRoom string) error {
	f.record("update-start-room")
	return f.startRoomErr
}

func testTourData() domain.TourData {
	return domain.TourData{
		PanoramaURLs: map[string]string{
			"Hall":    "https://cdn.example.com/hall.jpg",
			"Kitchen": "https://cdn.example.com/kitchen.jpg",
			"Lounge":  "https://cdn.example.com/lounge.jpg",
		},
		Markers: map[string][]domain.Marker{
			"Hall":    {{ID: "m1", FromRoom: "Hall", ToRoom: "Kitchen", Position: domain.Position{X: 0.2, Y: 0.4}}},
			"Kitchen": {{ID: "m2", FromRoom: "Kitchen", ToRoom: "Hall", Position: domain.Position{X: 0.7, Y: 0.5}}},
		},
		Tooltips: map[string][]domain.Tooltip{
			"Hall": {{ID: "t1", RoomName: "Hall", Content: "Marble floor", Position: domain.Position{X: 0.5, Y: 0.8}}},
		},
		AudioURLs: map[string]string{"Hall": "https://cdn.example.com/hall.mp3"},
		StartRoom: "Hall",
	}
}

func newTestSession(t *testing.T, backend *fakeBackend) *EditorSession {
	t.Helper()
	return newEditorSession("tour-1", backend, NewRecorder(), testTourData())
}

func TestLoadDropsEntriesWithoutPanorama(t *testing.T) {
	data := testTourData()
	data.Markers["Hall"] = append(data.Markers["Hall"], domain.Marker{ID: "m3", FromRoom: "Hall", ToRoom: "Attic", Position: domain.Position{X: 0.1, Y: 0.1}})
	data.Markers["Attic"] = []domain.Marker{{ID: "m4", FromRoom: "Attic", ToRoom: "Hall"}}
	data.Tooltips["Attic"] = []domain.Tooltip{{ID: "t9", RoomName: "Attic"}}
	data.AudioURLs["Attic"] = "https://cdn.example.com/attic.mp3"

	s := newEditorSession("tour-1", &fakeBackend{}, NewRecorder(), data)
	snap := s.Snapshot()

	if len(snap.Rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %v", snap.Rooms)
	}
	if len(snap.Markers["Hall"]) != 1 || snap.Markers["Hall"][0].ToRoom != "Kitchen" {
		t.Fatalf("expected dangling marker dropped, got %v", snap.Markers["Hall"])
	}
	if _, ok := snap.Markers["Attic"]; ok {
		t.Fatalf("markers for panorama-less room must be dropped")
	}
	if _, ok := snap.Tooltips["Attic"]; ok {
		t.Fatalf("tooltips for panorama-less room must be dropped")
	}
	if _, ok := snap.Audio["Attic"]; ok {
		t.Fatalf("audio for panorama-less room must be dropped")
	}
}

func TestLoadFallsBackToFirstRoomAsStart(t *testing.T) {
	data := testTourData()
	data.StartRoom = "Basement"
	s := newEditorSession("tour-1", &fakeBackend{}, NewRecorder(), data)
	if got := s.Snapshot().StartRoom; got != "Hall" {
		t.Fatalf("expected fallback start room Hall, got %q", got)
	}
}

func TestAddMarkerValidationNeverReachesBackend(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	cases := []struct {
		name     string
		from, to string
		pos      *domain.Position
	}{
		{"blank from", "", "Kitchen", nil},
		{"self link", "Hall", "Hall", nil},
		{"unknown from", "Attic", "Kitchen", nil},
		{"unknown to", "Hall", "Attic", nil},
		{"out of range", "Hall", "Lounge", &domain.Position{X: 1.5, Y: 0.5}},
		{"duplicate", "Hall", "Kitchen", &domain.Position{X: 0.2, Y: 0.4}},
	}
	for _, tc := range cases {
		if _, err := s.AddMarker(ctx, tc.from, tc.to, tc.pos); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if n := backend.callCount(); n != 0 {
		t.Fatalf("expected no backend calls, got %d", n)
	}
}

func TestAddMarkerSavesReplaceSet(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	marker, err := s.AddMarker(ctx, "Hall", "Lounge", nil)
	if err != nil {
		t.Fatalf("add marker: %v", err)
	}
	if marker.Position != (domain.Position{X: 0.5, Y: 0.5}) {
		t.Fatalf("expected default center position, got %+v", marker.Position)
	}
	if marker.ID == "" {
		t.Fatalf("expected generated id")
	}
	if len(backend.savedMarkers) != 2 {
		t.Fatalf("expected replace-set of 2 markers sent, got %v", backend.savedMarkers)
	}
	if got := s.Snapshot().Markers["Hall"]; len(got) != 2 {
		t.Fatalf("expected 2 local markers, got %v", got)
	}
}

func TestAddMarkerFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{saveMarkersErr: errBackendDown}
	s := newTestSession(t, backend)

	if _, err := s.AddMarker(ctx, "Hall", "Lounge", nil); err == nil {
		t.Fatalf("expected error")
	}
	if got := s.Snapshot().Markers["Hall"]; len(got) != 1 {
		t.Fatalf("local markers must not change on backend failure, got %v", got)
	}
}

func TestRenameRoomCascades(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	if err := s.RequestRenameRoom("Hall", "Foyer"); err != nil {
		t.Fatalf("request rename: %v", err)
	}
	if p := s.Pending(); p == nil || p.Kind != PendingRenameRoom {
		t.Fatalf("expected pending rename, got %+v", p)
	}
	if n := backend.callCount(); n != 0 {
		t.Fatalf("request must not call backend, got %d calls", n)
	}
	if err := s.ConfirmPending(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	snap := s.Snapshot()
	if s.Pending() != nil {
		t.Fatalf("pending must clear after confirm")
	}
	for _, r := range snap.Rooms {
		if r == "Hall" {
			t.Fatalf("old name still present: %v", snap.Rooms)
		}
	}
	if _, ok := snap.PanoramaURLs["Foyer"]; !ok {
		t.Fatalf("panorama not migrated: %v", snap.PanoramaURLs)
	}
	if got := snap.Markers["Foyer"]; len(got) != 1 || got[0].FromRoom != "Foyer" {
		t.Fatalf("outgoing markers not migrated: %v", got)
	}
	if got := snap.Markers["Kitchen"]; len(got) != 1 || got[0].ToRoom != "Foyer" {
		t.Fatalf("incoming markers not updated: %v", got)
	}
	if got := snap.Tooltips["Foyer"]; len(got) != 1 || got[0].RoomName != "Foyer" {
		t.Fatalf("tooltips not migrated: %v", got)
	}
	if _, ok := snap.Audio["Foyer"]; !ok {
		t.Fatalf("audio not migrated: %v", snap.Audio)
	}
	if snap.StartRoom != "Foyer" {
		t.Fatalf("start room not renamed, got %q", snap.StartRoom)
	}
}

func TestRenameRoomRejectsCollision(t *testing.T) {
	s := newTestSession(t, &fakeBackend{})
	if err := s.RequestRenameRoom("Hall", "Kitchen"); err == nil {
		t.Fatalf("expected collision error")
	}
	if err := s.RequestRenameRoom("Hall", "  "); err == nil {
		t.Fatalf("expected empty name error")
	}
	if err := s.RequestRenameRoom("Attic", "Loft"); err == nil {
		t.Fatalf("expected unknown room error")
	}
}

func TestDeleteRoomStripsMarkersBothDirections(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	if err := s.RequestDeleteRoom("Hall"); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if err := s.ConfirmPending(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Rooms) != 2 {
		t.Fatalf("expected 2 rooms, got %v", snap.Rooms)
	}
	if _, ok := snap.Markers["Hall"]; ok {
		t.Fatalf("outgoing markers must be gone")
	}
	if _, ok := snap.Markers["Kitchen"]; ok {
		t.Fatalf("incoming markers must be gone, got %v", snap.Markers["Kitchen"])
	}
	if _, ok := snap.Tooltips["Hall"]; ok {
		t.Fatalf("tooltips must be gone")
	}
	if _, ok := snap.Audio["Hall"]; ok {
		t.Fatalf("audio must be gone")
	}
	// Hall was the start room; the first remaining room takes over.
	if snap.StartRoom != "Kitchen" {
		t.Fatalf("expected start room fallback to Kitchen, got %q", snap.StartRoom)
	}
}

func TestConfirmWithoutPending(t *testing.T) {
	s := newTestSession(t, &fakeBackend{})
	if err := s.ConfirmPending(context.Background()); err == nil {
		t.Fatalf("expected error with nothing to confirm")
	}
	if err := s.RequestDeleteRoom("Hall"); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	s.CancelPending()
	if s.Pending() != nil {
		t.Fatalf("cancel must clear pending")
	}
	if err := s.ConfirmPending(context.Background()); err == nil {
		t.Fatalf("expected error after cancel")
	}
}

func TestUploadRoomImagesResetsRoomState(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{restitchURL: "https://cdn.example.com/hall.jpg"}
	s := newTestSession(t, backend)

	url, err := s.UploadRoomImages(ctx, "Hall", []domain.ImageFile{{Name: "a.jpg", Data: []byte{1}}})
	if err != nil {
		t.Fatalf("upload images: %v", err)
	}
	if !strings.Contains(url, "?v=") {
		t.Fatalf("expected cache-busted url, got %q", url)
	}

	snap := s.Snapshot()
	if snap.PanoramaURLs["Hall"] != url {
		t.Fatalf("panorama url not replaced")
	}
	if _, ok := snap.Markers["Hall"]; ok {
		t.Fatalf("room markers must reset after restitch")
	}
	if _, ok := snap.Markers["Kitchen"]; ok {
		t.Fatalf("markers into the room must reset, got %v", snap.Markers["Kitchen"])
	}
	if _, ok := snap.Tooltips["Hall"]; ok {
		t.Fatalf("room tooltips must reset after restitch")
	}
	if _, ok := snap.Audio["Hall"]; !ok {
		t.Fatalf("audio must survive a restitch")
	}
}

func TestUploadRoomImagesRequiresFiles(t *testing.T) {
	s := newTestSession(t, &fakeBackend{})
	if _, err := s.UploadRoomImages(context.Background(), "Hall", nil); err == nil {
		t.Fatalf("expected error for empty file set")
	}
	if _, err := s.UploadRoomImages(context.Background(), "Attic", []domain.ImageFile{{Name: "a.jpg", Data: []byte{1}}}); err == nil {
		t.Fatalf("expected error for unknown room")
	}
}

func TestReloadDiscardsLateResponse(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{tourData: testTourData()}
	s := newTestSession(t, backend)

	// The reload lands while the marker save is in flight; the late response
	// must not be applied.
	backend.onSaveMarkers = func() {
		if err := s.Reload(ctx); err != nil {
			t.Errorf("reload: %v", err)
		}
	}
	if _, err := s.AddMarker(ctx, "Hall", "Lounge", nil); err != nil {
		t.Fatalf("add marker: %v", err)
	}

	if got := s.Snapshot().Markers["Hall"]; len(got) != 1 {
		t.Fatalf("late response must be discarded, got %v", got)
	}
}

func TestBusyRoomRejectsSecondMutation(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	entered := make(chan struct{})
	release := make(chan struct{})
	backend.onSaveMarkers = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.AddMarker(ctx, "Hall", "Lounge", nil)
		done <- err
	}()
	<-entered

	if _, err := s.AddMarker(ctx, "Hall", "Kitchen", &domain.Position{X: 0.9, Y: 0.9}); err == nil {
		t.Fatalf("expected busy error while first save is in flight")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first add marker: %v", err)
	}
}

func TestDeleteRoomDiscardsInFlightMarkerSave(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	entered := make(chan struct{})
	release := make(chan struct{})
	backend.onSaveMarkers = func() {
		close(entered)
		<-release
	}

	// The marker save is in flight when the delete of its target room is
	// confirmed; the late save response must not resurrect the link.
	done := make(chan error, 1)
	go func() {
		_, err := s.AddMarker(ctx, "Hall", "Lounge", nil)
		done <- err
	}()
	<-entered

	if err := s.RequestDeleteRoom("Lounge"); err != nil {
		t.Fatalf("request delete: %v", err)
	}
	if err := s.ConfirmPending(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("add marker: %v", err)
	}

	snap := s.Snapshot()
	for _, r := range snap.Rooms {
		if r == "Lounge" {
			t.Fatalf("deleted room still present: %v", snap.Rooms)
		}
	}
	for _, m := range snap.Markers["Hall"] {
		if m.ToRoom == "Lounge" {
			t.Fatalf("dangling marker to deleted room survived: %+v", m)
		}
	}
}

func TestRenameRoomDiscardsInFlightContentEdit(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	entered := make(chan struct{})
	release := make(chan struct{})
	backend.onSaveTooltips = func() {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		done <- s.EditContent(ctx, "t1", "Granite floor")
	}()
	<-entered

	if err := s.RequestRenameRoom("Hall", "Foyer"); err != nil {
		t.Fatalf("request rename: %v", err)
	}
	if err := s.ConfirmPending(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("edit content: %v", err)
	}

	// The edit computed its tooltip list against the old room name; its late
	// response is discarded and the migrated tooltip keeps its content.
	snap := s.Snapshot()
	if _, ok := snap.Tooltips["Hall"]; ok {
		t.Fatalf("tooltips must have moved off the old name")
	}
	list := snap.Tooltips["Foyer"]
	if len(list) != 1 || list[0].Content != "Marble floor" {
		t.Fatalf("unexpected tooltips after rename: %v", list)
	}
}

func TestTooltipPlacementFlow(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	if err := s.BeginPlacement("note"); err == nil {
		t.Fatalf("placement without selected room must fail")
	}
	if err := s.SelectRoom("Kitchen"); err != nil {
		t.Fatalf("select room: %v", err)
	}
	if err := s.BeginPlacement("Dishwasher here"); err != nil {
		t.Fatalf("begin placement: %v", err)
	}
	if got := s.Snapshot().Mode; got != ModePlacing {
		t.Fatalf("expected placing mode, got %q", got)
	}

	bounds := ImageBounds{OriginX: 100, OriginY: 50, Width: 800, Height: 400}
	tip, err := s.PlaceAt(ctx, 500, 150, bounds)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if tip.Position != (domain.Position{X: 0.5, Y: 0.25}) {
		t.Fatalf("unexpected normalized position %+v", tip.Position)
	}
	if tip.Content != "Dishwasher here" || tip.RoomName != "Kitchen" {
		t.Fatalf("unexpected tooltip %+v", tip)
	}
	if got := s.Snapshot().Mode; got != ModeRoomSelected {
		t.Fatalf("mode must return to room-selected, got %q", got)
	}

	// Reposition via edit mode.
	if err := s.BeginEdit(tip.ID); err != nil {
		t.Fatalf("begin edit: %v", err)
	}
	moved, err := s.PlaceAt(ctx, 100, 50, bounds)
	if err != nil {
		t.Fatalf("reposition: %v", err)
	}
	if moved.ID != tip.ID || moved.Position != (domain.Position{X: 0, Y: 0}) {
		t.Fatalf("unexpected repositioned tooltip %+v", moved)
	}
	if moved.Content != tip.Content {
		t.Fatalf("content must survive a reposition")
	}

	if err := s.EditContent(ctx, tip.ID, "Dishwasher and oven"); err != nil {
		t.Fatalf("edit content: %v", err)
	}
	list := s.Snapshot().Tooltips["Kitchen"]
	if len(list) != 1 || list[0].Content != "Dishwasher and oven" {
		t.Fatalf("unexpected tooltips %v", list)
	}
	if list[0].Position != (domain.Position{X: 0, Y: 0}) {
		t.Fatalf("edit content must not move the tooltip")
	}
}

func TestRemoveTooltipFlow(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, &fakeBackend{})

	if err := s.RequestRemoveTooltip("missing"); err == nil {
		t.Fatalf("expected error for unknown tooltip")
	}
	if err := s.RequestRemoveTooltip("t1"); err != nil {
		t.Fatalf("request remove: %v", err)
	}
	if err := s.ConfirmPending(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, ok := s.Snapshot().Tooltips["Hall"]; ok {
		t.Fatalf("tooltip must be removed")
	}
}

func TestRecordingLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{uploadAudioURL: "https://cdn.example.com/kitchen.mp3"}
	s := newTestSession(t, backend)

	if err := s.StartRecording("Great Hall"); err == nil {
		t.Fatalf("expected error for unknown room")
	}
	if err := s.StartRecording("Kitchen"); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := s.StartRecording("Lounge"); err == nil {
		t.Fatalf("expected error while already recording")
	}
	if err := s.AppendAudioChunk("Kitchen", []byte("abc")); err != nil {
		t.Fatalf("append chunk: %v", err)
	}
	if err := s.StopRecording("Kitchen"); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	snap := s.Snapshot()
	info := snap.Audio["Kitchen"]
	if info.PendingSource != domain.AudioSourceRecorded || info.PendingName != "Kitchen_recording.webm" {
		t.Fatalf("unexpected pending audio %+v", info)
	}

	// A file selection replaces the pending recording.
	if err := s.SelectAudioFile("Kitchen", "tour.mp3", []byte("xyz")); err != nil {
		t.Fatalf("select file: %v", err)
	}
	info = s.Snapshot().Audio["Kitchen"]
	if info.PendingSource != domain.AudioSourceFile || info.PendingName != "tour.mp3" {
		t.Fatalf("file selection must replace recording, got %+v", info)
	}

	// Failed upload keeps the pending clip for retry.
	backend.audioErr = errBackendDown
	if _, err := s.UploadAudio(ctx, "Kitchen"); err == nil {
		t.Fatalf("expected upload error")
	}
	if got := s.Snapshot().Audio["Kitchen"]; got.PendingName != "tour.mp3" {
		t.Fatalf("pending audio must survive a failed upload, got %+v", got)
	}

	backend.audioErr = nil
	url, err := s.UploadAudio(ctx, "Kitchen")
	if err != nil {
		t.Fatalf("upload audio: %v", err)
	}
	got := s.Snapshot().Audio["Kitchen"]
	if got.URL != url || got.PendingSource != "" {
		t.Fatalf("upload must set url and clear pending, got %+v", got)
	}
}

func TestStopRecordingWithNoAudio(t *testing.T) {
	s := newTestSession(t, &fakeBackend{})
	if err := s.StartRecording("Kitchen"); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := s.StopRecording("Kitchen"); err == nil {
		t.Fatalf("expected error for empty recording")
	}
	if err := s.StartRecording("Kitchen"); err != nil {
		t.Fatalf("microphone must be free after an empty stop: %v", err)
	}
}

func TestMicrophoneDenied(t *testing.T) {
	recorder := NewRecorder()
	recorder.SetAvailable(false)
	s := newEditorSession("tour-1", &fakeBackend{}, recorder, testTourData())
	if err := s.StartRecording("Hall"); err != ErrMicrophoneDenied {
		t.Fatalf("expected ErrMicrophoneDenied, got %v", err)
	}
}

func TestMicrophoneSharedAcrossSessions(t *testing.T) {
	recorder := NewRecorder()
	a := newEditorSession("tour-a", &fakeBackend{}, recorder, testTourData())
	b := newEditorSession("tour-b", &fakeBackend{}, recorder, testTourData())

	if err := a.StartRecording("Hall"); err != nil {
		t.Fatalf("first session: %v", err)
	}
	if err := b.StartRecording("Hall"); err == nil {
		t.Fatalf("second session must not grab the microphone")
	}
	a.Close()
	if err := b.StartRecording("Hall"); err != nil {
		t.Fatalf("microphone must be released on close: %v", err)
	}
}

func TestDiscardPendingAudio(t *testing.T) {
	s := newTestSession(t, &fakeBackend{})
	if err := s.DiscardPendingAudio("Kitchen"); err == nil {
		t.Fatalf("expected error with nothing pending")
	}
	if err := s.SelectAudioFile("Kitchen", "a.mp3", []byte("x")); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := s.DiscardPendingAudio("Kitchen"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, ok := s.Snapshot().Audio["Kitchen"]; ok {
		t.Fatalf("room without uploaded audio must drop its entry entirely")
	}
}

func TestRemoveAudioKeepsPendingClip(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, &fakeBackend{})

	if err := s.RequestRemoveAudio("Kitchen"); err == nil {
		t.Fatalf("expected error for room without uploaded audio")
	}
	if err := s.SelectAudioFile("Hall", "next.mp3", []byte("x")); err != nil {
		t.Fatalf("select: %v", err)
	}
	if err := s.RequestRemoveAudio("Hall"); err != nil {
		t.Fatalf("request remove: %v", err)
	}
	if err := s.ConfirmPending(ctx); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	info := s.Snapshot().Audio["Hall"]
	if info.URL != "" || info.PendingName != "next.mp3" {
		t.Fatalf("remove must clear url but keep the staged clip, got %+v", info)
	}
}

func TestSetStartRoom(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	s := newTestSession(t, backend)

	if err := s.SetStartRoom(ctx, "Attic"); err == nil {
		t.Fatalf("expected error for unknown room")
	}
	if err := s.SetStartRoom(ctx, "Lounge"); err != nil {
		t.Fatalf("set start room: %v", err)
	}
	if got := s.Snapshot().StartRoom; got != "Lounge" {
		t.Fatalf("expected Lounge, got %q", got)
	}
	backend.startRoomErr = errBackendDown
	if err := s.SetStartRoom(ctx, "Hall"); err == nil {
		t.Fatalf("expected backend error")
	}
	if got := s.Snapshot().StartRoom; got != "Lounge" {
		t.Fatalf("start room must not change on failure, got %q", got)
	}
}

func TestClosedSessionRejectsEverything(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, &fakeBackend{})
	s.Close()

	if err := s.AddRoom("New"); err != errSessionClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
	if _, err := s.AddMarker(ctx, "Hall", "Lounge", nil); err != errSessionClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
	if err := s.Reload(ctx); err != errSessionClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestAddRoomIsLocalOnly(t *testing.T) {
	backend := &fakeBackend{}
	s := newTestSession(t, backend)
	if err := s.AddRoom("Cellar"); err != nil {
		t.Fatalf("add room: %v", err)
	}
	if err := s.AddRoom("Cellar"); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if err := s.AddRoom("  "); err == nil {
		t.Fatalf("expected empty name error")
	}
	if n := backend.callCount(); n != 0 {
		t.Fatalf("add room must not call backend, got %d", n)
	}
	snap := s.Snapshot()
	if len(snap.Rooms) != 4 {
		t.Fatalf("expected 4 rooms, got %v", snap.Rooms)
	}
	if _, ok := snap.PanoramaURLs["Cellar"]; ok {
		t.Fatalf("new room must have no panorama yet")
	}
}

func TestNormalizePoint(t *testing.T) {
	bounds := ImageBounds{OriginX: 10, OriginY: 20, Width: 100, Height: 50}

	pos, err := NormalizePoint(60, 45, bounds)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if pos != (domain.Position{X: 0.5, Y: 0.5}) {
		t.Fatalf("unexpected position %+v", pos)
	}

	pos, err = NormalizePoint(-500, 9000, bounds)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if pos != (domain.Position{X: 0, Y: 1}) {
		t.Fatalf("expected clamped position, got %+v", pos)
	}

	if _, err := NormalizePoint(1, 1, ImageBounds{}); err == nil {
		t.Fatalf("expected error for degenerate bounds")
	}
}
