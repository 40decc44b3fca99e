package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentourtools/tourstudio/internal/domain"
)

var errSessionClosed = errors.New("editing session is closed")

// defaultMarkerPosition is the anchor used when a marker is added without an
// explicit click position.
var defaultMarkerPosition = domain.Position{X: 0.5, Y: 0.5}

type EditMode string

const (
	ModeIdle         EditMode = "idle"
	ModeRoomSelected EditMode = "room-selected"
	ModePlacing      EditMode = "placing"
	ModeEditing      EditMode = "editing"
)

type PendingActionKind string

const (
	PendingRenameRoom    PendingActionKind = "rename-room"
	PendingDeleteRoom    PendingActionKind = "delete-room"
	PendingRemoveMarker  PendingActionKind = "remove-marker"
	PendingRemoveTooltip PendingActionKind = "remove-tooltip"
	PendingRemoveAudio   PendingActionKind = "remove-audio"
)

// PendingAction is a destructive operation awaiting user confirmation. It is a
// plain value (kind plus parameters) rather than a captured closure so it can
// be inspected, serialized and tested.
type PendingAction struct {
	Kind      PendingActionKind `json:"kind"`
	Room      string            `json:"room,omitempty"`
	NewName   string            `json:"new_name,omitempty"`
	FromRoom  string            `json:"from_room,omitempty"`
	ToRoom    string            `json:"to_room,omitempty"`
	Position  *domain.Position  `json:"position,omitempty"`
	TooltipID string            `json:"tooltip_id,omitempty"`
}

// ImageBounds is the rendered bounding box of the panorama preview the user
// clicked on, in client pixels.
type ImageBounds struct {
	OriginX float64 `json:"origin_x"`
	OriginY float64 `json:"origin_y"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

type audioState struct {
	url     string
	pending *domain.PendingAudio
}

// EditorSession holds the in-memory editing state for one tour: the ordered
// room registry, panorama URLs, the marker graph, tooltips, audio attachments
// and the tooltip interaction mode. The stitch backend is the system of
// record; mutations are confirmed against it before local state changes.
type EditorSession struct {
	tourID   string
	backend  domain.StitchBackend
	recorder *Recorder

	mu     sync.Mutex
	closed bool
	gen    uint64
	busy   map[string]bool

	rooms     []string
	panoramas map[string]string
	markers   map[string][]domain.Marker
	tooltips  map[string][]domain.Tooltip
	audio     map[string]*audioState
	startRoom string

	activeRoom    string
	mode          EditMode
	draftContent  string
	editingID     string
	pending       *PendingAction
	recordingRoom string
}

func newEditorSession(tourID string, backend domain.StitchBackend, recorder *Recorder, data domain.TourData) *EditorSession {
	s := &EditorSession{
		tourID:   tourID,
		backend:  backend,
		recorder: recorder,
		busy:     make(map[string]bool),
		mode:     ModeIdle,
	}
	s.replaceState(data)
	return s
}

func (s *EditorSession) TourID() string { return s.tourID }

// replaceState installs a normalized backend payload, dropping markers and
// tooltips that reference rooms without a panorama, exactly like the loader
// in the tour data endpoint.
func (s *EditorSession) replaceState(data domain.TourData) {
	rooms := make([]string, 0, len(data.PanoramaURLs))
	for name := range data.PanoramaURLs {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)

	markers := make(map[string][]domain.Marker, len(data.Markers))
	for room, list := range data.Markers {
		if _, ok := data.PanoramaURLs[room]; !ok {
			continue
		}
		kept := make([]domain.Marker, 0, len(list))
		for _, m := range list {
			if _, ok := data.PanoramaURLs[m.ToRoom]; !ok {
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) > 0 {
			markers[room] = kept
		}
	}

	tooltips := make(map[string][]domain.Tooltip, len(data.Tooltips))
	for room, list := range data.Tooltips {
		if _, ok := data.PanoramaURLs[room]; !ok {
			continue
		}
		if len(list) > 0 {
			tooltips[room] = append([]domain.Tooltip(nil), list...)
		}
	}

	audio := make(map[string]*audioState, len(data.AudioURLs))
	for room, url := range data.AudioURLs {
		if _, ok := data.PanoramaURLs[room]; !ok {
			continue
		}
		audio[room] = &audioState{url: url}
	}

	panoramas := make(map[string]string, len(data.PanoramaURLs))
	for room, url := range data.PanoramaURLs {
		panoramas[room] = url
	}

	startRoom := data.StartRoom
	if _, ok := panoramas[startRoom]; !ok {
		startRoom = ""
		if len(rooms) > 0 {
			startRoom = rooms[0]
		}
	}

	s.rooms = rooms
	s.panoramas = panoramas
	s.markers = markers
	s.tooltips = tooltips
	s.audio = audio
	s.startRoom = startRoom
}

// begin marks the given entity keys busy so that at most one mutating request
// per entity is outstanding, and returns the generation to commit against.
func (s *EditorSession) begin(keys ...string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errSessionClosed
	}
	for _, k := range keys {
		if s.busy[k] {
			return 0, fmt.Errorf("another change to %s is still in progress", k)
		}
	}
	for _, k := range keys {
		s.busy[k] = true
	}
	return s.gen, nil
}

func (s *EditorSession) end(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.busy, k)
	}
}

// commit applies fn only if the session is still open and has not been
// reloaded since the backend call started. Late responses are discarded.
func (s *EditorSession) commit(gen uint64, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return false
	}
	fn()
	return true
}

// Close releases the session. A recording in progress is aborted and any
// in-flight backend responses are discarded when they arrive.
func (s *EditorSession) Close() {
	s.mu.Lock()
	recordingRoom := s.recordingRoom
	s.recordingRoom = ""
	s.closed = true
	s.gen++
	s.mu.Unlock()
	if recordingRoom != "" {
		s.recorder.Abort(s.holder(recordingRoom))
	}
}

// Reload refetches the whole tour from the backend and replaces local state,
// invalidating every in-flight mutation.
func (s *EditorSession) Reload(ctx context.Context) error {
	data, err := s.backend.GetTourData(ctx, s.tourID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	s.replaceState(data)
	s.gen++
	return nil
}

func (s *EditorSession) roomKey(name string) string { return "room:" + name }

func (s *EditorSession) holder(room string) string { return s.tourID + "/" + room }

func (s *EditorSession) hasRoomLocked(n string) bool {
	for _, r := range s.rooms {
		if r == n {
			return true
		}
	}
	return false
}

// AddRoom appends a room awaiting image upload. Purely local: the backend
// learns about the room when its images are first uploaded.
func (s *EditorSession) AddRoom(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("room name must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.hasRoomLocked(name) {
		return fmt.Errorf("room %q already exists", name)
	}
	s.rooms = append(s.rooms, name)
	return nil
}

// RequestRenameRoom validates the rename and parks it as a pending action; the
// cascading rename only runs on ConfirmPending.
func (s *EditorSession) RequestRenameRoom(oldName, newName string) error {
	newName = strings.TrimSpace(newName)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if !s.hasRoomLocked(oldName) {
		return fmt.Errorf("room %q does not exist", oldName)
	}
	if newName == "" {
		return errors.New("new room name must not be empty")
	}
	if newName != oldName && s.hasRoomLocked(newName) {
		return fmt.Errorf("room %q already exists", newName)
	}
	s.pending = &PendingAction{Kind: PendingRenameRoom, Room: oldName, NewName: newName}
	return nil
}

func (s *EditorSession) RequestDeleteRoom(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if !s.hasRoomLocked(name) {
		return fmt.Errorf("room %q does not exist", name)
	}
	s.pending = &PendingAction{Kind: PendingDeleteRoom, Room: name}
	return nil
}

func (s *EditorSession) RequestRemoveMarker(fromRoom, toRoom string, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if !s.markerExistsLocked(fromRoom, toRoom, pos) {
		return fmt.Errorf("no marker from %q to %q at that position", fromRoom, toRoom)
	}
	p := pos
	s.pending = &PendingAction{Kind: PendingRemoveMarker, FromRoom: fromRoom, ToRoom: toRoom, Position: &p}
	return nil
}

func (s *EditorSession) RequestRemoveTooltip(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	room, ok := s.tooltipRoomLocked(id)
	if !ok {
		return errors.New("tooltip not found")
	}
	s.pending = &PendingAction{Kind: PendingRemoveTooltip, Room: room, TooltipID: id}
	return nil
}

func (s *EditorSession) RequestRemoveAudio(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	state, ok := s.audio[room]
	if !ok || state.url == "" {
		return fmt.Errorf("room %q has no uploaded audio", room)
	}
	s.pending = &PendingAction{Kind: PendingRemoveAudio, Room: room}
	return nil
}

func (s *EditorSession) Pending() *PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

func (s *EditorSession) CancelPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// ConfirmPending executes the parked destructive action.
func (s *EditorSession) ConfirmPending(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.pending == nil {
		s.mu.Unlock()
		return errors.New("nothing to confirm")
	}
	action := *s.pending
	s.pending = nil
	s.mu.Unlock()

	switch action.Kind {
	case PendingRenameRoom:
		return s.renameRoom(ctx, action.Room, action.NewName)
	case PendingDeleteRoom:
		return s.deleteRoom(ctx, action.Room)
	case PendingRemoveMarker:
		return s.removeMarker(ctx, action.FromRoom, action.ToRoom, *action.Position)
	case PendingRemoveTooltip:
		return s.removeTooltip(ctx, action.Room, action.TooltipID)
	case PendingRemoveAudio:
		return s.removeAudio(ctx, action.Room)
	default:
		return fmt.Errorf("unknown pending action %q", action.Kind)
	}
}

func (s *EditorSession) renameRoom(ctx context.Context, oldName, newName string) error {
	if oldName == newName {
		return nil
	}
	gen, err := s.begin(s.roomKey(oldName), s.roomKey(newName))
	if err != nil {
		return err
	}
	defer s.end(s.roomKey(oldName), s.roomKey(newName))

	if err := s.backend.RenameRoom(ctx, s.tourID, oldName, newName); err != nil {
		return err
	}

	s.commit(gen, func() {
		// In-flight mutations computed their state against the old name.
		s.gen++
		for i, r := range s.rooms {
			if r == oldName {
				s.rooms[i] = newName
			}
		}
		if url, ok := s.panoramas[oldName]; ok {
			delete(s.panoramas, oldName)
			s.panoramas[newName] = url
		}
		if list, ok := s.markers[oldName]; ok {
			delete(s.markers, oldName)
			for i := range list {
				list[i].FromRoom = newName
			}
			s.markers[newName] = list
		}
		for room, list := range s.markers {
			for i := range list {
				if list[i].ToRoom == oldName {
					list[i].ToRoom = newName
				}
			}
			s.markers[room] = list
		}
		if list, ok := s.tooltips[oldName]; ok {
			delete(s.tooltips, oldName)
			for i := range list {
				list[i].RoomName = newName
			}
			s.tooltips[newName] = list
		}
		if state, ok := s.audio[oldName]; ok {
			delete(s.audio, oldName)
			s.audio[newName] = state
		}
		if s.startRoom == oldName {
			s.startRoom = newName
		}
		if s.activeRoom == oldName {
			s.activeRoom = newName
		}
	})
	return nil
}

func (s *EditorSession) deleteRoom(ctx context.Context, name string) error {
	gen, err := s.begin(s.roomKey(name))
	if err != nil {
		return err
	}
	defer s.end(s.roomKey(name))

	if err := s.backend.DeleteRoom(ctx, s.tourID, name); err != nil {
		return err
	}

	s.commit(gen, func() {
		// In-flight mutations may still reference the deleted room.
		s.gen++
		kept := s.rooms[:0]
		for _, r := range s.rooms {
			if r != name {
				kept = append(kept, r)
			}
		}
		s.rooms = kept
		delete(s.panoramas, name)
		delete(s.markers, name)
		delete(s.tooltips, name)
		delete(s.audio, name)
		for room, list := range s.markers {
			filtered := list[:0]
			for _, m := range list {
				if m.ToRoom != name {
					filtered = append(filtered, m)
				}
			}
			if len(filtered) == 0 {
				delete(s.markers, room)
			} else {
				s.markers[room] = filtered
			}
		}
		if s.startRoom == name {
			s.startRoom = ""
			if len(s.rooms) > 0 {
				s.startRoom = s.rooms[0]
			}
		}
		if s.activeRoom == name {
			s.activeRoom = ""
			s.mode = ModeIdle
			s.editingID = ""
			s.draftContent = ""
		}
	})
	return nil
}

// UploadRoomImages sends source images for stitching (or re-stitching). On
// success the panorama URL is replaced with a cache-busted one and the
// backend's reset of the room's markers and tooltips is mirrored locally.
func (s *EditorSession) UploadRoomImages(ctx context.Context, room string, files []domain.ImageFile) (string, error) {
	if len(files) == 0 {
		return "", errors.New("at least one image is required")
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errSessionClosed
	}
	if !s.hasRoomLocked(room) {
		s.mu.Unlock()
		return "", fmt.Errorf("room %q does not exist", room)
	}
	s.mu.Unlock()

	gen, err := s.begin(s.roomKey(room))
	if err != nil {
		return "", err
	}
	defer s.end(s.roomKey(room))

	url, err := s.backend.RestitchRoom(ctx, s.tourID, room, files)
	if err != nil {
		return "", err
	}
	busted := cacheBust(url)

	s.commit(gen, func() {
		// In-flight mutations computed their anchors against the old panorama.
		s.gen++
		s.panoramas[room] = busted
		delete(s.markers, room)
		for other, list := range s.markers {
			filtered := list[:0]
			for _, m := range list {
				if m.ToRoom != room {
					filtered = append(filtered, m)
				}
			}
			if len(filtered) == 0 {
				delete(s.markers, other)
			} else {
				s.markers[other] = filtered
			}
		}
		delete(s.tooltips, room)
		if s.startRoom == "" {
			s.startRoom = room
		}
	})
	return busted, nil
}

// AddMarker creates a navigation edge. Validation failures never reach the
// backend; the new marker list is persisted before local state changes.
func (s *EditorSession) AddMarker(ctx context.Context, fromRoom, toRoom string, pos *domain.Position) (domain.Marker, error) {
	fromRoom = strings.TrimSpace(fromRoom)
	toRoom = strings.TrimSpace(toRoom)
	if fromRoom == "" || toRoom == "" {
		return domain.Marker{}, errors.New("both rooms are required")
	}
	if fromRoom == toRoom {
		return domain.Marker{}, errors.New("a room cannot link to itself")
	}
	position := defaultMarkerPosition
	if pos != nil {
		position = *pos
	}
	if position.X < 0 || position.X > 1 || position.Y < 0 || position.Y > 1 {
		return domain.Marker{}, errors.New("marker position must be within the image")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Marker{}, errSessionClosed
	}
	if !s.hasRoomLocked(fromRoom) {
		s.mu.Unlock()
		return domain.Marker{}, fmt.Errorf("room %q does not exist", fromRoom)
	}
	if !s.hasRoomLocked(toRoom) {
		s.mu.Unlock()
		return domain.Marker{}, fmt.Errorf("room %q does not exist", toRoom)
	}
	if s.markerExistsLocked(fromRoom, toRoom, position) {
		s.mu.Unlock()
		return domain.Marker{}, fmt.Errorf("a marker from %q to %q already exists at that position", fromRoom, toRoom)
	}
	marker := domain.Marker{ID: uuid.NewString(), FromRoom: fromRoom, ToRoom: toRoom, Position: position}
	next := append(append([]domain.Marker(nil), s.markers[fromRoom]...), marker)
	s.mu.Unlock()

	key := "markers:" + fromRoom
	gen, err := s.begin(key)
	if err != nil {
		return domain.Marker{}, err
	}
	defer s.end(key)

	if err := s.backend.SaveMarkers(ctx, s.tourID, fromRoom, next); err != nil {
		return domain.Marker{}, err
	}
	s.commit(gen, func() {
		if !s.hasRoomLocked(fromRoom) || !s.hasRoomLocked(toRoom) {
			return
		}
		s.markers[fromRoom] = next
	})
	return marker, nil
}

func (s *EditorSession) removeMarker(ctx context.Context, fromRoom, toRoom string, pos domain.Position) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	next := make([]domain.Marker, 0, len(s.markers[fromRoom]))
	removed := false
	for _, m := range s.markers[fromRoom] {
		if m.ToRoom == toRoom && m.Position == pos {
			removed = true
			continue
		}
		next = append(next, m)
	}
	s.mu.Unlock()
	if !removed {
		return fmt.Errorf("no marker from %q to %q at that position", fromRoom, toRoom)
	}

	key := "markers:" + fromRoom
	gen, err := s.begin(key)
	if err != nil {
		return err
	}
	defer s.end(key)

	if err := s.backend.SaveMarkers(ctx, s.tourID, fromRoom, next); err != nil {
		return err
	}
	s.commit(gen, func() {
		if len(next) == 0 {
			delete(s.markers, fromRoom)
		} else {
			s.markers[fromRoom] = next
		}
	})
	return nil
}

func (s *EditorSession) markerExistsLocked(fromRoom, toRoom string, pos domain.Position) bool {
	for _, m := range s.markers[fromRoom] {
		if m.ToRoom == toRoom && m.Position == pos {
			return true
		}
	}
	return false
}

func (s *EditorSession) tooltipRoomLocked(id string) (string, bool) {
	for room, list := range s.tooltips {
		for _, t := range list {
			if t.ID == id {
				return room, true
			}
		}
	}
	return "", false
}

// SelectRoom makes a room the target of tooltip interactions and resets the
// interaction mode.
func (s *EditorSession) SelectRoom(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if name == "" {
		s.activeRoom = ""
		s.mode = ModeIdle
		s.editingID = ""
		s.draftContent = ""
		return nil
	}
	if !s.hasRoomLocked(name) {
		return fmt.Errorf("room %q does not exist", name)
	}
	s.activeRoom = name
	s.mode = ModeRoomSelected
	s.editingID = ""
	s.draftContent = ""
	return nil
}

// BeginPlacement stores the draft content and waits for a click on the
// panorama image.
func (s *EditorSession) BeginPlacement(content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("tooltip content must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.activeRoom == "" {
		return errors.New("select a room first")
	}
	s.mode = ModePlacing
	s.draftContent = content
	s.editingID = ""
	return nil
}

// BeginEdit enters edit mode for one tooltip, implicitly leaving edit mode
// for any other.
func (s *EditorSession) BeginEdit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if s.activeRoom == "" {
		return errors.New("select a room first")
	}
	found := false
	for _, t := range s.tooltips[s.activeRoom] {
		if t.ID == id {
			found = true
			break
		}
	}
	if !found {
		return errors.New("tooltip not found in the selected room")
	}
	s.mode = ModeEditing
	s.editingID = id
	s.draftContent = ""
	return nil
}

// PlaceAt handles a click at client pixel (px, py) on the rendered panorama
// image. In placing mode it creates the drafted tooltip; in editing mode it
// repositions the tooltip being edited.
func (s *EditorSession) PlaceAt(ctx context.Context, px, py float64, bounds ImageBounds) (domain.Tooltip, error) {
	pos, err := NormalizePoint(px, py, bounds)
	if err != nil {
		return domain.Tooltip{}, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Tooltip{}, errSessionClosed
	}
	room := s.activeRoom
	mode := s.mode
	if room == "" || (mode != ModePlacing && mode != ModeEditing) {
		s.mu.Unlock()
		return domain.Tooltip{}, errors.New("not waiting for a click on the panorama")
	}

	var next []domain.Tooltip
	var placed domain.Tooltip
	if mode == ModePlacing {
		placed = domain.Tooltip{ID: uuid.NewString(), RoomName: room, Content: s.draftContent, Position: pos}
		next = append(append([]domain.Tooltip(nil), s.tooltips[room]...), placed)
	} else {
		id := s.editingID
		next = append([]domain.Tooltip(nil), s.tooltips[room]...)
		found := false
		for i := range next {
			if next[i].ID == id {
				next[i].Position = pos
				placed = next[i]
				found = true
				break
			}
		}
		if !found {
			s.mu.Unlock()
			return domain.Tooltip{}, errors.New("tooltip being edited no longer exists")
		}
	}
	s.mu.Unlock()

	key := "tooltips:" + room
	gen, err := s.begin(key)
	if err != nil {
		return domain.Tooltip{}, err
	}
	defer s.end(key)

	if err := s.backend.SaveTooltips(ctx, s.tourID, room, next); err != nil {
		return domain.Tooltip{}, err
	}
	s.commit(gen, func() {
		s.tooltips[room] = next
		s.mode = ModeRoomSelected
		s.draftContent = ""
		s.editingID = ""
	})
	return placed, nil
}

// EditContent updates a tooltip's text without touching its position.
func (s *EditorSession) EditContent(ctx context.Context, id, content string) error {
	if strings.TrimSpace(content) == "" {
		return errors.New("tooltip content must not be empty")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	room, ok := s.tooltipRoomLocked(id)
	if !ok {
		s.mu.Unlock()
		return errors.New("tooltip not found")
	}
	next := append([]domain.Tooltip(nil), s.tooltips[room]...)
	for i := range next {
		if next[i].ID == id {
			next[i].Content = content
		}
	}
	s.mu.Unlock()

	key := "tooltips:" + room
	gen, err := s.begin(key)
	if err != nil {
		return err
	}
	defer s.end(key)

	if err := s.backend.SaveTooltips(ctx, s.tourID, room, next); err != nil {
		return err
	}
	s.commit(gen, func() {
		s.tooltips[room] = next
		if s.editingID == id {
			s.mode = ModeRoomSelected
			s.editingID = ""
		}
	})
	return nil
}

func (s *EditorSession) removeTooltip(ctx context.Context, room, id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	next := make([]domain.Tooltip, 0, len(s.tooltips[room]))
	for _, t := range s.tooltips[room] {
		if t.ID != id {
			next = append(next, t)
		}
	}
	s.mu.Unlock()

	key := "tooltips:" + room
	gen, err := s.begin(key)
	if err != nil {
		return err
	}
	defer s.end(key)

	if err := s.backend.SaveTooltips(ctx, s.tourID, room, next); err != nil {
		return err
	}
	s.commit(gen, func() {
		if len(next) == 0 {
			delete(s.tooltips, room)
		} else {
			s.tooltips[room] = next
		}
		if s.editingID == id {
			s.mode = ModeRoomSelected
			s.editingID = ""
		}
	})
	return nil
}

// StartRecording acquires the process-wide microphone for one room.
func (s *EditorSession) StartRecording(room string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if !s.hasRoomLocked(room) {
		s.mu.Unlock()
		return fmt.Errorf("room %q does not exist", room)
	}
	if s.recordingRoom != "" {
		s.mu.Unlock()
		return fmt.Errorf("already recording for room %q", s.recordingRoom)
	}
	s.mu.Unlock()

	if err := s.recorder.Acquire(s.holder(room)); err != nil {
		return err
	}

	s.mu.Lock()
	s.recordingRoom = room
	s.mu.Unlock()
	return nil
}

func (s *EditorSession) AppendAudioChunk(room string, chunk []byte) error {
	return s.recorder.Append(s.holder(room), chunk)
}

// StopRecording finalizes the clip as the room's pending audio source,
// replacing any pending file selection.
func (s *EditorSession) StopRecording(room string) error {
	data, err := s.recorder.Release(s.holder(room))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordingRoom = ""
	if s.closed {
		return errSessionClosed
	}
	if len(data) == 0 {
		return errors.New("recording produced no audio")
	}
	state := s.audio[room]
	if state == nil {
		state = &audioState{}
		s.audio[room] = state
	}
	state.pending = &domain.PendingAudio{
		Source: domain.AudioSourceRecorded,
		Name:   strings.ReplaceAll(room, " ", "_") + "_recording.webm",
		Data:   data,
	}
	return nil
}

// SelectAudioFile sets an uploaded file as the pending source, discarding any
// pending recorded clip: only one pending source survives.
func (s *EditorSession) SelectAudioFile(room, name string, data []byte) error {
	if len(data) == 0 {
		return errors.New("audio file is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	if !s.hasRoomLocked(room) {
		return fmt.Errorf("room %q does not exist", room)
	}
	state := s.audio[room]
	if state == nil {
		state = &audioState{}
		s.audio[room] = state
	}
	state.pending = &domain.PendingAudio{Source: domain.AudioSourceFile, Name: name, Data: data}
	return nil
}

// UploadAudio sends the pending clip to the backend. On failure the pending
// source is left intact so the user can retry.
func (s *EditorSession) UploadAudio(ctx context.Context, room string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", errSessionClosed
	}
	state := s.audio[room]
	if state == nil || state.pending == nil {
		s.mu.Unlock()
		return "", fmt.Errorf("room %q has no pending audio", room)
	}
	pending := state.pending
	s.mu.Unlock()

	key := "audio:" + room
	gen, err := s.begin(key)
	if err != nil {
		return "", err
	}
	defer s.end(key)

	url, err := s.backend.UploadAudio(ctx, s.tourID, room, pending.Name, pending.Data)
	if err != nil {
		return "", err
	}
	s.commit(gen, func() {
		if st := s.audio[room]; st != nil {
			st.url = url
			st.pending = nil
		}
	})
	return url, nil
}

// DiscardPendingAudio drops the unlinked pending clip without uploading.
func (s *EditorSession) DiscardPendingAudio(room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSessionClosed
	}
	state := s.audio[room]
	if state == nil || state.pending == nil {
		return fmt.Errorf("room %q has no pending audio", room)
	}
	state.pending = nil
	if state.url == "" {
		delete(s.audio, room)
	}
	return nil
}

func (s *EditorSession) removeAudio(ctx context.Context, room string) error {
	key := "audio:" + room
	gen, err := s.begin(key)
	if err != nil {
		return err
	}
	defer s.end(key)

	if err := s.backend.DeleteAudio(ctx, s.tourID, room); err != nil {
		return err
	}
	s.commit(gen, func() {
		if state := s.audio[room]; state != nil {
			state.url = ""
			if state.pending == nil {
				delete(s.audio, room)
			}
		}
	})
	return nil
}

// SetStartRoom changes where playback begins.
func (s *EditorSession) SetStartRoom(ctx context.Context, room string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if !s.hasRoomLocked(room) {
		s.mu.Unlock()
		return fmt.Errorf("room %q does not exist", room)
	}
	s.mu.Unlock()

	gen, err := s.begin("start-room")
	if err != nil {
		return err
	}
	defer s.end("start-room")

	if err := s.backend.UpdateStartRoom(ctx, s.tourID, room); err != nil {
		return err
	}
	s.commit(gen, func() { s.startRoom = room })
	return nil
}

// NormalizePoint converts a click at client pixel (px, py) into the fraction
// of the image's rendered bounding box, clamped to [0,1].
func NormalizePoint(px, py float64, b ImageBounds) (domain.Position, error) {
	if b.Width <= 0 || b.Height <= 0 {
		return domain.Position{}, errors.New("image bounds must have positive size")
	}
	return domain.Position{
		X: clamp01((px - b.OriginX) / b.Width),
		Y: clamp01((py - b.OriginY) / b.Height),
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cacheBust(url string) string {
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "v=" + fmt.Sprintf("%d", time.Now().Unix())
}

type AudioInfo struct {
	URL           string             `json:"url,omitempty"`
	PendingSource domain.AudioSource `json:"pending_source,omitempty"`
	PendingName   string             `json:"pending_name,omitempty"`
}

// Snapshot is a deep copy of the session state for read-side consumers.
type Snapshot struct {
	TourID       string                      `json:"tour_id"`
	Rooms        []string                    `json:"rooms"`
	PanoramaURLs map[string]string           `json:"panorama_urls"`
	Markers      map[string][]domain.Marker  `json:"markers"`
	Tooltips     map[string][]domain.Tooltip `json:"tooltips"`
	Audio        map[string]AudioInfo        `json:"audio"`
	StartRoom    string                      `json:"start_room,omitempty"`
	ActiveRoom   string                      `json:"active_room,omitempty"`
	Mode         EditMode                    `json:"mode"`
	EditingID    string                      `json:"editing_id,omitempty"`
	Pending      *PendingAction              `json:"pending,omitempty"`
}

func (s *EditorSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TourID:       s.tourID,
		Rooms:        append([]string(nil), s.rooms...),
		PanoramaURLs: make(map[string]string, len(s.panoramas)),
		Markers:      make(map[string][]domain.Marker, len(s.markers)),
		Tooltips:     make(map[string][]domain.Tooltip, len(s.tooltips)),
		Audio:        make(map[string]AudioInfo, len(s.audio)),
		StartRoom:    s.startRoom,
		ActiveRoom:   s.activeRoom,
		Mode:         s.mode,
		EditingID:    s.editingID,
	}
	for room, url := range s.panoramas {
		snap.PanoramaURLs[room] = url
	}
	for room, list := range s.markers {
		snap.Markers[room] = append([]domain.Marker(nil), list...)
	}
	for room, list := range s.tooltips {
		snap.Tooltips[room] = append([]domain.Tooltip(nil), list...)
	}
	for room, state := range s.audio {
		info := AudioInfo{URL: state.url}
		if state.pending != nil {
			info.PendingSource = state.pending.Source
			info.PendingName = state.pending.Name
		}
		snap.Audio[room] = info
	}
	if s.pending != nil {
		p := *s.pending
		snap.Pending = &p
	}
	return snap
}
