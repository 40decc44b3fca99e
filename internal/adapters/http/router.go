package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opentourtools/tourstudio/internal/application"
	"github.com/opentourtools/tourstudio/internal/domain"
)

const sessionCookieName = "ts_session"

// maxUploadBytes bounds a single multipart upload; panorama source sets can
// be large.
const maxUploadBytes = 256 << 20

type contextKey string

const identityKey contextKey = "identity"

type Handler struct {
	service *application.TourService
}

func NewRouter(service *application.TourService) http.Handler {
	h := &Handler{service: service}
	r := chi.NewRouter()

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/login", h.handleLogin)
		api.Post("/auth/register", h.handleRegister)
		api.With(h.requireAuth("tour.read")).Get("/auth/whoami", h.handleWhoAmI)
		api.With(h.requireAuth("tour.read")).Post("/auth/logout", h.handleLogout)
		api.With(h.requireAuth("tour.read")).Get("/audit/logs", h.handleListAuditLogs)

		api.With(h.requireAuth("tour.read")).Get("/tours", h.handleListTours)
		api.With(h.requireAuth("tour.write")).Post("/tours", h.handleCreateTour)

		api.Route("/tours/{tourID}", func(tour chi.Router) {
			tour.With(h.requireAuth("tour.read")).Get("/", h.handleGetTour)
			tour.With(h.requireAuth("tour.write")).Delete("/", h.handleDeleteTour)

			tour.With(h.requireAuth("tour.write")).Post("/session/open", h.handleOpenSession)
			tour.With(h.requireAuth("tour.write")).Post("/session/close", h.handleCloseSession)
			tour.With(h.requireAuth("tour.write")).Post("/session/reload", h.handleReloadSession)
			tour.With(h.requireAuth("tour.read")).Get("/session", h.handleSnapshot)

			tour.With(h.requireAuth("tour.write")).Post("/rooms", h.handleAddRoom)
			tour.With(h.requireAuth("tour.write")).Post("/rooms/rename", h.handleRequestRenameRoom)
			tour.With(h.requireAuth("tour.write")).Post("/rooms/delete", h.handleRequestDeleteRoom)
			tour.With(h.requireAuth("tour.write")).Post("/rooms/images", h.handleUploadRoomImages)

			tour.With(h.requireAuth("tour.write")).Post("/markers", h.handleAddMarker)
			tour.With(h.requireAuth("tour.write")).Post("/markers/remove", h.handleRequestRemoveMarker)

			tour.With(h.requireAuth("tour.write")).Post("/tooltips/select-room", h.handleSelectRoom)
			tour.With(h.requireAuth("tour.write")).Post("/tooltips/begin-placement", h.handleBeginPlacement)
			tour.With(h.requireAuth("tour.write")).Post("/tooltips/begin-edit", h.handleBeginEdit)
			tour.With(h.requireAuth("tour.write")).Post("/tooltips/place", h.handlePlaceTooltip)
			tour.With(h.requireAuth("tour.write")).Post("/tooltips/content", h.handleEditTooltipContent)
			tour.With(h.requireAuth("tour.write")).Post("/tooltips/remove", h.handleRequestRemoveTooltip)

			tour.With(h.requireAuth("tour.write")).Post("/audio/record/start", h.handleStartRecording)
			tour.With(h.requireAuth("tour.write")).Post("/audio/record/chunk", h.handleAudioChunk)
			tour.With(h.requireAuth("tour.write")).Post("/audio/record/stop", h.handleStopRecording)
			tour.With(h.requireAuth("tour.write")).Post("/audio/select", h.handleSelectAudioFile)
			tour.With(h.requireAuth("tour.write")).Post("/audio/upload", h.handleUploadAudio)
			tour.With(h.requireAuth("tour.write")).Post("/audio/discard", h.handleDiscardPendingAudio)
			tour.With(h.requireAuth("tour.write")).Post("/audio/remove", h.handleRequestRemoveAudio)

			tour.With(h.requireAuth("tour.write")).Post("/start-room", h.handleSetStartRoom)

			tour.With(h.requireAuth("tour.read")).Get("/pending", h.handleGetPending)
			tour.With(h.requireAuth("tour.write")).Post("/pending/confirm", h.handleConfirmPending)
			tour.With(h.requireAuth("tour.write")).Post("/pending/cancel", h.handleCancelPending)

			tour.With(h.requireAuth("tour.read")).Get("/playback", h.handlePlayback)
		})
	})

	return r
}

type loginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Mode      string `json:"mode"`
	TokenName string `json:"token_name"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	mode := strings.ToLower(strings.TrimSpace(req.Mode))
	if mode == "" {
		mode = "token"
	}

	if mode == "session" {
		u, token, err := h.service.LoginWithSession(r.Context(), req.Email, req.Password, 12*time.Hour)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
			return
		}
		h.setSessionCookie(w, token)
		writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "mode": "session"})
		return
	}

	u, token, err := h.service.LoginWithAPIToken(r.Context(), req.Email, req.Password, req.TokenName, nil)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email, "token": token, "mode": "token"})
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	u, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "auth.register", "user", strconv.FormatUint(uint64(u.ID), 10))
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID, "email": u.Email})
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}
	perms := make([]string, 0, len(identity.Permissions))
	for p := range identity.Permissions {
		perms = append(perms, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": identity.User.ID, "email": identity.User.Email, "permissions": perms})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	c, err := r.Cookie(sessionCookieName)
	if err == nil && c.Value != "" {
		_ = h.service.LogoutSession(r.Context(), c.Value)
		h.clearSessionCookie(w)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListAuditLogs(r.Context(), 500)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleListTours(w http.ResponseWriter, r *http.Request) {
	var ownerID *uint
	if raw := strings.TrimSpace(r.URL.Query().Get("owner_id")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid owner_id"})
			return
		}
		v := uint(parsed)
		ownerID = &v
	}
	items, err := h.service.ListTours(r.Context(), ownerID, r.URL.Query().Get("q"), 200)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateTour accepts a multipart form: tour_name plus one "<room>[]"
// file field group per room.
func (h *Handler) handleCreateTour(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid multipart payload"})
		return
	}
	name := strings.TrimSpace(r.FormValue("tour_name"))

	rooms := make(map[string][]domain.ImageFile)
	for field, headers := range r.MultipartForm.File {
		roomName := strings.TrimSuffix(field, "[]")
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable upload"})
				return
			}
			data, err := io.ReadAll(f)
			_ = f.Close()
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable upload"})
				return
			}
			rooms[roomName] = append(rooms[roomName], domain.ImageFile{Name: fh.Filename, Data: data})
		}
	}

	var ownerID uint
	if identity, ok := identityFromContext(r.Context()); ok {
		ownerID = identity.User.ID
	}

	tour, urls, err := h.service.CreateTour(r.Context(), ownerID, name, rooms)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "tour.create", "tour", tour.ID)
	writeJSON(w, http.StatusOK, map[string]any{"tour": tour, "panoramas": urls})
}

func (h *Handler) handleGetTour(w http.ResponseWriter, r *http.Request) {
	tour, err := h.service.GetTour(r.Context(), chi.URLParam(r, "tourID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "tour not found"})
		return
	}
	writeJSON(w, http.StatusOK, tour)
}

func (h *Handler) handleDeleteTour(w http.ResponseWriter, r *http.Request) {
	tourID := chi.URLParam(r, "tourID")
	if err := h.service.DeleteTour(r.Context(), tourID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "tour.delete", "tour", tourID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	tourID := chi.URLParam(r, "tourID")
	session, err := h.service.OpenSession(r.Context(), tourID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "session.open", "tour", tourID)
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	tourID := chi.URLParam(r, "tourID")
	h.service.CloseSession(tourID)
	h.writeAudit(r.Context(), "session.close", "tour", tourID)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReloadSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

type roomRequest struct {
	Name    string `json:"name"`
	NewName string `json:"new_name"`
}

func (h *Handler) handleAddRoom(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.AddRoom(req.Name); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "room.add", "tour", session.TourID())
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleRequestRenameRoom(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.RequestRenameRoom(req.Name, req.NewName); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": session.Pending()})
}

func (h *Handler) handleRequestDeleteRoom(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req roomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.RequestDeleteRoom(req.Name); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": session.Pending()})
}

// handleUploadRoomImages accepts a multipart form with roomName and images[].
func (h *Handler) handleUploadRoomImages(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid multipart payload"})
		return
	}
	roomName := strings.TrimSpace(r.FormValue("roomName"))

	files := make([]domain.ImageFile, 0)
	for _, fh := range r.MultipartForm.File["images[]"] {
		f, err := fh.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable upload"})
			return
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable upload"})
			return
		}
		files = append(files, domain.ImageFile{Name: fh.Filename, Data: data})
	}

	url, err := session.UploadRoomImages(r.Context(), roomName, files)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "room.restitch", "tour", session.TourID())
	writeJSON(w, http.StatusOK, map[string]any{"panorama": url})
}

type markerRequest struct {
	FromRoom string           `json:"from_room"`
	ToRoom   string           `json:"to_room"`
	Position *domain.Position `json:"position"`
}

func (h *Handler) handleAddMarker(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	marker, err := session.AddMarker(r.Context(), req.FromRoom, req.ToRoom, req.Position)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "marker.add", "tour", session.TourID())
	writeJSON(w, http.StatusOK, marker)
}

func (h *Handler) handleRequestRemoveMarker(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req markerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if req.Position == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "position is required"})
		return
	}
	if err := session.RequestRemoveMarker(req.FromRoom, req.ToRoom, *req.Position); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": session.Pending()})
}

type selectRoomRequest struct {
	Room string `json:"room"`
}

func (h *Handler) handleSelectRoom(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.SelectRoom(req.Room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

type beginPlacementRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleBeginPlacement(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req beginPlacementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.BeginPlacement(req.Content); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

type tooltipIDRequest struct {
	ID string `json:"id"`
}

func (h *Handler) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tooltipIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.BeginEdit(req.ID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

type placeRequest struct {
	PX     float64                 `json:"px"`
	PY     float64                 `json:"py"`
	Bounds application.ImageBounds `json:"bounds"`
}

func (h *Handler) handlePlaceTooltip(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req placeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	tooltip, err := session.PlaceAt(r.Context(), req.PX, req.PY, req.Bounds)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "tooltip.place", "tour", session.TourID())
	writeJSON(w, http.StatusOK, tooltip)
}

type tooltipContentRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (h *Handler) handleEditTooltipContent(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tooltipContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.EditContent(r.Context(), req.ID, req.Content); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "tooltip.edit", "tour", session.TourID())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRequestRemoveTooltip(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tooltipIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.RequestRemoveTooltip(req.ID); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": session.Pending()})
}

func (h *Handler) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.StartRecording(req.Room); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAudioChunk appends raw body bytes to the active recording. The room
// rides in a query parameter so the body stays opaque audio data.
func (h *Handler) handleAudioChunk(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	chunk, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable chunk"})
		return
	}
	if err := session.AppendAudioChunk(room, chunk); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.StopRecording(req.Room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// handleSelectAudioFile accepts a multipart form with roomName and one audio
// file.
func (h *Handler) handleSelectAudioFile(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid multipart payload"})
		return
	}
	roomName := strings.TrimSpace(r.FormValue("roomName"))
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "audio file is required"})
		return
	}
	data, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable upload"})
		return
	}
	if err := session.SelectAudioFile(roomName, header.Filename, data); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	url, err := session.UploadAudio(r.Context(), req.Room)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "audio.upload", "tour", session.TourID())
	writeJSON(w, http.StatusOK, map[string]any{"audio_url": url})
}

func (h *Handler) handleDiscardPendingAudio(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.DiscardPendingAudio(req.Room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleRequestRemoveAudio(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.RequestRemoveAudio(req.Room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": session.Pending()})
}

func (h *Handler) handleSetStartRoom(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req selectRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if err := session.SetStartRoom(r.Context(), req.Room); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "tour.start_room", "tour", session.TourID())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleGetPending(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": session.Pending()})
}

func (h *Handler) handleConfirmPending(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := session.ConfirmPending(r.Context()); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	h.writeAudit(r.Context(), "pending.confirm", "tour", session.TourID())
	writeJSON(w, http.StatusOK, session.Snapshot())
}

func (h *Handler) handleCancelPending(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	session.CancelPending()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handlePlayback(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	snap := session.Snapshot()
	nodes := application.BuildNodes(snap)
	start, hasStart := application.ResolveStartNode(snap, nodes)
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":      nodes,
		"start_node": start,
		"has_start":  hasStart,
	})
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*application.EditorSession, bool) {
	session, err := h.service.Session(chi.URLParam(r, "tourID"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return nil, false
	}
	return session, true
}

func (h *Handler) requireAuth(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := h.authenticateRequest(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}
			if !h.service.Can(identity, permission) {
				writeJSON(w, http.StatusForbidden, map[string]any{"error": "forbidden"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, identity)))
		})
	}
}

func (h *Handler) authenticateRequest(r *http.Request) (domain.Identity, bool) {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[7:])
		identity, err := h.service.AuthenticateBearerToken(r.Context(), token)
		if err == nil {
			return identity, true
		}
	}

	c, err := r.Cookie(sessionCookieName)
	if err == nil && strings.TrimSpace(c.Value) != "" {
		identity, authErr := h.service.AuthenticateSession(r.Context(), c.Value)
		if authErr == nil {
			return identity, true
		}
	}

	return domain.Identity{}, false
}

func identityFromContext(ctx context.Context) (domain.Identity, bool) {
	value := ctx.Value(identityKey)
	if value == nil {
		return domain.Identity{}, false
	}
	identity, ok := value.(domain.Identity)
	return identity, ok
}

func (h *Handler) writeAudit(ctx context.Context, action, targetType, targetID string) {
	var actorUserID *uint
	if identity, ok := identityFromContext(ctx); ok {
		actorUserID = &identity.User.ID
	}
	h.service.WriteAudit(ctx, actorUserID, action, targetType, targetID)
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   false,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
