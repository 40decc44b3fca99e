package stitcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/opentourtools/tourstudio/internal/domain"
)

// Client talks to the panorama stitching service over HTTP. Every response
// carries a {success, error?} envelope; a missing or false success field is
// treated as failure so callers never mutate local state on an unconfirmed
// request.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

func (e envelope) err() error {
	if e.Success != nil && *e.Success {
		return nil
	}
	if e.Error != "" {
		return errors.New(e.Error)
	}
	return errors.New("backend did not confirm the operation")
}

func (c *Client) postJSON(ctx context.Context, path string, in any, out any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var env envelope
		if json.Unmarshal(payload, &env) == nil && env.Error != "" {
			return errors.New(env.Error)
		}
		return fmt.Errorf("backend error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	return env.err()
}

type wirePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// markerItem and tooltipItem are the read shapes from get-tour-data; the
// write shapes below flatten the position, mirroring the backend's asymmetry.
type markerItem struct {
	ID       string       `json:"id"`
	LinkTo   string       `json:"linkTo"`
	Position wirePosition `json:"position"`
}

type tooltipItem struct {
	ID       string       `json:"id"`
	Content  string       `json:"content"`
	Position wirePosition `json:"position"`
}

type markerPayload struct {
	ID        string  `json:"id"`
	LinkTo    string  `json:"linkTo"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
}

type tooltipPayload struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	PositionX float64 `json:"position_x"`
	PositionY float64 `json:"position_y"`
}

type stitchResponse struct {
	envelope
	PanoramaURLs map[string]string `json:"panoramaUrls"`
}

// StitchTour uploads the initial image sets for every room and returns the
// stitched panorama URL per room. Files travel under a "<room>[]" form key
// per room, the way the backend derives room names.
func (c *Client) StitchTour(ctx context.Context, tourID, tourName string, rooms map[string][]domain.ImageFile) (map[string]string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("tourId", tourID); err != nil {
		return nil, err
	}
	if err := w.WriteField("tour_name", tourName); err != nil {
		return nil, err
	}
	for room, files := range rooms {
		for _, f := range files {
			part, err := w.CreateFormFile(room+"[]", f.Name)
			if err != nil {
				return nil, err
			}
			if _, err := part.Write(f.Data); err != nil {
				return nil, err
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stitch", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp stitchResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	urls := make(map[string]string, len(resp.PanoramaURLs))
	for room, url := range resp.PanoramaURLs {
		urls[room] = url
	}
	return urls, nil
}

type tourDataResponse struct {
	envelope
	PanoramaURLs map[string]string        `json:"panoramaUrls"`
	Markers      map[string][]markerItem  `json:"markers"`
	Tooltips     map[string][]tooltipItem `json:"tooltips"`
	AudioURLs    map[string]string        `json:"audioUrls"`
	StartRoom    string                   `json:"startRoom"`
}

func (c *Client) GetTourData(ctx context.Context, tourID string) (domain.TourData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get-tour-data/"+tourID, nil)
	if err != nil {
		return domain.TourData{}, err
	}
	var resp tourDataResponse
	if err := c.do(req, &resp); err != nil {
		return domain.TourData{}, err
	}

	data := domain.TourData{
		PanoramaURLs: make(map[string]string, len(resp.PanoramaURLs)),
		Markers:      make(map[string][]domain.Marker, len(resp.Markers)),
		Tooltips:     make(map[string][]domain.Tooltip, len(resp.Tooltips)),
		AudioURLs:    resp.AudioURLs,
		StartRoom:    resp.StartRoom,
	}
	for room, url := range resp.PanoramaURLs {
		data.PanoramaURLs[room] = url
	}
	for room, list := range resp.Markers {
		markers := make([]domain.Marker, 0, len(list))
		for _, m := range list {
			markers = append(markers, domain.Marker{
				ID:       m.ID,
				FromRoom: room,
				ToRoom:   m.LinkTo,
				Position: domain.Position{X: m.Position.X, Y: m.Position.Y},
			})
		}
		data.Markers[room] = markers
	}
	for room, list := range resp.Tooltips {
		tooltips := make([]domain.Tooltip, 0, len(list))
		for _, t := range list {
			tooltips = append(tooltips, domain.Tooltip{
				ID:       t.ID,
				RoomName: room,
				Content:  t.Content,
				Position: domain.Position{X: t.Position.X, Y: t.Position.Y},
			})
		}
		data.Tooltips[room] = tooltips
	}
	return data, nil
}

func (c *Client) RenameRoom(ctx context.Context, tourID, oldName, newName string) error {
	in := map[string]string{"tourId": tourID, "oldRoomName": oldName, "newRoomName": newName}
	return c.postJSON(ctx, "/rename-room", in, nil)
}

func (c *Client) DeleteRoom(ctx context.Context, tourID, roomName string) error {
	in := map[string]string{"tourId": tourID, "roomName": roomName}
	return c.postJSON(ctx, "/delete-room", in, nil)
}

type restitchResponse struct {
	envelope
	PanoramaURL string `json:"panoramaUrl"`
}

func (c *Client) RestitchRoom(ctx context.Context, tourID, roomName string, files []domain.ImageFile) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("tourId", tourID); err != nil {
		return "", err
	}
	if err := w.WriteField("roomName", roomName); err != nil {
		return "", err
	}
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return "", err
		}
		if _, err := part.Write(f.Data); err != nil {
			return "", err
		}
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/restitch-room", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp restitchResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.PanoramaURL == "" {
		return "", errors.New("backend returned no panorama url")
	}
	return resp.PanoramaURL, nil
}

// SaveMarkers replaces every marker leaving fromRoom with the given set.
func (c *Client) SaveMarkers(ctx context.Context, tourID, fromRoom string, markers []domain.Marker) error {
	wire := make([]markerPayload, 0, len(markers))
	for _, m := range markers {
		wire = append(wire, markerPayload{
			ID:        m.ID,
			LinkTo:    m.ToRoom,
			PositionX: m.Position.X,
			PositionY: m.Position.Y,
		})
	}
	in := map[string]any{"tourId": tourID, "roomFrom": fromRoom, "markers": wire}
	return c.postJSON(ctx, "/save-markers", in, nil)
}

// SaveTooltips replaces every tooltip in roomName with the given set.
func (c *Client) SaveTooltips(ctx context.Context, tourID, roomName string, tooltips []domain.Tooltip) error {
	wire := make([]tooltipPayload, 0, len(tooltips))
	for _, t := range tooltips {
		wire = append(wire, tooltipPayload{
			ID:        t.ID,
			Content:   t.Content,
			PositionX: t.Position.X,
			PositionY: t.Position.Y,
		})
	}
	in := map[string]any{"tourId": tourID, "roomName": roomName, "tooltips": wire}
	return c.postJSON(ctx, "/save-tooltips", in, nil)
}

type uploadAudioResponse struct {
	envelope
	AudioURL string `json:"audioUrl"`
}

func (c *Client) UploadAudio(ctx context.Context, tourID, roomName, filename string, data []byte) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if err := w.WriteField("tourId", tourID); err != nil {
		return "", err
	}
	if err := w.WriteField("roomName", roomName); err != nil {
		return "", err
	}
	part, err := w.CreateFormFile("audio", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-audio", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var resp uploadAudioResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.AudioURL == "" {
		return "", errors.New("backend returned no audio url")
	}
	return resp.AudioURL, nil
}

func (c *Client) DeleteAudio(ctx context.Context, tourID, roomName string) error {
	in := map[string]string{"tourId": tourID, "roomName": roomName}
	return c.postJSON(ctx, "/delete-audio", in, nil)
}

func (c *Client) UpdateStartRoom(ctx context.Context, tourID, newStartRoom string) error {
	in := map[string]string{"tourId": tourID, "newStartRoom": newStartRoom}
	return c.postJSON(ctx, "/update-start-room", in, nil)
}
