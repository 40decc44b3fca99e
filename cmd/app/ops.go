package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/opentourtools/tourstudio/internal/application"
	"github.com/opentourtools/tourstudio/internal/domain"
)

// Upload commands stream multipart bodies, which the unix socket RPC does not
// carry. They require the http transport.
var errNeedsHTTP = errors.New("this command requires the http transport; run 'auth login --transport http'")

func doLogin(ctx context.Context, cfg cliConfig, email, password, tokenName string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "auth.login", map[string]any{
			"email":      email,
			"password":   password,
			"token_name": tokenName,
		}, out)
	}
	client := newAPIClient(cfg.Server, "")
	return client.request(ctx, http.MethodPost, "/api/auth/login", map[string]any{
		"email":      email,
		"password":   password,
		"mode":       "token",
		"token_name": tokenName,
	}, out)
}

func doWhoAmI(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "auth.whoami", map[string]any{"token": cfg.Token}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/auth/whoami", nil, out)
}

func doLogout(ctx context.Context, cfg cliConfig) error {
	if cfg.Transport == "uds" {
		return nil
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
}

func doToursList(ctx context.Context, cfg cliConfig, ownerID *uint, q string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tours.list", map[string]any{"token": cfg.Token, "owner_id": ownerID, "q": q, "limit": 200}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	params := url.Values{}
	if ownerID != nil {
		params.Set("owner_id", uintToString(*ownerID))
	}
	if q != "" {
		params.Set("q", q)
	}
	path := "/api/tours"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	return client.request(ctx, http.MethodGet, path, nil, out)
}

// doTourCreate uploads one "<room>[]" file field group per room, matching the
// stitch request shape the server forwards to the backend.
func doTourCreate(ctx context.Context, cfg cliConfig, name string, rooms map[string][]string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	files := make(map[string][]string, len(rooms))
	for room, paths := range rooms {
		files[room+"[]"] = paths
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.requestFiles(ctx, "/api/tours", map[string]string{"tour_name": name}, files, out)
}

func doTourGet(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tours.get", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/tours/"+url.PathEscape(tourID), nil, out)
}

func doTourDelete(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tours.delete", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodDelete, "/api/tours/"+url.PathEscape(tourID), nil, out)
}

func doSessionOpen(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "session.open", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/session/open"), nil, out)
}

func doSessionClose(ctx context.Context, cfg cliConfig, tourID string) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "session.close", map[string]any{"token": cfg.Token, "tour_id": tourID}, nil)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/session/close"), nil, nil)
}

func doSessionReload(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/session/reload"), nil, out)
}

func doSnapshot(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "session.snapshot", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, tourPath(tourID, "/session"), nil, out)
}

func doRoomAdd(ctx context.Context, cfg cliConfig, tourID, name string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rooms.add", map[string]any{"token": cfg.Token, "tour_id": tourID, "name": name}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/rooms"), map[string]any{"name": name}, out)
}

func doRoomRenameRequest(ctx context.Context, cfg cliConfig, tourID, name, newName string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rooms.rename.request", map[string]any{"token": cfg.Token, "tour_id": tourID, "name": name, "new_name": newName}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/rooms/rename"), map[string]any{"name": name, "new_name": newName}, out)
}

func doRoomDeleteRequest(ctx context.Context, cfg cliConfig, tourID, name string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "rooms.delete.request", map[string]any{"token": cfg.Token, "tour_id": tourID, "name": name}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/rooms/delete"), map[string]any{"name": name}, out)
}

func doRoomImages(ctx context.Context, cfg cliConfig, tourID, room string, paths []string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.requestFiles(ctx, tourPath(tourID, "/rooms/images"), map[string]string{"roomName": room}, map[string][]string{"images[]": paths}, out)
}

func doMarkerAdd(ctx context.Context, cfg cliConfig, tourID, fromRoom, toRoom string, pos *domain.Position, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "markers.add", map[string]any{"token": cfg.Token, "tour_id": tourID, "from_room": fromRoom, "to_room": toRoom, "position": pos}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/markers"), map[string]any{"from_room": fromRoom, "to_room": toRoom, "position": pos}, out)
}

func doMarkerRemoveRequest(ctx context.Context, cfg cliConfig, tourID, fromRoom, toRoom string, pos domain.Position, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "markers.remove.request", map[string]any{"token": cfg.Token, "tour_id": tourID, "from_room": fromRoom, "to_room": toRoom, "position": pos}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/markers/remove"), map[string]any{"from_room": fromRoom, "to_room": toRoom, "position": &pos}, out)
}

func doTooltipSelectRoom(ctx context.Context, cfg cliConfig, tourID, room string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tooltips.select-room", map[string]any{"token": cfg.Token, "tour_id": tourID, "room": room}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/tooltips/select-room"), map[string]any{"room": room}, out)
}

func doTooltipBeginPlacement(ctx context.Context, cfg cliConfig, tourID, content string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tooltips.begin-placement", map[string]any{"token": cfg.Token, "tour_id": tourID, "content": content}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/tooltips/begin-placement"), map[string]any{"content": content}, out)
}

func doTooltipBeginEdit(ctx context.Context, cfg cliConfig, tourID, id string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/tooltips/begin-edit"), map[string]any{"id": id}, out)
}

func doTooltipPlace(ctx context.Context, cfg cliConfig, tourID string, px, py float64, bounds application.ImageBounds, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tooltips.place", map[string]any{"token": cfg.Token, "tour_id": tourID, "px": px, "py": py, "bounds": bounds}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/tooltips/place"), map[string]any{"px": px, "py": py, "bounds": bounds}, out)
}

func doTooltipContent(ctx context.Context, cfg cliConfig, tourID, id, content string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tooltips.content", map[string]any{"token": cfg.Token, "tour_id": tourID, "id": id, "content": content}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/tooltips/content"), map[string]any{"id": id, "content": content}, out)
}

func doTooltipRemoveRequest(ctx context.Context, cfg cliConfig, tourID, id string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "tooltips.remove.request", map[string]any{"token": cfg.Token, "tour_id": tourID, "id": id}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/tooltips/remove"), map[string]any{"id": id}, out)
}

func doAudioSelect(ctx context.Context, cfg cliConfig, tourID, room, path string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.requestFiles(ctx, tourPath(tourID, "/audio/select"), map[string]string{"roomName": room}, map[string][]string{"audio": {path}}, out)
}

func doAudioUpload(ctx context.Context, cfg cliConfig, tourID, room string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/audio/upload"), map[string]any{"room": room}, out)
}

func doAudioDiscard(ctx context.Context, cfg cliConfig, tourID, room string, out any) error {
	if cfg.Transport == "uds" {
		return errNeedsHTTP
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/audio/discard"), map[string]any{"room": room}, out)
}

func doAudioRemoveRequest(ctx context.Context, cfg cliConfig, tourID, room string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "audio.remove.request", map[string]any{"token": cfg.Token, "tour_id": tourID, "room": room}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/audio/remove"), map[string]any{"room": room}, out)
}

func doStartRoomSet(ctx context.Context, cfg cliConfig, tourID, room string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "start-room.set", map[string]any{"token": cfg.Token, "tour_id": tourID, "room": room}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/start-room"), map[string]any{"room": room}, out)
}

func doPendingGet(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "pending.get", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, tourPath(tourID, "/pending"), nil, out)
}

func doPendingConfirm(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "pending.confirm", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/pending/confirm"), nil, out)
}

func doPendingCancel(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "pending.cancel", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodPost, tourPath(tourID, "/pending/cancel"), nil, out)
}

func doPlayback(ctx context.Context, cfg cliConfig, tourID string, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "playback.build", map[string]any{"token": cfg.Token, "tour_id": tourID}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, tourPath(tourID, "/playback"), nil, out)
}

func doAuditList(ctx context.Context, cfg cliConfig, out any) error {
	if cfg.Transport == "uds" {
		client := newRPCClient(cfg.Socket)
		return client.call(ctx, "audit.list", map[string]any{"token": cfg.Token}, out)
	}
	client := newAPIClient(cfg.Server, cfg.Token)
	return client.request(ctx, http.MethodGet, "/api/audit/logs", nil, out)
}

func tourPath(tourID, suffix string) string {
	return "/api/tours/" + url.PathEscape(tourID) + suffix
}

func uintToString(v uint) string {
	return fmt.Sprintf("%d", v)
}
