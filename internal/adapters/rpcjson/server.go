package rpcjson

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/opentourtools/tourstudio/internal/application"
	"github.com/opentourtools/tourstudio/internal/domain"
)

type Server struct {
	service  *application.TourService
	listener net.Listener
	path     string
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  any         `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func Start(path string, service *application.TourService) (*Server, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rpc socket path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = ln.Close()
		_ = os.Remove(path)
		return nil, err
	}

	s := &Server{service: service, listener: ln, path: path}
	go s.serve()
	return s, nil
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) Close() error {
	err := s.listener.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)

	for {
		var req request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			_ = enc.Encode(response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}, ID: nil})
			return
		}

		resp := s.dispatch(context.Background(), req)
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" || strings.TrimSpace(req.Method) == "" {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32600, Message: "invalid request"}, ID: req.ID}
	}

	switch req.Method {
	case "auth.login":
		return s.handleAuthLogin(ctx, req)
	case "auth.whoami":
		identity, rpcResp, ok := s.authz(ctx, req, "")
		if !ok {
			return rpcResp
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"id": identity.User.ID, "email": identity.User.Email}, ID: req.ID}
	case "tours.list":
		_, rpcResp, ok := s.authz(ctx, req, "tour.read")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token   string `json:"token"`
			OwnerID *uint  `json:"owner_id"`
			Q       string `json:"q"`
			Limit   int    `json:"limit"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		tours, err := s.service.ListTours(ctx, p.OwnerID, p.Q, p.Limit)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: tours, ID: req.ID}
	case "tours.get":
		_, rpcResp, ok := s.authz(ctx, req, "tour.read")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		tour, err := s.service.GetTour(ctx, p.TourID)
		if err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: tour, ID: req.ID}
	case "tours.delete":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		if err := s.service.DeleteTour(ctx, p.TourID); err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "tour.delete", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "session.open":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, err := s.service.OpenSession(ctx, p.TourID)
		if err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "session.open", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: session.Snapshot(), ID: req.ID}
	case "session.close":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		s.service.CloseSession(p.TourID)
		s.service.WriteAudit(ctx, &identity.User.ID, "session.close", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "session.snapshot":
		_, rpcResp, ok := s.authz(ctx, req, "tour.read")
		if !ok {
			return rpcResp
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		return response{JSONRPC: "2.0", Result: session.Snapshot(), ID: req.ID}
	case "rooms.add":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
			Name   string `json:"name"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.AddRoom(p.Name); err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "room.add", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: session.Snapshot(), ID: req.ID}
	case "rooms.rename.request":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token   string `json:"token"`
			TourID  string `json:"tour_id"`
			Name    string `json:"name"`
			NewName string `json:"new_name"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.RequestRenameRoom(p.Name, p.NewName); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"pending": session.Pending()}, ID: req.ID}
	case "rooms.delete.request":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
			Name   string `json:"name"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.RequestDeleteRoom(p.Name); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"pending": session.Pending()}, ID: req.ID}
	case "markers.add":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token    string           `json:"token"`
			TourID   string           `json:"tour_id"`
			FromRoom string           `json:"from_room"`
			ToRoom   string           `json:"to_room"`
			Position *domain.Position `json:"position"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		marker, err := session.AddMarker(ctx, p.FromRoom, p.ToRoom, p.Position)
		if err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "marker.add", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: marker, ID: req.ID}
	case "markers.remove.request":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token    string          `json:"token"`
			TourID   string          `json:"tour_id"`
			FromRoom string          `json:"from_room"`
			ToRoom   string          `json:"to_room"`
			Position domain.Position `json:"position"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.RequestRemoveMarker(p.FromRoom, p.ToRoom, p.Position); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"pending": session.Pending()}, ID: req.ID}
	case "tooltips.select-room":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
			Room   string `json:"room"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.SelectRoom(p.Room); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: session.Snapshot(), ID: req.ID}
	case "tooltips.begin-placement":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token   string `json:"token"`
			TourID  string `json:"tour_id"`
			Content string `json:"content"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.BeginPlacement(p.Content); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: session.Snapshot(), ID: req.ID}
	case "tooltips.place":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string                  `json:"token"`
			TourID string                  `json:"tour_id"`
			PX     float64                 `json:"px"`
			PY     float64                 `json:"py"`
			Bounds application.ImageBounds `json:"bounds"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		tooltip, err := session.PlaceAt(ctx, p.PX, p.PY, p.Bounds)
		if err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "tooltip.place", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: tooltip, ID: req.ID}
	case "tooltips.content":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token   string `json:"token"`
			TourID  string `json:"tour_id"`
			ID      string `json:"id"`
			Content string `json:"content"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.EditContent(ctx, p.ID, p.Content); err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "tooltip.edit", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "tooltips.remove.request":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
			ID     string `json:"id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.RequestRemoveTooltip(p.ID); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"pending": session.Pending()}, ID: req.ID}
	case "audio.remove.request":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
			Room   string `json:"room"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.RequestRemoveAudio(p.Room); err != nil {
			return appError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"pending": session.Pending()}, ID: req.ID}
	case "start-room.set":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
			Room   string `json:"room"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.SetStartRoom(ctx, p.Room); err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "tour.start_room", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "pending.get":
		_, rpcResp, ok := s.authz(ctx, req, "tour.read")
		if !ok {
			return rpcResp
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		return response{JSONRPC: "2.0", Result: map[string]any{"pending": session.Pending()}, ID: req.ID}
	case "pending.confirm":
		identity, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		var p struct {
			Token  string `json:"token"`
			TourID string `json:"tour_id"`
		}
		if !decodeParams(req.Params, &p) {
			return invalidParams(req.ID)
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		if err := session.ConfirmPending(ctx); err != nil {
			return appError(req.ID, err)
		}
		s.service.WriteAudit(ctx, &identity.User.ID, "pending.confirm", "tour", p.TourID)
		return response{JSONRPC: "2.0", Result: session.Snapshot(), ID: req.ID}
	case "pending.cancel":
		_, rpcResp, ok := s.authz(ctx, req, "tour.write")
		if !ok {
			return rpcResp
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		session.CancelPending()
		return response{JSONRPC: "2.0", Result: map[string]any{"ok": true}, ID: req.ID}
	case "playback.build":
		_, rpcResp, ok := s.authz(ctx, req, "tour.read")
		if !ok {
			return rpcResp
		}
		session, rpcResp, ok := s.session(req)
		if !ok {
			return rpcResp
		}
		snap := session.Snapshot()
		nodes := application.BuildNodes(snap)
		start, hasStart := application.ResolveStartNode(snap, nodes)
		return response{JSONRPC: "2.0", Result: map[string]any{"nodes": nodes, "start_node": start, "has_start": hasStart}, ID: req.ID}
	case "audit.list":
		_, rpcResp, ok := s.authz(ctx, req, "tour.read")
		if !ok {
			return rpcResp
		}
		out, err := s.service.ListAuditLogs(ctx, 500)
		if err != nil {
			return internalError(req.ID, err)
		}
		return response{JSONRPC: "2.0", Result: out, ID: req.ID}
	default:
		return response{JSONRPC: "2.0", Error: &rpcError{Code: -32601, Message: "method not found"}, ID: req.ID}
	}
}

func (s *Server) handleAuthLogin(ctx context.Context, req request) response {
	var p struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		TokenName string `json:"token_name"`
	}
	if !decodeParams(req.Params, &p) {
		return invalidParams(req.ID)
	}
	u, token, err := s.service.LoginWithAPIToken(ctx, p.Email, p.Password, p.TokenName, nil)
	if err != nil {
		return response{JSONRPC: "2.0", Error: &rpcError{Code: 40100, Message: "invalid credentials"}, ID: req.ID}
	}
	return response{JSONRPC: "2.0", Result: map[string]any{"user_id": u.ID, "email": u.Email, "token": token}, ID: req.ID}
}

func (s *Server) authz(ctx context.Context, req request, permission string) (domain.Identity, response, bool) {
	var p struct {
		Token string `json:"token"`
	}
	if !decodeParams(req.Params, &p) {
		return domain.Identity{}, invalidParams(req.ID), false
	}
	identity, err := s.service.AuthenticateBearerToken(ctx, p.Token)
	if err != nil {
		return domain.Identity{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40100, Message: "unauthorized"}, ID: req.ID}, false
	}
	if permission != "" && !s.service.Can(identity, permission) {
		return domain.Identity{}, response{JSONRPC: "2.0", Error: &rpcError{Code: 40300, Message: "forbidden"}, ID: req.ID}, false
	}
	return identity, response{}, true
}

// session resolves the open editor session named by the tour_id param.
func (s *Server) session(req request) (*application.EditorSession, response, bool) {
	var p struct {
		TourID string `json:"tour_id"`
	}
	if !decodeParams(req.Params, &p) {
		return nil, invalidParams(req.ID), false
	}
	session, err := s.service.Session(p.TourID)
	if err != nil {
		return nil, appError(req.ID, err), false
	}
	return session, response{}, true
}

func decodeParams(raw json.RawMessage, out any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func invalidParams(id any) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: -32602, Message: "invalid params"}, ID: id}
}

func appError(id any, err error) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: 40000, Message: err.Error()}, ID: id}
}

func internalError(id any, err error) response {
	return response{JSONRPC: "2.0", Error: &rpcError{Code: 50000, Message: fmt.Sprintf("internal error: %v", err)}, ID: id}
}
