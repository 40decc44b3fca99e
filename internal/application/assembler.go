package application

import (
	"math"

	"github.com/opentourtools/tourstudio/internal/domain"
)

// YawPitch maps a normalized image position onto viewing angles on the
// panorama sphere. x spans the full horizontal circle and y spans the
// vertical half circle, with (0.5, 0.5) at the center of view.
func YawPitch(p domain.Position) (yaw, pitch float64) {
	yaw = (p.X - 0.5) * 2 * math.Pi
	pitch = (0.5 - p.Y) * math.Pi
	return yaw, pitch
}

// BuildNodes projects a session snapshot into the node list the panorama
// viewer consumes. Rooms without a panorama are skipped and links to such
// rooms are dropped.
func BuildNodes(snap Snapshot) []domain.TourNode {
	nodes := make([]domain.TourNode, 0, len(snap.Rooms))
	for _, room := range snap.Rooms {
		panorama, ok := snap.PanoramaURLs[room]
		if !ok || panorama == "" {
			continue
		}
		node := domain.TourNode{
			ID:          room,
			Panorama:    panorama,
			Links:       []domain.NodeLink{},
			Annotations: []domain.NodeAnnotation{},
		}
		for _, m := range snap.Markers[room] {
			if target, ok := snap.PanoramaURLs[m.ToRoom]; !ok || target == "" {
				continue
			}
			yaw, pitch := YawPitch(m.Position)
			node.Links = append(node.Links, domain.NodeLink{
				TargetRoomID: m.ToRoom,
				Yaw:          yaw,
				Pitch:        pitch,
				Label:        "Go to " + m.ToRoom,
			})
		}
		for _, t := range snap.Tooltips[room] {
			yaw, pitch := YawPitch(t.Position)
			node.Annotations = append(node.Annotations, domain.NodeAnnotation{
				ID:      t.ID,
				Yaw:     yaw,
				Pitch:   pitch,
				Content: t.Content,
			})
		}
		if info, ok := snap.Audio[room]; ok {
			node.AudioURL = info.URL
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// ResolveStartNode picks the node playback opens on: the configured start
// room when it has a panorama, otherwise the first renderable room. The
// second return is false when the tour has nothing to show.
func ResolveStartNode(snap Snapshot, nodes []domain.TourNode) (string, bool) {
	for _, n := range nodes {
		if n.ID == snap.StartRoom {
			return n.ID, true
		}
	}
	if len(nodes) > 0 {
		return nodes[0].ID, true
	}
	return "", false
}
