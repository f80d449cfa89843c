package view

import (
	"github.com/crimewatch/intel/internal/models"
)

// Graph node and link types.
const (
	NodeIncident = "incident"
	NodeEntity   = "entity"
	NodeLocation = "location"

	LinkInvolved   = "involved"
	LinkOccurredAt = "occurred_at"
)

// Node is one vertex in the derived incident graph.
type Node struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Severity string `json:"severity,omitempty"`
	Cluster  string `json:"cluster,omitempty"`
}

// Link is one directed edge in the derived incident graph.
type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Marker is one map marker; only incidents with real coordinates produce one.
type Marker struct {
	ID          string      `json:"id"`
	Coordinates Coordinates `json:"coordinates"`
	Severity    string      `json:"severity"`
	Summary     string      `json:"summary"`
	Location    string      `json:"location"`
	Timestamp   string      `json:"timestamp"`
}

// Graph derives a node/link set from the incident rows: one node per
// incident, one per distinct entity name, one per distinct location label.
// Incidents link to their entities ("involved") and their location
// ("occurred_at"). graph_cluster_key rides along as a grouping attribute on
// incident nodes. Derivation is pure; nothing is persisted.
func Graph(rows []models.IncidentRow) ([]Node, []Link) {
	nodes := []Node{}
	links := []Link{}
	seen := make(map[string]bool)

	addNode := func(n Node) {
		if seen[n.ID] {
			return
		}
		seen[n.ID] = true
		nodes = append(nodes, n)
	}

	for _, r := range rows {
		incID := NodeIncident + ":" + incidentID(r)
		addNode(Node{
			ID:       incID,
			Type:     NodeIncident,
			Label:    r.Article.TitleRaw,
			Severity: SeverityLabel(r.Incident.Severity),
			Cluster:  clusterKey(r),
		})

		for _, ent := range r.Incident.Entities {
			if ent.Name == "" {
				continue
			}
			entID := NodeEntity + ":" + ent.Name
			addNode(Node{ID: entID, Type: NodeEntity, Label: ent.Name})
			links = append(links, Link{Source: incID, Target: entID, Type: LinkInvolved})
		}

		if r.Incident.LocationLabel != nil && *r.Incident.LocationLabel != "" {
			locID := NodeLocation + ":" + *r.Incident.LocationLabel
			addNode(Node{ID: locID, Type: NodeLocation, Label: *r.Incident.LocationLabel})
			links = append(links, Link{Source: incID, Target: locID, Type: LinkOccurredAt})
		}
	}

	return nodes, links
}

// Markers projects incidents with real coordinates to map markers. Incidents
// without geolocation are omitted rather than pinned to the default position.
func Markers(rows []models.IncidentRow) []Marker {
	out := []Marker{}
	for _, r := range rows {
		if r.Incident.Lat == nil || r.Incident.Lng == nil {
			continue
		}
		location := r.Source.RegionLabel
		if r.Incident.LocationLabel != nil && *r.Incident.LocationLabel != "" {
			location = *r.Incident.LocationLabel
		}
		out = append(out, Marker{
			ID:          incidentID(r),
			Coordinates: Coordinates{Lat: *r.Incident.Lat, Lng: *r.Incident.Lng},
			Severity:    SeverityLabel(r.Incident.Severity),
			Summary:     r.Article.TitleRaw,
			Location:    location,
			Timestamp:   timestamp(r),
		})
	}
	return out
}
