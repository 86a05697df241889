// Package netfile parses the static road network description
// (scenario.net.xml, optionally gzip-compressed) that accompanies every
// scenario, producing the lane→edge lookup and the structural
// traffic-light neighborhood graph the Heatmap Telemetry and Analysis
// components need. Junction positions are queried live from the
// simulator connection, not derived from this file.
package netfile

import (
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// network mirrors the subset of a .net.xml document this package reads.
type network struct {
	XMLName   xml.Name   `xml:"net"`
	Edges     []edge     `xml:"edge"`
	Junctions []junction `xml:"junction"`
}

type edge struct {
	ID    string `xml:"id,attr"`
	From  string `xml:"from,attr"`
	To    string `xml:"to,attr"`
	Lanes []lane `xml:"lane"`
}

type lane struct {
	ID string `xml:"id,attr"`
}

type junction struct {
	ID   string `xml:"id,attr"`
	Type string `xml:"type,attr"`
}

func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return &gzipFile{gz: gz, f: f}, nil
	}
	return f, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g *gzipFile) Close() error {
	_ = g.gz.Close()
	return g.f.Close()
}

func parse(path string) (*network, error) {
	r, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open network file %s: %w", path, err)
	}
	defer r.Close()

	var net network
	if err := xml.NewDecoder(r).Decode(&net); err != nil {
		return nil, fmt.Errorf("parse network file %s: %w", path, err)
	}
	return &net, nil
}

// BuildLaneToEdgeMap reads the network file and returns lane ID → edge ID
// for every non-internal edge (internal junction edges, prefixed ":", are
// skipped, matching the simulator's own convention for generated
// intra-junction connectors).
func BuildLaneToEdgeMap(path string) (map[string]string, error) {
	net, err := parse(path)
	if err != nil {
		return map[string]string{}, err
	}
	out := make(map[string]string)
	for _, e := range net.Edges {
		if e.ID == "" || strings.HasPrefix(e.ID, ":") {
			continue
		}
		for _, l := range e.Lanes {
			if l.ID != "" {
				out[l.ID] = e.ID
			}
		}
	}
	return out, nil
}

// EdgeGeometry is one non-internal edge's endpoints, used by the Heatmap
// Telemetry Worker's "initial_map_geometry" payload.
type EdgeGeometry struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// BuildEdgeGeometry returns every non-internal edge's endpoints.
func BuildEdgeGeometry(path string) ([]EdgeGeometry, error) {
	net, err := parse(path)
	if err != nil {
		return nil, err
	}
	out := make([]EdgeGeometry, 0, len(net.Edges))
	for _, e := range net.Edges {
		if e.ID == "" || strings.HasPrefix(e.ID, ":") {
			continue
		}
		out = append(out, EdgeGeometry{ID: e.ID, From: e.From, To: e.To})
	}
	return out, nil
}

// IncomingEdge is one edge feeding into a junction, with its lane count.
type IncomingEdge struct {
	Lanes    []string
	NumLanes int
}

// JunctionTopology is a junction's type tag and the edges feeding into it,
// the static input the Analysis Worker needs to derive per-junction
// primary/secondary road volumes and warrant eligibility.
type JunctionTopology struct {
	Types         map[string]string                  // junction id -> type attribute (e.g. "traffic_light")
	IncomingEdges map[string]map[string]IncomingEdge  // junction id -> edge id -> lanes
}

// BuildJunctionTopology reads the network file's junction types and, for
// every non-internal edge, the lanes it contributes to its destination
// junction.
func BuildJunctionTopology(path string) (JunctionTopology, error) {
	net, err := parse(path)
	if err != nil {
		return JunctionTopology{}, err
	}

	topo := JunctionTopology{
		Types:         make(map[string]string, len(net.Junctions)),
		IncomingEdges: make(map[string]map[string]IncomingEdge),
	}
	for _, j := range net.Junctions {
		if j.ID != "" && j.Type != "" {
			topo.Types[j.ID] = j.Type
		}
	}
	for _, e := range net.Edges {
		if e.ID == "" || e.To == "" || strings.HasPrefix(e.ID, ":") {
			continue
		}
		lanes := make([]string, 0, len(e.Lanes))
		for _, l := range e.Lanes {
			if l.ID != "" {
				lanes = append(lanes, l.ID)
			}
		}
		if topo.IncomingEdges[e.To] == nil {
			topo.IncomingEdges[e.To] = make(map[string]IncomingEdge)
		}
		topo.IncomingEdges[e.To][e.ID] = IncomingEdge{Lanes: lanes, NumLanes: len(lanes)}
	}
	return topo, nil
}

// BuildStructuralNeighborhoodMap traverses the road-network graph from each
// traffic light junction, breadth-first, collecting the nearest other
// traffic-light junctions reachable without passing through a third one.
// This is the "structural proximity" used when no richer calibration data
// is available for a junction.
func BuildStructuralNeighborhoodMap(path string, trafficLightIDs []string) (map[string][]string, error) {
	net, err := parse(path)
	if err != nil {
		return map[string][]string{}, err
	}

	isTLS := make(map[string]struct{}, len(trafficLightIDs))
	for _, id := range trafficLightIDs {
		isTLS[id] = struct{}{}
	}

	adjacency := make(map[string][]string)
	for _, e := range net.Edges {
		if e.From == "" || e.To == "" {
			continue
		}
		adjacency[e.From] = append(adjacency[e.From], e.To)
		adjacency[e.To] = append(adjacency[e.To], e.From)
	}

	neighborhoods := make(map[string][]string)
	for start := range isTLS {
		found := make(map[string]struct{})
		visited := map[string]struct{}{start: {}}
		queue := []string{start}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, neighbor := range adjacency[current] {
				if _, seen := visited[neighbor]; seen {
					continue
				}
				visited[neighbor] = struct{}{}
				if _, isLight := isTLS[neighbor]; isLight {
					found[neighbor] = struct{}{}
					continue
				}
				queue = append(queue, neighbor)
			}
		}
		list := make([]string, 0, len(found))
		for id := range found {
			list = append(list, id)
		}
		sort.Strings(list)
		neighborhoods[start] = list
	}
	return neighborhoods, nil
}
