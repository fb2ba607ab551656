// Package visualize renders a patient's subgraph as styled node and edge
// lists for graph-visualization frontends.
package visualize

import (
	"context"
	"fmt"
	"strings"

	"github.com/aurelia-health/emrgraph/internal/emr"
	"github.com/aurelia-health/emrgraph/internal/graph"
	"github.com/aurelia-health/emrgraph/internal/types"
)

const patientGraphCypher = `
MATCH (p:Patient {patientID: $pid})
MATCH (p)-[r1]->(sec:SectionTable {patientID: $pid})
WHERE type(r1) IN $sectionRels
OPTIONAL MATCH (sec)-[r2:HAS_INFORMATION_OF]->(sch:Schema {patientID: $pid})
OPTIONAL MATCH (sch)-[r3:HAS_VALUE]->(val:Value {patientID: $pid})
WITH collect(DISTINCT p) AS P,
     collect(DISTINCT sec) AS SECS,
     collect(DISTINCT sch) AS SCHEMAS,
     [v IN collect(DISTINCT val) WHERE v IS NOT NULL] AS VALS,
     collect(DISTINCT r1) + collect(DISTINCT r2) + collect(DISTINCT r3) AS RELS
RETURN P + SECS + SCHEMAS + VALS AS nodes, RELS AS rels
`

// GraphNode is a styled node in the rendered patient graph.
type GraphNode struct {
	ID    string         `json:"id"`
	Attrs map[string]any `json:"attrs"`
}

// GraphEdge is a styled directed edge in the rendered patient graph.
type GraphEdge struct {
	Source string         `json:"source"`
	Target string         `json:"target"`
	Attrs  map[string]any `json:"attrs"`
}

// PatientGraph is the full styled subgraph for one patient.
type PatientGraph struct {
	PatientID string      `json:"patient_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
}

// Renderer fetches and styles patient subgraphs.
type Renderer struct {
	graph    graph.Client
	registry *emr.Registry
}

// NewRenderer creates a renderer over the given graph client. A nil registry
// falls back to the default section registry.
func NewRenderer(g graph.Client, reg *emr.Registry) *Renderer {
	if reg == nil {
		reg = emr.DefaultRegistry()
	}
	return &Renderer{graph: g, registry: reg}
}

// Render fetches the subgraph for the given patient identifier and applies
// display styling. Returns NOT_FOUND when the patient has no nodes.
func (r *Renderer) Render(ctx context.Context, patientID string) (*PatientGraph, error) {
	sub, err := r.graph.ReadGraph(ctx, patientGraphCypher, map[string]any{
		"pid":         patientID,
		"sectionRels": r.registry.SectionRelationships(),
	})
	if err != nil {
		return nil, err
	}
	if sub.Empty() {
		return nil, types.NewError(types.NOT_FOUND,
			fmt.Sprintf("no graph data for patient %s", patientID))
	}

	out := &PatientGraph{
		PatientID: patientID,
		Nodes:     make([]GraphNode, 0, len(sub.Nodes)),
		Edges:     make([]GraphEdge, 0, len(sub.Relationships)),
	}
	for _, n := range sub.Nodes {
		out.Nodes = append(out.Nodes, GraphNode{ID: n.ID, Attrs: styleNode(n)})
	}

	// Parallel edges of the same type collapse to one.
	seen := make(map[string]bool)
	for _, rel := range sub.Relationships {
		key := rel.StartID + "|" + rel.EndID + "|" + rel.Type
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Edges = append(out.Edges, GraphEdge{
			Source: rel.StartID,
			Target: rel.EndID,
			Attrs:  styleEdge(rel),
		})
	}
	return out, nil
}

var edgeColors = map[string]string{
	emr.RelGeneralInformation: "#8c564b",
	emr.RelMenstrualHistory:   "#8c564b",
	emr.RelMedicalHistory:     "#8c564b",
	emr.RelObstetricsHistory:  "#8c564b",
	emr.RelPastMedication:     "#8c564b",
	emr.RelPastTesting:        "#8c564b",
	emr.RelSexualHistory:      "#8c564b",
	emr.RelOther:              "#8c564b",
	emr.RelInformationOf:      "#17becf",
	emr.RelValue:              "#bcbd22",
}

func styleNode(n graph.Node) map[string]any {
	labels := make(map[string]bool, len(n.Labels))
	for _, l := range n.Labels {
		labels[l] = true
	}
	switch {
	case labels[emr.LabelPatient]:
		return map[string]any{
			"label": fmt.Sprintf("Patient %v", n.Props["patientID"]),
			"color": "#1f77b4",
			"shape": "ellipse",
			"size":  35,
		}
	case labels[emr.LabelSection]:
		label, _ := n.Props["name"].(string)
		if label == "" {
			label = "Section"
		}
		return map[string]any{"label": label, "color": "#2ca02c", "shape": "box", "size": 26}
	case labels[emr.LabelSchema]:
		label, _ := n.Props["field"].(string)
		if label == "" {
			label, _ = n.Props["section"].(string)
		}
		if label == "" {
			label = "Schema"
		}
		return map[string]any{"label": label, "color": "#9467bd", "shape": "dot", "size": 18}
	case labels[emr.LabelValue]:
		label := fmt.Sprintf("%v", n.Props["value"])
		if vt, _ := n.Props["valueType"].(string); vt == "dict" {
			label = fmt.Sprintf("Entry %v", n.Props["value"])
		}
		return map[string]any{"label": label, "color": "#ff7f0e", "shape": "diamond", "size": 14}
	default:
		return map[string]any{"label": strings.Join(n.Labels, "/"), "shape": "dot", "size": 12}
	}
}

func styleEdge(rel graph.Relationship) map[string]any {
	color, ok := edgeColors[rel.Type]
	if !ok {
		color = "#999"
	}
	return map[string]any{"label": rel.Type, "color": color, "arrows": "to"}
}
