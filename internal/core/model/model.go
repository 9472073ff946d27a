// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

type EntityType int

const (
	Systems EntityType = iota + 1
	Deployments
	Procedures
	SamplingFeatures
	Properties
	Datastreams
	DatastreamsSchema
	Observations
	Collections
)

var entityNames = map[EntityType]string{
	Systems:           "systems",
	Deployments:       "deployments",
	Procedures:        "procedures",
	SamplingFeatures:  "samplingFeatures",
	Properties:        "properties",
	Datastreams:       "datastreams",
	DatastreamsSchema: "datastreamsSchema",
	Observations:      "observations",
	Collections:       "collections",
}

func (t EntityType) String() string {
	if s, ok := entityNames[t]; ok {
		return s
	}
	return fmt.Sprintf("EntityType(%d)", int(t))
}

// Index is the metadata-store index holding the type. Observations have none.
func (t EntityType) Index() string {
	switch t {
	case Systems:
		return "systems"
	case Deployments:
		return "deployments"
	case Procedures:
		return "procedures"
	case SamplingFeatures:
		return "sampling_features"
	case Properties:
		return "properties"
	case Datastreams, DatastreamsSchema:
		return "datastreams"
	case Collections:
		return "collections"
	default:
		return ""
	}
}

// SchemaName names the json schema document validating payloads of this type
func (t EntityType) SchemaName() string {
	switch t {
	case Systems:
		return "system"
	case Deployments:
		return "deployment"
	case Procedures:
		return "procedure"
	case SamplingFeatures:
		return "samplingFeature"
	case Properties:
		return "property"
	case Datastreams:
		return "datastream"
	case Observations:
		return "observation"
	default:
		return ""
	}
}

// ParseEntityType maps the names used in routes and events back to a type
func ParseEntityType(s string) (EntityType, bool) {
	for t, n := range entityNames {
		if n == s {
			return t, true
		}
	}
	return 0, false
}

func AllEntityTypes() []EntityType {
	return []EntityType{
		Systems, Deployments, Procedures, SamplingFeatures,
		Properties, Datastreams, DatastreamsSchema, Observations, Collections,
	}
}

// BBox is an axis aligned box, 2D or 3D. Z values are only set when HasZ.
type BBox struct {
	X1, Y1, Z1 float64
	X2, Y2, Z2 float64
	HasZ       bool
}

func (b BBox) String() string {
	if b.HasZ {
		return fmt.Sprintf("%g,%g,%g,%g,%g,%g", b.X1, b.Y1, b.Z1, b.X2, b.Y2, b.Z2)
	}
	return fmt.Sprintf("%g,%g,%g,%g", b.X1, b.Y1, b.X2, b.Y2)
}

// TimeInterval is a closed interval. A nil side is unbounded.
type TimeInterval struct {
	Start *time.Time
	End   *time.Time
}

func (ti TimeInterval) IsZero() bool { return ti.Start == nil && ti.End == nil }

type Cells []string

// Observation is a single timestamped result of a datastream
type Observation struct {
	ID                string
	DatastreamID      string
	ResultTime        time.Time
	PhenomenonTime    *time.Time
	Result            []byte
	SamplingFeatureID string
	ProcedureLink     []byte
	Parameters        []byte
}

type Link struct {
	Rel   string `json:"rel"`
	Href  string `json:"href"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}
