package params

import "github.com/mohammed-shakir/connected-systems/internal/core/model"

// Kind selects the set of query parameters a request may carry
type Kind int

const (
	KindBase Kind = iota
	KindCollection
	KindSystems
	KindDeployments
	KindProcedures
	KindSamplingFeatures
	KindDatastreams
	KindObservations
)

func (k Kind) String() string {
	switch k {
	case KindCollection:
		return "collection"
	case KindSystems:
		return "systems"
	case KindDeployments:
		return "deployments"
	case KindProcedures:
		return "procedures"
	case KindSamplingFeatures:
		return "samplingFeatures"
	case KindDatastreams:
		return "datastreams"
	case KindObservations:
		return "observations"
	default:
		return "base"
	}
}

// KindFor returns the parameter kind used for queries on t
func KindFor(t model.EntityType) Kind {
	switch t {
	case model.Systems:
		return KindSystems
	case model.Deployments:
		return KindDeployments
	case model.Procedures:
		return KindProcedures
	case model.SamplingFeatures:
		return KindSamplingFeatures
	case model.Datastreams, model.DatastreamsSchema:
		return KindDatastreams
	case model.Observations:
		return KindObservations
	case model.Collections:
		return KindCollection
	default:
		return KindBase
	}
}

// Name is the closed set of query parameter names understood by the service
type Name int

const (
	NameFormat Name = iota + 1
	NameID
	NameQ
	NameLimit
	NameOffset
	NameBBox
	NameGeom
	NameDatetime
	NameFoi
	NameObservedProperty
	NameParent
	NameProcedure
	NameControlledProperty
	NameSystem
	NameDatastream
	NamePhenomenonTime
	NameResultTime
)

var nameStrings = map[Name]string{
	NameFormat:             "f",
	NameID:                 "id",
	NameQ:                  "q",
	NameLimit:              "limit",
	NameOffset:             "offset",
	NameBBox:               "bbox",
	NameGeom:               "geom",
	NameDatetime:           "datetime",
	NameFoi:                "foi",
	NameObservedProperty:   "observedProperty",
	NameParent:             "parent",
	NameProcedure:          "procedure",
	NameControlledProperty: "controlledProperty",
	NameSystem:             "system",
	NameDatastream:         "datastream",
	NamePhenomenonTime:     "phenomenonTime",
	NameResultTime:         "resultTime",
}

var stringNames = func() map[string]Name {
	out := make(map[string]Name, len(nameStrings))
	for n, s := range nameStrings {
		out[s] = n
	}
	return out
}()

func (n Name) String() string { return nameStrings[n] }

// LookupName resolves a query key. ok is false for names outside the enumeration.
func LookupName(s string) (Name, bool) {
	n, ok := stringNames[s]
	return n, ok
}

var base = []Name{NameFormat, NameID, NameQ, NameLimit, NameOffset}

func with(extra ...Name) map[Name]struct{} {
	out := make(map[Name]struct{}, len(base)+len(extra))
	for _, n := range base {
		out[n] = struct{}{}
	}
	for _, n := range extra {
		out[n] = struct{}{}
	}
	return out
}

var declared = map[Kind]map[Name]struct{}{
	KindBase: with(),
	KindCollection: with(NameFoi, NameObservedProperty, NameBBox, NameGeom,
		NameDatetime),
	KindSystems: with(NameBBox, NameGeom, NameDatetime, NameFoi, NameObservedProperty,
		NameParent, NameProcedure, NameControlledProperty),
	KindDeployments: with(NameBBox, NameGeom, NameDatetime, NameFoi,
		NameObservedProperty, NameSystem),
	KindProcedures: with(NameDatetime, NameFoi, NameObservedProperty,
		NameControlledProperty),
	KindSamplingFeatures: with(NameBBox, NameGeom, NameDatetime, NameFoi,
		NameObservedProperty, NameControlledProperty, NameSystem),
	KindDatastreams: with(NameFoi, NameObservedProperty, NameSystem,
		NamePhenomenonTime, NameResultTime),
	KindObservations: with(NameFoi, NameObservedProperty, NameDatastream,
		NamePhenomenonTime, NameResultTime),
}

// Accepts reports whether n is declared for kind k
func (k Kind) Accepts(n Name) bool {
	_, ok := declared[k][n]
	return ok
}
