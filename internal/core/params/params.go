// Package params parses query strings into typed, per-resource parameter objects.
package params

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

const (
	DefaultLimit = 10
	MaxLimit     = 10000
)

type Paging struct {
	Limit  int
	Offset int
}

type Temporal struct {
	ValidTime      model.TimeInterval
	PhenomenonTime model.TimeInterval
	ResultTime     model.TimeInterval
}

type Spatial struct {
	BBox *model.BBox
	Geom string
}

type Relations struct {
	Parent             []string
	System             []string
	Procedure          []string
	ObservedProperty   []string
	ControlledProperty []string
	Foi                []string
	Datastream         []string
}

type Params struct {
	Kind   Kind
	Format string
	IDs    []string
	Q      []string
	Paging
	Temporal
	Spatial
	Relations

	// Schema selects the schema view of datastreams
	Schema bool
	// URL is the request url without query string, used for next links
	URL string

	raw map[Name]string
}

func New(kind Kind) *Params {
	return &Params{
		Kind:   kind,
		Paging: Paging{Limit: DefaultLimit},
		raw:    map[Name]string{},
	}
}

// Parse validates every key in raw against the names declared for kind
// and parses the values. now is read whenever a time value says "now".
func Parse(kind Kind, raw url.Values, now func() time.Time) (*Params, error) {
	if now == nil {
		now = time.Now
	}
	p := New(kind)

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name, ok := LookupName(k)
		if !ok || !kind.Accepts(name) {
			return nil, apierr.Query("unknown query parameter: %s", k)
		}
		vals := raw[k]
		if len(vals) == 0 {
			continue
		}
		v := vals[0]
		if isList(name) && len(vals) > 1 {
			v = strings.Join(vals, ",")
		}
		if err := p.set(name, v, now); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func isList(n Name) bool {
	switch n {
	case NameID, NameQ, NameFoi, NameObservedProperty, NameParent, NameProcedure,
		NameControlledProperty, NameSystem, NameDatastream:
		return true
	default:
		return false
	}
}

func (p *Params) set(name Name, v string, now func() time.Time) error {
	switch name {
	case NameFormat:
		p.Format = v
	case NameID:
		p.IDs = splitList(v)
	case NameQ:
		p.Q = splitList(v)
	case NameLimit:
		n, err := parseCount(name, v)
		if err != nil {
			return err
		}
		p.Limit = n
	case NameOffset:
		n, err := parseCount(name, v)
		if err != nil {
			return err
		}
		p.Offset = n
	case NameBBox:
		bb, err := ParseBBox(v)
		if err != nil {
			return err
		}
		p.BBox = &bb
	case NameGeom:
		p.Geom = v
	case NameDatetime:
		ti, err := ParseInterval(v, now)
		if err != nil {
			return err
		}
		p.ValidTime = ti
	case NamePhenomenonTime:
		ti, err := ParseInterval(v, now)
		if err != nil {
			return err
		}
		p.PhenomenonTime = ti
	case NameResultTime:
		ti, err := ParseInterval(v, now)
		if err != nil {
			return err
		}
		p.ResultTime = ti
	case NameFoi:
		p.Foi = splitList(v)
	case NameObservedProperty:
		p.ObservedProperty = splitList(v)
	case NameParent:
		p.Parent = splitList(v)
	case NameProcedure:
		p.Procedure = splitList(v)
	case NameControlledProperty:
		p.ControlledProperty = splitList(v)
	case NameSystem:
		p.System = splitList(v)
	case NameDatastream:
		p.Datastream = splitList(v)
	default:
		return apierr.Query("unknown query parameter: %s", name)
	}
	p.raw[name] = v
	return nil
}

// empty segments are kept on purpose: "a,,b" yields three entries
func splitList(v string) []string {
	return strings.Split(v, ",")
}

func parseCount(name Name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0, apierr.Query("invalid %s: %q", name, v)
	}
	return n, nil
}

// ClampLimit bounds the page size requested from the backends
func (p *Params) ClampLimit(maxLimit int) {
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
		p.raw[NameLimit] = strconv.Itoa(maxLimit)
	}
}

// HasIDs reports whether the query is scoped to explicit identifiers
func (p *Params) HasIDs() bool { return len(p.IDs) > 0 }

// Raw returns the original string of a parsed parameter
func (p *Params) Raw(n Name) (string, bool) {
	v, ok := p.raw[n]
	return v, ok
}

// Encode renders all non-null parameters except offset, sorted by name
func (p *Params) Encode() string {
	vals := url.Values{}
	for n, v := range p.raw {
		if n == NameOffset || n == NameLimit {
			continue
		}
		vals.Set(n.String(), v)
	}
	vals.Set(NameLimit.String(), strconv.Itoa(p.Limit))
	return vals.Encode()
}

// NextLink points at the page following this one
func (p *Params) NextLink() string {
	return p.URL + "?" + p.Encode() + "&offset=" + strconv.Itoa(p.Offset+p.Limit)
}
