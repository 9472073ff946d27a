package params

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

// ParseBBox accepts x1,y1,x2,y2 or x1,y1,z1,x2,y2,z2
func ParseBBox(v string) (model.BBox, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 && len(parts) != 6 {
		return model.BBox{}, apierr.Query("invalid bbox")
	}
	nums := make([]float64, len(parts))
	for i, s := range parts {
		f, err := parseFloat(s)
		if err != nil {
			return model.BBox{}, apierr.Wrap(apierr.InvalidQuery, err, "invalid bbox")
		}
		nums[i] = f
	}
	if len(nums) == 4 {
		return model.BBox{X1: nums[0], Y1: nums[1], X2: nums[2], Y2: nums[3]}, nil
	}
	return model.BBox{
		X1: nums[0], Y1: nums[1], Z1: nums[2],
		X2: nums[3], Y2: nums[4], Z2: nums[5],
		HasZ: true,
	}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

// ParseInterval reads "A/B" or a bare instant. ".." is unbounded and "now" reads the clock.
func ParseInterval(v string, now func() time.Time) (model.TimeInterval, error) {
	if now == nil {
		now = time.Now
	}
	if start, end, ok := strings.Cut(v, "/"); ok {
		s, err := parseInstant(start, now)
		if err != nil {
			return model.TimeInterval{}, err
		}
		e, err := parseInstant(end, now)
		if err != nil {
			return model.TimeInterval{}, err
		}
		return model.TimeInterval{Start: s, End: e}, nil
	}
	t, err := parseInstant(v, now)
	if err != nil {
		return model.TimeInterval{}, err
	}
	return model.TimeInterval{Start: t, End: t}, nil
}

var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseInstant(s string, now func() time.Time) (*time.Time, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "..", "":
		return nil, nil
	case "now":
		t := now().UTC()
		return &t, nil
	}
	for _, layout := range instantLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, apierr.Query("invalid time value: %q", s)
}
