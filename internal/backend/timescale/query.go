package timescale

import (
	"fmt"
	"strings"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

const columns = "uuid::text, datastream_id, resulttime, phenomenontime, result, sampling_feature_id, procedure_link, parameters"

type whereBuilder struct {
	conds []string
	args  []any
}

func (w *whereBuilder) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *whereBuilder) interval(col string, ti model.TimeInterval) {
	if ti.Start != nil {
		w.add(col+" >= $%d", *ti.Start)
	}
	if ti.End != nil {
		w.add(col+" <= $%d", *ti.End)
	}
}

// BuildSelect renders the observation query for p with positional arguments
func BuildSelect(p *params.Params) (string, []any) {
	var w whereBuilder
	if p.HasIDs() {
		w.add("uuid::text = ANY($%d)", p.IDs)
	}
	if len(p.Datastream) > 0 {
		w.add("datastream_id = ANY($%d)", p.Datastream)
	}
	if len(p.Foi) > 0 {
		w.add("sampling_feature_id = ANY($%d)", p.Foi)
	}
	w.interval("resulttime", p.ResultTime)
	w.interval("phenomenontime", p.PhenomenonTime)

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	sb.WriteString(" FROM observations")
	if len(w.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(w.conds, " AND "))
	}
	sb.WriteString(" ORDER BY resulttime ASC, uuid ASC")
	w.args = append(w.args, p.Limit)
	fmt.Fprintf(&sb, " LIMIT $%d", len(w.args))
	w.args = append(w.args, p.Offset)
	fmt.Fprintf(&sb, " OFFSET $%d", len(w.args))
	return sb.String(), w.args
}

const createTable = `CREATE TABLE IF NOT EXISTS observations (
	uuid UUID NOT NULL,
	resulttime TIMESTAMPTZ NOT NULL,
	phenomenontime TIMESTAMPTZ,
	datastream_id TEXT NOT NULL,
	result BYTEA,
	sampling_feature_id TEXT,
	procedure_link BYTEA,
	parameters BYTEA,
	PRIMARY KEY (uuid, resulttime)
)`

const createIndex = `CREATE INDEX IF NOT EXISTS observations_datastream_idx ON observations (datastream_id, resulttime DESC)`

const createHypertable = `SELECT create_hypertable('observations', 'resulttime', if_not_exists => TRUE)`

const insertRow = `INSERT INTO observations
	(uuid, resulttime, phenomenontime, datastream_id, result, sampling_feature_id, procedure_link, parameters)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
