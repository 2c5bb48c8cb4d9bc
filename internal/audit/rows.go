package audit

import (
	"github.com/roach88/patchwork/internal/mutation"
	"github.com/roach88/patchwork/internal/schema"
)

// Schema keys the audit trail registers on its adapter.
const (
	ActionSchemaKey = "action"
	EventSchemaKey  = "event"
)

// ActionDefinition describes the persisted shape of an action row.
// The string-typed id makes the adapter accept caller-assigned keys, so
// the logger can back-fill generated ids onto in-memory actions.
func ActionDefinition() schema.Definition {
	return schema.Definition{
		Title: "Action",
		Properties: map[string]schema.Property{
			"id":                 {Type: schema.TypeString},
			"type":               {Type: schema.TypeString, Required: true},
			"schemaKey":          {Type: schema.TypeString, Required: true},
			"instanceId":         {Type: schema.TypeInteger},
			"instanceFilter":     {Type: schema.TypeObject},
			"data":               {Type: schema.TypeObject},
			"dataOld":            {Type: schema.TypeObject},
			"dataDiff":           {Type: schema.TypeObject},
			"dataDiffPrepatched": {Type: schema.TypeObject},
			"dataResult":         {Type: schema.TypeObject},
			"dataResultId":       {Type: schema.TypeJSON},
			"status":             {Type: schema.TypeString, Required: true},
			"trigger":            {Type: schema.TypeString},
			"parent":             {Type: schema.TypeString},
			"rootParent":         {Type: schema.TypeString},
			"depth":              {Type: schema.TypeInteger},
			"attempt":            {Type: schema.TypeInteger},
			"metaKey":            {Type: schema.TypeString},
			"metaData":           {Type: schema.TypeObject},
		},
	}
}

// EventDefinition describes the persisted shape of an audit event row.
func EventDefinition() schema.Definition {
	return schema.Definition{
		Title: "Event",
		Properties: map[string]schema.Property{
			"id":           {Type: schema.TypeString},
			"action":       {Type: schema.TypeString, Required: true},
			"attempt":      {Type: schema.TypeInteger},
			"stage":        {Type: schema.TypeString, Required: true},
			"isError":      {Type: schema.TypeBoolean, Required: true},
			"inData":       {Type: schema.TypeObject},
			"outData":      {Type: schema.TypeObject},
			"errorMessage": {Type: schema.TypeString},
			"errorStack":   {Type: schema.TypeString},
		},
	}
}

// actionRow flattens an Action into its persisted field set.
func actionRow(a *mutation.Action) mutation.Instance {
	row := mutation.Instance{
		"id":        a.ID,
		"type":      string(a.Type),
		"schemaKey": a.SchemaKey,
		"status":    string(a.Status),
		"depth":     a.Depth,
		"attempt":   a.Attempt,
	}
	if a.InstanceID != 0 {
		row["instanceId"] = a.InstanceID
	}
	setIfPresent(row, "instanceFilter", a.InstanceFilter)
	setIfPresent(row, "data", a.Data)
	setIfPresent(row, "dataOld", a.DataOld)
	setIfPresent(row, "dataDiff", a.DataDiff)
	setIfPresent(row, "dataDiffPrepatched", a.DataDiffPrepatched)
	setIfPresent(row, "dataResult", a.DataResult)
	if a.DataResultID != nil {
		row["dataResultId"] = a.DataResultID
	}
	if a.TriggerKey != "" {
		row["trigger"] = a.TriggerKey
	}
	if a.Parent != "" {
		row["parent"] = a.Parent
	}
	if a.RootParent != "" {
		row["rootParent"] = a.RootParent
	}
	if a.MetaKey != "" {
		row["metaKey"] = a.MetaKey
	}
	setIfPresent(row, "metaData", a.MetaData)
	return row
}

// eventRow flattens an Event into its persisted field set.
func eventRow(e mutation.Event) mutation.Instance {
	row := mutation.Instance{
		"id":      e.ID,
		"action":  e.ActionID,
		"attempt": e.Attempt,
		"stage":   string(e.Stage),
		"isError": e.IsError,
		"inData":  map[string]any(e.InData),
		"outData": map[string]any(e.OutData),
	}
	if e.ErrorMessage != "" {
		row["errorMessage"] = e.ErrorMessage
	}
	if e.ErrorStack != "" {
		row["errorStack"] = e.ErrorStack
	}
	return row
}

func setIfPresent(row mutation.Instance, key string, v mutation.Instance) {
	if v != nil {
		row[key] = map[string]any(v)
	}
}
