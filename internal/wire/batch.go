// Package wire defines the collector RPC: a single unary Upload method whose
// request and response are structpb.Struct documents.
//
// Request layout:
//
//	batch_id, session_id, euid, created_at (RFC3339Nano)
//	identity   {user_id, anonymous_id}
//	contacts   {type: value}
//	events     [{event_id, name, timestamp, session_id, identity, device, properties}]
//	mutations  [{key, op, value, identity}]
//	tombstones [{key, identity}]
//
// Property values map onto structpb kinds directly: string, number, and a
// list of strings for a string set.
package wire

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// EncodeBatch converts b to its wire document.
func EncodeBatch(b *types.Batch) *structpb.Struct {
	events := make([]*structpb.Value, 0, len(b.Events))
	for _, e := range b.Events {
		events = append(events, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"event_id":   structpb.NewStringValue(string(e.ID)),
			"name":       structpb.NewStringValue(e.Name),
			"timestamp":  timeValue(e.Timestamp),
			"session_id": structpb.NewStringValue(string(e.SessionID)),
			"identity":   identityValue(e.Identity),
			"device": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				"idfa":    structpb.NewStringValue(e.Device.IDFA),
				"idfv":    structpb.NewStringValue(e.Device.IDFV),
				"carrier": structpb.NewStringValue(e.Device.Carrier),
			}}),
			"properties": propertiesValue(e.Properties),
		}}))
	}

	mutations := make([]*structpb.Value, 0, len(b.Mutations))
	for _, m := range b.Mutations {
		fields := map[string]*structpb.Value{
			"key":      structpb.NewStringValue(m.Key),
			"op":       structpb.NewStringValue(m.Op.String()),
			"identity": identityValue(m.Identity),
		}
		if m.Op != types.OpDeleteAll {
			fields["value"] = valueOf(m.Value)
		}
		mutations = append(mutations, structpb.NewStructValue(&structpb.Struct{Fields: fields}))
	}

	tombstones := make([]*structpb.Value, 0, len(b.Tombstones))
	for _, t := range b.Tombstones {
		tombstones = append(tombstones, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"key":      structpb.NewStringValue(t.Key),
			"identity": identityValue(t.Identity),
		}}))
	}

	contacts := make(map[string]*structpb.Value, len(b.Contacts))
	for k, v := range b.Contacts {
		contacts[k] = structpb.NewStringValue(v)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"batch_id":   structpb.NewStringValue(string(b.ID)),
		"session_id": structpb.NewStringValue(string(b.SessionID)),
		"euid":       structpb.NewStringValue(b.EUID),
		"created_at": timeValue(b.CreatedAt),
		"identity":   identityValue(b.Identity),
		"contacts":   structpb.NewStructValue(&structpb.Struct{Fields: contacts}),
		"events":     structpb.NewListValue(&structpb.ListValue{Values: events}),
		"mutations":  structpb.NewListValue(&structpb.ListValue{Values: mutations}),
		"tombstones": structpb.NewListValue(&structpb.ListValue{Values: tombstones}),
	}}
}

func timeValue(t time.Time) *structpb.Value {
	return structpb.NewStringValue(t.UTC().Format(time.RFC3339Nano))
}

func identityValue(id types.Identity) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"user_id":      structpb.NewStringValue(id.UserID),
		"anonymous_id": structpb.NewStringValue(id.AnonymousID),
	}})
}

func propertiesValue(props types.Properties) *structpb.Value {
	fields := make(map[string]*structpb.Value, len(props))
	for k, v := range props {
		fields[k] = valueOf(v)
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func valueOf(v types.Value) *structpb.Value {
	switch v.Kind {
	case types.KindString:
		return structpb.NewStringValue(v.Str)
	case types.KindNumber:
		return structpb.NewNumberValue(v.Num)
	case types.KindStringSet:
		elems := make([]*structpb.Value, len(v.Set))
		for i, e := range v.Set {
			elems[i] = structpb.NewStringValue(e)
		}
		return structpb.NewListValue(&structpb.ListValue{Values: elems})
	default:
		return structpb.NewNullValue()
	}
}

// DecodeBatch parses a wire document. Structural errors (wrong kinds, bad
// timestamps, unknown ops) fail the whole document; per-event validity is
// left to the receiver.
func DecodeBatch(s *structpb.Struct) (*types.Batch, error) {
	d := decoder{}
	b := &types.Batch{
		ID:       types.BatchID(d.str(s, "batch_id")),
		EUID:     d.str(s, "euid"),
		Identity: d.identity(s, "identity"),
	}
	b.SessionID = d.session(s, "session_id")
	b.CreatedAt = d.timestamp(s, "created_at")

	if c := d.object(s, "contacts"); c != nil && len(c.Fields) > 0 {
		b.Contacts = make(types.Contacts, len(c.Fields))
		for k := range c.Fields {
			b.Contacts[k] = d.str(c, k)
		}
	}

	for _, e := range d.objects(s, "events") {
		ev := types.Event{
			ID:         types.EventID(d.str(e, "event_id")),
			Name:       d.str(e, "name"),
			Timestamp:  d.timestamp(e, "timestamp"),
			SessionID:  d.session(e, "session_id"),
			Identity:   d.identity(e, "identity"),
			Properties: types.Properties{},
		}
		if dev := d.object(e, "device"); dev != nil {
			ev.Device = types.Device{IDFA: d.str(dev, "idfa"), IDFV: d.str(dev, "idfv"), Carrier: d.str(dev, "carrier")}
		}
		if props := d.object(e, "properties"); props != nil {
			for k, v := range props.Fields {
				ev.Properties[k] = d.value(v, k)
			}
		}
		b.Events = append(b.Events, ev)
	}

	for _, m := range d.objects(s, "mutations") {
		op, ok := types.ParseOp(d.str(m, "op"))
		if !ok {
			d.fail("unknown op %q", d.str(m, "op"))
			continue
		}
		mu := types.Mutation{Key: d.str(m, "key"), Op: op, Identity: d.identity(m, "identity")}
		if op != types.OpDeleteAll {
			mu.Value = d.value(m.Fields["value"], mu.Key)
		}
		b.Mutations = append(b.Mutations, mu)
	}

	for _, t := range d.objects(s, "tombstones") {
		b.Tombstones = append(b.Tombstones, types.Tombstone{Key: d.str(t, "key"), Identity: d.identity(t, "identity")})
	}

	if d.err != nil {
		return nil, d.err
	}
	return b, nil
}

// decoder keeps the first structural error so field reads can be chained.
type decoder struct {
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) str(s *structpb.Struct, field string) string {
	v, ok := s.GetFields()[field]
	if !ok {
		return ""
	}
	if _, isStr := v.GetKind().(*structpb.Value_StringValue); !isStr {
		d.fail("field %s: expected string", field)
		return ""
	}
	return v.GetStringValue()
}

func (d *decoder) timestamp(s *structpb.Struct, field string) time.Time {
	raw := d.str(s, field)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		d.fail("field %s: %v", field, err)
	}
	return t
}

func (d *decoder) session(s *structpb.Struct, field string) types.SessionID {
	id, err := types.ParseSessionID(d.str(s, field))
	if err != nil {
		d.fail("field %s: %v", field, err)
	}
	return id
}

func (d *decoder) object(s *structpb.Struct, field string) *structpb.Struct {
	v, ok := s.GetFields()[field]
	if !ok {
		return nil
	}
	obj := v.GetStructValue()
	if obj == nil {
		d.fail("field %s: expected object", field)
	}
	return obj
}

func (d *decoder) objects(s *structpb.Struct, field string) []*structpb.Struct {
	v, ok := s.GetFields()[field]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		d.fail("field %s: expected list", field)
		return nil
	}
	out := make([]*structpb.Struct, 0, len(list.Values))
	for i, item := range list.Values {
		obj := item.GetStructValue()
		if obj == nil {
			d.fail("field %s[%d]: expected object", field, i)
			continue
		}
		out = append(out, obj)
	}
	return out
}

func (d *decoder) identity(s *structpb.Struct, field string) types.Identity {
	obj := d.object(s, field)
	if obj == nil {
		return types.Identity{}
	}
	return types.Identity{UserID: d.str(obj, "user_id"), AnonymousID: d.str(obj, "anonymous_id")}
}

func (d *decoder) value(v *structpb.Value, key string) types.Value {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return types.StringValue(k.StringValue)
	case *structpb.Value_NumberValue:
		return types.NumberValue(k.NumberValue)
	case *structpb.Value_ListValue:
		elems := make([]string, 0, len(k.ListValue.GetValues()))
		for _, e := range k.ListValue.GetValues() {
			s, ok := e.GetKind().(*structpb.Value_StringValue)
			if !ok {
				d.fail("value %s: set elements must be strings", key)
				return types.Value{}
			}
			elems = append(elems, s.StringValue)
		}
		return types.SetValue(elems...)
	default:
		d.fail("value %s: unsupported kind", key)
		return types.Value{}
	}
}
