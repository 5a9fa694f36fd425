package wire

import (
	"google.golang.org/protobuf/types/known/structpb"
)

// EventStatus is the collector's verdict on one event.
type EventStatus string

const (
	StatusAccepted EventStatus = "accepted"
	StatusRejected EventStatus = "rejected"
	StatusError    EventStatus = "error"
)

// EventResult reports one event of an upload.
type EventResult struct {
	EventID string
	Status  EventStatus
	Error   string
}

// UploadResult is the Upload response. Events are processed individually;
// mutations are applied atomically.
type UploadResult struct {
	Accepted int
	Results  []EventResult

	MutationsApplied int
	MutationsDeleted int
	MutationsIgnored int
}

// Failed returns the results with StatusError: events the collector could
// not store even though they were valid.
func (r UploadResult) Failed() []EventResult {
	var out []EventResult
	for _, res := range r.Results {
		if res.Status == StatusError {
			out = append(out, res)
		}
	}
	return out
}

// EncodeResult converts r to its wire document.
func EncodeResult(r UploadResult) *structpb.Struct {
	results := make([]*structpb.Value, 0, len(r.Results))
	for _, res := range r.Results {
		results = append(results, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"event_id": structpb.NewStringValue(res.EventID),
			"status":   structpb.NewStringValue(string(res.Status)),
			"error":    structpb.NewStringValue(res.Error),
		}}))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"accepted":          structpb.NewNumberValue(float64(r.Accepted)),
		"results":           structpb.NewListValue(&structpb.ListValue{Values: results}),
		"mutations_applied": structpb.NewNumberValue(float64(r.MutationsApplied)),
		"mutations_deleted": structpb.NewNumberValue(float64(r.MutationsDeleted)),
		"mutations_ignored": structpb.NewNumberValue(float64(r.MutationsIgnored)),
	}}
}

// DecodeResult parses an Upload response.
func DecodeResult(s *structpb.Struct) (UploadResult, error) {
	d := decoder{}
	r := UploadResult{
		Accepted:         d.number(s, "accepted"),
		MutationsApplied: d.number(s, "mutations_applied"),
		MutationsDeleted: d.number(s, "mutations_deleted"),
		MutationsIgnored: d.number(s, "mutations_ignored"),
	}
	for _, res := range d.objects(s, "results") {
		r.Results = append(r.Results, EventResult{
			EventID: d.str(res, "event_id"),
			Status:  EventStatus(d.str(res, "status")),
			Error:   d.str(res, "error"),
		})
	}
	return r, d.err
}

func (d *decoder) number(s *structpb.Struct, field string) int {
	v, ok := s.GetFields()[field]
	if !ok {
		return 0
	}
	n, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		d.fail("field %s: expected number", field)
		return 0
	}
	return int(n.NumberValue)
}
