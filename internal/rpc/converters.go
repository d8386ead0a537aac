package rpc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lcrostarosa/safetrack/internal/app"
	"github.com/lcrostarosa/safetrack/internal/domain"
	apperrors "github.com/lcrostarosa/safetrack/internal/errors"
	"github.com/lcrostarosa/safetrack/internal/logging"
	"github.com/lcrostarosa/safetrack/internal/monitor"
	"github.com/lcrostarosa/safetrack/internal/settings"
)

// mapSlice converts a slice of type T to a slice of type R using the provided converter function.
func mapSlice[T, R any](items []T, convert func(T) R) []R {
	result := make([]R, len(items))
	for i, item := range items {
		result[i] = convert(item)
	}
	return result
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// ============================================================================
// Settings
// ============================================================================

func settingsToMap(s domain.Settings) map[string]any {
	return map[string]any{
		settings.KeyLocationInterval:    s.LocationIntervalMinutes,
		settings.KeyInactivityThreshold: s.InactivityThresholdHours,
		settings.KeySOSContacts:         stringsToAny(s.SOSContacts),
	}
}

// settingsUpdateFromStruct reads the fields present in st. Absent fields are
// left unchanged; a null contact list clears it.
func settingsUpdateFromStruct(st *structpb.Struct) (domain.SettingsUpdate, error) {
	var u domain.SettingsUpdate
	for key, v := range st.GetFields() {
		switch key {
		case settings.KeyLocationInterval:
			n, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
				return u, apperrors.Invalid(settings.KeyLocationInterval, v.AsInterface(), "must be a whole number of minutes")
			}
			minutes := int(n.NumberValue)
			u.LocationIntervalMinutes = &minutes
		case settings.KeyInactivityThreshold:
			n, ok := v.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return u, apperrors.Invalid(settings.KeyInactivityThreshold, v.AsInterface(), "must be a number of hours")
			}
			hours := n.NumberValue
			u.InactivityThresholdHours = &hours
		case settings.KeySOSContacts:
			contacts, err := contactsFromValue(v)
			if err != nil {
				return u, err
			}
			u.SOSContacts = contacts
			u.SetContacts = true
		default:
			return u, apperrors.Invalid("settings", key, "unknown field")
		}
	}
	if u.IsEmpty() {
		return u, apperrors.Invalid("settings", nil, "no fields to update")
	}
	return u, nil
}

func contactsFromValue(v *structpb.Value) ([]string, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return []string{}, nil
	case *structpb.Value_ListValue:
		out := make([]string, 0, len(k.ListValue.GetValues()))
		for _, item := range k.ListValue.GetValues() {
			s, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, apperrors.Invalid(settings.KeySOSContacts, item.AsInterface(), "entries must be strings")
			}
			out = append(out, s.StringValue)
		}
		return out, nil
	default:
		return nil, apperrors.Invalid(settings.KeySOSContacts, v.AsInterface(), "must be a list")
	}
}

// ============================================================================
// Records
// ============================================================================

func locationToMap(r domain.LocationRecord) map[string]any {
	return map[string]any{
		"id":        r.ID,
		"latitude":  r.Latitude,
		"longitude": r.Longitude,
		"timestamp": formatTime(r.Timestamp),
	}
}

func alertToMap(a domain.AlertRecord) map[string]any {
	m := map[string]any{
		"id":        a.ID,
		"batch_id":  a.BatchID,
		"contact":   a.Contact,
		"message":   a.Message,
		"sent_at":   formatTime(a.SentAt),
		"delivered": a.Delivered(),
	}
	if a.Error != "" {
		m["error"] = a.Error
	}
	return m
}

func logEntryToMap(e logging.Entry) map[string]any {
	m := map[string]any{
		"time":    formatTime(e.Time),
		"level":   e.Level,
		"message": e.Message,
	}
	if e.Logger != "" {
		m["logger"] = e.Logger
	}
	if len(e.Fields) > 0 {
		fields := make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			if _, err := structpb.NewValue(v); err != nil {
				v = fmt.Sprint(v)
			}
			fields[k] = v
		}
		m["fields"] = fields
	}
	return m
}

// ============================================================================
// Status
// ============================================================================

func reportToMap(r monitor.Report) map[string]any {
	m := map[string]any{
		"checked_at":      formatTime(r.CheckedAt),
		"has_last_open":   r.HasMark,
		"breached":        r.Breached,
		"suppressed":      r.Suppressed,
		"threshold_hours": r.Threshold.Hours(),
		"contacts":        r.Contacts,
		"sent":            r.Sent,
		"failed":          r.Failed,
	}
	if r.HasMark {
		m["last_open"] = formatTime(r.LastOpen)
		m["elapsed_hours"] = r.Elapsed.Hours()
	}
	if r.BatchID != "" {
		m["batch_id"] = r.BatchID
		m["message"] = r.Message
	}
	if len(r.Errors) > 0 {
		m["errors"] = stringsToAny(mapSlice(r.Errors, apperrors.SanitizeError))
	}
	return m
}

func statusToMap(st app.Status) map[string]any {
	m := map[string]any{
		"state":      st.State.String(),
		"started_at": formatTime(st.StartedAt),
		"capture": map[string]any{
			"active":           st.CaptureActive,
			"interval_minutes": st.CaptureInterval.Minutes(),
		},
		"monitor": map[string]any{
			"active": st.MonitorActive,
			"phase":  st.AlertPhase.String(),
		},
		"settings": settingsToMap(st.Settings),
		"stats": map[string]any{
			"location_logs": st.Stats.LocationLogs,
			"alert_logs":    st.Stats.AlertLogs,
			"settings":      st.Stats.Settings,
		},
	}
	if st.HasLastOpen {
		m["last_open"] = formatTime(st.LastOpen)
	}
	if st.HasLastAlert {
		m["last_alert"] = formatTime(st.LastAlert)
	}
	if st.LastCheck != nil {
		m["last_check"] = reportToMap(*st.LastCheck)
	}
	return m
}
