package mqttsource

import (
	"time"

	"github.com/antonholmquist/jason"
	"github.com/google/uuid"

	"github.com/madello/paarvai/internal/detection"
	"github.com/madello/paarvai/internal/errors"
)

const (
	// MaxObservationAge bounds how old a decoded observedAt may be.
	MaxObservationAge = 24 * time.Hour

	// MaxClockSkew bounds how far a decoded observedAt may lie in the future.
	MaxClockSkew = 5 * time.Minute
)

// Decode parses a detection payload. Field names follow the JSON form of
// detection.Record. Producers may also send:
//   - "name" instead of "subjectName"
//   - "observedAt" as RFC 3339 text or Unix milliseconds
//   - confidence as a 0..1 fraction
//
// A missing id gets a generated one, a missing observedAt takes now and a
// missing priority is Low. observedAt must lie within MaxObservationAge
// before now and MaxClockSkew after it. The decoded record is validated.
func Decode(payload []byte, now time.Time) (detection.Record, error) {
	obj, err := jason.NewObjectFromBytes(payload)
	if err != nil {
		return detection.Record{}, messageError(err)
	}

	r := detection.Record{
		ID:            firstString(obj, "id"),
		SubjectName:   firstString(obj, "subjectName", "name"),
		LocationLabel: firstString(obj, "location"),
		CameraID:      firstString(obj, "cameraId"),
		CameraName:    firstString(obj, "cameraName"),
		ThumbnailRef:  firstString(obj, "thumbnail"),
		ObservedAt:    now,
		Priority:      detection.PriorityLow,
	}
	if r.ID == "" {
		r.ID = "MQTT-" + uuid.NewString()
	}

	if c := firstString(obj, "classification"); c != "" {
		if r.Classification, err = detection.ParseClassification(c); err != nil {
			return r, err
		}
	}
	if p := firstString(obj, "priority"); p != "" {
		if r.Priority, err = detection.ParsePriority(p); err != nil {
			return r, err
		}
	}

	if v, err := obj.GetFloat64("confidence"); err == nil {
		if v > 0 && v <= 1 {
			v *= 100
		}
		r.Confidence = v
	}

	if ts, err := obj.GetString("observedAt"); err == nil {
		t, perr := time.Parse(time.RFC3339Nano, ts)
		if perr != nil {
			return r, errors.New(perr).
				Component("mqttsource").
				Category(errors.CategoryValidation).
				Context("field", "observedAt").
				Build()
		}
		r.ObservedAt = t
	} else if ms, err := obj.GetInt64("observedAt"); err == nil {
		r.ObservedAt = time.UnixMilli(ms)
	}
	if r.ObservedAt.Before(now.Add(-MaxObservationAge)) || r.ObservedAt.After(now.Add(MaxClockSkew)) {
		return r, errors.Newf("observedAt %s outside accepted window around %s",
			r.ObservedAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339)).
			Component("mqttsource").
			Category(errors.CategoryValidation).
			Context("field", "observedAt").
			Build()
	}

	if err := detection.Validate(&r); err != nil {
		return r, err
	}
	return r, nil
}

func firstString(obj *jason.Object, keys ...string) string {
	for _, k := range keys {
		if s, err := obj.GetString(k); err == nil && s != "" {
			return s
		}
	}
	return ""
}

func messageError(err error) error {
	return errors.New(err).
		Component("mqttsource").
		Category(errors.CategoryMQTTMessage).
		Build()
}
