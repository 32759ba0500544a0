package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// naiveISO is the backend's timestamp layout when it omits a zone offset.
const naiveISO = "2006-01-02T15:04:05.999999999"

// Time decodes both RFC 3339 and zone-less ISO 8601 timestamps (read as UTC).
type Time struct {
	time.Time
}

func (t *Time) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	v, err := time.ParseInLocation(naiveISO, s, time.UTC)
	if err != nil {
		return fmt.Errorf("api: bad timestamp %q", s)
	}
	t.Time = v
	return nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
