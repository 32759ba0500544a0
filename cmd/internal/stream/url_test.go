package stream

import (
	"errors"
	"testing"
)

func TestStreamURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		base    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "http origin", base: "http://localhost:8000", id: "abc", want: "ws://localhost:8000/api/v1/ws/abc"},
		{name: "https upgrades to wss", base: "https://argus.example.com", id: "abc", want: "wss://argus.example.com/api/v1/ws/abc"},
		{name: "api base path ignored", base: "http://localhost:8000/api/v1", id: "s1", want: "ws://localhost:8000/api/v1/ws/s1"},
		{name: "ws base kept", base: "ws://127.0.0.1:9000", id: "s1", want: "ws://127.0.0.1:9000/api/v1/ws/s1"},
		{name: "id escaped", base: "http://h", id: "a b", want: "ws://h/api/v1/ws/a%20b"},
		{name: "missing id", base: "http://h", id: " ", wantErr: true},
		{name: "missing host", base: "/relative", id: "x", wantErr: true},
		{name: "bad scheme", base: "ftp://h", id: "x", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := StreamURL(tc.base, tc.id)
			if tc.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("err=%v want ErrConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("StreamURL: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got=%q want=%q", got, tc.want)
			}
		})
	}
}
