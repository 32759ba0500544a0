package app

import (
	"errors"
	"testing"
)

func TestCredPoolConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		url      string
		max, min int32
		wantMax  int32
		wantMin  int32
		wantApp  string
	}{
		{name: "defaults", url: "postgres://argus:pw@localhost:5432/argus", wantMax: credPoolMaxConns, wantMin: 0, wantApp: credPoolAppName},
		{name: "overrides", url: "postgres://argus:pw@localhost:5432/argus", max: 8, min: 2, wantMax: 8, wantMin: 2, wantApp: credPoolAppName},
		{name: "min clamped to max", url: "postgres://argus:pw@localhost:5432/argus", max: 2, min: 5, wantMax: 2, wantMin: 2, wantApp: credPoolAppName},
		{name: "negative min", url: "postgres://argus:pw@localhost:5432/argus", min: -1, wantMax: credPoolMaxConns, wantMin: 0, wantApp: credPoolAppName},
		{name: "url application_name kept", url: "postgres://argus:pw@localhost:5432/argus?application_name=kiosk", wantMax: credPoolMaxConns, wantApp: "kiosk"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			pcfg, err := credPoolConfig(Config{DatabaseURL: tc.url, DBMaxConns: tc.max, DBMinConns: tc.min})
			if err != nil {
				t.Fatalf("credPoolConfig: %v", err)
			}
			if pcfg.MaxConns != tc.wantMax || pcfg.MinConns != tc.wantMin {
				t.Fatalf("max=%d min=%d want %d/%d", pcfg.MaxConns, pcfg.MinConns, tc.wantMax, tc.wantMin)
			}
			if pcfg.MaxConnIdleTime != credPoolIdleTime {
				t.Fatalf("idle=%v", pcfg.MaxConnIdleTime)
			}
			if got := pcfg.ConnConfig.RuntimeParams["application_name"]; got != tc.wantApp {
				t.Fatalf("application_name=%q want %q", got, tc.wantApp)
			}
		})
	}
}

func TestCredPoolConfig_BadURL(t *testing.T) {
	t.Parallel()

	if _, err := credPoolConfig(Config{DatabaseURL: "postgres://%zz"}); !errors.Is(err, ErrConfig) {
		t.Fatalf("err=%v want ErrConfig", err)
	}
}
