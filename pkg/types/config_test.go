package types

import (
	"errors"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr error
	}{
		{
			name:    "empty backend returns ErrBackendEmpty",
			config:  Config{Backend: "", DataDir: "/tmp/data"},
			wantErr: ErrBackendEmpty,
		},
		{
			name:    "unknown backend returns ErrBackendUnknown",
			config:  Config{Backend: "mysql", DataDir: "/tmp/data"},
			wantErr: ErrBackendUnknown,
		},
		{
			name:    "valid sqlite config",
			config:  Config{Backend: "sqlite", DataDir: "/tmp/data"},
			wantErr: nil,
		},
		{
			name:    "sqlite with empty DataDir is valid at config level",
			config:  Config{Backend: "sqlite", DataDir: ""},
			wantErr: nil,
		},
		{
			name:    "postgres without database_url",
			config:  Config{Backend: "postgres"},
			wantErr: ErrDatabaseURLEmpty,
		},
		{
			name:    "valid postgres config",
			config:  Config{Backend: "postgres", DatabaseURL: "postgres://localhost/speech"},
			wantErr: nil,
		},
		{
			name:    "negative fetch timeout",
			config:  Config{Backend: "sqlite", FetchTimeout: -time.Second},
			wantErr: ErrFetchTimeoutInvalid,
		},
		{
			name:    "negative fetch rate",
			config:  Config{Backend: "sqlite", FetchRate: -1},
			wantErr: ErrFetchRateInvalid,
		},
		{
			name:    "negative redis ttl",
			config:  Config{Backend: "sqlite", RedisTTL: -time.Minute},
			wantErr: ErrRedisTTLInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil error, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %v, got nil", tt.wantErr)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
		})
	}
}
