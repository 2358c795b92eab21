package pty

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckWebSocketOrigin(t *testing.T) {
	cases := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin header", "", "daemon.example:7337", true},
		{"localhost dev client", "http://localhost:3000", "daemon.example:7337", true},
		{"loopback v4", "http://127.0.0.1:5173", "daemon.example:7337", true},
		{"loopback v6", "http://[::1]:8080", "daemon.example:7337", true},
		{"same origin", "https://daemon.example", "daemon.example:7337", true},
		{"same origin case-insensitive", "https://Daemon.Example", "daemon.example:7337", true},
		{"cross site", "https://evil.example", "daemon.example:7337", false},
		{"opaque null origin", "null", "daemon.example:7337", false},
		{"unparseable origin", ":badorigin", "daemon.example:7337", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &http.Request{Host: tc.host, Header: http.Header{}}
			if tc.origin != "" {
				r.Header.Set("Origin", tc.origin)
			}
			require.Equal(t, tc.want, checkWebSocketOrigin(r))
		})
	}
}
