package httputil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPRemoteAddr(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.168.1.1:12345", "192.168.1.1"},
		{"[::1]:12345", "::1"},
		{"192.168.1.1", "192.168.1.1"},
		{"[::ffff:10.0.0.7]:443", "10.0.0.7"},
		{"[fe80::1%eth0]:80", "fe80::1"},
		{"@unix-socket", "@unix-socket"},
	}
	for _, tt := range tests {
		t.Run(tt.remoteAddr, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr}
			assert.Equal(t, tt.want, ClientIP(r, false))
		})
	}
}

func TestClientIPTrustProxy(t *testing.T) {
	tests := []struct {
		name string
		xff  string
		xri  string
		want string
	}{
		{name: "forwarded single", xff: "1.2.3.4", want: "1.2.3.4"},
		{name: "forwarded chain takes first", xff: " 1.2.3.4 , 10.0.0.1, 10.0.0.2", want: "1.2.3.4"},
		{name: "forwarded with port", xff: "[2001:db8::5]:8443", want: "2001:db8::5"},
		{name: "real ip fallback", xri: "5.6.7.8", want: "5.6.7.8"},
		{name: "real ip with port", xri: "5.6.7.8:999", want: "5.6.7.8"},
		{name: "forwarded wins over real ip", xff: "1.2.3.4", xri: "5.6.7.8", want: "1.2.3.4"},
		{name: "garbage forwarded falls through", xff: "unknown", xri: "5.6.7.8", want: "5.6.7.8"},
		{name: "garbage everywhere uses remote", xff: "<script>", xri: "nope", want: "10.0.0.1"},
		{name: "no headers", want: "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: "10.0.0.1:1234", Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			assert.Equal(t, tt.want, ClientIP(r, true))
		})
	}
}

func TestClientIPIgnoresHeadersWhenNotTrusted(t *testing.T) {
	r := &http.Request{RemoteAddr: "10.0.0.1:1234", Header: http.Header{}}
	r.Header.Set("X-Forwarded-For", "1.2.3.4")
	r.Header.Set("X-Real-IP", "5.6.7.8")

	assert.Equal(t, "10.0.0.1", ClientIP(r, false), "headers ignored without proxy trust")
}
