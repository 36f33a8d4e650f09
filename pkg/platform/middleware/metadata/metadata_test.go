package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"guildgate/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "first forwarded entry wins",
			headers:    map[string]string{"X-Forwarded-For": " 198.51.100.7 , 10.0.0.1"},
			remoteAddr: "10.0.0.2:4000",
			want:       "198.51.100.7",
		},
		{
			name:       "forwarded entry is not checked against the peer",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.1"},
			remoteAddr: "203.0.113.50:4000",
			want:       "10.0.0.1",
		},
		{
			name:       "forwarded header takes precedence over real ip",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.7", "X-Real-IP": "10.0.0.1"},
			remoteAddr: "203.0.113.50:4000",
			want:       "198.51.100.7",
		},
		{
			name:       "real ip header when no forwarded header",
			headers:    map[string]string{"X-Real-IP": "203.0.113.9"},
			remoteAddr: "10.0.0.2:4000",
			want:       "203.0.113.9",
		},
		{
			name:       "ipv4 remote address strips port",
			remoteAddr: "192.0.2.10:52311",
			want:       "192.0.2.10",
		},
		{
			name:       "ipv6 remote address strips brackets and port",
			remoteAddr: "[2001:db8:1::5]:443",
			want:       "2001:db8:1::5",
		},
		{
			name: "placeholder when nothing is known",
			want: UnknownAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/callback", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}

func TestClientMetadataMiddleware(t *testing.T) {
	var gotIP, gotUA string
	h := ClientMetadata(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotIP = requestcontext.ClientIP(r.Context())
		gotUA = requestcontext.UserAgent(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/callback", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7")
	req.Header.Set("User-Agent", "test-agent")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.7", gotIP)
	assert.Equal(t, "test-agent", gotUA)
}
