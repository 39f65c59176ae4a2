package domain

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpoint_Addr(t *testing.T) {
	tests := []struct {
		in     Endpoint
		wantOK bool
		want   netip.Addr
	}{
		{"93.184.216.34", true, netip.MustParseAddr("93.184.216.34")},
		{" 10.0.0.5 ", true, netip.MustParseAddr("10.0.0.5")},
		{"2001:db8::1", true, netip.MustParseAddr("2001:db8::1")},
		{"::ffff:8.8.8.8", true, netip.MustParseAddr("8.8.8.8")},
		{"www.google.com", false, netip.Addr{}},
		{"999.1.1.1", false, netip.Addr{}},
		{"", false, netip.Addr{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, ok := tt.in.Addr()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, tt.in.IsIP())
		})
	}
}

func TestFlowEvent_HasDestination(t *testing.T) {
	assert.False(t, FlowEvent{}.HasDestination())
	assert.False(t, FlowEvent{Source: "10.0.0.5", Destination: "  "}.HasDestination())
	assert.True(t, FlowEvent{Destination: "example.com"}.HasDestination())
}

func TestClassification_String(t *testing.T) {
	assert.Equal(t, "suspicious", Suspicious.String())
	assert.Equal(t, "trusted", Trusted.String())
	assert.Equal(t, "Classification(5)", Classification(5).String())

	var zero Classification
	assert.False(t, zero.IsTrusted(), "zero classification must not be trusted")
}
