package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSuspicious(t *testing.T) {
	testCases := []struct {
		findingType FindingType
		suspicious  bool
	}{
		{FindingObfuscatedCode, true},
		{FindingSuspiciousScript, true},
		{FindingMaliciousCode, true},
		{FindingCryptoMiner, true},
		{FindingDataExfiltration, true},
		{FindingVulnerability, false},
		{FindingTyposquat, false},
		{FindingLowTrust, false},
		{FindingType("made_up"), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.findingType), func(t *testing.T) {
			f := Finding{Type: tc.findingType}
			assert.Equal(t, tc.suspicious, f.IsSuspicious())
		})
	}
}

func TestPackagePayloadMap(t *testing.T) {
	p := Package{
		Name:      "left-pad",
		Version:   "1.3.0",
		Ecosystem: EcosystemNPM,
		Direct:    true,
		Depth:     1,
		SourceDir: "/tmp/node_modules/left-pad",
	}

	m := p.PayloadMap()
	assert.Equal(t, "left-pad", m["name"])
	assert.Equal(t, "1.3.0", m["version"])
	assert.Equal(t, "npm", m["ecosystem"])
	assert.Equal(t, true, m["direct"])
	assert.Equal(t, 1, m["depth"])

	// Local filesystem details never leak into stage payloads.
	assert.NotContains(t, m, "source_dir")
}
