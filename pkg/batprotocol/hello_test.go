package batprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/batsched/batsched/internal/common/edcerrors"
)

func TestCheckProtocolVersion(t *testing.T) {
	tests := map[string]struct {
		version string
		ok      bool
	}{
		"same version":  {version: ProtocolVersion, ok: true},
		"newer minor":   {version: "1.4.2", ok: true},
		"without patch": {version: "1.0", ok: true},
		"prerelease":    {version: "1.1.0-rc1", ok: true},
		"newer major":   {version: "2.0.0", ok: false},
		"older major":   {version: "0.9.0", ok: false},
		"not a version": {version: "latest", ok: false},
		"empty":         {version: "", ok: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := CheckProtocolVersion(tc.version)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			var handshakeErr *edcerrors.ErrHandshake
			assert.ErrorAs(t, err, &handshakeErr)
			assert.True(t, edcerrors.IsFatal(err))
		})
	}
}

func TestFeatureBits(t *testing.T) {
	features := Features{
		ProfileReuse:                   true,
		ForwardProfilesOnJobSubmission: true,
		ForwardUnknownExternalEvents:   true,
	}
	bits := features.Bits()
	assert.Equal(t, FeatureProfileReuse|FeatureForwardProfilesOnJobSubmission|FeatureForwardUnknownExternalEvents, bits)
	assert.True(t, bits.Has(FeatureProfileReuse|FeatureForwardUnknownExternalEvents))
	assert.False(t, bits.Has(FeatureDynamicRegistration))
	assert.Equal(t, features, FeaturesFromBits(bits))

	all := FeatureBits(0x7f)
	assert.Equal(t, all, FeaturesFromBits(all).Bits())
	assert.Equal(t, Features{}, FeaturesFromBits(0))
}
