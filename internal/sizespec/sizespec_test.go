package sizespec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		token string
		want  Spec
	}{
		{"400w", Spec{Token: "400w", Mode: ModeFixedWidth, Width: 400}},
		{"400W", Spec{Token: "400W", Mode: ModeFixedWidth, Width: 400}},
		{"100h", Spec{Token: "100h", Mode: ModeFixedHeight, Height: 100}},
		{"300x200b", Spec{Token: "300x200b", Mode: ModeProportionalBox, Width: 300, Height: 200}},
		{"400x400c", Spec{Token: "400x400c", Mode: ModeCroppedBox, Width: 400, Height: 400}},
		{"400X300C", Spec{Token: "400X300C", Mode: ModeCroppedBox, Width: 400, Height: 300}},
		{"2000x2000e", Spec{Token: "2000x2000e", Mode: ModeExpandedBox, Width: 2000, Height: 2000}},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.token))
			assert.NoError(t, Validate(tt.token))
			assert.True(t, Parse(tt.token).HasTarget())
		})
	}
}

func TestParse_FallsBackToDefault(t *testing.T) {
	for _, token := range []string{"", "thumb", "0w", "x100b", "100x0c", "100x100z", " 100w", "100wx", "99999999999999999999w"} {
		t.Run(token, func(t *testing.T) {
			spec := Parse(token)
			assert.Equal(t, ModeProportionalBox, spec.Mode)
			assert.Equal(t, token, spec.Token)
			assert.False(t, spec.HasTarget())
			assert.ErrorIs(t, Validate(token), ErrUnrecognized)
		})
	}
}

func TestParseAll_PreservesOrder(t *testing.T) {
	specs := ParseAll([]string{"50w", "thumb", "10x10c"})
	assert.Len(t, specs, 3)
	assert.Equal(t, ModeFixedWidth, specs[0].Mode)
	assert.Equal(t, ModeProportionalBox, specs[1].Mode)
	assert.Equal(t, ModeCroppedBox, specs[2].Mode)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "cropped-box", ModeCroppedBox.String())
	assert.Equal(t, "proportional-box", Mode(42).String())
}
