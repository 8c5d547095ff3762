package arm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Command
		wantErr error
	}{
		{
			name: "full move",
			line: "move 10 20.5 -3 90 1",
			want: Command{Kind: KindMove, X: 10, Y: 20.5, Z: -3, Angle: 90, Pump: true},
		},
		{
			name: "kind only",
			line: "home",
			want: Command{Kind: KindHome},
		},
		{
			name: "case insensitive kind and trailing newline",
			line: "MoveTo 1 2 3\n",
			want: Command{Kind: KindMoveTo, X: 1, Y: 2, Z: 3},
		},
		{
			name: "pump keywords",
			line: "pump 0 0 0 0 on",
			want: Command{Kind: KindPump, Pump: true},
		},
		{
			name:    "empty line",
			line:    "   ",
			wantErr: ErrEmptyCommand,
		},
		{
			name:    "unknown kind",
			line:    "jump 1",
			wantErr: ErrUnknownCommand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects bad numbers", func(t *testing.T) {
		_, err := ParseCommand("move 1 abc")
		assert.ErrorContains(t, err, `invalid number "abc"`)
	})

	t.Run("rejects bad pump flag", func(t *testing.T) {
		_, err := ParseCommand("move 1 2 3 4 maybe")
		assert.ErrorContains(t, err, "invalid pump flag")
	})

	t.Run("rejects extra arguments", func(t *testing.T) {
		_, err := ParseCommand("move 1 2 3 4 1 9")
		assert.ErrorContains(t, err, "too many arguments")
	})
}

func TestCommandEncode(t *testing.T) {
	cmd := Command{Kind: KindMoveTo, X: 12.34, Y: -5, Z: 0, Angle: 45, Pump: true}

	assert.Equal(t, "moveTo 12.3 -5.0 0.0 45.0 1\n", string(cmd.Encode()))

	parsed, err := ParseCommand(string(cmd.Encode()))
	require.NoError(t, err)
	assert.Equal(t, KindMoveTo, parsed.Kind)
	assert.InDelta(t, 12.3, parsed.X, 0.001)
	assert.True(t, parsed.Pump)
}

func TestCommandString(t *testing.T) {
	cmd := Command{Kind: KindRotate, Angle: 30}
	assert.Equal(t, "command: rotate, x: 0.0, y: 0.0, z: 0.0, angle: 30.0, pump: 0", cmd.String())
}

func TestKindMotion(t *testing.T) {
	for _, k := range []Kind{KindHome, KindMove, KindMoveTo, KindRotate} {
		assert.True(t, k.Motion(), k)
	}
	for _, k := range []Kind{KindPump, KindStop} {
		assert.False(t, k.Motion(), k)
	}
}
