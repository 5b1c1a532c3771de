package traffic

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionRotation(t *testing.T) {
	t.Parallel()

	got := []Direction{}
	d := North
	for i := 0; i < 5; i++ {
		got = append(got, d)
		d = d.Next()
	}
	want := []Direction{North, East, South, West, North}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rotation mismatch (-want +got):\n%s", diff)
	}
}

func TestParseDirection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"north", North, false},
		{" EAST ", East, false},
		{"South", South, false},
		{"west", West, false},
		{"up", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnknownDirection))
				assert.True(t, errors.Is(err, ErrInvalidCommand))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDirectionSlots(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1, North.Slot())
	assert.Equal(t, 2, East.Slot())
	assert.Equal(t, 3, South.Slot())
	assert.Equal(t, 4, West.Slot())
}

func TestParseColor(t *testing.T) {
	t.Parallel()

	c, err := ParseColor("green")
	require.NoError(t, err)
	assert.Equal(t, Green, c)

	_, err = ParseColor("blue")
	assert.ErrorIs(t, err, ErrUnknownColor)

	for _, c := range []Color{Red, Yellow, Green} {
		back, err := ParseColorCode(c.Code())
		require.NoError(t, err)
		assert.Equal(t, c, back)
	}
	_, err = ParseColorCode("111")
	assert.ErrorIs(t, err, ErrUnknownColor)
}

func TestSignalMapForHasSingleActiveApproach(t *testing.T) {
	t.Parallel()

	for _, state := range []PhaseState{GreenPhase, YellowPhase, RedPhase} {
		for _, d := range Directions {
			m := SignalMapFor(state, d)
			require.NoError(t, m.Validate(), "%s/%s", state, d)

			active, ok := m.Active()
			if state == RedPhase {
				assert.False(t, ok)
				assert.True(t, m.IsAllRed())
				continue
			}
			assert.True(t, ok)
			assert.Equal(t, d, active)
		}
	}
}

func TestSignalMapRoundTrip(t *testing.T) {
	t.Parallel()

	for _, state := range []PhaseState{GreenPhase, YellowPhase} {
		for _, d := range Directions {
			m := SignalMapFor(state, d)
			gotState, gotDir, ok, err := m.Phase()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, state, gotState)
			assert.Equal(t, d, gotDir)
			assert.Equal(t, m, SignalMapFor(gotState, gotDir))
		}
	}

	gotState, _, ok, err := AllRed().Phase()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, RedPhase, gotState)
}

func TestSignalMapValidateRejectsConflicts(t *testing.T) {
	t.Parallel()

	m := AllRed()
	m[North] = Green
	m[South] = Yellow
	assert.Error(t, m.Validate())

	_, _, _, err := m.Phase()
	assert.Error(t, err)
}

func TestSignalMapJSON(t *testing.T) {
	t.Parallel()

	m := SignalMapFor(GreenPhase, East)
	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"north":"RED","east":"GREEN","south":"RED","west":"RED"}`, string(b))

	var back SignalMap
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, m, back)

	assert.Error(t, json.Unmarshal([]byte(`{"up":"RED"}`), &back))
	assert.Error(t, json.Unmarshal([]byte(`{"north":"BLUE"}`), &back))
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want Command
	}{
		{"auto", Command{Kind: CommandAuto}},
		{"AUTO", Command{Kind: CommandAuto}},
		{"stop_all", Command{Kind: CommandStopAll}},
		{"force_west", Command{Kind: CommandForce, Direction: West}},
		{"FORCE_North", Command{Kind: CommandForce, Direction: North}},
	}
	for _, tt := range tests {
		got, err := ParseCommand(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "manual", "force_", "force_up", "stop"} {
		_, err := ParseCommand(bad)
		assert.ErrorIs(t, err, ErrInvalidCommand, bad)
	}

	assert.Equal(t, "force_south", Command{Kind: CommandForce, Direction: South}.String())
}
