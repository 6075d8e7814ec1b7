package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/engine"
	"pipelined.dev/engine/beat"
	"pipelined.dev/engine/block"
)

func TestAutomationValue(t *testing.T) {
	a := engine.Automation{
		Points: []engine.Point{
			{Beat: 100, Value: 0},
			{Beat: 200, Value: 1},
			{Beat: 300, Value: 0, Curve: engine.Fast, CurveRate: engine.CurveRateScale},
			{Beat: 400, Value: 1, Curve: engine.Slow, CurveRate: engine.CurveRateScale},
		},
	}
	tests := []struct {
		beat  beat.Beat
		value float64
	}{
		{beat: 0, value: 0},
		{beat: 100, value: 0},
		{beat: 150, value: 0.5},
		{beat: 200, value: 1},
		// fast curve with doubled exponent: 1 - sqrt(0.25)
		{beat: 225, value: 0.5},
		// slow curve with doubled exponent: 0.5^2
		{beat: 350, value: 0.25},
		{beat: 1000, value: 1},
	}
	for _, test := range tests {
		assert.InDelta(t, test.value, a.Value(test.beat), 1e-9, "beat %d", test.beat)
	}
	assert.Equal(t, 0.0, (&engine.Automation{}).Value(10))
}

func TestAutomationCollect(t *testing.T) {
	a := engine.Automation{
		Param:  7,
		Points: []engine.Point{{Beat: 0, Value: 0}, {Beat: 128, Value: 1}},
		Instances: []engine.Instance{
			{Range: beat.Range{From: 1000, To: 1128}},
			{Range: beat.Range{From: 2000, To: 2128}, Offset: 64},
		},
	}
	tests := []struct {
		r      beat.Range
		events []engine.ControlEvent
	}{
		{r: beat.Range{From: 0, To: 100}},
		{r: beat.Range{From: 990, To: 1010}, events: []engine.ControlEvent{{Param: 7, Value: 0}}},
		{r: beat.Range{From: 1064, To: 1074}, events: []engine.ControlEvent{{Param: 7, Value: 0.5}}},
		{r: beat.Range{From: 2032, To: 2042}, events: []engine.ControlEvent{{Param: 7, Value: 0.75}}},
	}
	for _, test := range tests {
		assert.Equal(t, test.events, a.Collect(test.r, nil), "range %v", test.r)
	}
	a.Muted = true
	assert.Empty(t, a.Collect(beat.Range{From: 1064, To: 1074}, nil))
}

func TestMergeControls(t *testing.T) {
	dst := []engine.ControlEvent{{Param: 1, Value: 1}}
	merged := engine.MergeControls(dst, []engine.ControlEvent{{Param: 2, Value: 2}, {Param: 1, Value: 3}})
	assert.Equal(t, []engine.ControlEvent{{Param: 1, Value: 3}, {Param: 2, Value: 2}}, merged)
}

func TestPartitionCollect(t *testing.T) {
	p := engine.Partition{
		Notes: []engine.Note{
			{Range: beat.Range{From: 0, To: 64}, Key: 60, Velocity: 100},
			{Range: beat.Range{From: 64, To: 256}, Key: 62, Velocity: 90},
		},
		Instances: []engine.Instance{
			{Range: beat.Range{From: 128, To: 256}},
		},
	}
	frames := 100
	tests := []struct {
		r     beat.Range
		notes []engine.NoteEvent
	}{
		{r: beat.Range{From: 0, To: 128}},
		{
			r: beat.Range{From: 128, To: 178},
			notes: []engine.NoteEvent{
				{Type: engine.NoteOn, Key: 60, Velocity: 100},
			},
		},
		{
			r: beat.Range{From: 178, To: 228},
			notes: []engine.NoteEvent{
				{Type: engine.NoteOff, Key: 60, SampleOffset: 28},
				{Type: engine.NoteOn, Key: 62, Velocity: 90, SampleOffset: 28},
			},
		},
		{
			// second note is cut by the end of instance.
			r: beat.Range{From: 228, To: 278},
			notes: []engine.NoteEvent{
				{Type: engine.NoteOff, Key: 62, SampleOffset: 56},
			},
		},
	}
	for _, test := range tests {
		assert.Equal(t, test.notes, p.Collect(test.r, frames, nil), "range %v", test.r)
	}
}

func TestProject(t *testing.T) {
	_, err := engine.NewProject("empty", nil)
	assert.ErrorIs(t, err, engine.ErrNoMaster)

	master := engine.NewNode(&plugin{flags: engine.AudioOutput})
	project, err := engine.NewProject("song", master)
	require.NoError(t, err)
	assert.Equal(t, "song", project.Name())
	assert.Same(t, master, project.Master())
	assert.Equal(t, float64(engine.DefaultTempo), project.Tempo())

	require.NoError(t, project.SetTempo(140))
	assert.Equal(t, 140.0, project.Tempo())
	assert.ErrorIs(t, project.SetTempo(0), beat.ErrInvalidTempo)
	assert.Equal(t, 140.0, project.Tempo())

	gen := project.Generation()
	require.NoError(t, project.SetSpecs(specs))
	assert.Equal(t, specs, project.Specs())
	assert.Equal(t, gen+1, project.Generation())
	assert.Error(t, project.SetSpecs(block.Specs{}))

	project.SetMode(engine.ModeLive)
	assert.Equal(t, engine.ModeLive, project.Mode())
	mode, err := engine.ParseMode("export")
	require.NoError(t, err)
	assert.Equal(t, engine.ModeExport, mode)
	assert.Equal(t, "onthefly", engine.ModeOnTheFly.String())
	_, err = engine.ParseMode("studio")
	assert.Error(t, err)

	other, err := engine.NewProject("other", engine.NewNode(nil))
	require.NoError(t, err)
	assert.ErrorIs(t, other.SetMaster(master), engine.ErrHasParent)

	replacement := engine.NewNode(&plugin{flags: engine.AudioOutput})
	require.NoError(t, project.SetMaster(replacement))
	require.NoError(t, other.SetMaster(master))
}
