package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cookclip/internal/process"
)

func psmOf(cmd process.Command) string {
	for i, a := range cmd.Args {
		if a == "--psm" && i+1 < len(cmd.Args) {
			return cmd.Args[i+1]
		}
	}
	return ""
}

func TestRecognizeKeepsBestMode(t *testing.T) {
	outputs := map[string]string{
		"6":  "|| ~~ @@ ##\nx",
		"11": "Add 200 g flour and 2 tbsp sugar, mix well.",
		"3":  "Add flour",
	}
	runner := &process.RecordingRunner{Handler: func(_ context.Context, cmd process.Command) (process.Result, error) {
		return process.Result{Stdout: []byte(outputs[psmOf(cmd)])}, nil
	}}
	engine := NewEngine(runner, Config{}, nil)

	res, err := engine.Recognize(context.Background(), "/tmp/frame.jpg")
	require.NoError(t, err)
	assert.Equal(t, 11, res.PSM)
	assert.Equal(t, "Add 200 g flour and 2 tbsp sugar, mix well.", res.Text)
	assert.True(t, engine.Accept(res))

	calls := runner.CallsTo("tesseract")
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"/tmp/frame.jpg", "stdout", "-l", "eng", "--psm", "6"}, calls[0].Args)
}

func TestRecognizeSurvivesPartialFailures(t *testing.T) {
	runner := process.FuncRunner(func(_ context.Context, cmd process.Command) (process.Result, error) {
		if psmOf(cmd) == "6" {
			return process.Result{}, process.ErrTimeout
		}
		return process.Result{Stdout: []byte("Bake 25 minutes at 180°C")}, nil
	})
	res, err := NewEngine(runner, Config{}, nil).Recognize(context.Background(), "f.jpg")
	require.NoError(t, err)
	assert.Equal(t, "Bake 25 minutes at 180°C", res.Text)
}

func TestRecognizeFailsWhenEveryModeFails(t *testing.T) {
	boom := errors.New("tesseract missing")
	runner := process.FuncRunner(func(context.Context, process.Command) (process.Result, error) {
		return process.Result{}, boom
	})
	_, err := NewEngine(runner, Config{PSMModes: []int{6}}, nil).Recognize(context.Background(), "f.jpg")
	assert.ErrorIs(t, err, boom)
}

func TestAcceptFloors(t *testing.T) {
	engine := NewEngine(nil, Config{}, nil)
	assert.False(t, engine.Accept(Result{Text: "Short text", Confidence: 90}))
	assert.False(t, engine.Accept(Result{Text: "Long enough text here", Confidence: 29}))
	assert.True(t, engine.Accept(Result{Text: "Long enough text here", Confidence: 30}))
}

func TestConfidence(t *testing.T) {
	instructions := Confidence("Add 200 g flour and 2 tbsp sugar, mix well.")
	assert.Greater(t, instructions, 80.0)

	noise := Confidence("#@! ~~ {{ }} ab")
	assert.Less(t, noise, 30.0)

	plain := Confidence("subscribe for more videos")
	assert.Less(t, plain, instructions)
	assert.Zero(t, Confidence("   "))
}

func TestCleanText(t *testing.T) {
	raw := "  Mix   the eggs \n|\n~~\n 2 cups milk\n"
	assert.Equal(t, "Mix the eggs\n2 cups milk", CleanText(raw))
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("Add the flour", "add THE flour!"), 1e-9)
	assert.InDelta(t, 0.5, Jaccard("a b c", "b c d"), 1e-9)
	assert.InDelta(t, 0.0, Jaccard("a b", "c d"), 1e-9)
}

func TestDeduperDropsNearDuplicates(t *testing.T) {
	d := NewDeduper(0.8)
	assert.True(t, d.Add("Step 1 mix flour sugar eggs and milk"))
	assert.False(t, d.Add("step 1: mix flour, sugar, eggs and milk"))
	assert.True(t, d.Add("Step 2 bake for 25 minutes"))
	// 6 shared of 7 distinct tokens is 0.857.
	assert.False(t, d.Add("Step 2 bake for 25 minutes now"))
	assert.Equal(t, []string{"Step 1 mix flour sugar eggs and milk", "Step 2 bake for 25 minutes"}, d.Texts())
}
