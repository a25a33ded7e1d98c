package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s0up4200/molnus/molnus"
)

func testImage() molnus.Image {
	return molnus.Image{
		ID:             "img-1",
		CaptureDate:    "2024-01-02T03:04:05Z",
		URL:            "https://cdn.example.com/img-1.jpg",
		DeviceFilename: "PICT0001.JPG",
		CameraID:       "cam-1",
		Predictions: []molnus.Prediction{
			{Label: "Roe Deer", Accuracy: 0.91},
			{Label: "fox", Accuracy: 0.12},
		},
	}
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name        string
		expression  string
		wantErr     bool
		errContains string
	}{
		{
			name:       "valid expression",
			expression: `hasLabel("fox")`,
		},
		{
			name:        "empty expression",
			expression:  "   ",
			wantErr:     true,
			errContains: "empty expression",
		},
		{
			name:       "invalid syntax",
			expression: `hasLabel("unclosed`,
			wantErr:    true,
		},
		{
			name:        "non boolean result",
			expression:  `topAccuracy()`,
			wantErr:     true,
			errContains: "topAccuracy()",
		},
		{
			name:       "complex expression",
			expression: `hasPrediction() and accuracy("roe deer") > 0.5 and not contains(DeviceFilename, "test")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expression)
			if tt.wantErr {
				require.Error(t, err)
				var compErr *CompilationError
				assert.True(t, errors.As(err, &compErr))
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}
			require.NoError(t, err)
			require.NotNil(t, f)
			assert.Equal(t, tt.expression, f.Expression())
		})
	}
}

func TestMatch(t *testing.T) {
	img := testImage()

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{"label present", `hasLabel("fox")`, true},
		{"label case insensitive", `hasLabel("ROE DEER")`, true},
		{"label absent", `hasLabel("boar")`, false},
		{"accuracy threshold", `accuracy("roe deer") >= 0.9`, true},
		{"unknown label accuracy", `accuracy("boar") == 0`, true},
		{"top label", `topLabel() == "Roe Deer"`, true},
		{"top accuracy", `topAccuracy() > 0.9`, true},
		{"labels list", `"fox" in Labels`, true},
		{"camera id", `CameraID == "cam-1"`, true},
		{"filename prefix", `startsWith(DeviceFilename, "pict")`, true},
		{"captured after", `Captured > parseDate("2024-01-01")`, true},
		{"captured before", `Captured < parseDate("2023-12-31")`, false},
		{"old image", `daysSince(Captured) > 30`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Compile(tt.expression)
			require.NoError(t, err)

			got, err := f.Match(img)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchRawField(t *testing.T) {
	var img molnus.Image
	require.NoError(t, json.Unmarshal([]byte(`{"id": "a", "temperature": 4, "moon": "full"}`), &img))

	tests := []struct {
		expression string
		want       bool
	}{
		{`field("temperature") > 2`, true},
		{`field("moon") == "full"`, true},
		{`field("missing") == nil`, true},
	}

	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			f, err := Compile(tt.expression)
			require.NoError(t, err)

			got, err := f.Match(img)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatchWithoutPredictions(t *testing.T) {
	f, err := Compile(`hasPrediction()`)
	require.NoError(t, err)

	got, err := f.Match(molnus.Image{ID: "bare"})
	require.NoError(t, err)
	assert.False(t, got)

	f, err = Compile(`topLabel() == ""`)
	require.NoError(t, err)
	got, err = f.Match(molnus.Image{ID: "bare"})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvaluationError(t *testing.T) {
	compiler := NewExprCompiler(WithCustomFunctions(map[string]any{
		"fail": func() (bool, error) { return false, errors.New("boom") },
	}))

	f, err := compiler.Compile(`fail()`)
	require.NoError(t, err)

	_, err = f.Match(testImage())
	require.Error(t, err)

	var evalErr *EvaluationError
	require.True(t, errors.As(err, &evalErr))
	assert.Equal(t, "img-1", evalErr.ImageID)
	assert.Equal(t, "fail()", evalErr.Expression)
}

func TestCustomFunctions(t *testing.T) {
	compiler := NewExprCompiler(WithCustomFunctions(map[string]any{
		"isNight": func(ts time.Time) bool { return ts.Hour() < 6 || ts.Hour() >= 21 },
	}))

	f, err := compiler.Compile(`isNight(Captured)`)
	require.NoError(t, err)

	got, err := f.Match(testImage())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCompilerCache(t *testing.T) {
	compiler := NewExprCompiler(WithCache(2))

	first, err := compiler.Compile(`hasLabel("fox")`)
	require.NoError(t, err)
	again, err := compiler.Compile(`hasLabel("fox")`)
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 1, compiler.Size())

	_, err = compiler.Compile(`hasLabel("deer")`)
	require.NoError(t, err)
	_, err = compiler.Compile(`hasLabel("boar")`)
	require.NoError(t, err)
	assert.Equal(t, 2, compiler.Size())

	// fox was least recently used and got evicted
	evicted, err := compiler.Compile(`hasLabel("fox")`)
	require.NoError(t, err)
	assert.NotSame(t, first, evicted)

	compiler.Clear()
	assert.Equal(t, 0, compiler.Size())
}

func TestCompilerWithoutCache(t *testing.T) {
	compiler := NewExprCompiler()
	_, err := compiler.Compile(`hasLabel("fox")`)
	require.NoError(t, err)
	assert.Equal(t, 0, compiler.Size())
}

func TestApply(t *testing.T) {
	images := []molnus.Image{
		{ID: "a", Predictions: []molnus.Prediction{{Label: "fox", Accuracy: 0.8}}},
		{ID: "b"},
		{ID: "c", Predictions: []molnus.Prediction{{Label: "fox", Accuracy: 0.4}}},
		{ID: "d", Predictions: []molnus.Prediction{{Label: "fox", Accuracy: 0.9}}},
	}

	f, err := Compile(`accuracy("fox") > 0.5`)
	require.NoError(t, err)

	kept, err := Apply(f, images)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.Equal(t, molnus.FlexString("a"), kept[0].ID)
	assert.Equal(t, molnus.FlexString("d"), kept[1].ID)

	all, err := Apply(nil, images)
	require.NoError(t, err)
	assert.Equal(t, images, all)
}

func BenchmarkMatch(b *testing.B) {
	f, err := Compile(`hasLabel("fox") and accuracy("fox") > 0.5`)
	if err != nil {
		b.Fatal(err)
	}

	images := make([]molnus.Image, 100)
	for i := range images {
		images[i] = molnus.Image{
			ID:          molnus.FlexString(fmt.Sprintf("img-%d", i)),
			Predictions: []molnus.Prediction{{Label: "fox", Accuracy: float64(i%10) / 10}},
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Apply(f, images); err != nil {
			b.Fatal(err)
		}
	}
}
