package filter

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/s0up4200/molnus/molnus"
)

// exprFilter implements Filter using the expr language
type exprFilter struct {
	expression string
	program    *vm.Program
	extra      map[string]any
}

// ExprCompilerOption configures an expr compiler
type ExprCompilerOption func(*ExprCompiler)

// WithCache enables filter caching with the specified size
func WithCache(size int) ExprCompilerOption {
	return func(c *ExprCompiler) {
		if size > 0 {
			c.cache = newLRUCache(size)
		}
	}
}

// WithCustomFunctions adds custom helper functions
func WithCustomFunctions(funcs map[string]any) ExprCompilerOption {
	return func(c *ExprCompiler) {
		maps.Copy(c.helperFuncs, funcs)
	}
}

// ExprCompiler compiles expr-language image filters
type ExprCompiler struct {
	helperFuncs map[string]any
	cache       *lruCache
}

var _ CachingCompiler = (*ExprCompiler)(nil)

// NewExprCompiler creates a new expr-based filter compiler
func NewExprCompiler(opts ...ExprCompilerOption) *ExprCompiler {
	c := &ExprCompiler{
		helperFuncs: make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile compiles an expression into an executable filter
func (c *ExprCompiler) Compile(expression string) (Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "empty expression",
		}
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(expression); ok {
			return cached, nil
		}
	}

	// Compile against a prototype environment so helper signatures are type checked
	env := runtimeEnvironment(molnus.Image{}, c.helperFuncs)
	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &CompilationError{
			Expression: expression,
			Reason:     "failed to compile expression",
			Err:        err,
		}
	}

	f := &exprFilter{
		expression: expression,
		program:    program,
		extra:      c.helperFuncs,
	}

	if c.cache != nil {
		c.cache.Put(expression, f)
	}

	return f, nil
}

// Clear removes all cached filters
func (c *ExprCompiler) Clear() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// Size returns the number of cached filters
func (c *ExprCompiler) Size() int {
	if c.cache != nil {
		return c.cache.Size()
	}
	return 0
}

// Match evaluates the filter against an image
func (f *exprFilter) Match(img molnus.Image) (bool, error) {
	result, err := expr.Run(f.program, runtimeEnvironment(img, f.extra))
	if err != nil {
		return false, &EvaluationError{
			Expression: f.expression,
			ImageID:    img.ID.String(),
			Err:        err,
		}
	}

	// Result is guaranteed to be bool due to AsBool() during compilation
	return result.(bool), nil
}

// Expression returns the original expression
func (f *exprFilter) Expression() string {
	return f.expression
}

// Compile compiles an expression with a default compiler
func Compile(expression string) (Filter, error) {
	return NewExprCompiler().Compile(expression)
}

// Apply returns the images that match f, keeping their order.
// A nil filter keeps everything.
func Apply(f Filter, images []molnus.Image) ([]molnus.Image, error) {
	if f == nil {
		return images, nil
	}

	kept := make([]molnus.Image, 0, len(images))
	for _, img := range images {
		ok, err := f.Match(img)
		if err != nil {
			return nil, err
		}
		if ok {
			kept = append(kept, img)
		}
	}
	return kept, nil
}

// runtimeEnvironment exposes image fields and helpers to expressions
func runtimeEnvironment(img molnus.Image, extra map[string]any) map[string]any {
	env := make(map[string]any, 32)
	addHelperFunctions(env)

	labels := make([]string, 0, len(img.Predictions))
	for _, p := range img.Predictions {
		labels = append(labels, strings.ToLower(p.Label))
	}
	best, _ := img.BestPrediction()

	// Image properties
	env["ID"] = img.ID.String()
	env["URL"] = img.URL
	env["CameraID"] = img.CameraID.String()
	env["DeviceFilename"] = img.DeviceFilename
	env["CaptureDate"] = img.CaptureDate
	env["CreatedAt"] = img.CreatedAt
	env["Captured"] = img.CapturedAt()
	env["Labels"] = labels

	// Prediction helpers
	env["hasLabel"] = func(label string) bool {
		return slices.Contains(labels, strings.ToLower(label))
	}
	env["accuracy"] = func(label string) float64 {
		var highest float64
		for _, p := range img.Predictions {
			if strings.EqualFold(p.Label, label) && p.Accuracy > highest {
				highest = p.Accuracy
			}
		}
		return highest
	}
	env["hasPrediction"] = func() bool {
		return len(img.Predictions) > 0
	}
	env["topLabel"] = func() string {
		return best.Label
	}
	env["topAccuracy"] = func() float64 {
		return best.Accuracy
	}

	// field reads any field of the raw record, nil when absent
	env["field"] = func(name string) any {
		raw, ok := img.Field(name)
		if !ok {
			return nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil
		}
		return v
	}

	maps.Copy(env, extra)
	return env
}

// addHelperFunctions adds the static helpers shared by every image
func addHelperFunctions(env map[string]any) {
	// Date helpers
	env["hoursSince"] = func(t time.Time) float64 {
		return time.Since(t).Hours()
	}
	env["daysSince"] = func(t time.Time) int {
		return int(time.Since(t).Hours() / 24)
	}
	env["daysAgo"] = func(days int) time.Time {
		return time.Now().AddDate(0, 0, -days)
	}
	env["parseDate"] = func(dateStr string) time.Time {
		t, _ := time.Parse("2006-01-02", dateStr)
		return t
	}
	// String helpers
	env["contains"] = func(str, substr string) bool {
		return strings.Contains(strings.ToLower(str), strings.ToLower(substr))
	}
	env["startsWith"] = func(str, prefix string) bool {
		return strings.HasPrefix(strings.ToLower(str), strings.ToLower(prefix))
	}
	env["endsWith"] = func(str, suffix string) bool {
		return strings.HasSuffix(strings.ToLower(str), strings.ToLower(suffix))
	}
	env["lower"] = strings.ToLower
	env["upper"] = strings.ToUpper
	// Current time
	env["now"] = time.Now
}
