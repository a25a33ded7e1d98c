package filter

import (
	"github.com/s0up4200/molnus/molnus"
)

// Filter decides whether an image record is kept
type Filter interface {
	// Match checks if an image matches the filter criteria
	Match(img molnus.Image) (bool, error)

	// Expression returns the original filter expression
	Expression() string
}

// Compiler compiles filter expressions into executable filters
type Compiler interface {
	// Compile parses and compiles a filter expression
	Compile(expression string) (Filter, error)
}

// CachingCompiler provides caching for compiled filters
type CachingCompiler interface {
	Compiler

	// Clear removes all cached filters
	Clear()

	// Size returns the number of cached filters
	Size() int
}
