package coordinator

import (
	"slices"
	"time"

	"github.com/s0up4200/molnus/molnus"
)

// SortImages returns a copy of images ordered newest first.
// Records keep their relative order when timestamps tie, and records
// without a usable timestamp go last.
func SortImages(images []molnus.Image) []molnus.Image {
	type keyed struct {
		at  time.Time
		img molnus.Image
	}

	items := make([]keyed, len(images))
	for i, img := range images {
		items[i] = keyed{at: img.CapturedAt(), img: img}
	}

	slices.SortStableFunc(items, func(a, b keyed) int {
		// descending
		return b.at.Compare(a.at)
	})

	sorted := make([]molnus.Image, len(items))
	for i, item := range items {
		sorted[i] = item.img
	}
	return sorted
}
