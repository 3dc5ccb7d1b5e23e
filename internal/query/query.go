// Package query filters upload inventories by location, elevation, time and
// species. Upload-level filters narrow whole uploads; image-level filters
// run per image in the order the caller supplied them, short-circuiting on
// the first miss.
package query

import (
	"fmt"
	"strconv"
	"time"

	"github.com/wildgrid/camsync/internal/models"
)

// Kind discriminates the filter variants.
type Kind int

const (
	KindLocations Kind = iota
	KindElevation
	KindDayOfWeek
	KindHour
	KindMonth
	KindSpecies
	KindYears
	KindStartDate
	KindEndDate
)

// Elevation comparison operators.
const (
	OpLess         = "<"
	OpGreater      = ">"
	OpLessEqual    = "<="
	OpGreaterEqual = ">="
	OpEqual        = "="
)

const feetToMeters = 0.3048

// DefaultZone is attached to naive timestamps when the caller supplies no
// zone. The camera fleet's home offset, not a real tz database zone.
var DefaultZone = time.FixedZone("-07:00", -7*60*60)

// Filter is one query criterion. Build filters with the constructors; the
// zero Filter matches via KindLocations with an empty set, which excludes
// everything.
type Filter struct {
	kind Kind

	locations map[string]bool
	species   map[string]bool

	elevationOp     string
	elevationMeters float64

	days   map[time.Weekday]bool
	hours  map[int]bool
	months map[time.Month]bool

	yearStart, yearEnd int
	date               time.Time
}

func (f Filter) Kind() Kind { return f.kind }

// Locations keeps uploads whose deployment location is one of names.
func Locations(names ...string) Filter {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return Filter{kind: KindLocations, locations: set}
}

// Elevation keeps uploads whose deployment elevation satisfies "op value".
// Values in feet are converted to the meters the snapshots carry.
func Elevation(op string, value float64, feet bool) Filter {
	if feet {
		value *= feetToMeters
	}
	return Filter{kind: KindElevation, elevationOp: op, elevationMeters: value}
}

// DayOfWeek keeps images taken on any of the given weekdays.
func DayOfWeek(days ...time.Weekday) Filter {
	set := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		set[d] = true
	}
	return Filter{kind: KindDayOfWeek, days: set}
}

// Hour keeps images taken during any of the given hours (0-23).
func Hour(hours ...int) Filter {
	set := make(map[int]bool, len(hours))
	for _, h := range hours {
		set[h] = true
	}
	return Filter{kind: KindHour, hours: set}
}

// Month keeps images taken in any of the given months.
func Month(months ...time.Month) Filter {
	set := make(map[time.Month]bool, len(months))
	for _, m := range months {
		set[m] = true
	}
	return Filter{kind: KindMonth, months: set}
}

// Species keeps images with at least one observation matching any of the
// given scientific names.
func Species(scientificNames ...string) Filter {
	set := make(map[string]bool, len(scientificNames))
	for _, n := range scientificNames {
		set[n] = true
	}
	return Filter{kind: KindSpecies, species: set}
}

// Years keeps images taken in [start, end], inclusive on both ends.
func Years(start, end int) Filter {
	return Filter{kind: KindYears, yearStart: start, yearEnd: end}
}

// StartDate keeps images taken at or after t.
func StartDate(t time.Time) Filter { return Filter{kind: KindStartDate, date: t} }

// EndDate keeps images taken at or before t.
func EndDate(t time.Time) Filter { return Filter{kind: KindEndDate, date: t} }

// Image is a filtered image together with its parsed capture time.
type Image struct {
	models.Image
	Taken time.Time
}

// UploadImages is one upload's surviving images after filtering.
type UploadImages struct {
	Bucket   string
	Upload   string
	Location string
	Images   []Image
}

// Timestamp layouts accepted from observation rows. Naive values get the
// caller's zone attached.
var naiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006:01:02 15:04:05",
	"2006-01-02T15:04:05",
}

func parseTaken(raw string, zone *time.Location) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, raw, zone); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Apply runs the filters over the uploads. Upload-level criteria (locations,
// elevation) drop whole uploads first; the remaining image-level criteria
// run in caller order per image. Uploads left without images are pruned.
// Images whose timestamp cannot be parsed are excluded whenever any
// image-level filter is present.
func Apply(uploads []models.Upload, filters []Filter, zone *time.Location) ([]UploadImages, error) {
	if zone == nil {
		zone = DefaultZone
	}

	var uploadFilters, imageFilters []Filter
	for _, f := range filters {
		switch f.kind {
		case KindLocations, KindElevation:
			uploadFilters = append(uploadFilters, f)
		case KindDayOfWeek, KindHour, KindMonth, KindSpecies, KindYears, KindStartDate, KindEndDate:
			imageFilters = append(imageFilters, f)
		default:
			return nil, fmt.Errorf("unknown filter kind %d", f.kind)
		}
	}

	var results []UploadImages
	for i := range uploads {
		u := &uploads[i]

		keep, err := matchUpload(u, uploadFilters)
		if err != nil {
			return nil, err
		}
		if !keep {
			continue
		}

		out := UploadImages{Bucket: u.Bucket, Upload: u.Name, Location: u.Location}
		for _, img := range u.Images {
			taken, ok := parseTaken(img.Timestamp, zone)
			if !ok && len(imageFilters) > 0 {
				continue
			}
			if matchImage(&img, taken, imageFilters) {
				out.Images = append(out.Images, Image{Image: img, Taken: taken})
			}
		}
		if len(out.Images) > 0 {
			results = append(results, out)
		}
	}
	return results, nil
}

func matchUpload(u *models.Upload, filters []Filter) (bool, error) {
	for _, f := range filters {
		switch f.kind {
		case KindLocations:
			if !f.locations[u.Location] {
				return false, nil
			}
		case KindElevation:
			elev, err := strconv.ParseFloat(u.Elevation, 64)
			if err != nil {
				return false, nil
			}
			ok, err := compare(elev, f.elevationOp, f.elevationMeters)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

func compare(value float64, op string, threshold float64) (bool, error) {
	switch op {
	case OpLess:
		return value < threshold, nil
	case OpGreater:
		return value > threshold, nil
	case OpLessEqual:
		return value <= threshold, nil
	case OpGreaterEqual:
		return value >= threshold, nil
	case OpEqual:
		return value == threshold, nil
	default:
		return false, fmt.Errorf("unknown elevation operator %q", op)
	}
}

func matchImage(img *models.Image, taken time.Time, filters []Filter) bool {
	for _, f := range filters {
		switch f.kind {
		case KindDayOfWeek:
			if !f.days[taken.Weekday()] {
				return false
			}
		case KindHour:
			if !f.hours[taken.Hour()] {
				return false
			}
		case KindMonth:
			if !f.months[taken.Month()] {
				return false
			}
		case KindSpecies:
			found := false
			for _, sp := range img.Species {
				if f.species[sp.ScientificName] {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case KindYears:
			y := taken.Year()
			if y < f.yearStart || y > f.yearEnd {
				return false
			}
		case KindStartDate:
			if taken.Before(f.date) {
				return false
			}
		case KindEndDate:
			if taken.After(f.date) {
				return false
			}
		}
	}
	return true
}

// SpeciesCounts tallies one count per image per species over filtered
// results, preferring the common name and falling back to the scientific
// name when no common name was recorded.
func SpeciesCounts(results []UploadImages) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		for _, img := range r.Images {
			for _, sp := range img.Species {
				name := sp.Name
				if name == "" {
					name = sp.ScientificName
				}
				counts[name]++
			}
		}
	}
	return counts
}
