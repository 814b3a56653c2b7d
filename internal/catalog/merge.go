package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEntry = errors.New("invalid catalog entry")

// Entry is the paper being added to the catalog.
type Entry struct {
	CourseCode string
	CourseName string
	Year       int
	File       string
}

// Report describes what Merge did.
type Report struct {
	// Index of the course that received the resource.
	Index int
	// CreatedCourse is true when no course matched and a new one was appended.
	CreatedCourse bool
	// Duplicates lists other indexes sharing the course code. A non-empty list means the
	// catalog was already inconsistent; the resource went to the first match.
	Duplicates []int
}

// Merge appends the entry's resource to the first course with a matching code, or appends a
// new course holding a single resource. The input catalog is not modified.
func Merge(c Catalog, e Entry) (Catalog, Report, error) {
	if err := e.validate(); err != nil {
		return nil, Report{}, err
	}

	out := c.Clone()
	resource := Resource{Year: Year(e.Year), File: e.File}

	index := out.Find(e.CourseCode)
	if index < 0 {
		if strings.TrimSpace(e.CourseName) == "" {
			return nil, Report{}, fmt.Errorf("%w: course name is required for new course %s", ErrInvalidEntry, e.CourseCode)
		}
		out = append(out, Course{
			Name:       e.CourseName,
			CourseCode: e.CourseCode,
			Resources:  Resources{PYQs: []Resource{resource}},
		})
		return out, Report{Index: len(out) - 1, CreatedCourse: true}, nil
	}

	course := &out[index]
	if course.Resources.PYQs == nil {
		course.Resources.PYQs = []Resource{}
	}
	course.Resources.PYQs = append(course.Resources.PYQs, resource)

	report := Report{Index: index}
	for i := index + 1; i < len(out); i++ {
		if out[i].CourseCode == e.CourseCode {
			report.Duplicates = append(report.Duplicates, i)
		}
	}
	return out, report, nil
}

func (e Entry) validate() error {
	switch {
	case strings.TrimSpace(e.CourseCode) == "":
		return fmt.Errorf("%w: course code is required", ErrInvalidEntry)
	case strings.TrimSpace(e.File) == "":
		return fmt.Errorf("%w: file is required", ErrInvalidEntry)
	case e.Year <= 0:
		return fmt.Errorf("%w: year must be positive", ErrInvalidEntry)
	}
	return nil
}
