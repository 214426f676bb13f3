package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseFaces parses a live roll entered by a user, e.g. "1 5 5 2", "1,5,5,2"
// or "1552".
// Supported separators: whitespace, commas, semicolons.
//
// Precondition: expr must be a non-empty string.
// Postcondition: Returns 1 to PoolSize faces, each in [1, 6], or a descriptive error.
func ParseFaces(expr string) ([]int, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return nil, fmt.Errorf("dice: empty roll")
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == ';'
	})
	// A single run of digits such as "1552" is one face per digit.
	if len(fields) == 1 && len(fields[0]) > 1 {
		fields = strings.Split(fields[0], "")
	}

	faces := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("dice: invalid face %q in %q: %w", f, expr, err)
		}
		if v < 1 || v > Faces {
			return nil, fmt.Errorf("dice: face %d in %q must be in [1, %d]", v, expr, Faces)
		}
		faces = append(faces, v)
	}
	if len(faces) > PoolSize {
		return nil, fmt.Errorf("dice: %d faces in %q exceeds pool size %d", len(faces), expr, PoolSize)
	}
	return faces, nil
}

// MustParseFaces parses expr and panics on error. Useful for fixtures.
func MustParseFaces(expr string) []int {
	faces, err := ParseFaces(expr)
	if err != nil {
		panic("dice: MustParseFaces failed for " + expr + ": " + err.Error())
	}
	return faces
}
