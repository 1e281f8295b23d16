package coverage

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidInterval is returned for records that cannot become an Interval.
var ErrInvalidInterval = errors.New("invalid interval")

// StationRule derives a station id from a submitted file name. When
// Delimiter is set the id is the text before its first occurrence;
// otherwise the first PrefixLength characters are used.
type StationRule struct {
	Delimiter    string `json:"delimiter,omitempty" mapstructure:"delimiter"`
	PrefixLength int    `json:"prefixLength,omitempty" mapstructure:"prefix_length"`
}

// StationID applies the rule to fileName. Any directory part is ignored.
func (r StationRule) StationID(fileName string) (string, error) {
	name := path.Base(strings.TrimSpace(fileName))
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("%w: empty file name", ErrInvalidInterval)
	}

	var id string
	switch {
	case r.Delimiter != "":
		id, _, _ = strings.Cut(name, r.Delimiter)
	case r.PrefixLength > 0:
		if len(name) < r.PrefixLength {
			return "", fmt.Errorf("%w: file name %q shorter than station prefix %d", ErrInvalidInterval, name, r.PrefixLength)
		}
		id = name[:r.PrefixLength]
	default:
		return "", fmt.Errorf("%w: no station rule configured", ErrInvalidInterval)
	}

	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: no station id in %q", ErrInvalidInterval, name)
	}
	return id, nil
}
