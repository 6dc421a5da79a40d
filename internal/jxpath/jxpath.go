// Package jxpath reads single values out of JSON documents whose shape is not
// trusted, without decoding the whole document.
package jxpath

import (
	"strconv"

	"github.com/go-faster/jx"
)

// Lookup walks path through raw and returns the scalar found there as a
// string. Object keys are matched exactly; a numeric segment indexes into an
// array. Strings are returned unquoted, numbers and booleans in their JSON
// form. Missing paths, non-scalar targets, nulls, empty strings and
// malformed input all report false.
func Lookup(raw []byte, path ...string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	v, ok, err := walk(jx.DecodeBytes(raw), path)
	if err != nil {
		return "", false
	}
	return v, ok
}

func walk(d *jx.Decoder, path []string) (string, bool, error) {
	if len(path) == 0 {
		return scalar(d)
	}

	var (
		val   string
		found bool
	)
	switch d.Next() {
	case jx.Object:
		err := d.Obj(func(d *jx.Decoder, key string) error {
			if found || key != path[0] {
				return d.Skip()
			}
			v, ok, err := walk(d, path[1:])
			val, found = v, ok
			return err
		})
		return val, found, err
	case jx.Array:
		idx, convErr := strconv.Atoi(path[0])
		if convErr != nil {
			return "", false, d.Skip()
		}
		i := -1
		err := d.Arr(func(d *jx.Decoder) error {
			i++
			if found || i != idx {
				return d.Skip()
			}
			v, ok, err := walk(d, path[1:])
			val, found = v, ok
			return err
		})
		return val, found, err
	default:
		return "", false, d.Skip()
	}
}

func scalar(d *jx.Decoder) (string, bool, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return s, err == nil && s != "", err
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", false, err
		}
		return n.String(), true, nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return "", false, err
		}
		return strconv.FormatBool(b), true, nil
	default:
		return "", false, d.Skip()
	}
}
