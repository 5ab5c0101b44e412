// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package brc

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/grailbio/base/errors"
)

// Separator separates the station name from the measurement.
const Separator = ';'

// MaxMeasurement bounds the magnitude of a measurement. Lines with
// measurements outside [-MaxMeasurement, MaxMeasurement] are malformed.
const MaxMeasurement = 999.9

// Round rounds x to one decimal place, halves away from zero. Negative
// zero is normalized to zero.
func Round(x float64) float64 {
	r := math.Round(x*10) / 10
	if r == 0 {
		return 0
	}
	return r
}

// AppendMeasurement appends v, rounded to one decimal place, to dst.
// The result always has exactly one decimal digit.
func AppendMeasurement(dst []byte, v float64) []byte {
	return strconv.AppendFloat(dst, Round(v), 'f', 1, 64)
}

// AppendLine appends the line "name;value\n" to dst.
func AppendLine(dst []byte, name string, v float64) []byte {
	dst = append(dst, name...)
	dst = append(dst, Separator)
	dst = AppendMeasurement(dst, v)
	return append(dst, '\n')
}

// ParseLine parses a line without its trailing newline. The name is
// everything before the last separator.
func ParseLine(line []byte) (name string, v float64, err error) {
	b, v, err := splitLine(line)
	if err != nil {
		return "", 0, err
	}
	return string(b), v, nil
}

func splitLine(line []byte) (name []byte, v float64, err error) {
	i := bytes.LastIndexByte(line, Separator)
	if i <= 0 {
		return nil, 0, errors.E(errors.Invalid, fmt.Sprintf("malformed line %q", line))
	}
	v, err = parseMeasurement(line[i+1:])
	if err != nil {
		return nil, 0, errors.E(errors.Invalid, fmt.Sprintf("malformed measurement in line %q", line))
	}
	return line[:i], v, nil
}

// parseMeasurement parses a decimal with at most one fractional digit
// without allocating, falling back to strconv for other forms.
func parseMeasurement(p []byte) (float64, error) {
	var (
		neg    bool
		tenths int
		digits int
		i      int
	)
	if len(p) > 0 && p[0] == '-' {
		neg = true
		i++
	}
	for ; i < len(p) && p[i] >= '0' && p[i] <= '9'; i++ {
		tenths = tenths*10 + int(p[i]-'0')
		digits++
	}
	if digits > 0 && digits < 6 && i+2 == len(p) && p[i] == '.' && p[i+1] >= '0' && p[i+1] <= '9' {
		tenths = tenths*10 + int(p[i+1]-'0')
		v := float64(tenths) / 10
		if v > MaxMeasurement {
			return 0, fmt.Errorf("measurement %q out of range", p)
		}
		if neg {
			v = -v
		}
		return v, nil
	}
	v, err := strconv.ParseFloat(string(p), 64)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite measurement %q", p)
	}
	if err == nil && math.Abs(v) > MaxMeasurement {
		err = fmt.Errorf("measurement %q out of range", p)
	}
	return v, err
}
