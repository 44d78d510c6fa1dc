/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package size is a byte-count type with the usual binary-unit constants, so
// buffer-size config fields read as "64*size.SizeKilo" rather than a bare int.
package size

import (
	"fmt"
	"strconv"
	"strings"
)

type Size int64

const SizeNul Size = 0

const (
	SizeUnit Size = 1 << (10 * iota)
	SizeKilo
	SizeMega
	SizeGiga
	SizeTera
	SizePeta
	SizeExa
)

var units = [...]struct {
	suffix string
	size   Size
}{
	{"E", SizeExa},
	{"P", SizePeta},
	{"T", SizeTera},
	{"G", SizeGiga},
	{"M", SizeMega},
	{"K", SizeKilo},
}

// String renders the size with the largest binary unit that divides it
// evenly, falling back to a plain byte count.
func (s Size) String() string {
	if s == SizeNul {
		return "0"
	}

	for _, u := range units {
		if s >= u.size && s%u.size == 0 {
			return fmt.Sprintf("%d%s", int64(s/u.size), u.suffix)
		}
	}

	return strconv.FormatInt(int64(s), 10)
}

// Parse accepts a plain byte count or a count suffixed with one of
// K/M/G/T/P/E (binary, case-insensitive), e.g. "64K" or "2Gi".
func Parse(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SizeNul, nil
	}

	t := s
	if len(t) > 1 && (t[len(t)-1] == 'i' || t[len(t)-1] == 'I') {
		t = t[:len(t)-1]
	}

	suffix := strings.ToUpper(t[len(t)-1:])
	for _, u := range units {
		if suffix == u.suffix {
			n, err := strconv.ParseInt(t[:len(t)-1], 10, 64)
			if err != nil {
				return SizeNul, err
			}
			return Size(n) * u.size, nil
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return SizeNul, err
	}
	return Size(n), nil
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Size) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
