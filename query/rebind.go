/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package query

import (
	"strconv"
	"strings"

	"github.com/uptrace/bun/dialect"
)

// Style is a driver's positional placeholder syntax.
type Style int

const (
	Question Style = iota // ?
	Dollar                // $1, $2, ...
)

// StyleFor returns the placeholder style expected by the dialect's drivers.
func StyleFor(name dialect.Name) Style {
	if name == dialect.PG {
		return Dollar
	}
	return Question
}

// CountPlaceholders counts "?" outside quoted literals and identifiers.
func CountPlaceholders(clause string) int {
	n := 0
	scan(clause, func(int) { n++ })
	return n
}

// Rebind rewrites "?" placeholders for style, leaving quoted text untouched.
func Rebind(style Style, clause string) string {
	if style == Question || !strings.Contains(clause, "?") {
		return clause
	}
	var b strings.Builder
	b.Grow(len(clause) + 8)
	last, n := 0, 0
	scan(clause, func(i int) {
		n++
		b.WriteString(clause[last:i])
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
		last = i + 1
	})
	b.WriteString(clause[last:])
	return b.String()
}

// scan calls fn with the offset of every unquoted "?". A doubled quote inside
// a literal is an escaped quote.
func scan(clause string, fn func(i int)) {
	var quote byte
	for i := 0; i < len(clause); i++ {
		c := clause[i]
		switch {
		case quote != 0:
			if c == quote {
				if i+1 < len(clause) && clause[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			fn(i)
		}
	}
}
