// Package sorting orders item records for display and finds where a new
// record belongs in an already sorted listing.
package sorting

import (
	"cmp"
	"slices"
	"strings"

	"github.com/hpungsan/dirsync/internal/errors"
	"github.com/hpungsan/dirsync/internal/item"
)

// Key is the primary sort key.
type Key string

const (
	KeyName       Key = "name"
	KeySize       Key = "size"
	KeyDate       Key = "date"
	KeyType       Key = "type"
	KeyAttributes Key = "attributes"
)

// Keys lists the valid keys.
var Keys = []Key{KeyName, KeySize, KeyDate, KeyType, KeyAttributes}

// ParseKey validates s as a sort key. An empty string selects KeyName.
func ParseKey(s string) (Key, error) {
	if s == "" {
		return KeyName, nil
	}
	k := Key(strings.ToLower(s))
	if !slices.Contains(Keys, k) {
		return "", errors.NewInvalidRequest("unknown sort key: " + s)
	}
	return k, nil
}

// Criterion is a complete ordering for a listing.
type Criterion struct {
	Key          Key  `json:"key"`
	Descending   bool `json:"descending"`
	FoldersFirst bool `json:"folders_first"`
}

// Default sorts by name with folders first.
func Default() Criterion {
	return Criterion{Key: KeyName, FoldersFirst: true}
}

// Lookup resolves an ID to its record. It returns nil for unknown IDs.
type Lookup func(item.ID) *item.Record

// Compare orders a before b (<0), after b (>0), or equal (0, only for the same ID).
//
// Folders are grouped first when requested, whatever the direction. Ties on the
// primary key fall back to the name in natural order, then to the raw name,
// then to the ID, so the order is total.
func Compare(c Criterion, a, b *item.Record) int {
	if c.FoldersFirst {
		if ad, bd := a.IsDir(), b.IsDir(); ad != bd {
			if ad {
				return -1
			}
			return 1
		}
	}

	r := comparePrimary(c.Key, a, b)
	if r == 0 && c.Key != KeyName {
		r = compareNames(a.DisplayName, b.DisplayName)
	}
	if c.Descending {
		r = -r
	}
	if r != 0 {
		return r
	}
	return cmp.Compare(a.ID, b.ID)
}

func comparePrimary(k Key, a, b *item.Record) int {
	switch k {
	case KeySize:
		// Folders have no size of their own; keep them below every file.
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Size, b.Size)
	case KeyDate:
		return a.ModTime.Compare(b.ModTime)
	case KeyType:
		return strings.Compare(typeOf(a), typeOf(b))
	case KeyAttributes:
		return strings.Compare(a.Attributes.String(), b.Attributes.String())
	default:
		return compareNames(a.DisplayName, b.DisplayName)
	}
}

func compareNames(a, b string) int {
	if r := Natural(item.NameKey(a), item.NameKey(b)); r != 0 {
		return r
	}
	return strings.Compare(a, b)
}

// typeOf is the type column text used for ordering.
func typeOf(r *item.Record) string {
	if r.IsDir() {
		return ""
	}
	return item.Ext(r.DisplayName)
}

// Natural compares strings so that embedded digit runs order by value:
// "file2" < "file10".
func Natural(a, b string) int {
	for a != "" && b != "" {
		ca, cb := a[0], b[0]
		if isDigit(ca) && isDigit(cb) {
			na, ra := digits(a)
			nb, rb := digits(b)
			if r := compareNumbers(na, nb); r != 0 {
				return r
			}
			a, b = ra, rb
			continue
		}
		if ca != cb {
			return cmp.Compare(ca, cb)
		}
		a, b = a[1:], b[1:]
	}
	return cmp.Compare(len(a), len(b))
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func digits(s string) (run, rest string) {
	i := 0
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return s[:i], s[i:]
}

// compareNumbers compares two digit runs by value; leading zeros break ties.
func compareNumbers(a, b string) int {
	ta := strings.TrimLeft(a, "0")
	tb := strings.TrimLeft(b, "0")
	if r := cmp.Compare(len(ta), len(tb)); r != 0 {
		return r
	}
	if r := strings.Compare(ta, tb); r != 0 {
		return r
	}
	return cmp.Compare(len(a), len(b))
}

// Resolve returns the index in displayed at which rec should be inserted so the
// listing stays ordered by c. Among equal keys the new record goes last.
// IDs that no longer resolve sort last, as in Sort.
func Resolve(c Criterion, displayed []item.ID, lookup Lookup, rec *item.Record) int {
	lo, hi := 0, len(displayed)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		other := lookup(displayed[mid])
		if other == nil || Compare(c, rec, other) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Sort orders ids in place by c.
func Sort(c Criterion, ids []item.ID, lookup Lookup) {
	slices.SortStableFunc(ids, func(x, y item.ID) int {
		a, b := lookup(x), lookup(y)
		switch {
		case a == nil && b == nil:
			return cmp.Compare(x, y)
		case a == nil:
			return 1
		case b == nil:
			return -1
		}
		return Compare(c, a, b)
	})
}
