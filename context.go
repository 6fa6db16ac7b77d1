package unarchive

import (
	"strconv"
	"strings"
)

// decodingContext is the field namespace of the object currently being decoded.
type decodingContext struct {
	fields     Source
	genericKey uint
}

func (u *Unarchiver) pushContext(fields Source) {
	u.contexts = append(u.contexts, &decodingContext{fields: fields})
}

func (u *Unarchiver) popContext() {
	if len(u.contexts) == 0 {
		panic("unarchive: pop on empty decoding context stack")
	}

	u.contexts[len(u.contexts)-1] = nil
	u.contexts = u.contexts[:len(u.contexts)-1]
}

func (u *Unarchiver) currentContext() *decodingContext {
	if len(u.contexts) == 0 {
		panic("unarchive: no decoding context")
	}

	return u.contexts[len(u.contexts)-1]
}

// nextGenericKey synthesizes the key of the next unkeyed value.
func (u *Unarchiver) nextGenericKey() string {
	ctx := u.currentContext()
	key := "$" + strconv.FormatUint(uint64(ctx.genericKey), 10)
	ctx.genericKey++
	return key
}

// escapeKey keeps user keys apart from the reserved "$" namespace.
func escapeKey(key string) string {
	if strings.HasPrefix(key, "$") {
		return "$" + key
	}

	return key
}

// lookup finds a value in the current decoding context. For unkeyed lookups the
// synthesized key is returned for diagnostics.
func (u *Unarchiver) lookup(key string, keyed bool) (Source, string, bool) {
	if keyed {
		key = escapeKey(key)
	} else {
		key = u.nextGenericKey()
	}

	value, err := u.currentContext().fields.Get(key)
	if err != nil {
		return nil, key, false
	}

	return value, key, true
}

// fieldCount returns the number of entries in the current decoding context.
func (u *Unarchiver) fieldCount() int {
	children, err := u.currentContext().fields.KeyValues()
	if err != nil {
		return 0
	}

	var count int
	for range children {
		count++
	}

	return count
}
