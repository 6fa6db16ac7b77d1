package unarchive

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Set is the decoded form of NSSet. Order follows the archive.
type Set []any

// Null is the decoded form of NSNull.
type Null struct{}

// referenceDate is the epoch of NS.time values.
var referenceDate = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// maxDateInterval keeps NS.time seconds within int64 after the epoch shift.
const maxDateInterval = 1 << 62

func init() {
	foundation := []Class{
		{Name: "NSArray", Ancestry: []string{"NSObject"}, New: decodeArray},
		{Name: "NSMutableArray", Ancestry: []string{"NSArray", "NSObject"}, New: decodeArray},
		{Name: "NSSet", Ancestry: []string{"NSObject"}, New: decodeSet},
		{Name: "NSMutableSet", Ancestry: []string{"NSSet", "NSObject"}, New: decodeSet},
		{Name: "NSDictionary", Ancestry: []string{"NSObject"}, New: decodeDictionary},
		{Name: "NSMutableDictionary", Ancestry: []string{"NSDictionary", "NSObject"}, New: decodeDictionary},
		{Name: "NSString", Ancestry: []string{"NSObject"}, New: decodeString},
		{Name: "NSMutableString", Ancestry: []string{"NSString", "NSObject"}, New: decodeString},
		{Name: "NSData", Ancestry: []string{"NSObject"}, New: decodeData},
		{Name: "NSMutableData", Ancestry: []string{"NSData", "NSObject"}, New: decodeData},
		{Name: "NSDate", Ancestry: []string{"NSObject"}, New: decodeDate},
		{Name: "NSUUID", Ancestry: []string{"NSObject"}, New: decodeUUID},
		{Name: "NSURL", Ancestry: []string{"NSObject"}, New: decodeURL},
		{Name: "NSNull", Ancestry: []string{"NSObject"}, New: decodeNull},
		{Name: OldStyleArrayClassName, Ancestry: []string{"NSObject"}, New: decodeOldStyleArray},
	}

	for _, class := range foundation {
		class.SupportsSecureCoding = true
		Register(class)
	}
}

func decodeArray(u *Unarchiver) (any, error) {
	return u.DecodeArrayOfObjects("NS.objects"), nil
}

func decodeSet(u *Unarchiver) (any, error) {
	return Set(u.DecodeArrayOfObjects("NS.objects")), nil
}

func decodeDictionary(u *Unarchiver) (any, error) {
	keys := u.DecodeArrayOfObjects("NS.keys")
	values := u.DecodeArrayOfObjects("NS.objects")

	if len(keys) != len(values) {
		return nil, fmt.Errorf("dictionary has %d keys but %d values", len(keys), len(values))
	}

	result := make(map[any]any, len(keys))
	for idx, key := range keys {
		if !reflect.TypeOf(key).Comparable() {
			return nil, fmt.Errorf("dictionary key of type %T is not hashable", key)
		}

		result[key] = values[idx]
	}

	return result, nil
}

func decodeString(u *Unarchiver) (any, error) {
	return u.DecodeString("NS.string"), nil
}

func decodeData(u *Unarchiver) (any, error) {
	data := u.DecodeBytes("NS.data")
	if data == nil {
		data = []byte{}
	}

	return data, nil
}

func decodeDate(u *Unarchiver) (any, error) {
	seconds := u.DecodeFloat64("NS.time")
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return nil, fmt.Errorf("invalid date interval %g", seconds)
	}

	if math.Abs(seconds) > maxDateInterval {
		return nil, fmt.Errorf("date interval %g out of range", seconds)
	}

	whole, fraction := math.Modf(seconds)
	date := time.Unix(referenceDate.Unix()+int64(whole), int64(fraction*float64(time.Second)))

	return date.UTC(), nil
}

func decodeUUID(u *Unarchiver) (any, error) {
	id, err := uuid.FromBytes(u.DecodeBytes("NS.uuidbytes"))
	if err != nil {
		return nil, fmt.Errorf("uuid bytes: %w", err)
	}

	return id, nil
}

func decodeURL(u *Unarchiver) (any, error) {
	relative, err := url.Parse(u.DecodeString("NS.relative"))
	if err != nil {
		return nil, fmt.Errorf("parse relative url: %w", err)
	}

	if !u.ContainsValue("NS.base") {
		return relative, nil
	}

	base, _ := u.DecodeObject("NS.base").(*url.URL)
	if base == nil {
		return relative, nil
	}

	return base.ResolveReference(relative), nil
}

func decodeNull(u *Unarchiver) (any, error) {
	return Null{}, nil
}
