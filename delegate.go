package unarchive

import (
	"reflect"
)

// Delegate observes and influences a decode session. Embed [NopDelegate] to only
// implement the hooks you need.
type Delegate interface {
	// ClassNotFound is called when a class name can not be resolved. The ancestry
	// lists the class names recorded by the encoder, the object's own class first.
	// Returning nil fails the decode.
	ClassNotFound(u *Unarchiver, name string, ancestry []string) *Class

	// DidDecode is called with every freshly decoded object. Returning nil or the
	// object itself keeps the object, anything else replaces it.
	DidDecode(u *Unarchiver, object any) any

	// WillReplace is called before object is substituted by replacement.
	WillReplace(u *Unarchiver, object, replacement any)

	// WillFinish and DidFinish bracket [Unarchiver.Finish].
	WillFinish(u *Unarchiver)
	DidFinish(u *Unarchiver)
}

// NopDelegate implements every [Delegate] hook as a no-op.
type NopDelegate struct{}

var _ Delegate = NopDelegate{}

func (NopDelegate) ClassNotFound(u *Unarchiver, name string, ancestry []string) *Class {
	return nil
}

func (NopDelegate) DidDecode(u *Unarchiver, object any) any {
	return object
}

func (NopDelegate) WillReplace(u *Unarchiver, object, replacement any) {}

func (NopDelegate) WillFinish(u *Unarchiver) {}

func (NopDelegate) DidFinish(u *Unarchiver) {}

// replacementObject applies the delegate's substitution to a freshly decoded object.
// Replacements of cached objects are memoized by uid.
func (u *Unarchiver) replacementObject(uid UID, object any, cached bool) any {
	if object == nil {
		return nil
	}

	replacement := u.delegate.DidDecode(u, object)
	if replacement == nil || sameObject(object, replacement) {
		return object
	}

	u.delegate.WillReplace(u, object, replacement)

	if cached {
		u.replacements[uid] = replacement
	}

	u.log.Debug("object replaced by delegate",
		zapUID(uid),
		zapType("object", object),
		zapType("replacement", replacement),
	)

	return replacement
}

// sameObject compares two decoded objects by identity where go has one.
func sameObject(a, b any) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() {
		return false
	}

	switch va.Kind() {
	case reflect.Map, reflect.Pointer, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return va.Pointer() == vb.Pointer()

	case reflect.Slice:
		return va.Pointer() == vb.Pointer() && va.Len() == vb.Len()

	default:
		if va.Comparable() && vb.Comparable() {
			return va.Equal(vb)
		}

		return false
	}
}
