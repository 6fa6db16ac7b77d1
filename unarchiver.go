package unarchive

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultMaxDepth limits how deep objects may nest when Options.MaxDepth is not set.
const DefaultMaxDepth = 512

// Options configure a decode session. The zero value is usable.
type Options struct {
	// Registry used to resolve class names. Defaults to DefaultRegistry.
	Registry *Registry

	// Delegate receives the session hooks. Defaults to NopDelegate.
	Delegate Delegate

	// Logger for this session. Defaults to the package Logger.
	Logger *zap.Logger

	// ArchiverName expected in the "$archiver" marker. Defaults to DefaultArchiverName.
	ArchiverName string

	// MaxDepth limits object nesting. Defaults to DefaultMaxDepth.
	MaxDepth int

	// RequiresSecureCoding rejects every object that is not decoded under an allow list
	// or whose class does not support secure coding.
	RequiresSecureCoding bool

	// AllowedClasses, if not nil, is the outermost allow list of the session.
	AllowedClasses []string

	// ClassMap holds initial session scoped class name remappings.
	ClassMap map[string]*Class
}

type cachedObject struct {
	object any
	class  *Class
}

// Unarchiver is one decode session over a keyed archive. It is not safe for
// concurrent use. Decodable types receive the Unarchiver in their [Constructor] and
// use its Decode methods to read their fields.
//
// Errors follow a record and degrade policy: the first error is recorded and can be
// read using [Unarchiver.Error]; all later decode calls return zero values.
type Unarchiver struct {
	registry *Registry
	delegate Delegate
	log      *zap.Logger
	maxDepth int

	table    referenceTable
	contexts []*decodingContext

	// caches, valid for the whole session
	objects        map[UID]cachedObject
	replacements   map[UID]any
	classes        map[UID]*Class
	classMap       map[string]*Class
	inConstruction map[UID]struct{}

	allowed [][]string

	requiresSecureCoding bool
	finished             bool
	aborted              bool

	err error
}

// New starts a decode session over an archive tree.
func New(root Source, opts Options) (*Unarchiver, error) {
	u := &Unarchiver{
		registry:       opts.Registry,
		delegate:       opts.Delegate,
		log:            opts.Logger,
		maxDepth:       opts.MaxDepth,
		objects:        map[UID]cachedObject{},
		replacements:   map[UID]any{},
		classes:        map[UID]*Class{},
		classMap:       map[string]*Class{},
		inConstruction: map[UID]struct{}{},

		requiresSecureCoding: opts.RequiresSecureCoding,
	}

	if u.registry == nil {
		u.registry = DefaultRegistry
	}

	if u.delegate == nil {
		u.delegate = NopDelegate{}
	}

	if u.log == nil {
		u.log = Logger()
	}

	if u.maxDepth <= 0 {
		u.maxDepth = DefaultMaxDepth
	}

	for name, class := range opts.ClassMap {
		u.SetClass(name, class)
	}

	if opts.AllowedClasses != nil {
		u.allowed = append(u.allowed, opts.AllowedClasses)
	}

	archiverName := opts.ArchiverName
	if archiverName == "" {
		archiverName = DefaultArchiverName
	}

	top, objects, err := readHeader(root, archiverName)
	if err != nil {
		return nil, err
	}

	u.table, err = newReferenceTable(objects)
	if err != nil {
		return nil, newError(ErrFormat, "object table is not an array").withCause(err)
	}

	u.pushContext(top)

	u.log.Debug("unarchiver session started", zap.Int("objects", len(u.table)))

	return u, nil
}

// readHeader validates the top level markers of an archive.
func readHeader(root Source, archiverName string) (top, objects Source, err error) {
	if root == nil || root.Kind() != KindDict {
		return nil, nil, newError(ErrFormat, "archive root is not a dictionary")
	}

	archiver, err := root.Get(keyArchiver)
	if err != nil {
		return nil, nil, newError(ErrFormat, "missing "+keyArchiver).withCause(err)
	}

	if name, err := archiver.String(); err != nil || name != archiverName {
		return nil, nil, newError(ErrFormat, fmt.Sprintf("unknown archiver %v", Native(archiver)))
	}

	version, err := root.Get(keyVersion)
	if err != nil {
		return nil, nil, newError(ErrFormat, "missing "+keyVersion).withCause(err)
	}

	if number, err := version.Int(); err != nil || number != ArchiveVersion {
		return nil, nil, newError(ErrFormat, fmt.Sprintf("unknown archive version %v", Native(version)))
	}

	top, err = root.Get(keyTop)
	if err != nil || top.Kind() != KindDict {
		return nil, nil, newError(ErrFormat, "missing or invalid "+keyTop)
	}

	objects, err = root.Get(keyObjects)
	if err != nil || objects.Kind() != KindArray {
		return nil, nil, newError(ErrFormat, "missing or invalid "+keyObjects)
	}

	return top, objects, nil
}

// Error returns the first error recorded by this session.
func (u *Unarchiver) Error() error {
	return u.err
}

// Depth returns the number of active decoding contexts. It is 1 while decoding
// top level objects.
func (u *Unarchiver) Depth() int {
	return len(u.contexts)
}

// AllowedClasses returns the innermost active allow list, or nil if decoding is
// not restricted.
func (u *Unarchiver) AllowedClasses() []string {
	if len(u.allowed) == 0 {
		return nil
	}

	return u.allowed[len(u.allowed)-1]
}

// RequiresSecureCoding reports whether the session runs in secure coding mode.
func (u *Unarchiver) RequiresSecureCoding() bool {
	return u.requiresSecureCoding
}

// SetRequiresSecureCoding turns secure coding on. It can not be turned off again.
func (u *Unarchiver) SetRequiresSecureCoding(value bool) {
	if u.requiresSecureCoding && !value {
		panic("unarchive: cannot unset requires secure coding")
	}

	u.requiresSecureCoding = value
}

// SetClass remaps the coded class name to class for this session. A nil class
// removes the mapping.
func (u *Unarchiver) SetClass(name string, class *Class) {
	if class == nil {
		delete(u.classMap, name)
		return
	}

	u.classMap[name] = class
}

// ClassFor returns the session remapping for name, if any.
func (u *Unarchiver) ClassFor(name string) *Class {
	return u.classMap[name]
}

// Finish ends the session. The delegate is notified before and after. Calling
// Finish again does nothing, decoding after Finish panics.
func (u *Unarchiver) Finish() {
	if u.finished {
		return
	}

	u.delegate.WillFinish(u)
	u.delegate.DidFinish(u)

	u.finished = true
	u.log.Debug("unarchiver session finished", zap.Int("objects", len(u.objects)))
}

func (u *Unarchiver) validateStillDecoding() {
	if u.finished {
		panic("unarchive: decoder already finished")
	}

	if u.aborted && len(u.contexts) <= 1 {
		panic("unarchive: decoding continued after a disallowed class aborted the session")
	}
}

// fail records the first error of the session.
func (u *Unarchiver) fail(err error) {
	if err == nil || errors.Is(err, errAlreadyFailed) || u.err != nil {
		return
	}

	u.err = err

	if errors.Is(err, ErrDisallowedClass) {
		u.aborted = true
		u.log.Error("unarchive aborted", zap.Error(err))
		return
	}

	u.log.Warn("unarchive failed", zap.Error(err))
}

// decodeObjectOf is the common implementation of all object decode calls.
func (u *Unarchiver) decodeObjectOf(classes []string, key string, keyed bool) any {
	u.validateStillDecoding()

	if u.err != nil {
		return nil
	}

	if classes != nil {
		u.allowed = append(u.allowed, classes)
		defer func() { u.allowed = u.allowed[:len(u.allowed)-1] }()
	}

	ref, resolvedKey, ok := u.lookup(key, keyed)
	if !ok {
		u.fail(newError(ErrValueNotFound, "").withKey(resolvedKey))
		return nil
	}

	object, err := u.decodeReference(ref)
	if err != nil {
		u.fail(fmt.Errorf("decode object for key %q: %w", resolvedKey, err))
		return nil
	}

	return object
}

// decodeReference decodes the object that ref points to.
func (u *Unarchiver) decodeReference(ref Source) (any, error) {
	if u.err != nil {
		return nil, errAlreadyFailed
	}

	uid, err := ref.UID()
	if err != nil {
		return nil, newError(ErrNotAReference, fmt.Sprintf("found %s", ref.Kind()))
	}

	entry, err := u.table.dereference(uid)
	if err != nil {
		return nil, err
	}

	if isNull(entry) {
		return nil, nil
	}

	if !isContainer(entry) {
		// plain values are never cached or shared
		return u.replacementObject(uid, Native(entry), false), nil
	}

	if cached, ok := u.objects[uid]; ok {
		if err := u.checkAllowed(cached.class); err != nil {
			return nil, err.withUID(uid)
		}

		u.log.Debug("object cache hit", zapUID(uid), zap.Stringer("class", cached.class))

		if replacement, ok := u.replacements[uid]; ok {
			return replacement, nil
		}

		return cached.object, nil
	}

	classRef, _ := entry.Get(keyClass)
	classUID, _ := classRef.UID()

	class, err := u.resolveClass(classUID)
	if err != nil {
		return nil, fmt.Errorf("resolve class of uid %d: %w", uid, err)
	}

	if err := u.checkAllowed(class); err != nil {
		return nil, err.withUID(uid)
	}

	object, err := u.construct(uid, class, entry)
	if err != nil {
		return nil, err
	}

	return u.replacementObject(uid, object, true), nil
}

// construct runs the class constructor with the object's decoding context active.
func (u *Unarchiver) construct(uid UID, class *Class, entry Source) (any, error) {
	if _, busy := u.inConstruction[uid]; busy {
		detail := "reference cycle through an object under construction"
		return nil, newError(ErrCorruptData, detail).withUID(uid).withClass(class.Name)
	}

	if len(u.contexts) > u.maxDepth {
		detail := fmt.Sprintf("objects nest deeper than %d levels", u.maxDepth)
		return nil, newError(ErrCorruptData, detail).withUID(uid).withClass(class.Name)
	}

	if class.New == nil {
		return nil, newError(ErrConstructionFailed, "class has no constructor").withUID(uid).withClass(class.Name)
	}

	u.inConstruction[uid] = struct{}{}
	defer delete(u.inConstruction, uid)

	// the context must be popped even if the constructor fails or panics
	u.pushContext(entry)
	defer u.popContext()

	object, err := class.New(u)

	switch {
	case u.err != nil:
		// a nested decode failed, its error stays the recorded one
		return nil, errAlreadyFailed

	case err != nil:
		return nil, newError(ErrConstructionFailed, "").withUID(uid).withClass(class.Name).withCause(err)

	case object == nil:
		return nil, newError(ErrConstructionFailed, "constructor returned no instance").withUID(uid).withClass(class.Name)
	}

	u.objects[uid] = cachedObject{object: object, class: class}
	return object, nil
}

// resolveClass maps a class descriptor to a class, memoized by descriptor uid.
func (u *Unarchiver) resolveClass(classUID UID) (*Class, error) {
	if class, ok := u.classes[classUID]; ok {
		return class, nil
	}

	descriptor, err := u.table.dereference(classUID)
	if err != nil {
		return nil, err
	}

	if descriptor.Kind() != KindDict {
		return nil, newError(ErrCorruptData, "class descriptor is not a dictionary").withUID(classUID)
	}

	nameValue, err := descriptor.Get(keyClassName)
	if err != nil {
		return nil, newError(ErrCorruptData, "class descriptor has no "+keyClassName).withUID(classUID)
	}

	name, err := nameValue.String()
	if err != nil {
		return nil, newError(ErrCorruptData, keyClassName+" is not a string").withUID(classUID)
	}

	class := u.classNamed(name)

	if class == nil {
		if hints, err := descriptor.Get(keyClassHints); err == nil {
			for _, hint := range stringsOf(hints) {
				if hinted, ok := u.registry.Lookup(hint); ok {
					class = hinted
					break
				}
			}
		}
	}

	if class == nil {
		var ancestry []string
		if classes, err := descriptor.Get(keyClasses); err == nil {
			ancestry = stringsOf(classes)
		}

		class = u.delegate.ClassNotFound(u, name, ancestry)
	}

	if class == nil {
		return nil, newError(ErrClassResolution, "").withUID(classUID).withClass(name)
	}

	u.log.Debug("class resolved",
		zapUID(classUID),
		zap.String("coded", name),
		zap.Stringer("class", class),
	)

	u.classes[classUID] = class
	return class, nil
}

// classNamed resolves a coded class name through the session remapping, the process
// wide remapping and finally the registry.
func (u *Unarchiver) classNamed(name string) *Class {
	if class := u.classMap[name]; class != nil {
		return class
	}

	if class := ClassFor(name); class != nil {
		return class
	}

	if class, ok := u.registry.Lookup(name); ok {
		return class
	}

	return nil
}

// checkAllowed is the secure coding gate. It runs before every container is handed out.
func (u *Unarchiver) checkAllowed(class *Class) *Error {
	if u.requiresSecureCoding && !class.SupportsSecureCoding {
		return newError(ErrDisallowedClass, "class does not support secure coding").withClass(class.Name)
	}

	allowed := u.AllowedClasses()
	if allowed == nil {
		if u.requiresSecureCoding {
			return newError(ErrDisallowedClass, "secure coding requires a list of allowed classes").withClass(class.Name)
		}

		return nil
	}

	for _, name := range allowed {
		if u.registry.IsKindOf(class, name) {
			return nil
		}
	}

	detail := "allowed are " + strings.Join(allowed, ", ")
	return newError(ErrDisallowedClass, detail).withClass(class.Name)
}
