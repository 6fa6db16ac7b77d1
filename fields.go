package unarchive

import (
	"reflect"
	"slices"
	"strings"
)

// structTag is the struct tag read by [RegisterStruct].
const structTag = "archive"

type field struct {
	// Key the field is stored under in the archive.
	Key string

	Type     reflect.Type
	Index    []int
	Required bool
}

// archivedFields lists the fields of a struct type that are decoded from an archive.
// Embedded structs are flattened, a shallower field shadows deeper ones with the same
// key. Ambiguous keys on the same depth are dropped unless exactly one is tagged.
func archivedFields(ty reflect.Type) []field {
	if ty.Kind() != reflect.Struct {
		panic("not a struct")
	}

	type queued struct {
		Type        reflect.Type
		ParentIndex []int
	}

	type candidate struct {
		Tagged bool
		Field  field
	}

	queue := []queued{{Type: ty}}

	candidates := map[string][]candidate{}

	var order []string

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		for idx := range item.Type.NumField() {
			fi := item.Type.Field(idx)
			if !fi.IsExported() {
				continue
			}

			tag, tagged := parseFieldTag(fi)
			if tag.Skip {
				continue
			}

			// copy the parent index so siblings never share a backing array
			parent := item.ParentIndex
			index := append(parent[:len(parent):len(parent)], fi.Index...)

			if fi.Anonymous && !tagged {
				if fi.Type.Kind() == reflect.Struct {
					queue = append(queue, queued{fi.Type, index})
				}

				continue
			}

			if len(candidates[tag.Key]) == 0 {
				order = append(order, tag.Key)
			}

			candidates[tag.Key] = append(candidates[tag.Key], candidate{
				Tagged: tagged,
				Field: field{
					Key:      tag.Key,
					Type:     fi.Type,
					Index:    index,
					Required: tag.Required,
				},
			})
		}
	}

	var fields []field

	for _, key := range order {
		shallowest := candidates[key]

		// candidates are appended in bfs order, the shallowest come first
		depth := len(shallowest[0].Field.Index)
		cut := slices.IndexFunc(shallowest, func(c candidate) bool { return len(c.Field.Index) != depth })
		if cut >= 0 {
			shallowest = shallowest[:cut]
		}

		if len(shallowest) == 1 {
			fields = append(fields, shallowest[0].Field)
			continue
		}

		tagged := slices.DeleteFunc(slices.Clone(shallowest), func(c candidate) bool { return !c.Tagged })
		if len(tagged) == 1 {
			fields = append(fields, tagged[0].Field)
		}
	}

	return fields
}

type fieldTag struct {
	Key      string
	Skip     bool
	Required bool
}

// parseFieldTag reads `archive:"key,required"`. The second result reports whether the
// key was given explicitly.
func parseFieldTag(fi reflect.StructField) (fieldTag, bool) {
	value, ok := fi.Tag.Lookup(structTag)
	if !ok {
		return fieldTag{Key: fi.Name}, false
	}

	if value == "-" {
		return fieldTag{Skip: true}, true
	}

	key, options, _ := strings.Cut(value, ",")

	tag := fieldTag{Key: key}

	for option := range strings.SplitSeq(options, ",") {
		if option == "required" {
			tag.Required = true
		}
	}

	if key == "" {
		tag.Key = fi.Name
		return tag, false
	}

	return tag, true
}
