package unarchive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Format selects the serialization of an archive tree.
type Format int

const (
	// FormatAuto guesses the format from the first bytes of the input.
	FormatAuto Format = iota
	FormatJSON
	FormatCBOR
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

var (
	cborDecMode  cbor.DecMode
	zstdDecoder  *zstd.Decoder
	zstdMagic    = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic    = []byte{0x1f, 0x8b}
	errEmptyData = errors.New("archive data is empty")
)

func init() {
	var err error

	cborDecMode, err = cbor.DecOptions{
		// archive dictionaries always have string keys
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("unarchive: CBOR decoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		panic("unarchive: zstd decoder initialization failed: " + err.Error())
	}
}

// FromJSON parses a JSON rendition of an archive. Comments and trailing commas are
// accepted. References are spelled {"CF$UID": n} and data values as base64 strings.
func FromJSON(data []byte) (Source, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}

	return FromValue(value), nil
}

// FromCBOR parses a CBOR rendition of an archive. Byte strings become data values.
func FromCBOR(data []byte) (Source, error) {
	var value any
	if err := cborDecMode.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode cbor: %w", err)
	}

	return FromValue(value), nil
}

// FromYAML parses a YAML rendition of an archive. Data values are base64 strings.
func FromYAML(data []byte) (Source, error) {
	var value any
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}

	return FromValue(value), nil
}

// Read loads an archive tree from r. Zstandard and gzip compressed input is
// decompressed transparently.
func Read(r io.Reader, format Format) (Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	data, err = decompress(data)
	if err != nil {
		return nil, err
	}

	if format == FormatAuto {
		format, err = detectFormat(data)
		if err != nil {
			return nil, err
		}
	}

	switch format {
	case FormatJSON:
		return FromJSON(data)
	case FormatCBOR:
		return FromCBOR(data)
	case FormatYAML:
		return FromYAML(data)
	default:
		return nil, fmt.Errorf("unknown format %s", format)
	}
}

func decompress(data []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		result, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}

		return result, nil

	case bytes.HasPrefix(data, gzipMagic):
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip header: %w", err)
		}

		defer reader.Close()

		result, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip decompress: %w", err)
		}

		return result, nil

	default:
		return data, nil
	}
}

// detectFormat guesses the format of uncompressed archive data.
func detectFormat(data []byte) (Format, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return FormatAuto, errEmptyData
	}

	switch first := trimmed[0]; {
	case first == '{' || first == '/':
		return FormatJSON, nil

	case first >= 0xa0 && first <= 0xbf:
		// cbor map header
		return FormatCBOR, nil

	default:
		return FormatYAML, nil
	}
}
