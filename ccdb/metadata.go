// Copyright 2019 Radiation Detection and Imaging (RDI), LLC
// Use of this source code is governed by the BSD 3-clause
// license that can be found in the LICENSE file.

package ccdb

import (
	"fmt"
	"strings"
)

// reservedKeys name descriptor fields the store sets itself. "tag" is the
// entity tag, served as ETag from the checksum. Matching ignores case.
var reservedKeys = map[string]bool{
	"path":       true,
	"objecttype": true,
	"filename":   true,
	"validfrom":  true,
	"validuntil": true,
	"size":       true,
	"checksum":   true,
	"createdat":  true,
	"tag":        true,
	"etag":       true,
}

// IsReservedKey reports whether key names a descriptor field and so cannot
// be carried as free-form metadata.
func IsReservedKey(key string) bool {
	return reservedKeys[strings.ToLower(key)]
}

// ParseMetadata parses "key=value;key=value". Empty tokens are ignored.
// Tokens that do not hold exactly one '=', that have an empty key or that
// use a reserved key are dropped and reported; the rest of the string is
// still parsed.
func ParseMetadata(s string) (Metadata, []error) {
	var (
		meta Metadata
		errs []error
	)
	for _, token := range strings.Split(s, ";") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		parts := strings.Split(token, "=")
		if len(parts) != 2 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrMalformedMetadataToken, token))
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			errs = append(errs, fmt.Errorf("%w: %q has no key", ErrMalformedMetadataToken, token))
			continue
		}
		if IsReservedKey(key) {
			errs = append(errs, fmt.Errorf("%w: %q uses reserved key %q", ErrMalformedMetadataToken, token, key))
			continue
		}
		meta.Set(key, strings.TrimSpace(parts[1]))
	}
	return meta, errs
}

func (m Metadata) String() string {
	tokens := make([]string, len(m))
	for i, kv := range m {
		tokens[i] = kv.Key + "=" + kv.Value
	}
	return strings.Join(tokens, ";")
}
