// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides struct-tag validation helpers built on
// go-playground/validator/v10. No rhizomedb configuration type carries
// validate tags, and no other package calls these helpers.
package validation

import "github.com/go-playground/validator/v10"

// shared is the process-wide validator instance. validator.Validate caches
// struct reflection info internally and is safe for concurrent use, so a
// single shared instance is the intended usage pattern.
var shared = validator.New()

// Struct validates v against its `validate:"..."` struct tags.
func Struct(v any) error {
	return shared.Struct(v)
}

// RegisterValidation adds a named custom validation function, usable via
// `validate:"name"` tags on fields registered after this call.
func RegisterValidation(name string, fn validator.Func) error {
	return shared.RegisterValidation(name, fn)
}
