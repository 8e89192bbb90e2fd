// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tagregistry holds the tag descriptors learned from a device browse
// and converts raw device values into typed Go values.
package tagregistry

import (
	"strings"
)

// DataType is the declared type of a tag.
type DataType string

const (
	TypeBool   DataType = "bool"
	TypeInt32  DataType = "int32"
	TypeFloat  DataType = "float"
	TypeDouble DataType = "double"
	TypeString DataType = "string"
)

// ParseDataType maps the device type string onto a DataType. Unknown and
// empty values become TypeString.
func ParseDataType(s string) DataType {
	switch DataType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeBool:
		return TypeBool
	case TypeInt32:
		return TypeInt32
	case TypeFloat:
		return TypeFloat
	case TypeDouble:
		return TypeDouble
	default:
		return TypeString
	}
}

// ZeroValue is the initial value a freshly registered tag carries.
func (t DataType) ZeroValue() any {
	switch t {
	case TypeBool:
		return false
	case TypeInt32:
		return int32(0)
	case TypeFloat:
		return float32(0)
	case TypeDouble:
		return float64(0)
	default:
		return ""
	}
}

// Handle identifies a group or value inside the endpoint namespace. The
// empty handle is the namespace root.
type Handle string

// Descriptor describes one tag. It is fixed for the lifetime of the process.
type Descriptor struct {
	ID       string
	Name     string
	Type     DataType
	Writable bool
}

// Group returns the first dot separated segment of the id, or "" when the
// id has no dot.
func (d Descriptor) Group() string {
	return GroupOf(d.ID)
}

// GroupOf returns the group name of a tag id.
func GroupOf(id string) string {
	group, _, found := strings.Cut(id, ".")
	if !found {
		return ""
	}
	return group
}

// Namespace is the part of the exposed endpoint the registry needs.
type Namespace interface {
	// AddGroup creates a folder for tags sharing the first id segment.
	AddGroup(name string) (Handle, error)
	// AddValue registers a typed value below group with an initial value.
	AddValue(group Handle, desc Descriptor, initial any) (Handle, error)
}
