// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
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

package metadata

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultKeyPrefix is the etcd prefix every object lives under.
const DefaultKeyPrefix = "/sc"

// KindPrefix returns the etcd prefix holding every object of kind, with a trailing slash.
func KindPrefix(prefix string, kind Kind) string {
	return fmt.Sprintf("%s/%s/", strings.TrimSuffix(prefix, "/"), kind)
}

// ObjectKey returns the etcd key of one object.
func ObjectKey(prefix string, kind Kind, key string) string {
	return KindPrefix(prefix, kind) + key
}

// ParseObjectKey extracts kind and object key from an etcd key.
func ParseObjectKey(prefix, raw string) (Kind, string, bool) {
	base := strings.TrimSuffix(prefix, "/") + "/"
	if !strings.HasPrefix(raw, base) {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(raw, base), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" || strings.Contains(parts[1], "/") {
		return "", "", false
	}
	return Kind(parts[0]), parts[1], true
}

// RawObject is the external representation of an object: the key as a string and
// spec/status as JSON documents. It is what the backing store lists and watches.
type RawObject struct {
	Key      string          `json:"key"`
	Spec     json.RawMessage `json:"spec"`
	Status   json.RawMessage `json:"status,omitempty"`
	UID      string          `json:"uid,omitempty"`
	Revision int64           `json:"-"`
	Parent   *ParentRef      `json:"parent,omitempty"`
	// Err is set when the stored document could not be read at all.
	Err error `json:"-"`
}

// document is the value stored under an etcd key. The key itself is not repeated.
type document struct {
	Spec   json.RawMessage `json:"spec"`
	Status json.RawMessage `json:"status,omitempty"`
	UID    string          `json:"uid,omitempty"`
	Parent *ParentRef      `json:"parent,omitempty"`
}

func encodeDocument(raw RawObject) ([]byte, error) {
	data, err := json.Marshal(document{Spec: raw.Spec, Status: raw.Status, UID: raw.UID, Parent: raw.Parent})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", raw.Key, err)
	}
	return data, nil
}

func decodeDocument(key string, revision int64, data []byte) RawObject {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return RawObject{Key: key, Revision: revision, Err: fmt.Errorf("unmarshal %s: %w", key, err)}
	}
	return RawObject{Key: key, Spec: doc.Spec, Status: doc.Status, UID: doc.UID, Revision: revision, Parent: doc.Parent}
}

// Encode converts an object to its external representation.
func Encode[K comparable, S Cloner[S], T Cloner[T]](desc Descriptor[K, S, T], obj Object[K, S, T]) (RawObject, error) {
	key := desc.FormatKey(obj.Key)
	spec, err := json.Marshal(obj.Spec)
	if err != nil {
		return RawObject{}, fmt.Errorf("marshal %s %q spec: %w", desc.Label, key, err)
	}
	status, err := json.Marshal(obj.Status)
	if err != nil {
		return RawObject{}, fmt.Errorf("marshal %s %q status: %w", desc.Label, key, err)
	}
	return RawObject{
		Key:      key,
		Spec:     spec,
		Status:   status,
		UID:      obj.Ctx.UID,
		Revision: obj.Ctx.Revision,
		Parent:   obj.Ctx.Parent,
	}, nil
}

// EncodeStatus marshals a status document.
func EncodeStatus[T any](status T) (json.RawMessage, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", status, err)
	}
	return data, nil
}

// Decode converts an external representation into an object. A missing status
// decodes to the kind's initial status.
func Decode[K comparable, S Cloner[S], T Cloner[T]](desc Descriptor[K, S, T], raw RawObject) (Object[K, S, T], error) {
	var obj Object[K, S, T]
	if raw.Err != nil {
		return obj, raw.Err
	}
	key, err := desc.ParseKey(raw.Key)
	if err != nil {
		return obj, err
	}
	var spec S
	if len(raw.Spec) == 0 {
		return obj, fmt.Errorf("%s %q: missing spec", desc.Label, raw.Key)
	}
	if err := json.Unmarshal(raw.Spec, &spec); err != nil {
		return obj, fmt.Errorf("unmarshal %s %q spec: %w", desc.Label, raw.Key, err)
	}
	status := desc.NewStatus()
	if len(raw.Status) > 0 && string(raw.Status) != "null" {
		if err := json.Unmarshal(raw.Status, &status); err != nil {
			return obj, fmt.Errorf("unmarshal %s %q status: %w", desc.Label, raw.Key, err)
		}
	}
	obj.Key = key
	obj.Spec = spec
	obj.Status = status
	obj.Ctx = ObjectContext{UID: raw.UID, Revision: raw.Revision}
	if raw.Parent != nil {
		parent := *raw.Parent
		obj.Ctx.Parent = &parent
	}
	return obj, nil
}
