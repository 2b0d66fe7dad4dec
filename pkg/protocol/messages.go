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

package protocol

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

// Message is any body that can travel in an envelope.
type Message interface {
	MessageType() MessageType
}

type envelope struct {
	Type MessageType     `json:"type"`
	Body json.RawMessage `json:"body"`
}

// SpuUpdate is one entry of an UpdateSpu message.
type SpuUpdate struct {
	Op   Op               `json:"op"`
	Name string           `json:"name"`
	Spec metadata.SpuSpec `json:"spec"`
}

// UpdateSpu tells an SPU about changes to the SPU list.
type UpdateSpu struct {
	Spus []SpuUpdate `json:"spus"`
}

// Replica is the leader assignment of a partition as pushed to SPUs.
type Replica struct {
	Key      metadata.ReplicaKey `json:"key"`
	Leader   int32               `json:"leader"`
	Replicas []int32             `json:"replicas"`
}

// NewReplica builds the pushed form of a partition.
func NewReplica(key metadata.ReplicaKey, spec metadata.PartitionSpec) Replica {
	return Replica{Key: key, Leader: spec.Leader, Replicas: append([]int32(nil), spec.Replicas...)}
}

// ReplicaUpdate is one entry of an UpdateReplica message.
type ReplicaUpdate struct {
	Op      Op      `json:"op"`
	Replica Replica `json:"replica"`
}

// UpdateReplica tells an SPU about changes to partitions it holds.
type UpdateReplica struct {
	Replicas []ReplicaUpdate `json:"replicas"`
}

// UpdateAll is the full snapshot an SPU receives on registration and on refresh.
type UpdateAll struct {
	Spus     []metadata.SpuSpec `json:"spus"`
	Replicas []Replica          `json:"replicas"`
}

// RegisterSpu is the first message an SPU sends on its private connection.
type RegisterSpu struct {
	ID int32 `json:"id"`
}

// RegisterSpuResponse answers RegisterSpu.
type RegisterSpuResponse struct {
	ErrorCode ErrorCode `json:"errorCode"`
	Error     string    `json:"error,omitempty"`
}

// ReplicaStatusReport carries the replica health an SPU observed for a partition.
type ReplicaStatusReport struct {
	Key    metadata.ReplicaKey      `json:"key"`
	Status metadata.PartitionStatus `json:"status"`
}

func (UpdateSpu) MessageType() MessageType           { return TypeUpdateSpu }
func (UpdateReplica) MessageType() MessageType       { return TypeUpdateReplica }
func (UpdateAll) MessageType() MessageType           { return TypeUpdateAll }
func (RegisterSpu) MessageType() MessageType         { return TypeRegisterSpu }
func (RegisterSpuResponse) MessageType() MessageType { return TypeRegisterSpuResponse }
func (ReplicaStatusReport) MessageType() MessageType { return TypeReplicaStatusReport }

// Encode renders msg as an envelope payload.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}
	return json.Marshal(envelope{Type: msg.MessageType(), Body: body})
}

// Decode parses an envelope payload into its typed message.
func Decode(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	var msg Message
	switch env.Type {
	case TypeUpdateSpu:
		msg = &UpdateSpu{}
	case TypeUpdateReplica:
		msg = &UpdateReplica{}
	case TypeUpdateAll:
		msg = &UpdateAll{}
	case TypeRegisterSpu:
		msg = &RegisterSpu{}
	case TypeRegisterSpuResponse:
		msg = &RegisterSpuResponse{}
	case TypeReplicaStatusReport:
		msg = &ReplicaStatusReport{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(env.Body, msg); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return msg, nil
}

// WriteMessage encodes msg and writes it as one frame.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReadMessage reads one frame and decodes it.
func ReadMessage(r io.Reader) (Message, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return Decode(frame.Payload)
}
