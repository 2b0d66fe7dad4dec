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

// Package placement computes partition replica assignments from a snapshot of SPUs.
// Everything here is pure: no I/O, no shared state.
package placement

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/novatechflow/streamcontroller/pkg/metadata"
)

// RandomStart asks Generate to pick the start index at random.
const RandomStart = -1

// ErrEmptyReplicaMap is returned when a placement produced no partitions.
var ErrEmptyReplicaMap = errors.New("empty replica map")

// InsufficientResourcesError reports how many SPUs are missing for a placement.
// Racked is set when only SPUs carrying a rack label could be used.
type InsufficientResourcesError struct {
	Need   int
	Racked bool
}

func (e *InsufficientResourcesError) Error() string {
	if e.Racked {
		return fmt.Sprintf("need %d more SPU with a rack label", e.Need)
	}
	return fmt.Sprintf("need %d more SPU", e.Need)
}

// Spu is the part of an SPU placement looks at.
type Spu struct {
	ID   int32
	Rack string
}

// Params describes one placement request.
type Params struct {
	Partitions        int32
	ReplicationFactor int32
	IgnoreRack        bool
	// Start is the rotation offset. RandomStart picks one in [0, N).
	Start int
}

// Candidates converts stored SPUs into placement input. With onlineOnly set, SPUs
// that do not hold a live registration are left out.
func Candidates(spus []metadata.SpuObject, onlineOnly bool) []Spu {
	out := make([]Spu, 0, len(spus))
	for _, spu := range spus {
		if onlineOnly && !spu.Status.IsOnline() {
			continue
		}
		out = append(out, Spu{ID: spu.Spec.ID, Rack: spu.Spec.Rack})
	}
	return out
}

// Generate computes the replica map for params over spus. The first replica of every
// partition is its leader. Once any SPU carries a rack label and IgnoreRack is unset,
// SPUs without a label are not placed on.
func Generate(spus []Spu, params Params) (metadata.ReplicaMap, error) {
	if params.ReplicationFactor <= 0 || params.Partitions <= 0 {
		return nil, ErrEmptyReplicaMap
	}
	rf := int(params.ReplicationFactor)
	if len(spus) < rf {
		return nil, &InsufficientResourcesError{Need: rf - len(spus)}
	}

	var out metadata.ReplicaMap
	if !params.IgnoreRack && anyRack(spus) {
		list := rackInterleave(spus)
		if len(list) < rf {
			return nil, &InsufficientResourcesError{Need: rf - len(list), Racked: true}
		}
		out = rotate(list, params.Partitions, rf, startIndex(params.Start, len(list)))
	} else {
		out = staggered(sortedIDs(spus), params.Partitions, rf, startIndex(params.Start, len(spus)))
	}
	if len(out) == 0 {
		return nil, ErrEmptyReplicaMap
	}
	return out, nil
}

func startIndex(start, n int) int {
	if start == RandomStart {
		return rand.IntN(n)
	}
	return start
}

func anyRack(spus []Spu) bool {
	for _, spu := range spus {
		if spu.Rack != "" {
			return true
		}
	}
	return false
}

func sortedIDs(spus []Spu) []int32 {
	ids := make([]int32, 0, len(spus))
	for _, spu := range spus {
		ids = append(ids, spu.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// staggered rotates over ids and shifts the followers by a gap that grows every full
// turn, so replica sets vary across partitions and not only their leaders.
// With rf == len(ids) the gap modulus is 1 and this is a plain rotation.
func staggered(ids []int32, partitions int32, rf, start int) metadata.ReplicaMap {
	n := len(ids)
	out := make(metadata.ReplicaMap, partitions)
	for p := 0; p < int(partitions); p++ {
		gapCount := ((start + p) / n) % (n - rf + 1)
		replicas := make([]int32, 0, rf)
		for r := 0; r < rf; r++ {
			gap := 0
			if r != 0 {
				gap = gapCount
			}
			replicas = append(replicas, ids[(start+p+r+gap)%n])
		}
		out[int32(p)] = replicas
	}
	return out
}

func rotate(list []int32, partitions int32, rf, start int) metadata.ReplicaMap {
	n := len(list)
	out := make(metadata.ReplicaMap, partitions)
	for p := 0; p < int(partitions); p++ {
		replicas := make([]int32, 0, rf)
		for r := 0; r < rf; r++ {
			replicas = append(replicas, list[(start+p+r)%n])
		}
		out[int32(p)] = replicas
	}
	return out
}

type rack struct {
	name string
	ids  []int32
}

// rackInterleave orders SPUs so that neighbours come from different racks whenever
// possible. Racks are walked round robin, largest first, and the column shifts every
// full pass so no rack always contributes its lowest id. SPUs without a rack are left out.
func rackInterleave(spus []Spu) []int32 {
	byName := make(map[string][]int32)
	for _, spu := range spus {
		if spu.Rack == "" {
			continue
		}
		byName[spu.Rack] = append(byName[spu.Rack], spu.ID)
	}
	racks := make([]rack, 0, len(byName))
	for name, ids := range byName {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		racks = append(racks, rack{name: name, ids: ids})
	}
	sort.Slice(racks, func(i, j int) bool { return racks[i].name < racks[j].name })
	sort.SliceStable(racks, func(i, j int) bool { return len(racks[i].ids) > len(racks[j].ids) })
	if len(racks) == 0 {
		return nil
	}

	rowMax := len(racks)
	colMax := len(racks[0].ids)
	seen := make(map[int32]struct{})
	out := make([]int32, 0, len(spus))
	row, col := 0, 0
	for idx := 0; idx < rowMax*colMax; idx++ {
		ids := racks[row].ids
		id := ids[col%len(ids)]
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
		row = (row + 1) % rowMax
		col = ((idx+1)/rowMax + row) % colMax
	}
	return out
}

// ValidateAssigned checks an explicit partition map against the known SPU ids.
func ValidateAssigned(maps []metadata.PartitionMap, known map[int32]struct{}) error {
	if err := metadata.NewAssignedTopicSpec(maps).Validate(); err != nil {
		return err
	}
	for _, pm := range maps {
		for _, id := range pm.Replicas {
			if _, ok := known[id]; !ok {
				return metadata.ConfigErrorf("invalid spu id: %d", id)
			}
		}
	}
	return nil
}
