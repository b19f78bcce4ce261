// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pageheap

import (
	"fmt"

	"github.com/otterforge/guestkernel/internal/klog"
	"github.com/otterforge/guestkernel/internal/kmem"
)

// Arrangement is a named DRAM layout: how much of physical memory goes to
// the application and applet pools, and the fixed minimum carved out for
// nvservices. Everything else above the slab-heap end becomes the service
// pool (spec §4.D). Construction from (size, arrangement) is wholly
// deterministic — no component has discretion over the split.
type Arrangement struct {
	Name              string
	ApplicationPool   uint64
	AppletPool        uint64
	NvServicesPoolMin uint64
}

// Arrangement0 is a fixed layout of round sizes: a 20 GiB application
// pool, a 1.5 GiB applet pool, and a 160 MiB nvservices minimum.
var Arrangement0 = Arrangement{
	Name:              "arrangement0",
	ApplicationPool:   0x5_0000_0000,
	AppletPool:        0x0_6000_0000,
	NvServicesPoolMin: 0x0_0a00_0000,
}

// RegionSet partitions one DRAM image into the four named pools of spec
// §4.D, each backed by its own PageHeap.
type RegionSet struct {
	Application *PageHeap
	Applet      *PageHeap
	NvServices  *PageHeap
	Service     *PageHeap
}

// NewRegionSet computes region boundaries downward from the end of DRAM
// (kmem.DramBase+memorySize): application pool first, then applet, then
// nvservices at arr's fixed minimum; everything remaining above
// kmem.SlabHeapEnd becomes the service pool.
func NewRegionSet(memorySize uint64, arr Arrangement, log *klog.Logger) (*RegionSet, error) {
	dramEnd := kmem.DramBase.Add(int64(memorySize))

	reserved := arr.ApplicationPool + arr.AppletPool + arr.NvServicesPoolMin
	if memorySize < reserved {
		return nil, fmt.Errorf("pageheap: memory size %#x too small for arrangement %q (needs >= %#x)", memorySize, arr.Name, reserved)
	}

	appBase := dramEnd.Add(-int64(arr.ApplicationPool))
	appletBase := appBase.Add(-int64(arr.AppletPool))
	nvBase := appletBase.Add(-int64(arr.NvServicesPoolMin))

	serviceSize := nvBase.Sub(kmem.SlabHeapEnd)
	if serviceSize < 0 {
		return nil, fmt.Errorf("pageheap: arrangement %q leaves a negative-size service pool", arr.Name)
	}

	ladder := kmem.GranularityLadder
	rs := &RegionSet{
		Application: New(appBase, arr.ApplicationPool, ladder, log),
		Applet:      New(appletBase, arr.AppletPool, ladder, log),
		NvServices:  New(nvBase, arr.NvServicesPoolMin, ladder, log),
		Service:     New(kmem.SlabHeapEnd, uint64(serviceSize), ladder, log),
	}
	return rs, nil
}
