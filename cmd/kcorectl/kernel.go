// Copyright 2017 The Go Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"github.com/otterforge/guestkernel/internal/kernel"
	"github.com/otterforge/guestkernel/internal/kmem/pageheap"
)

const mib = 1 << 20

func buildKernel() (*kernel.Kernel, error) {
	arr := pageheap.Arrangement{
		Name:              "kcorectl",
		ApplicationPool:   applicationMiB * mib,
		AppletPool:        appletMiB * mib,
		NvServicesPoolMin: nvservicesMiB * mib,
	}
	return kernel.New(memorySizeMiB*mib, arr, newLogger())
}
