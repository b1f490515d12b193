// Copyright 2024 The tsvm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package tsvm

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// EvaluateFile memory-maps path rather than slurping it, then lexes,
// compiles, and runs its contents, and unmaps before returning. The
// mapped bytes are copied into a Go string before evaluation starts,
// so nothing keeps pointing into the mapped pages afterward.
func (rt *Runtime) EvaluateFile(path string) (Completion, error) {
	f, err := os.Open(path)
	if err != nil {
		return Completion{}, err
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return Completion{}, err
	}
	defer data.Unmap()

	rt.logger.Debugf("tsvm: evaluating %s (%d bytes, mmap'd)", path, len(data))
	return rt.Evaluate(string(data))
}
