// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package benchcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Compute is a compute target: the kind of device a benchmark's
// worker pool is sized by.
type Compute int

const (
	// CPU sizes the worker pool to one worker per CPU core.
	CPU Compute = iota
	// GPU sizes the worker pool to one worker per visible
	// accelerator device.
	GPU
)

// String implements flag.Value.
func (c Compute) String() string {
	switch c {
	case CPU:
		return "CPU"
	case GPU:
		return "GPU"
	}
	return fmt.Sprintf("Compute(%d)", int(c))
}

// Set implements flag.Value. Names are case-insensitive.
func (c *Compute) Set(v string) error {
	switch strings.ToUpper(v) {
	case "CPU":
		*c = CPU
	case "GPU":
		*c = GPU
	default:
		return fmt.Errorf("invalid compute target %q: must be CPU or GPU", v)
	}
	return nil
}

// Get implements flag.Getter.
func (c *Compute) Get() interface{} { return *c }

// DevicePattern is the glob used to discover accelerator devices when
// CUDA_VISIBLE_DEVICES is not set.
var DevicePattern = "/dev/nvidia[0-9]*"

// Workers returns the worker pool size for the compute target.
func (c Compute) Workers() int {
	if c == CPU {
		return runtime.NumCPU()
	}
	if n := visibleDevices(os.Getenv("CUDA_VISIBLE_DEVICES")); n >= 0 {
		if n == 0 {
			return 1
		}
		return n
	}
	matches, _ := filepath.Glob(DevicePattern)
	if len(matches) == 0 {
		return 1
	}
	return len(matches)
}

// visibleDevices counts the devices named in a CUDA_VISIBLE_DEVICES
// value, or returns -1 if the value is empty.
func visibleDevices(env string) int {
	env = strings.TrimSpace(env)
	if env == "" {
		return -1
	}
	var n int
	for _, dev := range strings.Split(env, ",") {
		dev = strings.TrimSpace(dev)
		if dev == "" || strings.HasPrefix(dev, "-") {
			// Devices after an invalid index are not visible.
			break
		}
		n++
	}
	return n
}
