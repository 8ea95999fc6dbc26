// Copyright 2026 ExtVFS Authors
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

package vfs

import (
	"fmt"
	"sort"
	"sync"

	"extvfs/internal/blockdev"
	"extvfs/internal/common"
)

// Driver produces the root node of a filesystem found on a block device.
// Implementations register themselves with Register, usually from an init
// function, and the root's ops may implement Unmounter for teardown.
type Driver interface {
	Mount(dev blockdev.Device) (*Node, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a filesystem driver available under the given name.
// It panics if called twice with the same name or with a nil driver.
func Register(name string, d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if d == nil {
		panic("vfs: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("vfs: Register called twice for driver " + name)
	}
	drivers[name] = d
}

// Drivers returns the sorted names of the registered drivers
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown filesystem driver %q", common.ErrInvalidArgument, name)
	}
	return d, nil
}
