/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package cleanup provides utilities to help cleanup.
package cleanup

import (
	"context"
	"time"
)

// cleanupTimeout bounds teardown work. Unmounting a FAT32 volume and
// clearing a loop device complete well within 10 seconds; the cap prevents
// a wedged device from hanging the build forever.
const cleanupTimeout = 10 * time.Second

// Do runs fn with a context that is detached from the parent's cancellation
// and deadline but keeps its values, bounded by cleanupTimeout.
//
// Teardown (unmount, loop detach, mount dir removal) must still run when the
// build itself has already failed or its context expired, otherwise loop
// device slots and mount points leak.
func Do(ctx context.Context, fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	fn(ctx)
	cancel()
}
